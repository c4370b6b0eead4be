package config

// DefaultYAML returns a commented config file with the built-in defaults.
func DefaultYAML() string {
	return `# rtcwatch configuration.
#
# threshold: reports per member before the member is reverted to the
# original. Per-target thresholds override it.
threshold: 100

# Diagnostic logging. Off unless verbose is true.
verbose: false
log_level: debug     # debug, info, warn, error
log_format: console  # console or json

# What happens when the sink rejects a record:
#   throw  the error is raised into the calling script
#   log    the error is logged and the script continues
report_errors: throw

# Built-in profiles: webrtc, canvas, audio. User profiles live in
# ~/.rtcwatch/profiles/<name>.yaml.
profile: webrtc

# Extra targets, appended after the profile's.
targets: []
#  - owner: RTCPeerConnection
#    member: getStats
#    kind: call

# Where records go: stdout, file, log, sqlite, webhook, stream, grpc, discard.
sink:
  type: stdout
#  path: ~/.rtcwatch/reports.db      # file, log, sqlite
#  url: https://hooks.example/rtc    # webhook, stream
#  addr: collector.internal:7070     # grpc
#  format: generic                   # webhook: generic or slack
#  members: [RTCPeerConnection.]     # webhook: description prefixes
#  timeout: 5s
#  metrics: false
`
}
