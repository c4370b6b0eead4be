// Package systemd renders unit files for running rtcwatch as a service.
package systemd

import (
	"strings"
	"text/template"
)

const binary = "/usr/local/bin/rtcwatch"

// Unit describes one service unit.
type Unit struct {
	Description   string
	StateDir      string
	Args          []string
	RestartSec    int
	InstanceBased bool
}

var unitTmpl = template.Must(template.New("unit").Parse(`[Unit]
Description={{.Description}}
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
StateDirectory={{.StateDir}}
ExecStart={{.ExecStart}}
Restart=on-failure
RestartSec={{.RestartSec}}
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true

[Install]
WantedBy=multi-user.target
`))

// Render produces the unit file text.
func (u Unit) Render() string {
	var b strings.Builder
	err := unitTmpl.Execute(&b, struct {
		Unit
		ExecStart string
	}{u, binary + " " + strings.Join(u.Args, " ")})
	if err != nil {
		// The template is static and every field is a plain value.
		panic(err)
	}
	return b.String()
}

// Watch is rtcwatch-watch@.service. systemd resolves %i to the inbox name
// under /var/lib/rtcwatch.
var Watch = Unit{
	Description: "rtcwatch inbox watcher (%i)",
	StateDir:    "rtcwatch/%i",
	Args: []string{
		"watch", "/var/lib/rtcwatch/%i/inbox",
		"--outbox", "/var/lib/rtcwatch/%i/outbox",
		"--state", "/var/lib/rtcwatch/%i/state",
		"--config", "/etc/rtcwatch/config.yaml",
	},
	RestartSec:    2,
	InstanceBased: true,
}

// Collector is rtcwatch-collector.service.
var Collector = Unit{
	Description: "rtcwatch report collector",
	StateDir:    "rtcwatch",
	Args: []string{
		"collect", "--grpc", ":7070", "--http", ":7071",
		"--db", "/var/lib/rtcwatch/reports.db",
		"--log", "/var/lib/rtcwatch/reports.jsonl",
	},
	RestartSec: 5,
}

// FileName is the unit's name on disk.
func (u Unit) FileName() string {
	name := "rtcwatch-" + u.Args[0]
	if u.Args[0] == "collect" {
		name = "rtcwatch-collector"
	}
	if u.InstanceBased {
		name += "@"
	}
	return name + ".service"
}

// Units maps unit file names to rendered contents.
func Units() map[string]string {
	out := make(map[string]string, 2)
	for _, u := range []Unit{Watch, Collector} {
		out[u.FileName()] = u.Render()
	}
	return out
}
