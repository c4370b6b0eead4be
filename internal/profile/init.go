package profile

import "fmt"

// InitProfile returns a commented YAML starter template for a new profile.
func InitProfile(name string) string {
	return fmt.Sprintf(`name: %s
description: Custom intercept profile

# Each target names a global constructor (owner) and a member on its
# prototype. kind is one of: call, get, set, property.
# threshold overrides the global report limit for that member.
targets:
  - owner: RTCPeerConnection
    member: createOffer
    kind: call
  - owner: RTCPeerConnection
    member: onicecandidate
    kind: property
    threshold: 10
  # - owner: YourConstructor
  #   member: yourMember
  #   kind: call
`, name)
}
