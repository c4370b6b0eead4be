// rtcwatch runs scripts in an embedded JavaScript runtime and reports how
// they touch WebRTC and other fingerprinting surfaces.
package main

import "github.com/ppiankov/rtcwatch/internal/cli"

func main() {
	cli.Execute()
}
