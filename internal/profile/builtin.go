package profile

import _ "embed"

//go:embed profiles/webrtc.yaml
var webrtcYAML []byte

//go:embed profiles/canvas.yaml
var canvasYAML []byte

//go:embed profiles/audio.yaml
var audioYAML []byte

// Default is the profile used when configuration names none.
const Default = "webrtc"

// builtinProfiles maps profile names to their embedded YAML content.
var builtinProfiles = map[string][]byte{
	"webrtc": webrtcYAML,
	"canvas": canvasYAML,
	"audio":  audioYAML,
}
