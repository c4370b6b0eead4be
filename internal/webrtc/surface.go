// Package webrtc installs a deterministic host surface into a goja runtime:
// WebRTC peer connections and data channels, a 2D canvas, and an offline
// audio context. Every member lives on a constructor prototype so it can be
// intercepted the way a browser's built-ins are.
package webrtc

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

//go:embed prelude.js
var prelude string

// SourceName is the script name the surface is compiled under. It is not a
// URL, so frames inside the surface never attribute to a page script.
const SourceName = "rtcwatch:host"

// Owners lists the global constructors the surface defines.
var Owners = []string{
	"RTCPeerConnection",
	"RTCDataChannel",
	"RTCRtpSender",
	"RTCSessionDescription",
	"RTCIceCandidate",
	"CanvasRenderingContext2D",
	"HTMLCanvasElement",
	"BaseAudioContext",
	"OfflineAudioContext",
}

// Options controls the values the surface leaks to scripts.
type Options struct {
	LocalAddress  string // host candidate address
	PublicAddress string // server-reflexive candidate address
	Port          int
	SessionID     string // SDP origin session id
	ICEUfrag      string
	CanvasSalt    string // prefix mixed into toDataURL output
}

// DefaultOptions returns documentation-range addresses and fixed identifiers.
func DefaultOptions() Options {
	return Options{
		LocalAddress:  "192.168.1.23",
		PublicAddress: "203.0.113.7",
		Port:          54321,
		SessionID:     "4611731400430051336",
		ICEUfrag:      "rtcw",
		CanvasSalt:    "iVBORw0KGgo",
	}
}

var (
	compileOnce sync.Once
	program     *goja.Program
	compileErr  error
)

func compiled() (*goja.Program, error) {
	compileOnce.Do(func() {
		program, compileErr = goja.Compile(SourceName, prelude, false)
	})
	return program, compileErr
}

// Install defines the surface's constructors on vm's global object.
// Zero-valued options fall back to DefaultOptions.
func Install(vm *goja.Runtime, opts Options) error {
	prog, err := compiled()
	if err != nil {
		return fmt.Errorf("compile host surface: %w", err)
	}

	v, err := vm.RunProgram(prog)
	if err != nil {
		return fmt.Errorf("evaluate host surface: %w", err)
	}
	setup, ok := goja.AssertFunction(v)
	if !ok {
		return fmt.Errorf("host surface did not evaluate to a function")
	}

	opts = withDefaults(opts)
	jsOpts := map[string]any{
		"localAddress":  opts.LocalAddress,
		"publicAddress": opts.PublicAddress,
		"port":          opts.Port,
		"sessionID":     opts.SessionID,
		"iceUfrag":      opts.ICEUfrag,
		"canvasSalt":    opts.CanvasSalt,
	}
	if _, err := setup(goja.Undefined(), vm.GlobalObject(), vm.ToValue(jsOpts)); err != nil {
		return fmt.Errorf("install host surface: %w", err)
	}
	return nil
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.LocalAddress == "" {
		opts.LocalAddress = def.LocalAddress
	}
	if opts.PublicAddress == "" {
		opts.PublicAddress = def.PublicAddress
	}
	if opts.Port == 0 {
		opts.Port = def.Port
	}
	if opts.SessionID == "" {
		opts.SessionID = def.SessionID
	}
	if opts.ICEUfrag == "" {
		opts.ICEUfrag = def.ICEUfrag
	}
	if opts.CanvasSalt == "" {
		opts.CanvasSalt = def.CanvasSalt
	}
	return opts
}
