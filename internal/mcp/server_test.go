package mcp

import (
	"context"
	"path/filepath"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/rtcwatch/internal/page"
	"github.com/ppiankov/rtcwatch/internal/reportlog"
)

const leakScript = `
var pc = new RTCPeerConnection({iceServers: []});
pc.onicecandidate = function (e) {};
pc.createDataChannel("");
pc.createOffer().then(function (offer) { return pc.setLocalDescription(offer); });
`

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create MCP server: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunReportsLeak(t *testing.T) {
	s := newTestServer(t, Config{})

	result, out, err := s.handleRun(context.Background(), &mcpsdk.CallToolRequest{}, RunInput{
		URL:    "https://tracker.example/fp.js",
		Source: leakScript,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatal("expected success, got error result")
	}
	if len(out.Records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(out.Records))
	}
	if out.Records[1].Description != "RTCPeerConnection.createDataChannel" {
		t.Errorf("unexpected second record %s", out.Records[1].Description)
	}
	for _, r := range out.Records {
		if r.Source != "https://tracker.example/fp.js" {
			t.Errorf("expected tracker source, got %s", r.Source)
		}
		if r.PageID != out.PageID {
			t.Errorf("record page %s does not match run page %s", r.PageID, out.PageID)
		}
	}
}

func TestRunPagesAreIndependent(t *testing.T) {
	s := newTestServer(t, Config{Threshold: 1})
	in := RunInput{URL: "https://a.example/x.js", Source: `new RTCPeerConnection().createOffer();`}

	_, first, err := s.handleRun(context.Background(), &mcpsdk.CallToolRequest{}, in)
	if err != nil {
		t.Fatal(err)
	}
	_, second, err := s.handleRun(context.Background(), &mcpsdk.CallToolRequest{}, in)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Records) != 1 || len(second.Records) != 1 {
		t.Errorf("each run should get a fresh ledger, got %d and %d records", len(first.Records), len(second.Records))
	}
	if first.PageID == second.PageID {
		t.Error("each run should get its own page id")
	}
}

func TestRunThresholdOverride(t *testing.T) {
	s := newTestServer(t, Config{})

	_, out, err := s.handleRun(context.Background(), &mcpsdk.CallToolRequest{}, RunInput{
		URL:       "https://a.example/send.js",
		Source:    `var dc = new RTCPeerConnection().createDataChannel("x"); for (var i = 0; i < 5; i++) dc.send("c");`,
		Threshold: 3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Counts["RTCDataChannel.send"] != 3 {
		t.Errorf("expected counter to stop at 3, got %d", out.Counts["RTCDataChannel.send"])
	}
	if _, ok := out.Reverted["RTCDataChannel.send"]; !ok {
		t.Error("expected send to be reverted")
	}
}

func TestRunMultipleScripts(t *testing.T) {
	s := newTestServer(t, Config{})

	result, out, err := s.handleRun(context.Background(), &mcpsdk.CallToolRequest{}, RunInput{
		Scripts: []page.Script{
			{URL: "https://a.example/bad.js", Source: `throw new Error("nope")`},
			{URL: "https://b.example/ok.js", Source: `new RTCPeerConnection().createOffer();`},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result != nil && result.IsError {
		t.Error("one surviving script should not mark the call as failed")
	}
	if len(out.Errors) != 1 {
		t.Errorf("expected 1 script error, got %+v", out.Errors)
	}
	if len(out.Records) != 1 || out.Records[0].Source != "https://b.example/ok.js" {
		t.Errorf("unexpected records %+v", out.Records)
	}
}

func TestRunAllScriptsFail(t *testing.T) {
	s := newTestServer(t, Config{})

	result, out, err := s.handleRun(context.Background(), &mcpsdk.CallToolRequest{}, RunInput{
		URL:    "https://a.example/broken.js",
		Source: `function (`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || !result.IsError {
		t.Error("expected IsError when no script ran")
	}
	if out.Records == nil {
		t.Error("records should be an empty list, not null")
	}
}

func TestRunRequiresScript(t *testing.T) {
	s := newTestServer(t, Config{})
	if _, _, err := s.handleRun(context.Background(), &mcpsdk.CallToolRequest{}, RunInput{}); err == nil {
		t.Error("expected error without url or scripts")
	}
}

func TestRunWritesReportLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.jsonl")
	s := newTestServer(t, Config{LogPath: path})

	if _, _, err := s.handleRun(context.Background(), &mcpsdk.CallToolRequest{}, RunInput{
		URL: "https://tracker.example/fp.js", Source: leakScript,
	}); err != nil {
		t.Fatal(err)
	}
	if res := reportlog.Verify(path); !res.Valid || res.Lines != 4 {
		t.Errorf("expected 4 chained lines, got %+v", res)
	}
}

func TestTargetsDefaultProfile(t *testing.T) {
	s := newTestServer(t, Config{})

	_, out, err := s.handleTargets(context.Background(), &mcpsdk.CallToolRequest{}, TargetsInput{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Profile != "webrtc" || len(out.Targets) != 10 {
		t.Errorf("expected 10 webrtc targets, got %s with %d", out.Profile, len(out.Targets))
	}
	if len(out.Profiles) < 3 {
		t.Errorf("expected built-in profiles listed, got %v", out.Profiles)
	}
}

func TestTargetsOtherProfile(t *testing.T) {
	s := newTestServer(t, Config{})

	_, out, err := s.handleTargets(context.Background(), &mcpsdk.CallToolRequest{}, TargetsInput{Profile: "audio"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Profile != "audio" || len(out.Targets) == 0 {
		t.Errorf("unexpected audio targets %+v", out)
	}
	if _, _, err := s.handleTargets(context.Background(), &mcpsdk.CallToolRequest{}, TargetsInput{Profile: "no-such-profile"}); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestNewRejectsUnknownProfile(t *testing.T) {
	if _, err := New(Config{ProfileName: "no-such-profile"}); err == nil {
		t.Error("expected error for unknown profile")
	}
}
