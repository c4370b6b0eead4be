package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAccessKeyFormat(t *testing.T) {
	if got := AccessKey("RTCPeerConnection", "createOffer"); got != "RTCPeerConnection.createOffer" {
		t.Errorf("expected RTCPeerConnection.createOffer, got %s", got)
	}
}

func TestAccessKeyDistinctOwners(t *testing.T) {
	a := AccessKey("RTCDataChannel", "send")
	b := AccessKey("WebSocket", "send")
	if a == b {
		t.Errorf("expected distinct keys for distinct owners, both %s", a)
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"call":     KindCall,
		"CALL":     KindCall,
		"function": KindCall,
		"get":      KindGet,
		"set":      KindSet,
		"property": KindProperty,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%q: expected %s, got %s", in, want, got)
		}
	}
}

func TestParseKindRejectsUnknown(t *testing.T) {
	if _, err := ParseKind("delete"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := ParseKind(""); err == nil {
		t.Error("expected error for empty kind")
	}
}

func TestKindIsAccessor(t *testing.T) {
	if KindCall.IsAccessor() {
		t.Error("call is not an accessor kind")
	}
	for _, k := range []Kind{KindGet, KindSet, KindProperty} {
		if !k.IsAccessor() {
			t.Errorf("%s should be an accessor kind", k)
		}
	}
}

func TestTargetValidate(t *testing.T) {
	good := InterceptTarget{Owner: "RTCPeerConnection", Member: "createOffer", Kind: KindCall}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []InterceptTarget{
		{Member: "createOffer", Kind: KindCall},
		{Owner: "RTCPeerConnection", Kind: KindCall},
		{Owner: "RTCPeerConnection", Member: "x", Kind: "poke"},
		{Owner: "window.RTCPeerConnection", Member: "x", Kind: KindCall},
		{Owner: "RTCPeerConnection", Member: "x", Kind: KindCall, Threshold: -1},
	}
	for i, tgt := range bad {
		if err := tgt.Validate(); err == nil {
			t.Errorf("case %d: expected validation error for %+v", i, tgt)
		}
	}
}

func TestCallDetailsJSONShape(t *testing.T) {
	d := CallDetails{
		Description: "RTCPeerConnection.onicecandidate",
		AccessType:  AccessSet,
		Args:        "handler",
		Source:      "https://example.com/fp.js",
	}
	out, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(out)
	for _, field := range []string{`"description"`, `"accessType":"set"`, `"args"`, `"source"`} {
		if !strings.Contains(s, field) {
			t.Errorf("expected %s in %s", field, s)
		}
	}
	if strings.Contains(s, "retVal") {
		t.Errorf("set record should omit retVal, got %s", s)
	}
}
