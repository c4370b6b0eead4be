package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func testRecord(seq int64) report.Record {
	return report.Record{
		Seq:       seq,
		Timestamp: "2026-01-02T03:04:05.000Z",
		CallDetails: model.CallDetails{
			Description: "RTCDataChannel.send",
			AccessType:  model.AccessCall,
			Args:        []any{"chunk"},
			Source:      "https://a.example/fp.js",
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSinkStreamsIntoIngest(t *testing.T) {
	buf := &report.Buffer{}
	srv := httptest.NewServer(NewIngest(buf, nil))
	defer srv.Close()

	sink, err := Dial(context.Background(), wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		if err := sink.Deliver(context.Background(), testRecord(i)); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}

	waitFor(t, func() bool { return buf.Len() == 3 })
	recs := buf.Records()
	if recs[2].Seq != 3 || recs[2].Description != "RTCDataChannel.send" {
		t.Errorf("unexpected record %+v", recs[2])
	}
	if err := sink.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestSinkAfterClose(t *testing.T) {
	srv := httptest.NewServer(NewIngest(report.Discard{}, nil))
	defer srv.Close()

	sink, err := Dial(context.Background(), wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sink.Close()
	if err := sink.Deliver(context.Background(), testRecord(1)); !errors.Is(err, report.ErrSinkClosed) {
		t.Errorf("expected ErrSinkClosed, got %v", err)
	}
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(NewIngest(report.Discard{}, nil))
	url := wsURL(srv.URL)
	srv.Close()

	if _, err := Dial(context.Background(), url, nil); err == nil {
		t.Error("expected dial error for closed server")
	}
}

func TestIngestSkipsMalformedMessages(t *testing.T) {
	buf := &report.Buffer{}
	srv := httptest.NewServer(NewIngest(buf, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	conn.WriteJSON(testRecord(7))

	waitFor(t, func() bool { return buf.Len() == 1 })
	if buf.Records()[0].Seq != 7 {
		t.Errorf("expected record 7, got %+v", buf.Records()[0])
	}
}

func TestHubBroadcastsToWatchers(t *testing.T) {
	hub := NewHub(10, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	b, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	waitFor(t, func() bool { return hub.Clients() == 2 })

	if err := hub.Deliver(context.Background(), testRecord(5)); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	for name, c := range map[string]*websocket.Conn{"a": a, "b": b} {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got report.Record
		if err := c.ReadJSON(&got); err != nil {
			t.Fatalf("%s: read: %v", name, err)
		}
		if got.Seq != 5 || got.Source != "https://a.example/fp.js" {
			t.Errorf("%s: unexpected record %+v", name, got)
		}
	}
}

func TestHubWithoutWatchers(t *testing.T) {
	hub := NewHub(0, nil)
	if err := hub.Deliver(context.Background(), testRecord(1)); err != nil {
		t.Errorf("deliver with no watchers should succeed, got %v", err)
	}
}

func TestHubRejectsOverLimit(t *testing.T) {
	hub := NewHub(1, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	waitFor(t, func() bool { return hub.Clients() == 1 })

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err == nil {
		t.Fatal("expected second watcher to be rejected")
	}
	if resp == nil || resp.StatusCode != 503 {
		t.Errorf("expected HTTP 503, got %+v", resp)
	}
}

func TestHubDropsDisconnectedWatcher(t *testing.T) {
	hub := NewHub(10, nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	a, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, func() bool { return hub.Clients() == 1 })
	a.Close()
	waitFor(t, func() bool { return hub.Clients() == 0 })
}
