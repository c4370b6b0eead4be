package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	collectorv1 "github.com/ppiankov/rtcwatch/api/collector/v1"
	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
	"github.com/ppiankov/rtcwatch/internal/server"
)

func testRecord(seq int64, desc string) report.Record {
	return report.Record{
		Seq:       seq,
		Timestamp: "2026-01-02T03:04:05.000Z",
		PageID:    "p-7",
		CallDetails: model.CallDetails{
			Description: desc,
			AccessType:  model.AccessCall,
			Args:        []any{},
			RetVal:      map[string]any{"type": "offer"},
			Source:      "https://tracker.example/fp.js",
		},
	}
}

// startTestServer creates a collector + returns its address.
func startTestServer(t *testing.T) (string, func()) {
	t.Helper()

	srv, err := server.New(server.Config{DBPath: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go srv.ServeOn(lis)

	cleanup := func() {
		srv.GracefulStop()
		srv.Close()
	}
	return lis.Addr().String(), cleanup
}

func TestClientDeliverAndQuery(t *testing.T) {
	addr, cleanup := startTestServer(t)
	defer cleanup()

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	for i, desc := range []string{"RTCPeerConnection.createOffer", "RTCPeerConnection.createOffer", "RTCDataChannel.send"} {
		if err := c.Deliver(ctx, testRecord(int64(i+1), desc)); err != nil {
			t.Fatalf("Deliver %d: %v", i, err)
		}
	}

	recs, err := c.Query(ctx, &collectorv1.QueryRequest{PageID: "p-7"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].Description != "RTCPeerConnection.createOffer" || recs[0].Seq != 1 {
		t.Errorf("unexpected first record %+v", recs[0])
	}

	counts, err := c.Counts(ctx, &collectorv1.QueryRequest{})
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if len(counts) != 2 || counts[0].Description != "RTCPeerConnection.createOffer" || counts[0].Count != 2 {
		t.Errorf("unexpected counts %+v", counts)
	}
}

func TestClientAsReporterSink(t *testing.T) {
	addr, cleanup := startTestServer(t)
	defer cleanup()

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	r := report.NewReporter(context.Background(), c, "p-9")
	if err := r.Report(testRecord(0, "RTCRtpSender.setParameters").CallDetails); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if r.Delivered() != 1 {
		t.Errorf("expected 1 delivered, got %d", r.Delivered())
	}
}

func TestClientUnreachable(t *testing.T) {
	// Connect to a port that doesn't have a server
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	c, err := New(addr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	c.WithTimeout(500 * time.Millisecond)

	if err := c.Deliver(context.Background(), testRecord(1, "RTCDataChannel.send")); err == nil {
		t.Error("expected delivery error with no collector running")
	}
}

func TestClientClosed(t *testing.T) {
	c, err := New("127.0.0.1:1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Close()
	if err := c.Deliver(context.Background(), testRecord(1, "a.b")); !errors.Is(err, report.ErrSinkClosed) {
		t.Errorf("expected ErrSinkClosed, got %v", err)
	}
}
