package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	collectorv1 "github.com/ppiankov/rtcwatch/api/collector/v1"
	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
	"github.com/ppiankov/rtcwatch/internal/reportlog"
	"github.com/ppiankov/rtcwatch/internal/stream"
)

func testRecord(seq int64, desc, source string) report.Record {
	return report.Record{
		Seq:       seq,
		Timestamp: "2026-01-02T03:04:05.000Z",
		PageID:    "p-1",
		CallDetails: model.CallDetails{
			Description: desc,
			AccessType:  model.AccessCall,
			Args:        []any{"chat"},
			Source:      source,
		},
	}
}

// startTestServer runs a collector on a random port and returns a client.
func startTestServer(t *testing.T, cfg Config) (*Server, collectorv1.CollectorServiceClient) {
	t.Helper()

	if cfg.DBPath == "" {
		cfg.DBPath = ":memory:"
	}
	srv, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
		srv.Close()
	})
	return srv, collectorv1.NewCollectorServiceClient(conn)
}

func TestDeliverAndQuery(t *testing.T) {
	_, client := startTestServer(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Deliver(ctx, &collectorv1.DeliverRequest{Records: []report.Record{
		testRecord(1, "RTCPeerConnection.createDataChannel", "https://a.example/fp.js"),
		testRecord(2, "RTCPeerConnection.createOffer", "https://a.example/fp.js"),
		testRecord(3, "RTCPeerConnection.createOffer", "https://b.example/lib.js"),
	}})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if resp.Accepted != 3 || resp.Failed != 0 {
		t.Fatalf("expected 3 accepted, got %+v", resp)
	}

	q, err := client.Query(ctx, &collectorv1.QueryRequest{Description: "createOffer"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(q.Records) != 2 {
		t.Fatalf("expected 2 createOffer records, got %d", len(q.Records))
	}
	if q.Records[1].Source != "https://b.example/lib.js" {
		t.Errorf("expected insertion order, got source %s", q.Records[1].Source)
	}

	c, err := client.Counts(ctx, &collectorv1.QueryRequest{Source: "a.example"})
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if len(c.Counts) != 2 {
		t.Fatalf("expected 2 aggregates, got %+v", c.Counts)
	}
}

func TestDeliverWritesReportLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "reports.jsonl")
	_, client := startTestServer(t, Config{LogPath: logPath})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.Deliver(ctx, &collectorv1.DeliverRequest{Records: []report.Record{
		testRecord(1, "RTCDataChannel.send", "https://a.example/fp.js"),
		testRecord(2, "RTCDataChannel.send", "https://a.example/fp.js"),
	}})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	res := reportlog.Verify(logPath)
	if !res.Valid || res.Lines != 2 {
		t.Errorf("expected valid 2-line log, got %+v", res)
	}
}

func TestRequiresDatabasePath(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("expected error without a database path")
	}
}

func TestHTTPRoutes(t *testing.T) {
	srv, client := startTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from /healthz, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Deliver(ctx, &collectorv1.DeliverRequest{Records: []report.Record{
		testRecord(1, "RTCRtpSender.setParameters", "https://a.example/fp.js"),
	}}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "rtcwatch_report_records_total") {
		t.Errorf("expected report counter in metrics output")
	}
}

func TestWebsocketIngestStores(t *testing.T) {
	srv, client := startTestServer(t, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sink, err := stream.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ingest", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sink.Close()

	if err := sink.Deliver(ctx, testRecord(1, "RTCPeerConnection.setLocalDescription", "https://a.example/fp.js")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		q, err := client.Query(ctx, &collectorv1.QueryRequest{PageID: "p-1"})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(q.Records) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("streamed record never reached the store")
}
