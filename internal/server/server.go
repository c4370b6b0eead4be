// Package server is the rtcwatch collector: it accepts report records over
// gRPC and websockets, stores them in SQLite, fans them out to live
// watchers, and serves Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	collectorv1 "github.com/ppiankov/rtcwatch/api/collector/v1"
	"github.com/ppiankov/rtcwatch/internal/metrics"
	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/report"
	"github.com/ppiankov/rtcwatch/internal/reportlog"
	"github.com/ppiankov/rtcwatch/internal/store"
	"github.com/ppiankov/rtcwatch/internal/stream"
)

// Config holds collector configuration.
type Config struct {
	GRPCAddr    string // e.g. ":7070"
	HTTPAddr    string // "" disables /ingest, /watch, /metrics and /healthz
	DBPath      string // ":memory:" for an ephemeral store
	LogPath     string // optional hash-chained copy of every stored record
	MaxWatchers int
}

// Server implements the collector service.
type Server struct {
	cfg       Config
	store     *store.Store
	reportLog *reportlog.Log
	hub       *stream.Hub
	metrics   *metrics.Collector
	sink      report.Sink
	log       *zap.Logger

	grpcServer *grpc.Server
	httpServer *http.Server
}

// New opens the store (and report log, if configured) and builds the
// gRPC and HTTP servers.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("collector: database path is required")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var rl *reportlog.Log
	if cfg.LogPath != "" {
		rl, err = reportlog.Open(cfg.LogPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to open report log: %w", err)
		}
	}

	s := &Server{
		cfg:        cfg,
		store:      st,
		reportLog:  rl,
		hub:        stream.NewHub(cfg.MaxWatchers, log),
		metrics:    metrics.NewCollector(""),
		log:        log.Named("collector"),
		grpcServer: grpc.NewServer(),
	}

	sinks := []report.Sink{st}
	if rl != nil {
		sinks = append(sinks, rl)
	}
	sinks = append(sinks, s.hub)
	s.sink = s.metrics.Sink(report.Tee(sinks...))

	collectorv1.RegisterCollectorServiceServer(s.grpcServer, s)
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

// Handler returns the collector's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ingest", stream.NewIngest(s.sink, s.log))
	mux.Handle("/watch", s.hub)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// Serve listens on the configured addresses and blocks until ctx is
// cancelled or a listener fails.
func (s *Server) Serve(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- s.grpcServer.Serve(grpcLis) }()
	s.log.Info("collector listening", zap.String("grpc", grpcLis.Addr().String()))

	if s.cfg.HTTPAddr != "" {
		httpLis, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			s.grpcServer.Stop()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.HTTPAddr, err)
		}
		go func() {
			if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		s.log.Info("collector http listening", zap.String("http", httpLis.Addr().String()))
	}

	select {
	case <-ctx.Done():
		s.GracefulStop()
		return nil
	case err := <-errCh:
		s.GracefulStop()
		return err
	}
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight RPCs and shuts the HTTP server down.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
}

// Close releases the store and report log.
func (s *Server) Close() error {
	var errs []error
	if s.reportLog != nil {
		errs = append(errs, s.reportLog.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

// Deliver implements the Deliver RPC. Every record is attempted; the first
// failure is echoed back alongside the counts.
func (s *Server) Deliver(ctx context.Context, req *collectorv1.DeliverRequest) (*collectorv1.DeliverResponse, error) {
	resp := &collectorv1.DeliverResponse{}
	for _, rec := range req.Records {
		if err := s.sink.Deliver(ctx, rec); err != nil {
			resp.Failed++
			if resp.Error == "" {
				resp.Error = err.Error()
			}
			s.log.Error("store record failed", zap.String("description", rec.Description), zap.Error(err))
			continue
		}
		resp.Accepted++
	}
	return resp, nil
}

// Query implements the Query RPC.
func (s *Server) Query(ctx context.Context, req *collectorv1.QueryRequest) (*collectorv1.QueryResponse, error) {
	recs, err := s.store.Records(ctx, toQuery(req))
	if err != nil {
		return nil, err
	}
	return &collectorv1.QueryResponse{Records: recs}, nil
}

// Counts implements the Counts RPC.
func (s *Server) Counts(ctx context.Context, req *collectorv1.QueryRequest) (*collectorv1.CountsResponse, error) {
	counts, err := s.store.Counts(ctx, toQuery(req))
	if err != nil {
		return nil, err
	}
	out := &collectorv1.CountsResponse{Counts: make([]collectorv1.Count, len(counts))}
	for i, c := range counts {
		out.Counts[i] = collectorv1.Count{Description: c.Description, Source: c.Source, Count: int32(c.Count)}
	}
	return out, nil
}

func toQuery(req *collectorv1.QueryRequest) store.Query {
	return store.Query{
		PageID:      req.PageID,
		Description: req.Description,
		Source:      req.Source,
		AccessType:  model.AccessType(req.AccessType),
		Limit:       int(req.Limit),
	}
}
