// Package mcp exposes rtcwatch to agents as an MCP stdio server.
package mcp

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/intercept"
	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/profile"
	"github.com/ppiankov/rtcwatch/internal/reportlog"
)

// Config holds MCP server configuration.
type Config struct {
	ProfileName  string
	Targets      []model.InterceptTarget // appended after the profile's
	Threshold    int
	ReportErrors intercept.ErrorPolicy
	Timeout      time.Duration
	LogPath      string // optional hash-chained copy of every record
	Logger       *zap.Logger
	Version      string
}

// Server wraps the MCP SDK server. Every tool call runs in a fresh page.
type Server struct {
	mcpServer *mcpsdk.Server
	cfg       Config
	targets   []model.InterceptTarget
	reportLog *reportlog.Log
	runs      atomic.Int64
	log       *zap.Logger
}

// New creates an MCP server with the configured targets and tools.
func New(cfg Config) (*Server, error) {
	if cfg.ProfileName == "" {
		cfg.ProfileName = profile.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	prof, err := profile.Load(cfg.ProfileName)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %q: %w", cfg.ProfileName, err)
	}

	var rl *reportlog.Log
	if cfg.LogPath != "" {
		rl, err = reportlog.Open(cfg.LogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open report log: %w", err)
		}
	}

	s := &Server{
		cfg:       cfg,
		targets:   profile.Merge(prof, cfg.Targets),
		reportLog: rl,
		log:       cfg.Logger.Named("mcp"),
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "rtcwatch",
			Version: cfg.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close closes the report log if configured.
func (s *Server) Close() error {
	if s.reportLog != nil {
		return s.reportLog.Close()
	}
	return nil
}

// registerTools adds all rtcwatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "rtcwatch_run",
		Description: "Run a script (or an ordered list of scripts) in an observed page and return every reported access to the watched API members, attributed to the calling script URL.",
	}, s.handleRun)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "rtcwatch_targets",
		Description: "List the API members a profile intercepts, and the available profiles.",
	}, s.handleTargets)
}
