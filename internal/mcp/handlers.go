package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/rtcwatch/internal/model"
	"github.com/ppiankov/rtcwatch/internal/page"
	"github.com/ppiankov/rtcwatch/internal/profile"
	"github.com/ppiankov/rtcwatch/internal/report"
)

// --- Input/Output types ---

// RunInput defines parameters for the rtcwatch_run tool.
type RunInput struct {
	URL       string        `json:"url,omitempty" jsonschema:"URL the script is loaded under; call sites are attributed to it"`
	Source    string        `json:"source,omitempty" jsonschema:"script source"`
	Scripts   []page.Script `json:"scripts,omitempty" jsonschema:"ordered scripts loaded into the same page, used instead of url/source"`
	Profile   string        `json:"profile,omitempty" jsonschema:"target profile (webrtc/canvas/audio), defaults to the server profile"`
	Threshold int           `json:"threshold,omitempty" jsonschema:"reports per member before the member is reverted"`
}

// RunOutput contains the records and the page summary.
type RunOutput struct {
	PageID   string                        `json:"page_id"`
	Records  []report.Record               `json:"records"`
	Counts   map[string]int                `json:"counts"`
	Reverted map[string][]model.AccessType `json:"reverted,omitempty"`
	Skipped  []string                      `json:"skipped,omitempty"`
	Errors   []page.ScriptError            `json:"errors,omitempty"`
}

// TargetsInput defines parameters for the rtcwatch_targets tool.
type TargetsInput struct {
	Profile string `json:"profile,omitempty" jsonschema:"profile to list, defaults to the server profile"`
}

// TargetsOutput lists a profile's targets.
type TargetsOutput struct {
	Profile  string                  `json:"profile"`
	Targets  []model.InterceptTarget `json:"targets"`
	Profiles []string                `json:"profiles"`
}

// --- Handlers ---

func (s *Server) handleRun(ctx context.Context, req *mcpsdk.CallToolRequest, input RunInput) (*mcpsdk.CallToolResult, RunOutput, error) {
	scripts := input.Scripts
	if len(scripts) == 0 {
		if input.URL == "" {
			return nil, RunOutput{}, fmt.Errorf("url and source, or scripts, are required")
		}
		scripts = []page.Script{{URL: input.URL, Source: input.Source}}
	}

	targets := s.targets
	if input.Profile != "" && input.Profile != s.cfg.ProfileName {
		prof, err := profile.Load(input.Profile)
		if err != nil {
			return nil, RunOutput{}, err
		}
		targets = prof.Targets
	}
	threshold := s.cfg.Threshold
	if input.Threshold > 0 {
		threshold = input.Threshold
	}

	buf := &report.Buffer{}
	var sink report.Sink = buf
	if s.reportLog != nil {
		sink = report.Tee(buf, s.reportLog)
	}

	pageID := fmt.Sprintf("mcp-%d", s.runs.Add(1))
	res, err := page.Run(ctx, page.Options{
		ID:           pageID,
		Targets:      targets,
		Threshold:    threshold,
		Sink:         sink,
		ReportErrors: s.cfg.ReportErrors,
		Logger:       s.cfg.Logger,
		Timeout:      s.cfg.Timeout,
	}, scripts)
	if err != nil {
		return nil, RunOutput{}, err
	}

	s.log.Debug("run finished", zap.String("page", pageID), zap.Int("records", buf.Len()))

	out := RunOutput{
		PageID:   res.PageID,
		Records:  buf.Records(),
		Counts:   res.Counts,
		Reverted: res.Reverted,
		Skipped:  res.Skipped,
		Errors:   res.Errors,
	}
	if out.Records == nil {
		out.Records = []report.Record{}
	}
	if len(res.Errors) == len(scripts) {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleTargets(ctx context.Context, req *mcpsdk.CallToolRequest, input TargetsInput) (*mcpsdk.CallToolResult, TargetsOutput, error) {
	out := TargetsOutput{Profiles: profile.List()}
	if input.Profile == "" || input.Profile == s.cfg.ProfileName {
		out.Profile = s.cfg.ProfileName
		out.Targets = s.targets
		return nil, out, nil
	}

	prof, err := profile.Load(input.Profile)
	if err != nil {
		return nil, TargetsOutput{}, err
	}
	out.Profile = prof.Name
	out.Targets = prof.Targets
	return nil, out, nil
}
