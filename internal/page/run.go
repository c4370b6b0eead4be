package page

import (
	"context"

	"github.com/ppiankov/rtcwatch/internal/model"
)

// Script is one script loaded into a page, named by the URL it came from.
type Script struct {
	URL    string `json:"url"`
	Source string `json:"source"`
}

// ScriptError records a script that threw or was interrupted.
type ScriptError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Result summarizes one page run.
type Result struct {
	PageID    string                        `json:"page_id"`
	Installed []string                      `json:"installed"`
	Skipped   []string                      `json:"skipped,omitempty"`
	Delivered int64                         `json:"delivered"`
	Counts    map[string]int                `json:"counts"`
	Reverted  map[string][]model.AccessType `json:"reverted,omitempty"`
	Errors    []ScriptError                 `json:"errors,omitempty"`
}

// Run creates a page from opts and loads scripts in order. A script that
// throws is recorded and the remaining scripts still run, as in a browser.
// The returned error is non-nil only when the page itself cannot be built.
func Run(ctx context.Context, opts Options, scripts []Script) (*Result, error) {
	p, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{PageID: p.ID()}
	for _, s := range scripts {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ScriptError{URL: s.URL, Error: ctx.Err().Error()})
			continue
		}
		if err := p.Load(ctx, s.URL, s.Source); err != nil {
			res.Errors = append(res.Errors, ScriptError{URL: s.URL, Error: err.Error()})
		}
	}

	return p.summarize(res), nil
}

func (p *Page) summarize(res *Result) *Result {
	for _, t := range p.install.Installed {
		res.Installed = append(res.Installed, t.Key())
	}
	for _, s := range p.install.Skipped {
		res.Skipped = append(res.Skipped, s.Target.Key())
	}
	res.Delivered = p.Delivered()
	res.Reverted = p.engine.Reverted()
	res.Counts = make(map[string]int)
	if snap, ok := p.ledger.(interface{ Snapshot() map[string]int }); ok {
		res.Counts = snap.Snapshot()
	}
	return res
}
