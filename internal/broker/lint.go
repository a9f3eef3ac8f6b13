package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// LintIssue is one finding from a lint run, mirroring golangci-lint's
// JSON issue shape closely enough to round-trip through the RPC fabric.
type LintIssue struct {
	FromLinter string `json:"fromLinter"`
	Text       string `json:"text"`
	Severity   string `json:"severity"`
	Path       string `json:"path"`
	Line       int    `json:"line"`
}

// Linter runs static analysis over the student code directory and
// reports structured findings, the Go analogue of the original's pylint
// subprocess + JSON parse.
type Linter interface {
	Lint(ctx context.Context, dir string) ([]LintIssue, error)
}

// golangciLinter shells out to golangci-lint, the idiomatic choice for
// linting a directory of Go source the way pylint lints Python.
type golangciLinter struct{}

// NewGolangciLinter returns the default Linter implementation.
func NewGolangciLinter() Linter { return golangciLinter{} }

type golangciReport struct {
	Issues []struct {
		FromLinter string `json:"FromLinter"`
		Text       string `json:"Text"`
		Severity   string `json:"Severity"`
		Pos        struct {
			Filename string `json:"Filename"`
			Line     int    `json:"Line"`
		} `json:"Pos"`
	} `json:"Issues"`
}

func (golangciLinter) Lint(ctx context.Context, dir string) ([]LintIssue, error) {
	cmd := exec.CommandContext(ctx, "golangci-lint", "run", "--out-format", "json", dir)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// golangci-lint exits non-zero when it finds issues; that is not a
	// runtime failure, only an empty/malformed report is.
	_ = cmd.Run()

	var report golangciReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return nil, fmt.Errorf("broker: parse lint report: %w", err)
	}
	issues := make([]LintIssue, 0, len(report.Issues))
	for _, i := range report.Issues {
		issues = append(issues, LintIssue{
			FromLinter: i.FromLinter,
			Text:       i.Text,
			Severity:   i.Severity,
			Path:       i.Pos.Filename,
			Line:       i.Pos.Line,
		})
	}
	return issues, nil
}

// Lint runs the configured Linter over dir.
func (b *Broker) Lint(ctx context.Context, dir string) ([]LintIssue, error) {
	if b.linter == nil {
		return nil, nil
	}
	return b.linter.Lint(ctx, dir)
}
