package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"

	"starbash/internal/engine"
)

// AuditRecord is the structured, per-target file written into the
// target's processed directory: chosen stages, chosen masters with
// their scored candidates and rationales, parameter values used, and
// tool versions.
type AuditRecord struct {
	Target      string               `toml:"target"`
	GeneratedAt time.Time            `toml:"generated_at"`
	Tasks       []AuditTaskEntry     `toml:"tasks"`
	Excluded    []AuditExcludedEntry `toml:"excluded,omitempty"`
	Notes       []string             `toml:"notes,omitempty"`
}

// AuditTaskEntry is one task's outcome in the record.
type AuditTaskEntry struct {
	Name          string                 `toml:"name"`
	Stage         string                 `toml:"stage"`
	Status        engine.TaskStatus      `toml:"status"`
	Outputs       []string               `toml:"outputs"`
	Duration      string                 `toml:"duration"` // humanized, e.g. "4 minutes"
	ToolVersion   string                 `toml:"tool_version,omitempty"`
	Masters       []AuditMasterSelection `toml:"masters,omitempty"`
	FailureReason string                 `toml:"failure_reason,omitempty"`
}

// AuditMasterSelection records the Calibration Selector's ranked
// candidates for one master need, for transparency.
type AuditMasterSelection struct {
	Kind       string                  `toml:"kind"`
	Chosen     string                  `toml:"chosen"`
	Candidates []engine.ScoredCandidate `toml:"candidates"`
}

// AuditExcludedEntry mirrors graph.ExcludedCandidate in on-disk form.
type AuditExcludedEntry struct {
	Name   string `toml:"name"`
	Reason string `toml:"reason"`
}

// WriteAuditRecord serializes rec as TOML into
// <documentsRoot>/processed/<target>/<target>.audit.toml.
func WriteAuditRecord(documentsRoot string, rec AuditRecord) error {
	dir := filepath.Join(documentsRoot, "processed", rec.Target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir %s: %w", dir, err)
	}
	data, err := toml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record for %s: %w", rec.Target, err)
	}
	path := filepath.Join(dir, rec.Target+".audit.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write audit record %s: %w", path, err)
	}
	return nil
}

// HumanizeDuration renders d as a relative duration such as
// "4 minutes". The audit record writer does not call it, so
// AuditTaskEntry.Duration is written empty.
func HumanizeDuration(d time.Duration) string {
	return humanize.RelTime(time.Now().Add(-d), time.Now(), "", "")
}

// HumanizeBytes renders n as a human-readable byte size such as
// "82 MB". The audit record carries no size fields.
func HumanizeBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}
