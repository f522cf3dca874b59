package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the pipeline knobs that operators may override in thyme.yaml.
// Every field has a production default; the zero file is valid.
type Tuning struct {
	// Wall-clock budget for a full scan run.
	ScanBudget time.Duration `yaml:"scan_budget"`
	// Speed spot checks stop starting new audits past this elapsed time.
	SpeedStageCutoff time.Duration `yaml:"speed_stage_cutoff"`
	// The agent loop is skipped entirely past this elapsed time.
	AgentStageCutoff time.Duration `yaml:"agent_stage_cutoff"`

	// Agent loop budgets.
	MaxToolCalls     int           `yaml:"max_tool_calls"`
	MaxAgentDuration time.Duration `yaml:"max_agent_duration"`
	// Flagged pages investigated per scan, worst first.
	MaxInvestigations int `yaml:"max_investigations"`

	// Per-scan sampling sizes.
	SpeedChecksPerScan int `yaml:"speed_checks_per_scan"`
	LinkChecksPerScan  int `yaml:"link_checks_per_scan"`

	// Parallelism caps.
	CMSUpdateParallel  int `yaml:"cms_update_parallel"`
	InsertChunkSize    int `yaml:"insert_chunk_size"`
	UpsertChunkSize    int `yaml:"upsert_chunk_size"`
	FormCountParallel  int `yaml:"form_count_parallel"`
	LinkCheckParallel  int `yaml:"link_check_parallel"`
	FormDetectParallel int `yaml:"form_detect_parallel"`

	// Weekly digest generation cap.
	DigestMaxTokens int `yaml:"digest_max_tokens"`
}

// UnmarshalYAML overlays only the keys present in the file onto the
// receiver. Durations are written as strings ("40s", "2m"); yaml.v3 has no
// native time.Duration support.
func (t *Tuning) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ScanBudget       *string `yaml:"scan_budget"`
		SpeedStageCutoff *string `yaml:"speed_stage_cutoff"`
		AgentStageCutoff *string `yaml:"agent_stage_cutoff"`
		MaxAgentDuration *string `yaml:"max_agent_duration"`

		MaxToolCalls       *int `yaml:"max_tool_calls"`
		MaxInvestigations  *int `yaml:"max_investigations"`
		SpeedChecksPerScan *int `yaml:"speed_checks_per_scan"`
		LinkChecksPerScan  *int `yaml:"link_checks_per_scan"`
		CMSUpdateParallel  *int `yaml:"cms_update_parallel"`
		InsertChunkSize    *int `yaml:"insert_chunk_size"`
		UpsertChunkSize    *int `yaml:"upsert_chunk_size"`
		FormCountParallel  *int `yaml:"form_count_parallel"`
		LinkCheckParallel  *int `yaml:"link_check_parallel"`
		FormDetectParallel *int `yaml:"form_detect_parallel"`
		DigestMaxTokens    *int `yaml:"digest_max_tokens"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	durations := []struct {
		src *string
		dst *time.Duration
		key string
	}{
		{raw.ScanBudget, &t.ScanBudget, "scan_budget"},
		{raw.SpeedStageCutoff, &t.SpeedStageCutoff, "speed_stage_cutoff"},
		{raw.AgentStageCutoff, &t.AgentStageCutoff, "agent_stage_cutoff"},
		{raw.MaxAgentDuration, &t.MaxAgentDuration, "max_agent_duration"},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidTuning, d.key, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		src *int
		dst *int
	}{
		{raw.MaxToolCalls, &t.MaxToolCalls},
		{raw.MaxInvestigations, &t.MaxInvestigations},
		{raw.SpeedChecksPerScan, &t.SpeedChecksPerScan},
		{raw.LinkChecksPerScan, &t.LinkChecksPerScan},
		{raw.CMSUpdateParallel, &t.CMSUpdateParallel},
		{raw.InsertChunkSize, &t.InsertChunkSize},
		{raw.UpsertChunkSize, &t.UpsertChunkSize},
		{raw.FormCountParallel, &t.FormCountParallel},
		{raw.LinkCheckParallel, &t.LinkCheckParallel},
		{raw.FormDetectParallel, &t.FormDetectParallel},
		{raw.DigestMaxTokens, &t.DigestMaxTokens},
	}
	for _, n := range ints {
		if n.src != nil {
			*n.dst = *n.src
		}
	}
	return nil
}

// DefaultTuning returns the production defaults.
func DefaultTuning() *Tuning {
	return &Tuning{
		ScanBudget:         120 * time.Second,
		SpeedStageCutoff:   50 * time.Second,
		AgentStageCutoff:   80 * time.Second,
		MaxToolCalls:       6,
		MaxAgentDuration:   40 * time.Second,
		MaxInvestigations:  1,
		SpeedChecksPerScan: 2,
		LinkChecksPerScan:  15,
		CMSUpdateParallel:  50,
		InsertChunkSize:    100,
		UpsertChunkSize:    100,
		FormCountParallel:  5,
		LinkCheckParallel:  5,
		FormDetectParallel: 20,
		DigestMaxTokens:    1500,
	}
}

// LoadTuning reads path, overlaying defaults. A missing file is not an
// error; a present-but-invalid file is.
func LoadTuning(path string) (*Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Info("No tuning file found, using defaults", "path", path)
			return t, nil
		}
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}

	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse tuning file %s: %w", path, err)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	slog.Info("Tuning loaded", "path", path)
	return t, nil
}

func (t *Tuning) validate() error {
	positive := map[string]int{
		"max_tool_calls":        t.MaxToolCalls,
		"max_investigations":    t.MaxInvestigations,
		"speed_checks_per_scan": t.SpeedChecksPerScan,
		"link_checks_per_scan":  t.LinkChecksPerScan,
		"cms_update_parallel":   t.CMSUpdateParallel,
		"insert_chunk_size":     t.InsertChunkSize,
		"upsert_chunk_size":     t.UpsertChunkSize,
		"form_count_parallel":   t.FormCountParallel,
		"link_check_parallel":   t.LinkCheckParallel,
		"form_detect_parallel":  t.FormDetectParallel,
		"digest_max_tokens":     t.DigestMaxTokens,
	}
	for field, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidTuning, field, v)
		}
	}
	if t.ScanBudget <= 0 || t.MaxAgentDuration <= 0 {
		return fmt.Errorf("%w: budgets must be positive", ErrInvalidTuning)
	}
	if t.AgentStageCutoff >= t.ScanBudget {
		return fmt.Errorf("%w: agent_stage_cutoff must be below scan_budget", ErrInvalidTuning)
	}
	return nil
}
