package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTuningMissingFileUsesDefaults(t *testing.T) {
	tuning, err := LoadTuning(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, tuning.ScanBudget)
	assert.Equal(t, 80*time.Second, tuning.AgentStageCutoff)
	assert.Equal(t, 6, tuning.MaxToolCalls)
	assert.Equal(t, 40*time.Second, tuning.MaxAgentDuration)
	assert.Equal(t, 2, tuning.SpeedChecksPerScan)
	assert.Equal(t, 15, tuning.LinkChecksPerScan)
	assert.Equal(t, 1500, tuning.DigestMaxTokens)
}

func TestLoadTuningOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thyme.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"max_tool_calls: 4\nspeed_checks_per_scan: 3\n"), 0o600))

	tuning, err := LoadTuning(path)
	require.NoError(t, err)

	assert.Equal(t, 4, tuning.MaxToolCalls)
	assert.Equal(t, 3, tuning.SpeedChecksPerScan)
	assert.Equal(t, 15, tuning.LinkChecksPerScan, "untouched knobs keep defaults")
}

func TestLoadTuningRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"non-positive knob", "max_tool_calls: 0\n"},
		{"cutoff above budget", "scan_budget: 60s\nagent_stage_cutoff: 90s\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "thyme.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o600))

			_, err := LoadTuning(path)
			assert.ErrorIs(t, err, ErrInvalidTuning)
		})
	}
}

func TestLoadTuningMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thyme.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_tool_calls: [not a number\n"), 0o600))

	_, err := LoadTuning(path)
	assert.Error(t, err)
}

func TestLoadReportsEveryMissingVariable(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET",
		"GOOGLE_REDIRECT_URI", "GA4_PROPERTY_ID", "GSC_SITE_URL",
		"PAGESPEED_API_KEY", "HUBSPOT_ACCESS_TOKEN", "OPENAI_API_KEY",
		"CRON_SECRET", "SITE_ORIGIN",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("DATABASE_URL", "postgres://localhost/thyme")

	_, err := Load("")
	var missing *MissingEnvError
	require.ErrorAs(t, err, &missing)
	assert.NotContains(t, missing.Keys, "DATABASE_URL")
	assert.Contains(t, missing.Keys, "GA4_PROPERTY_ID")
	assert.Contains(t, missing.Keys, "CRON_SECRET")
}
