package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raciline/internal/gaps"
	"raciline/internal/progress"
)

func TestDefaultMatchesEngineDefaults(t *testing.T) {
	cfg := Default("ws")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ws", cfg.Workspace.ID)
	assert.Equal(t, gaps.DefaultRules(), cfg.GapRules())
	assert.Equal(t, progress.DefaultConfig(), cfg.Progress())
	assert.Equal(t, 5, cfg.Report.TopGapsLimit)
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("workspace:\n  id: acme\nrules:\n  max_responsible: 2\ngate:\n  percent_threshold: 80\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Rules.RequireAccountable)
	assert.Equal(t, 2, cfg.Rules.MaxResponsible)
	assert.Equal(t, 5, cfg.Rules.RoleOverloadThreshold)
	assert.Equal(t, 80, cfg.Gate.PercentThreshold)
}

func TestFromYAMLValidation(t *testing.T) {
	cases := map[string]string{
		"missing id":     "rules:\n  max_responsible: 2\n",
		"gate too large": "workspace: {id: a}\ngate: {percent_threshold: 101}\n",
		"bad webhook":    "workspace: {id: a}\nwebhooks:\n  - url: ftp://example\n",
		"empty event":    "workspace: {id: a}\nwebhooks:\n  - url: https://example.com/hook\n    events: [\"\"]\n",
		"zero limit":     "workspace: {id: a}\nreport: {top_gaps_limit: 0}\n",
		"not yaml":       "workspace: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestWebhookActive(t *testing.T) {
	off := false
	assert.True(t, WebhookConfig{URL: "http://x"}.Active())
	assert.False(t, WebhookConfig{URL: "http://x", Enabled: &off}.Active())
	assert.False(t, WebhookConfig{}.Active())
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "raciline.yml"), []byte(GenerateDefault("local")), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.Workspace.ID)
}

func TestYAMLRoundTrip(t *testing.T) {
	data, err := Default("ws").YAML()
	require.NoError(t, err)
	cfg, err := FromYAML(data)
	require.NoError(t, err)
	assert.Equal(t, Default("ws"), cfg)
}
