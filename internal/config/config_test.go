package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/contentguard/internal/moderation"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.ClassifierURL)
	assert.Equal(t, 60*time.Second, cfg.ClassifierTimeout)
	assert.Equal(t, 5*time.Second, cfg.ClassifierDialTimeout)
	assert.Equal(t, 1, cfg.ClassifierMaxConns)
	assert.Equal(t, 1, cfg.ClientConfig().MaxConns)
	assert.Empty(t, cfg.AdminToken)
	assert.Equal(t, time.Second, cfg.DebounceDelay)
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, ":8080", cfg.WSAddr)
	assert.Equal(t, 4, cfg.ReviewWorkers)
	assert.Equal(t, 128, cfg.ReviewQueueSize)
	assert.Equal(t, moderation.FailClosed, cfg.Gate.OnFailure[moderation.ContentUsername])
	assert.Equal(t, moderation.FailOpenWarn, cfg.Gate.OnFailure[moderation.ContentPost])
	assert.Equal(t, moderation.FailOpenWarn, cfg.Gate.OnFailure[moderation.ContentComment])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONTENTGUARD_CLASSIFIER_BASE_URL", "http://classifier:9000")
	t.Setenv("CONTENTGUARD_CLASSIFIER_TIMEOUT", "15s")
	t.Setenv("CONTENTGUARD_POLICY_ON_FAILURE_POST", "fail_closed")
	t.Setenv("CONTENTGUARD_REVIEW_WORKERS", "8")
	t.Setenv("CONTENTGUARD_CLASSIFIER_MAX_CONNS", "8")
	t.Setenv("CONTENTGUARD_HTTP_ADMIN_TOKEN", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.ClientConfig().MaxConns)
	assert.Equal(t, "s3cret", cfg.AdminToken)
	assert.Equal(t, "http://classifier:9000", cfg.ClassifierURL)
	assert.Equal(t, 15*time.Second, cfg.ClassifierTimeout)
	assert.Equal(t, moderation.FailClosed, cfg.Gate.OnFailure[moderation.ContentPost])
	assert.Equal(t, 8, cfg.ReviewWorkers)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contentguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
classifier:
  base_url: http://file:8000
debounce:
  delay: 250ms
policy:
  on_failure:
    username: fail_open_warn
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://file:8000", cfg.ClassifierURL)
	assert.Equal(t, 250*time.Millisecond, cfg.DebounceDelay)
	assert.Equal(t, moderation.FailOpenWarn, cfg.Gate.OnFailure[moderation.ContentUsername])
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown failure policy", "CONTENTGUARD_POLICY_ON_FAILURE_COMMENT", "shrug"},
		{"zero timeout", "CONTENTGUARD_CLASSIFIER_TIMEOUT", "0s"},
		{"no classifier connections", "CONTENTGUARD_CLASSIFIER_MAX_CONNS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestConfig_LoadDenyList(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	d, err := cfg.LoadDenyList()
	require.NoError(t, err)
	assert.Greater(t, d.Len(), 0)

	cfg.DenyListPath = filepath.Join(t.TempDir(), "missing.csv")
	d, err = cfg.LoadDenyList()
	assert.ErrorIs(t, err, moderation.ErrLoad)
	assert.Equal(t, 0, d.Len())
}
