package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		validate func(*testing.T, *Config, string)
	}{
		{
			name: "NewFile_Defaults",
			validate: func(t *testing.T, cfg *Config, path string) {
				assert.Equal(t, 10*time.Second, cfg.Narrator.Cooldown.Std())
				assert.Equal(t, 2*time.Second, cfg.Detector.Interval.Std())
				assert.Equal(t, 6, cfg.RateLimits.Rule("gemini").MaxPerMinute)

				content, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Contains(t, string(content), "cooldown: 10s")
				assert.Contains(t, string(content), "# Options: embedded, json, sqlite")
			},
		},
		{
			name:    "ExistingFile_Override",
			content: "narrator:\n  cooldown: 20s\nrate_limits:\n  keys:\n    gemini:\n      min_interval: 1s\n      max_per_minute: 60\n",
			validate: func(t *testing.T, cfg *Config, _ string) {
				assert.Equal(t, 20*time.Second, cfg.Narrator.Cooldown.Std())
				assert.Equal(t, 2*time.Second, cfg.Narrator.ReplayDelay.Std(), "untouched keys keep defaults")
				assert.Equal(t, 60, cfg.RateLimits.Rule("gemini").MaxPerMinute)
				assert.Equal(t, 10, cfg.RateLimits.Rule("voice-guide").MaxPerMinute, "map entries merge")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "")
			path := filepath.Join(t.TempDir(), "skytour.yaml")
			if tt.content != "" {
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			}
			cfg, err := Load(path)
			require.NoError(t, err)
			tt.validate(t, cfg, path)
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("narrator: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "primary")
	t.Setenv("GEMINI_API_KEY_BACKUP", "backup")
	t.Setenv("SKYTOUR_ALLOWED_ORIGIN", "https://tour.example")

	cfg := DefaultConfig()
	ApplyEnv(cfg)

	assert.Equal(t, "primary", cfg.LLM.Key)
	assert.Equal(t, "backup", cfg.LLM.BackupKey)
	assert.Contains(t, cfg.Server.AllowedOrigins, "https://tour.example")

	cfg.LLM.Key = "from-file"
	ApplyEnv(cfg)
	assert.Equal(t, "from-file", cfg.LLM.Key, "file value wins over env")
}

func TestSave_OmitsSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig()
	cfg.LLM.Key = "secret-key"

	require.NoError(t, Save(path, cfg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "secret-key"))
	assert.Equal(t, "secret-key", cfg.LLM.Key, "caller's config is not mutated")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SKYTOUR_TEST_DOTENV=loaded\n"), 0o644))
	t.Setenv("SKYTOUR_TEST_DOTENV", "")
	os.Unsetenv("SKYTOUR_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envPath))
	assert.Equal(t, "loaded", os.Getenv("SKYTOUR_TEST_DOTENV"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		anyErr  bool
	}{
		{name: "MissingKey", mutate: func(c *Config) {}, wantErr: ErrMissingAPIKey},
		{name: "MockNeedsNoKey", mutate: func(c *Config) { c.LLM.Provider = "mock" }},
		{name: "BadSource", mutate: func(c *Config) { c.LLM.Key = "k"; c.Catalog.Source = "ftp" }, anyErr: true},
		{name: "BadBounds", mutate: func(c *Config) { c.LLM.Key = "k"; c.Flight.Bounds.MinLat = 38 }, anyErr: true},
		{name: "Valid", mutate: func(c *Config) { c.LLM.Key = "k" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr != nil:
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.anyErr:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
