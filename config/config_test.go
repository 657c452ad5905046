package config_test

import (
	"os"
	"path/filepath"
	"testing"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/collection-engine/config"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv(lookupFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), cfg)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := config.FromEnv(lookupFrom(map[string]string{
		"PORT":                "9090",
		"DB_PATH":             ":memory:",
		"LOG_LEVEL":           "DEBUG",
		"LOG_FORMAT":          "console",
		"COLLECTION_TIMEZONE": "UTC",
		"CORS_ORIGINS":        "http://localhost:3000, https://ops.example.com,,",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, []string{"http://localhost:3000", "https://ops.example.com"}, cfg.CORSOrigins)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"port not a number": {"PORT": "http"},
		"port out of range": {"PORT": "70000"},
		"unknown zone":      {"COLLECTION_TIMEZONE": "Mars/Olympus_Mons"},
		"unknown level":     {"LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromEnv(lookupFrom(env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PATH=from-file.db\n"), 0o600))
	t.Setenv("DB_PATH", "")
	os.Unsetenv("DB_PATH")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file.db", cfg.DBPath)

	// A missing file is fine
	_, err = config.Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}
