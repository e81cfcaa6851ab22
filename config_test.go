package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// isolate points XDG and DELIVERYMAP_* away from the developer's environment.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))
	for _, k := range []string{"DEBUG", "LOG_FORMAT", "ADDR", "CONFIG_DIR", "DATA_DIR", "CACHE_DIR",
		"HOME_REGION", "STORAGE", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_PREFIX",
		"NOMINATIM_SERVER", "NOMINATIM_INTERVAL", "MAX_PHOTO", "LOCATION"} {
		t.Setenv(envPrefix+k, "")
	}
	return dir
}

func TestParseConfig_Defaults(t *testing.T) {
	dir := isolate(t)
	cfg, err := parseConfig(nil)
	require.NoError(t, err)
	require.Equal(t, defaultAddr, cfg.Addr)
	require.Equal(t, "東京都千代田区", cfg.HomeRegion)
	require.Equal(t, "sqlite", cfg.Storage)
	require.Equal(t, "console", cfg.LogFormat)
	require.Equal(t, "geoclue", cfg.Location)
	require.Equal(t, int64(8<<20), cfg.MaxPhotoBytes)
	require.Equal(t, filepath.Join(dir, "data", appName), cfg.DataDir)
	require.Equal(t, filepath.Join(dir, "cache", appName), cfg.CacheDir)
	require.Equal(t, filepath.Join(dir, "config", appName), cfg.ConfigDir)
	require.Equal(t, "https://nominatim.openstreetmap.org", cfg.NominatimServer)
	require.Equal(t, time.Second, cfg.NominatimInterval)
	require.Equal(t, appName+":", cfg.RedisPrefix)
}

func TestParseConfig_EnvVars(t *testing.T) {
	isolate(t)
	t.Setenv(envPrefix+"ADDR", "127.0.0.1:9000")
	t.Setenv(envPrefix+"HOME_REGION", "大阪府大阪市")
	t.Setenv(envPrefix+"MAX_PHOTO", "2MiB")
	t.Setenv(envPrefix+"NOMINATIM_INTERVAL", "250ms")
	t.Setenv(envPrefix+"DEBUG", "true")

	cfg, err := parseConfig(nil)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Addr)
	require.Equal(t, "大阪府大阪市", cfg.HomeRegion)
	require.Equal(t, int64(2<<20), cfg.MaxPhotoBytes)
	require.Equal(t, 250*time.Millisecond, cfg.NominatimInterval)
	require.True(t, cfg.Debug)
}

func TestParseConfig_CLIOverridesEnv(t *testing.T) {
	isolate(t)
	t.Setenv(envPrefix+"ADDR", "127.0.0.1:9000")
	cfg, err := parseConfig([]string{"-addr", "127.0.0.1:8080", "-log-format", "json"})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", cfg.Addr)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestParseConfig_DotEnv(t *testing.T) {
	dir := isolate(t)
	confDir := filepath.Join(dir, "conf")
	require.NoError(t, os.MkdirAll(confDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(confDir, ".env"),
		[]byte("DELIVERYMAP_HOME_REGION=北海道札幌市\nDELIVERYMAP_LOCATION=43.06,141.35\n"), 0o644))
	// godotenv leaves variables that are already set alone, including empty ones
	os.Unsetenv(envPrefix + "HOME_REGION")
	os.Unsetenv(envPrefix + "LOCATION")
	t.Cleanup(func() {
		os.Unsetenv(envPrefix + "HOME_REGION")
		os.Unsetenv(envPrefix + "LOCATION")
	})

	cfg, err := parseConfig([]string{"-config-dir", confDir})
	require.NoError(t, err)
	require.Equal(t, "北海道札幌市", cfg.HomeRegion)
	fix, ok := cfg.StaticLocation()
	require.True(t, ok)
	require.Equal(t, 43.06, fix.Lat)
	require.Equal(t, 141.35, fix.Lng)
}

func TestParseConfig_Errors(t *testing.T) {
	cases := map[string][]string{
		"redis without addr": {"-storage", "redis"},
		"unknown storage":    {"-storage", "postgres"},
		"bad photo size":     {"-max-photo", "lots"},
		"bad location":       {"-location", "somewhere"},
		"bad log format":     {"-log-format", "xml"},
		"stray args":         {"extra"},
		"unknown flag":       {"-nope"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			isolate(t)
			_, err := parseConfig(args)
			require.Error(t, err)
		})
	}

	isolate(t)
	t.Setenv(envPrefix+"REDIS_DB", "x")
	_, err := parseConfig(nil)
	require.Error(t, err)
}

func TestParseConfig_Redis(t *testing.T) {
	isolate(t)
	cfg, err := parseConfig([]string{"-storage", "redis", "-redis-addr", "localhost:6379", "-redis-db", "3"})
	require.NoError(t, err)
	require.Equal(t, "redis", cfg.Storage)
	require.Equal(t, 3, cfg.RedisDB)
}
