package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/rubiojr/deliverymap/pkg/geocode"
	"github.com/rubiojr/deliverymap/pkg/geoloc"
	"github.com/rubiojr/deliverymap/pkg/points"
)

const (
	defaultAddr       = "127.0.0.1:43098"
	defaultHomeRegion = "東京都千代田区"
	envPrefix         = "DELIVERYMAP_"
)

// Config is the runtime configuration. Flags win over environment variables,
// which win over the .env file in the config directory.
type Config struct {
	Debug     bool
	LogFormat string
	Addr      string

	DataDir   string
	ConfigDir string
	CacheDir  string

	HomeRegion string

	Storage       string // sqlite | redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	NominatimServer   string
	NominatimInterval time.Duration
	NoGeocodeCache    bool

	MaxPhotoBytes int64

	// Location is "geoclue", "off" or a fixed "lat,lng".
	Location string
}

// StaticLocation parses a fixed "lat,lng" location.
func (c Config) StaticLocation() (geoloc.Fix, bool) {
	lat, lng, ok := strings.Cut(c.Location, ",")
	if !ok {
		return geoloc.Fix{}, false
	}
	la, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	ln, err2 := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err1 != nil || err2 != nil {
		return geoloc.Fix{}, false
	}
	return geoloc.Fix{Lat: la, Lng: ln}, true
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + name))
}

// parseConfig parses args (without the program name).
func parseConfig(args []string) (Config, error) {
	var cfg Config
	var maxPhoto string

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	fs.StringVar(&cfg.LogFormat, "log-format", "", "log encoding (console|json)")
	fs.StringVar(&cfg.Addr, "addr", "", "listen address (default "+defaultAddr+")")
	fs.StringVar(&cfg.DataDir, "data-dir", "", "custom data directory (overrides XDG_DATA_HOME)")
	fs.StringVar(&cfg.ConfigDir, "config-dir", "", "custom config directory (overrides XDG_CONFIG_HOME)")
	fs.StringVar(&cfg.CacheDir, "cache-dir", "", "custom cache directory (overrides XDG_CACHE_HOME)")
	fs.StringVar(&cfg.HomeRegion, "home-region", "", "region prefixed to address lookups (default "+defaultHomeRegion+")")
	fs.StringVar(&cfg.Storage, "storage", "", "snapshot backend (sqlite|redis)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "redis address for -storage=redis")
	fs.IntVar(&cfg.RedisDB, "redis-db", -1, "redis database number")
	fs.StringVar(&cfg.RedisPrefix, "redis-prefix", "", "redis key prefix")
	fs.StringVar(&cfg.NominatimServer, "nominatim-server", "", "nominatim base URL")
	fs.DurationVar(&cfg.NominatimInterval, "nominatim-interval", 0, "minimum spacing between nominatim requests")
	fs.BoolVar(&cfg.NoGeocodeCache, "no-geocode-cache", false, "disable the on-disk geocode cache")
	fs.StringVar(&maxPhoto, "max-photo", "", "largest accepted photo (e.g. 8MiB)")
	fs.StringVar(&cfg.Location, "location", "", "position source: geoclue, off, or fixed lat,lng")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if cfg.ConfigDir == "" {
		cfg.ConfigDir = env("CONFIG_DIR")
	}
	if cfg.ConfigDir == "" {
		cfg.ConfigDir = filepath.Join(xdgConfigDir(), appName)
	}
	// existing environment variables are never overridden by the file
	if path := dotenvPath(cfg.ConfigDir); fileExists(path) {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if !cfg.Debug {
		cfg.Debug = env("DEBUG") == "1" || strings.EqualFold(env("DEBUG"), "true")
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = env("LOG_FORMAT")
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.LogFormat != "console" && cfg.LogFormat != "json" {
		return Config{}, fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}

	if cfg.Addr == "" {
		cfg.Addr = env("ADDR")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}

	if cfg.DataDir == "" {
		cfg.DataDir = env("DATA_DIR")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(xdgDataDir(), appName)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = env("CACHE_DIR")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(xdgCacheDir(), appName)
	}

	if cfg.HomeRegion == "" {
		cfg.HomeRegion = env("HOME_REGION")
	}
	if cfg.HomeRegion == "" {
		cfg.HomeRegion = defaultHomeRegion
	}

	if cfg.Storage == "" {
		cfg.Storage = env("STORAGE")
	}
	if cfg.Storage == "" {
		cfg.Storage = "sqlite"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = env("REDIS_ADDR")
	}
	cfg.RedisPassword = env("REDIS_PASSWORD")
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
		if v := env("REDIS_DB"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return Config{}, errors.New("invalid " + envPrefix + "REDIS_DB env variable")
			}
			cfg.RedisDB = n
		}
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = env("REDIS_PREFIX")
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = appName + ":"
	}
	switch cfg.Storage {
	case "sqlite":
	case "redis":
		if cfg.RedisAddr == "" {
			return Config{}, errors.New("redis address required (use -redis-addr or " + envPrefix + "REDIS_ADDR env)")
		}
	default:
		return Config{}, fmt.Errorf("unknown storage %q (sqlite or redis)", cfg.Storage)
	}

	if cfg.NominatimServer == "" {
		cfg.NominatimServer = env("NOMINATIM_SERVER")
	}
	if cfg.NominatimServer == "" {
		cfg.NominatimServer = geocode.DefaultServer
	}
	if cfg.NominatimInterval == 0 {
		if v := env("NOMINATIM_INTERVAL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, errors.New("invalid " + envPrefix + "NOMINATIM_INTERVAL env variable")
			}
			cfg.NominatimInterval = d
		} else {
			cfg.NominatimInterval = geocode.DefaultMinInterval
		}
	}

	if maxPhoto == "" {
		maxPhoto = env("MAX_PHOTO")
	}
	cfg.MaxPhotoBytes = points.DefaultMaxPhotoBytes
	if maxPhoto != "" {
		n, err := humanize.ParseBytes(maxPhoto)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("invalid photo size limit %q", maxPhoto)
		}
		cfg.MaxPhotoBytes = int64(n)
	}

	if cfg.Location == "" {
		cfg.Location = env("LOCATION")
	}
	if cfg.Location == "" {
		cfg.Location = "geoclue"
	}
	if cfg.Location != "geoclue" && cfg.Location != "off" {
		if _, ok := cfg.StaticLocation(); !ok {
			return Config{}, fmt.Errorf("invalid location %q (geoclue, off or lat,lng)", cfg.Location)
		}
	}

	return cfg, nil
}
