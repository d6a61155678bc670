package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"simple-db-2pl/src/common"
	"simple-db-2pl/src/disk"
)

const (
	EvictionRandom = "random"
	EvictionLRU    = "lru"
)

// Config holds the knobs of the storage engine. Its zero value is not
// usable; start from Default.
type Config struct {
	PageSize int
	DirectIO bool
	DataDir  string

	PoolPages int
	Eviction  string

	LockTimeout time.Duration
	BackoffMin  time.Duration
	BackoffMax  time.Duration

	LogLevel log.Level
}

func Default() *Config {
	return &Config{
		PageSize:    common.DefaultPageSize,
		DirectIO:    false,
		DataDir:     "data",
		PoolPages:   common.DefaultPoolPages,
		Eviction:    EvictionRandom,
		LockTimeout: disk.DefaultLockTimeout,
		BackoffMin:  disk.DefaultBackoffMin,
		BackoffMax:  disk.DefaultBackoffMax,
		LogLevel:    log.InfoLevel,
	}
}

// Load reads an ini file on top of the defaults. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Debugf("Config file %s does not exist, using defaults.", path)
		return Default(), nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return parse(f)
}

// Parse reads ini content from memory.
func Parse(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return parse(f)
}

func parse(f *ini.File) (*Config, error) {
	cfg := Default()

	storage := f.Section("storage")
	cfg.PageSize = storage.Key("page_size").MustInt(cfg.PageSize)
	cfg.DirectIO = storage.Key("direct_io").MustBool(cfg.DirectIO)
	cfg.DataDir = storage.Key("data_dir").MustString(cfg.DataDir)

	pool := f.Section("buffer_pool")
	cfg.PoolPages = pool.Key("pages").MustInt(cfg.PoolPages)
	cfg.Eviction = strings.ToLower(pool.Key("eviction").MustString(cfg.Eviction))

	lock := f.Section("lock")
	cfg.LockTimeout = lock.Key("timeout").MustDuration(cfg.LockTimeout)
	cfg.BackoffMin = lock.Key("backoff_min").MustDuration(cfg.BackoffMin)
	cfg.BackoffMax = lock.Key("backoff_max").MustDuration(cfg.BackoffMax)

	if name := f.Section("log").Key("level").String(); name != "" {
		level, err := log.ParseLevel(name)
		if err != nil {
			return nil, errors.Wrapf(err, "log level %q", name)
		}
		cfg.LogLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.PageSize <= 0 {
		return errors.Errorf("page_size must be positive, got %d", cfg.PageSize)
	}
	if cfg.PoolPages <= 0 {
		return errors.Errorf("buffer_pool pages must be positive, got %d", cfg.PoolPages)
	}
	if cfg.Eviction != EvictionRandom && cfg.Eviction != EvictionLRU {
		return errors.Errorf("unknown eviction policy %q", cfg.Eviction)
	}
	if cfg.LockTimeout <= 0 {
		return errors.Errorf("lock timeout must be positive, got %v", cfg.LockTimeout)
	}
	if cfg.BackoffMin < 0 || cfg.BackoffMax < cfg.BackoffMin {
		return errors.Errorf("bad lock backoff range [%v, %v]", cfg.BackoffMin, cfg.BackoffMax)
	}
	return nil
}

// NewReplacer returns the eviction policy named by the config.
func (cfg *Config) NewReplacer() disk.Replacer {
	if cfg.Eviction == EvictionLRU {
		return disk.NewLRUReplacer()
	}
	return disk.NewRandomReplacer()
}
