// Package config resolves collection settings.
//
// Precedence, lowest first: built-in defaults, the YAML file given with
// --config, a .env file, IRKIT_* environment variables, command line flags.
// The CLI applies flags last.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"irkit/collectors"
	"irkit/collectors/linux"
	"irkit/collectors/registry"
	"irkit/faults"
)

const DefaultOutput = "./ir_collection"

type Config struct {
	Output            string        `yaml:"output"`
	Demo              bool          `yaml:"demo"`
	SessionID         string        `yaml:"session_id"`
	Parallel          bool          `yaml:"parallel"`
	Workers           int           `yaml:"workers"`
	CollectorTimeout  time.Duration `yaml:"collector_timeout"`
	Grace             time.Duration `yaml:"grace"`
	AllowUnprivileged bool          `yaml:"allow_unprivileged"`
	Verbose           bool          `yaml:"verbose"`
	Disk              DiskConfig    `yaml:"disk"`
}

type DiskConfig struct {
	RecentRoots      []string      `yaml:"recent_roots"`
	RecentWindow     time.Duration `yaml:"recent_window"`
	MaxRecentFiles   int           `yaml:"max_recent_files"`
	MaxWalkEntries   int           `yaml:"max_walk_entries"`
	HashFiles        bool          `yaml:"hash_files"`
	MaxHashBytes     int64         `yaml:"max_hash_bytes"`
	LogPaths         []string      `yaml:"log_paths"`
	LogTailLines     int           `yaml:"log_tail_lines"`
	PersistencePaths []string      `yaml:"persistence_paths"`
}

func Defaults() Config {
	return Config{
		Output:           DefaultOutput,
		CollectorTimeout: collectors.DefaultTimeout,
		Grace:            collectors.DefaultGrace,
		Disk: DiskConfig{
			RecentRoots:      linux.DefaultRecentRoots,
			RecentWindow:     linux.DefaultRecentWindow,
			MaxRecentFiles:   linux.DefaultMaxRecentFiles,
			MaxWalkEntries:   linux.DefaultMaxWalkEntries,
			MaxHashBytes:     linux.DefaultMaxHashBytes,
			LogPaths:         linux.DefaultLogPaths,
			LogTailLines:     linux.DefaultLogTailLines,
			PersistencePaths: linux.DefaultPersistencePaths,
		},
	}
}

// Load returns the defaults with the YAML file at path merged over them.
// An empty path yields the defaults.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, &faults.ConfigurationError{Field: "config", Err: err}
	}
	var file Config
	if err := yaml.Unmarshal(b, &file); err != nil {
		return cfg, &faults.ConfigurationError{Field: "config", Err: fmt.Errorf("parse %s: %w", path, err)}
	}
	if err := mergo.Merge(&cfg, file, mergo.WithOverride); err != nil {
		return cfg, &faults.ConfigurationError{Field: "config", Err: err}
	}
	// mergo skips empty values; an explicit empty list in the file turns
	// that part of the disk collection off.
	for _, l := range []struct{ dst, src *[]string }{
		{&cfg.Disk.RecentRoots, &file.Disk.RecentRoots},
		{&cfg.Disk.LogPaths, &file.Disk.LogPaths},
		{&cfg.Disk.PersistencePaths, &file.Disk.PersistencePaths},
	} {
		if *l.src != nil && len(*l.src) == 0 {
			*l.dst = []string{}
		}
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without replacing variables that are already set. A missing file is fine.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return &faults.ConfigurationError{Field: "env_file", Err: err}
	}
	return nil
}

// ApplyEnv overrides cfg from IRKIT_* variables.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &faults.ConfigurationError{Field: key, Err: err}
		}
		*dst = b
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return &faults.ConfigurationError{Field: key, Err: err}
		}
		*dst = d
		return nil
	}

	str("IRKIT_OUTPUT", &cfg.Output)
	str("IRKIT_SESSION_ID", &cfg.SessionID)
	for key, dst := range map[string]*bool{
		"IRKIT_DEMO":               &cfg.Demo,
		"IRKIT_PARALLEL":           &cfg.Parallel,
		"IRKIT_ALLOW_UNPRIVILEGED": &cfg.AllowUnprivileged,
		"IRKIT_VERBOSE":            &cfg.Verbose,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	if err := duration("IRKIT_COLLECTOR_TIMEOUT", &cfg.CollectorTimeout); err != nil {
		return err
	}
	if err := duration("IRKIT_GRACE", &cfg.Grace); err != nil {
		return err
	}
	if v, ok := lookup("IRKIT_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &faults.ConfigurationError{Field: "IRKIT_WORKERS", Err: err}
		}
		cfg.Workers = n
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Output) == "":
		return &faults.ConfigurationError{Field: "output", Err: fmt.Errorf("must not be empty")}
	case c.CollectorTimeout <= 0:
		return &faults.ConfigurationError{Field: "collector_timeout", Err: fmt.Errorf("must be positive, got %s", c.CollectorTimeout)}
	case c.Grace <= 0:
		return &faults.ConfigurationError{Field: "grace", Err: fmt.Errorf("must be positive, got %s", c.Grace)}
	case c.Workers < 0:
		return &faults.ConfigurationError{Field: "workers", Err: fmt.Errorf("must not be negative, got %d", c.Workers)}
	}
	return nil
}

func (c Config) Mode() collectors.Mode {
	if c.Demo {
		return collectors.ModeDemo
	}
	return collectors.ModeLive
}

// RegistryOptions maps the configuration onto the collector catalog.
func (c Config) RegistryOptions() registry.Options {
	d := c.Disk
	return registry.Options{
		AllowUnprivileged: c.AllowUnprivileged,
		Disk: linux.DiskOptions{
			RecentRoots:      d.RecentRoots,
			RecentWindow:     d.RecentWindow,
			MaxRecentFiles:   d.MaxRecentFiles,
			MaxWalkEntries:   d.MaxWalkEntries,
			HashFiles:        d.HashFiles,
			MaxHashBytes:     d.MaxHashBytes,
			LogPaths:         d.LogPaths,
			LogTailLines:     d.LogTailLines,
			PersistencePaths: d.PersistencePaths,
		},
	}
}
