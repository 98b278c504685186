// Package config loads the key=value run configuration and applies documented
// defaults.
package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Defaults for every optional key.
const (
	DefaultAgent         = "backup-agent"
	DefaultPollSec       = 10
	DefaultTimeoutSec    = 86400
	DefaultLogRoot       = "/var/log/backherd"
	DefaultRetentionDays = 30
	DefaultErrPattern    = "ERROR"
	DefaultLogLevel      = "info"
)

// Config is the fully resolved run configuration.
type Config struct {
	// MaxProc is the admission ceiling for queued jobs. Required, > 1.
	MaxProc int

	// Agent is the external backup agent executable.
	Agent string

	// LargeFS lists parent directories; non-empty enables LargeFS mode.
	LargeFS []string

	// Include and Exclude filter flat-mode mount points. A nil Include
	// matches everything; a nil Exclude matches nothing.
	Include *regexp.Regexp
	Exclude *regexp.Regexp

	// PollInterval drives the aggregator's periodic progress line.
	PollInterval time.Duration

	// JobTimeout is the per-job wall-clock limit.
	JobTimeout time.Duration

	// LogRoot is the directory holding one timestamped subdirectory per run.
	LogRoot string

	// RetentionDays bounds the age of run directories kept under LogRoot.
	RetentionDays int

	// ErrPattern matches error-signature lines in agent output; lines also
	// matching IgnorePattern are discarded.
	ErrPattern    *regexp.Regexp
	IgnorePattern *regexp.Regexp

	// LogLevel is the runlog verbosity (debug|info|warn|error).
	LogLevel string
}

// Load reads a key=value configuration file, applies defaults, and validates.
// Lines starting with '#' and blank lines are ignored.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	raw := make(map[string]string)
	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Config{}, fmt.Errorf("config line %d: expected KEY=value, got %q", lineno, line)
		}
		raw[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := sc.Err(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	return Parse(raw)
}

// Parse resolves a raw key/value map into a validated Config.
func Parse(raw map[string]string) (Config, error) {
	cfg := Config{
		Agent:         DefaultAgent,
		PollInterval:  DefaultPollSec * time.Second,
		JobTimeout:    DefaultTimeoutSec * time.Second,
		LogRoot:       DefaultLogRoot,
		RetentionDays: DefaultRetentionDays,
		LogLevel:      DefaultLogLevel,
	}

	maxProc, ok := raw["MAXPROC"]
	if !ok {
		return Config{}, fmt.Errorf("MAXPROC is required")
	}
	n, err := strconv.Atoi(maxProc)
	if err != nil {
		return Config{}, fmt.Errorf("MAXPROC: invalid integer %q", maxProc)
	}
	if n <= 1 {
		return Config{}, fmt.Errorf("MAXPROC must be greater than 1, got %d", n)
	}
	cfg.MaxProc = n

	if v, ok := raw["AGENT"]; ok && v != "" {
		cfg.Agent = v
	}
	if v, ok := raw["LARGEFS"]; ok {
		cfg.LargeFS = strings.Fields(v)
	}
	if v, ok := raw["INCLUDE"]; ok && v != "" {
		re, err := regexp.Compile(v)
		if err != nil {
			return Config{}, fmt.Errorf("INCLUDE: %w", err)
		}
		cfg.Include = re
	}
	if v, ok := raw["EXCLUDE"]; ok && v != "" {
		re, err := regexp.Compile(v)
		if err != nil {
			return Config{}, fmt.Errorf("EXCLUDE: %w", err)
		}
		cfg.Exclude = re
	}
	if v, ok := raw["POLLSEC"]; ok {
		sec, err := positiveInt("POLLSEC", v)
		if err != nil {
			return Config{}, err
		}
		cfg.PollInterval = time.Duration(sec) * time.Second
	}
	if v, ok := raw["TIMEOUTSEC"]; ok {
		sec, err := positiveInt("TIMEOUTSEC", v)
		if err != nil {
			return Config{}, err
		}
		cfg.JobTimeout = time.Duration(sec) * time.Second
	}
	if v, ok := raw["LOGROOT"]; ok && v != "" {
		cfg.LogRoot = v
	}
	if v, ok := raw["RETENTIONDAYS"]; ok {
		days, err := positiveInt("RETENTIONDAYS", v)
		if err != nil {
			return Config{}, err
		}
		cfg.RetentionDays = days
	}

	errPattern := DefaultErrPattern
	if v, ok := raw["ERRPATTERN"]; ok && v != "" {
		errPattern = v
	}
	re, err := regexp.Compile(errPattern)
	if err != nil {
		return Config{}, fmt.Errorf("ERRPATTERN: %w", err)
	}
	cfg.ErrPattern = re

	if v, ok := raw["IGNOREPATTERN"]; ok && v != "" {
		re, err := regexp.Compile(v)
		if err != nil {
			return Config{}, fmt.Errorf("IGNOREPATTERN: %w", err)
		}
		cfg.IgnorePattern = re
	}
	if v, ok := raw["LOGLEVEL"]; ok && v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}

// LargeFSMode reports whether enumeration expands configured parents instead
// of listing mounted filesystems.
func (c Config) LargeFSMode() bool {
	return len(c.LargeFS) > 0
}

// Retention converts RetentionDays to a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func positiveInt(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}
