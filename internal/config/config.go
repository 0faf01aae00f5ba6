// Package config loads proctor settings: defaults, then config.yaml under
// the proctor home, then PROCTOR_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/balkashynov/proctor/internal/parser"
)

type ExamConfig struct {
	Duration                 string `yaml:"duration"`
	ViolationThreshold       int    `yaml:"violation_threshold"`
	SnapshotCapacity         int    `yaml:"snapshot_capacity"`
	HeartbeatIntervalSeconds int    `yaml:"heartbeat_interval_seconds"`
	SnapshotIntervalSeconds  int    `yaml:"snapshot_interval_seconds"`
	SyncIntervalSeconds      int    `yaml:"sync_interval_seconds"`
}

type MonitorConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	StaleAfterSeconds   int `yaml:"stale_after_seconds"`
}

type RetentionConfig struct {
	GraceSeconds  int    `yaml:"grace_seconds"`
	TTLHours      int    `yaml:"ttl_hours"`
	GraceSchedule string `yaml:"grace_schedule"`
	AgeSchedule   string `yaml:"age_schedule"`
}

type StoreConfig struct {
	Recovery   string `yaml:"recovery"`
	MaxRetries int    `yaml:"max_retries"`
}

type CaptureConfig struct {
	// Command prints one JPEG frame to stdout, e.g. ["fswebcam", "-q", "-"].
	// Empty disables the camera.
	Command        []string `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type Config struct {
	HomeDir  string `yaml:"-"`
	LogLevel string `yaml:"log_level"`

	Exam      ExamConfig      `yaml:"exam"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Retention RetentionConfig `yaml:"retention"`
	Store     StoreConfig     `yaml:"store"`
	Capture   CaptureConfig   `yaml:"capture"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Exam: ExamConfig{
			Duration:                 "30m",
			ViolationThreshold:       3,
			SnapshotCapacity:         30,
			HeartbeatIntervalSeconds: 30,
			SnapshotIntervalSeconds:  5,
			SyncIntervalSeconds:      5,
		},
		Monitor: MonitorConfig{
			PollIntervalSeconds: 5,
			StaleAfterSeconds:   90,
		},
		Retention: RetentionConfig{
			GraceSeconds:  5,
			TTLHours:      24,
			GraceSchedule: "@every 5s",
			AgeSchedule:   "@every 1h",
		},
		Store: StoreConfig{
			Recovery:   "quarantine",
			MaxRetries: 8,
		},
		Capture: CaptureConfig{
			TimeoutSeconds: 3,
		},
	}
}

// HomeDir returns PROCTOR_HOME or ~/.proctor
func HomeDir() string {
	if override := os.Getenv("PROCTOR_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".proctor")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create proctor home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("PROCTOR_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("PROCTOR_EXAM_DURATION"); raw != "" {
		cfg.Exam.Duration = raw
	}
	if raw := os.Getenv("PROCTOR_VIOLATION_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Exam.ViolationThreshold = v
		}
	}
	if raw := os.Getenv("PROCTOR_SNAPSHOT_CAPACITY"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Exam.SnapshotCapacity = v
		}
	}
	if raw := os.Getenv("PROCTOR_STORE_RECOVERY"); raw != "" {
		cfg.Store.Recovery = raw
	}
	if raw := os.Getenv("PROCTOR_RETENTION_TTL_HOURS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Retention.TTLHours = v
		}
	}
	if raw := os.Getenv("PROCTOR_CAPTURE_COMMAND"); raw != "" {
		cfg.Capture.Command = strings.Fields(raw)
	}
}

func normalize(cfg *Config) {
	def := defaultConfig()
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if strings.TrimSpace(cfg.Exam.Duration) == "" {
		cfg.Exam.Duration = def.Exam.Duration
	}
	if cfg.Exam.ViolationThreshold <= 0 {
		cfg.Exam.ViolationThreshold = def.Exam.ViolationThreshold
	}
	if cfg.Exam.SnapshotCapacity <= 0 {
		cfg.Exam.SnapshotCapacity = def.Exam.SnapshotCapacity
	}
	if cfg.Exam.HeartbeatIntervalSeconds <= 0 {
		cfg.Exam.HeartbeatIntervalSeconds = def.Exam.HeartbeatIntervalSeconds
	}
	if cfg.Exam.SnapshotIntervalSeconds <= 0 {
		cfg.Exam.SnapshotIntervalSeconds = def.Exam.SnapshotIntervalSeconds
	}
	if cfg.Exam.SyncIntervalSeconds <= 0 {
		cfg.Exam.SyncIntervalSeconds = def.Exam.SyncIntervalSeconds
	}
	if cfg.Monitor.PollIntervalSeconds <= 0 {
		cfg.Monitor.PollIntervalSeconds = def.Monitor.PollIntervalSeconds
	}
	if cfg.Monitor.StaleAfterSeconds <= 0 {
		cfg.Monitor.StaleAfterSeconds = def.Monitor.StaleAfterSeconds
	}
	if cfg.Retention.GraceSeconds < 0 {
		cfg.Retention.GraceSeconds = def.Retention.GraceSeconds
	}
	if cfg.Retention.TTLHours <= 0 {
		cfg.Retention.TTLHours = def.Retention.TTLHours
	}
	if strings.TrimSpace(cfg.Retention.GraceSchedule) == "" {
		cfg.Retention.GraceSchedule = def.Retention.GraceSchedule
	}
	if strings.TrimSpace(cfg.Retention.AgeSchedule) == "" {
		cfg.Retention.AgeSchedule = def.Retention.AgeSchedule
	}
	cfg.Store.Recovery = strings.ToLower(strings.TrimSpace(cfg.Store.Recovery))
	if cfg.Store.Recovery == "" {
		cfg.Store.Recovery = def.Store.Recovery
	}
	if cfg.Store.MaxRetries <= 0 {
		cfg.Store.MaxRetries = def.Store.MaxRetries
	}
	if cfg.Capture.TimeoutSeconds <= 0 {
		cfg.Capture.TimeoutSeconds = def.Capture.TimeoutSeconds
	}
}

func validate(cfg Config) error {
	if _, err := parser.ParseExamDuration(cfg.Exam.Duration); err != nil {
		return fmt.Errorf("exam.duration %q: %w", cfg.Exam.Duration, err)
	}
	switch cfg.Store.Recovery {
	case "quarantine", "discard", "strict":
	default:
		return fmt.Errorf("store.recovery %q: use quarantine, discard or strict", cfg.Store.Recovery)
	}
	for name, spec := range map[string]string{
		"retention.grace_schedule": cfg.Retention.GraceSchedule,
		"retention.age_schedule":   cfg.Retention.AgeSchedule,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s %q: %w", name, spec, err)
		}
	}
	return nil
}

// ExamDuration returns the validated exam length
func (c Config) ExamDuration() time.Duration {
	d, err := parser.ParseExamDuration(c.Exam.Duration)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Exam.HeartbeatIntervalSeconds) * time.Second
}

func (c Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Exam.SnapshotIntervalSeconds) * time.Second
}

func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.Exam.SyncIntervalSeconds) * time.Second
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalSeconds) * time.Second
}

func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Monitor.StaleAfterSeconds) * time.Second
}

func (c Config) Grace() time.Duration {
	return time.Duration(c.Retention.GraceSeconds) * time.Second
}

func (c Config) TTL() time.Duration {
	return time.Duration(c.Retention.TTLHours) * time.Hour
}

func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutSeconds) * time.Second
}

// SnapshotDir is where captured frames are kept
func (c Config) SnapshotDir() string {
	return filepath.Join(c.HomeDir, "snapshots")
}
