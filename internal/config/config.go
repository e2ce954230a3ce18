package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tierctl configuration.
type Config struct {
	Thresholds `mapstructure:",squash"`

	// UseArchivalSimulation routes the Cold tier to a local directory
	// instead of an S3-compatible archive.
	UseArchivalSimulation  bool   `mapstructure:"use_archival_simulation"`
	ArchivalSimulationPath string `mapstructure:"archival_simulation_path"`

	Paths    PathsConfig    `mapstructure:"paths"`
	Database DatabaseConfig `mapstructure:"database"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Scorer   ScorerConfig   `mapstructure:"scorer"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// Thresholds parameterize the tiering rules. Day values may be fractional.
type Thresholds struct {
	DemoteHotToWarmDays     float64 `mapstructure:"demote_hot_to_warm_days"`
	DemoteWarmToColdDays    float64 `mapstructure:"demote_warm_to_cold_days"`
	PromoteColdToWarmDays   float64 `mapstructure:"promote_cold_to_warm_days"`
	PromoteWarmToHotCount   int     `mapstructure:"promote_warm_to_hot_count"`
	PatternProtectThreshold float64 `mapstructure:"pattern_protect_threshold"`
	WarmToColdPatternBlock  float64 `mapstructure:"warm_to_cold_pattern_block"`
	PromotePatternThreshold float64 `mapstructure:"promote_pattern_threshold"`
}

type PathsConfig struct {
	Hot  string `mapstructure:"hot"`
	Warm string `mapstructure:"warm"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ArchiveConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type ScorerConfig struct {
	Alpha float64 `mapstructure:"alpha"`
}

type ExecutorConfig struct {
	Workers              int           `mapstructure:"workers"`
	BandwidthBytesPerSec int64         `mapstructure:"bandwidth_bytes_per_sec"` // 0 = unlimited
	MoveTimeout          time.Duration `mapstructure:"move_timeout"`
}

type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type LogConfig struct {
	Level  string        `mapstructure:"level"`  // debug, info, warn, error
	Format string        `mapstructure:"format"` // console, json
	Output string        `mapstructure:"output"` // stderr, stdout, file
	File   FileLogConfig `mapstructure:"file"`
}

type FileLogConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxAge     int    `mapstructure:"max_age"`  // days
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultThresholds returns the stock rule thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DemoteHotToWarmDays:     14,
		DemoteWarmToColdDays:    60,
		PromoteColdToWarmDays:   1,
		PromoteWarmToHotCount:   10,
		PatternProtectThreshold: 0.6,
		WarmToColdPatternBlock:  0.5,
		PromotePatternThreshold: 0.7,
	}
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Thresholds:             DefaultThresholds(),
		UseArchivalSimulation:  true,
		ArchivalSimulationPath: "mnt_cloud",
		Paths: PathsConfig{
			Hot:  "mnt_ssd",
			Warm: "mnt_hdd",
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Archive: ArchiveConfig{
			Bucket: "tiering-cold-storage",
			Region: "us-east-1",
			UseSSL: true,
		},
		Scorer: ScorerConfig{Alpha: 0.3},
		Executor: ExecutorConfig{
			Workers:     4,
			MoveTimeout: 10 * time.Minute,
		},
		Schedule: ScheduleConfig{Interval: time.Hour},
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
			File: FileLogConfig{
				Filename:   "logs/tierctl.log",
				MaxSize:    100,
				MaxAge:     30,
				MaxBackups: 10,
				Compress:   true,
			},
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// ConfigError reports a configuration problem that was recovered from by
// falling back to defaults. It is a warning, never fatal.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Load resolves the effective configuration: defaults, overridden by the
// file at path (if it exists), overridden by TIERCTL_* environment variables.
//
// The returned Config is always usable. A non-nil error is a *ConfigError
// describing what was ignored.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("TIERCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var warnings []error
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if filepath.Ext(path) == "" {
				v.SetConfigType("json")
			}
			if err := v.ReadInConfig(); err != nil {
				// Malformed file: keep defaults + env only.
				warnings = append(warnings, fmt.Errorf("read: %w", err))
				v = viper.New()
				setDefaults(v, Default())
				v.SetEnvPrefix("TIERCTL")
				v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
				v.AutomaticEnv()
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		warnings = append(warnings, fmt.Errorf("decode: %w", err))
		cfg = Default()
	}
	warnings = append(warnings, cfg.normalize()...)

	if len(warnings) > 0 {
		return cfg, &ConfigError{Path: path, Err: errors.Join(warnings...)}
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("demote_hot_to_warm_days", d.DemoteHotToWarmDays)
	v.SetDefault("demote_warm_to_cold_days", d.DemoteWarmToColdDays)
	v.SetDefault("promote_cold_to_warm_days", d.PromoteColdToWarmDays)
	v.SetDefault("promote_warm_to_hot_count", d.PromoteWarmToHotCount)
	v.SetDefault("pattern_protect_threshold", d.PatternProtectThreshold)
	v.SetDefault("warm_to_cold_pattern_block", d.WarmToColdPatternBlock)
	v.SetDefault("promote_pattern_threshold", d.PromotePatternThreshold)
	v.SetDefault("use_archival_simulation", d.UseArchivalSimulation)
	v.SetDefault("archival_simulation_path", d.ArchivalSimulationPath)
	v.SetDefault("paths.hot", d.Paths.Hot)
	v.SetDefault("paths.warm", d.Paths.Warm)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("archive.endpoint", d.Archive.Endpoint)
	v.SetDefault("archive.access_key", d.Archive.AccessKey)
	v.SetDefault("archive.secret_key", d.Archive.SecretKey)
	v.SetDefault("archive.bucket", d.Archive.Bucket)
	v.SetDefault("archive.region", d.Archive.Region)
	v.SetDefault("archive.use_ssl", d.Archive.UseSSL)
	v.SetDefault("scorer.alpha", d.Scorer.Alpha)
	v.SetDefault("executor.workers", d.Executor.Workers)
	v.SetDefault("executor.bandwidth_bytes_per_sec", d.Executor.BandwidthBytesPerSec)
	v.SetDefault("executor.move_timeout", d.Executor.MoveTimeout)
	v.SetDefault("schedule.interval", d.Schedule.Interval)
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file.filename", d.Log.File.Filename)
	v.SetDefault("log.file.max_size", d.Log.File.MaxSize)
	v.SetDefault("log.file.max_age", d.Log.File.MaxAge)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.compress", d.Log.File.Compress)
}

// normalize resets out-of-range fields to their defaults and reports each reset.
func (c *Config) normalize() []error {
	d := Default()
	var errs []error
	reset := func(name string, got any) {
		errs = append(errs, fmt.Errorf("%s: invalid value %v, using default", name, got))
	}

	if badDays(c.DemoteHotToWarmDays) {
		reset("demote_hot_to_warm_days", c.DemoteHotToWarmDays)
		c.DemoteHotToWarmDays = d.DemoteHotToWarmDays
	}
	if badDays(c.DemoteWarmToColdDays) {
		reset("demote_warm_to_cold_days", c.DemoteWarmToColdDays)
		c.DemoteWarmToColdDays = d.DemoteWarmToColdDays
	}
	if badDays(c.PromoteColdToWarmDays) {
		reset("promote_cold_to_warm_days", c.PromoteColdToWarmDays)
		c.PromoteColdToWarmDays = d.PromoteColdToWarmDays
	}
	if c.PromoteWarmToHotCount < 0 {
		reset("promote_warm_to_hot_count", c.PromoteWarmToHotCount)
		c.PromoteWarmToHotCount = d.PromoteWarmToHotCount
	}
	if !unit(c.PatternProtectThreshold) {
		reset("pattern_protect_threshold", c.PatternProtectThreshold)
		c.PatternProtectThreshold = d.PatternProtectThreshold
	}
	if !unit(c.WarmToColdPatternBlock) {
		reset("warm_to_cold_pattern_block", c.WarmToColdPatternBlock)
		c.WarmToColdPatternBlock = d.WarmToColdPatternBlock
	}
	if !unit(c.PromotePatternThreshold) {
		reset("promote_pattern_threshold", c.PromotePatternThreshold)
		c.PromotePatternThreshold = d.PromotePatternThreshold
	}
	if c.Scorer.Alpha <= 0 || c.Scorer.Alpha > 1 {
		reset("scorer.alpha", c.Scorer.Alpha)
		c.Scorer.Alpha = d.Scorer.Alpha
	}
	if c.Executor.Workers < 1 {
		reset("executor.workers", c.Executor.Workers)
		c.Executor.Workers = d.Executor.Workers
	}
	if c.Executor.BandwidthBytesPerSec < 0 {
		reset("executor.bandwidth_bytes_per_sec", c.Executor.BandwidthBytesPerSec)
		c.Executor.BandwidthBytesPerSec = 0
	}
	if c.Executor.MoveTimeout <= 0 {
		reset("executor.move_timeout", c.Executor.MoveTimeout)
		c.Executor.MoveTimeout = d.Executor.MoveTimeout
	}
	if c.Schedule.Interval <= 0 {
		reset("schedule.interval", c.Schedule.Interval)
		c.Schedule.Interval = d.Schedule.Interval
	}
	return errs
}

func unit(f float64) bool { return f >= 0 && f <= 1 }

func badDays(f float64) bool { return f < 0 || math.IsNaN(f) }

// Day is the rule engine's unit of age.
const Day = 24 * time.Hour

// Days converts a fractional day count to a duration. Counts too large for a
// duration saturate at the maximum, so a huge threshold means "never".
func Days(d float64) time.Duration {
	if math.IsNaN(d) || d <= 0 {
		return 0
	}
	ns := d * float64(Day)
	if ns >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
