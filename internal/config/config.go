// Package config loads supervisor settings from YAML.
package config

import (
	"os"
	"time"

	"fuzsandbox/internal/sandbox/engine"
	appErr "fuzsandbox/pkg/errors"
	"fuzsandbox/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultMaxSampleInterval = 50 * time.Millisecond
	defaultCPUFloorRatio     = 0.4
	defaultMaxSpawnAttempts  = 20
	defaultCleanupRetries    = 3
	defaultCleanupRetryBase  = 10 * time.Millisecond
	defaultCleanupRetryMax   = 200 * time.Millisecond
	defaultControllersPath   = "/proc/cgroups"
	defaultMountsPath        = "/proc/mounts"
)

// Disabled turns off the CPU floor or cleanup retries.
const Disabled = -1

// SupervisorConfig holds accounting and lifecycle settings. Zero takes the
// default; set cpuFloorRatio or cleanupRetries to -1 to disable the floor or
// the retries.
type SupervisorConfig struct {
	MaxSampleInterval time.Duration      `yaml:"maxSampleInterval"`
	CPUFloorRatio     float64            `yaml:"cpuFloorRatio"`
	MaxSpawnAttempts  int                `yaml:"maxSpawnAttempts"`
	CleanupRetries    int                `yaml:"cleanupRetries"`
	CleanupRetryBase  time.Duration      `yaml:"cleanupRetryBase"`
	CleanupRetryMax   time.Duration      `yaml:"cleanupRetryMax"`
	Subsystems        []engine.Subsystem `yaml:"subsystems"`
}

// CgroupConfig holds controller discovery settings.
type CgroupConfig struct {
	ControllersPath string             `yaml:"controllersPath"`
	MountsPath      string             `yaml:"mountsPath"`
	Required        []engine.Subsystem `yaml:"required"`
}

// AppConfig is the top-level configuration document.
type AppConfig struct {
	Logger     logger.Config    `yaml:"logger"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Cgroup     CgroupConfig     `yaml:"cgroup"`
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	var cfg AppConfig
	cfg.ApplyDefaults()
	return &cfg
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return appErr.Wrapf(err, appErr.ConfigLoadFailed, "read config file failed")
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return appErr.Wrapf(err, appErr.InvalidFormat, "parse config file failed")
	}
	return nil
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *AppConfig) ApplyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Logger.OutputPath == "" {
		c.Logger.OutputPath = "stdout"
	}
	s := &c.Supervisor
	if s.MaxSampleInterval == 0 {
		s.MaxSampleInterval = defaultMaxSampleInterval
	}
	if s.CPUFloorRatio == 0 {
		s.CPUFloorRatio = defaultCPUFloorRatio
	}
	if s.MaxSpawnAttempts == 0 {
		s.MaxSpawnAttempts = defaultMaxSpawnAttempts
	}
	if s.CleanupRetries == 0 {
		s.CleanupRetries = defaultCleanupRetries
	}
	if s.CleanupRetryBase == 0 {
		s.CleanupRetryBase = defaultCleanupRetryBase
	}
	if s.CleanupRetryMax == 0 {
		s.CleanupRetryMax = defaultCleanupRetryMax
	}
	if len(s.Subsystems) == 0 {
		s.Subsystems = append([]engine.Subsystem(nil), engine.DefaultSubsystems...)
	}
	g := &c.Cgroup
	if g.ControllersPath == "" {
		g.ControllersPath = defaultControllersPath
	}
	if g.MountsPath == "" {
		g.MountsPath = defaultMountsPath
	}
	if len(g.Required) == 0 {
		g.Required = append([]engine.Subsystem(nil), s.Subsystems...)
	}
}

// Validate rejects settings the supervisor cannot work with.
func (c *AppConfig) Validate() error {
	s := c.Supervisor
	if s.MaxSampleInterval < 0 {
		return appErr.ValidationError("supervisor.maxSampleInterval", "must be positive")
	}
	if s.CPUFloorRatio != Disabled && (s.CPUFloorRatio < 0 || s.CPUFloorRatio > 1) {
		return appErr.ValidationError("supervisor.cpuFloorRatio", "must be within [0, 1] or -1")
	}
	if s.MaxSpawnAttempts < 1 {
		return appErr.ValidationError("supervisor.maxSpawnAttempts", "must be at least 1")
	}
	if s.CleanupRetries < Disabled {
		return appErr.ValidationError("supervisor.cleanupRetries", "must not be below -1")
	}
	if s.CleanupRetryBase < 0 || s.CleanupRetryMax < 0 {
		return appErr.ValidationError("supervisor.cleanupRetry", "must not be negative")
	}
	for _, sub := range s.Subsystems {
		if sub == "" {
			return appErr.ValidationError("supervisor.subsystems", "empty subsystem name")
		}
	}
	return nil
}
