// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Monitor() MonitorConfig
	Controller() ControllerConfig
	Risk() RiskConfig
	Store() StoreConfig
	Metrics() MetricsConfig

	// Setters for values that are usually overridden by CLI flags.
	SetMetricsAddr(addr string)
	SetStoreURL(url string)
	SetControllerJoinTimeout(d time.Duration)
}

// Config holds the entire application configuration.
// Fields are exported so viper can populate them; callers go through the getters.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	MonitorCfg    MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
	ControllerCfg ControllerConfig `mapstructure:"controller" yaml:"controller"`
	RiskCfg       RiskConfig       `mapstructure:"risk" yaml:"risk"`
	StoreCfg      StoreConfig      `mapstructure:"store" yaml:"store"`
	MetricsCfg    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Monitor() MonitorConfig       { return c.MonitorCfg }
func (c *Config) Controller() ControllerConfig { return c.ControllerCfg }
func (c *Config) Risk() RiskConfig             { return c.RiskCfg }
func (c *Config) Store() StoreConfig           { return c.StoreCfg }
func (c *Config) Metrics() MetricsConfig       { return c.MetricsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetMetricsAddr(addr string) { c.MetricsCfg.Addr = addr }
func (c *Config) SetStoreURL(url string)     { c.StoreCfg.URL = url }
func (c *Config) SetControllerJoinTimeout(d time.Duration) {
	c.ControllerCfg.JoinTimeout = d
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// MonitorConfig configures the five collectors.
type MonitorConfig struct {
	// Surfaces lists the surfaces to monitor. Empty means all of them.
	Surfaces    []string          `mapstructure:"surfaces" yaml:"surfaces"`
	Process     ProcessConfig     `mapstructure:"process" yaml:"process"`
	Registry    RegistryConfig    `mapstructure:"registry" yaml:"registry"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
	Filesystem  FilesystemConfig  `mapstructure:"filesystem" yaml:"filesystem"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
}

// ProcessConfig configures the process collector.
type ProcessConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// RegistryConfig configures the registry collector.
type RegistryConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Keys are "<hive>\<path>" strings, e.g. HKCU\Software\Microsoft\Windows\CurrentVersion\Run.
	Keys []string `mapstructure:"keys" yaml:"keys"`
}

// PersistenceConfig configures the persistence collector.
type PersistenceConfig struct {
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	StartupFolders []string      `mapstructure:"startup_folders" yaml:"startup_folders"`
	RunKeys        []string      `mapstructure:"run_keys" yaml:"run_keys"`
	// ResolveBaselineServices looks up binary paths for every service at baseline.
	// Slow on hosts with many services.
	ResolveBaselineServices bool    `mapstructure:"resolve_baseline_services" yaml:"resolve_baseline_services"`
	LookupRate              float64 `mapstructure:"lookup_rate" yaml:"lookup_rate"`
	LookupBurst             int     `mapstructure:"lookup_burst" yaml:"lookup_burst"`
}

// FilesystemConfig configures the filesystem collector.
type FilesystemConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Dirs     []string      `mapstructure:"dirs" yaml:"dirs"`
}

// NetworkConfig configures the network collector.
type NetworkConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Ports are the destination ports worth reporting. Packets without a port are always reported.
	Ports   []int `mapstructure:"ports" yaml:"ports"`
	Snaplen int   `mapstructure:"snaplen" yaml:"snaplen"`
	// Interfaces restricts capture to the named interfaces. Empty means every up, non-loopback interface.
	Interfaces []string `mapstructure:"interfaces" yaml:"interfaces"`
}

// ControllerConfig configures the dynamic controller.
type ControllerConfig struct {
	JoinTimeout time.Duration `mapstructure:"join_timeout" yaml:"join_timeout"`
}

// LevelWeights is the score contributed by one high or medium finding.
type LevelWeights struct {
	High   int `mapstructure:"high" yaml:"high"`
	Medium int `mapstructure:"medium" yaml:"medium"`
}

// RiskConfig holds the dynamic scoring weights, keyed by surface name.
type RiskConfig struct {
	Dynamic map[string]LevelWeights `mapstructure:"dynamic" yaml:"dynamic"`
}

// StoreConfig holds the database connection details.
type StoreConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// DefaultRegistryKeys are the keys watched by the registry collector.
var DefaultRegistryKeys = []string{
	`HKCU\Software\Microsoft\Windows\CurrentVersion\Run`,
	`HKCU\Software\Microsoft\Windows\CurrentVersion\RunOnce`,
	`HKLM\Software\Microsoft\Windows\CurrentVersion\Run`,
	`HKLM\Software\Microsoft\Windows\CurrentVersion\RunOnce`,
	`HKLM\System\CurrentControlSet\Services`,
	`HKLM\Software\Microsoft\Windows\CurrentVersion\Uninstall`,
	`HKLM\Software\Wow6432Node\Microsoft\Windows\CurrentVersion\Uninstall`,
	`HKLM\Software\Microsoft\PowerShell`,
	`HKCU\Software\Microsoft\PowerShell`,
}

// DefaultRunKeys are the run keys checked by the persistence collector.
var DefaultRunKeys = []string{
	`HKCU\Software\Microsoft\Windows\CurrentVersion\Run`,
	`HKLM\Software\Microsoft\Windows\CurrentVersion\Run`,
	`HKCU\Software\Microsoft\Windows\CurrentVersion\RunOnce`,
	`HKLM\Software\Microsoft\Windows\CurrentVersion\RunOnce`,
}

// DefaultSuspiciousPorts are the destination ports the network collector reports.
var DefaultSuspiciousPorts = []int{21, 22, 23, 69, 445, 1337, 4444, 6667, 6697, 8081, 9001, 9002}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "delver")
	v.SetDefault("logger.log_file", "delver.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Monitor --
	v.SetDefault("monitor.surfaces", []string{})
	v.SetDefault("monitor.process.interval", "200ms")

	v.SetDefault("monitor.registry.interval", "500ms")
	v.SetDefault("monitor.registry.keys", DefaultRegistryKeys)

	v.SetDefault("monitor.persistence.interval", "2s")
	v.SetDefault("monitor.persistence.startup_folders", []string{
		`%APPDATA%\Microsoft\Windows\Start Menu\Programs\Startup`,
		`%ProgramData%\Microsoft\Windows\Start Menu\Programs\Startup`,
	})
	v.SetDefault("monitor.persistence.run_keys", DefaultRunKeys)
	v.SetDefault("monitor.persistence.resolve_baseline_services", false)
	v.SetDefault("monitor.persistence.lookup_rate", 10.0)
	v.SetDefault("monitor.persistence.lookup_burst", 5)

	v.SetDefault("monitor.filesystem.interval", "500ms")
	v.SetDefault("monitor.filesystem.dirs", []string{
		"%TEMP%",
		"%APPDATA%",
		"%LOCALAPPDATA%",
		"~/Downloads",
		`%APPDATA%\Microsoft\Windows\Start Menu\Programs\Startup`,
	})

	v.SetDefault("monitor.network.interval", "100ms")
	v.SetDefault("monitor.network.ports", DefaultSuspiciousPorts)
	v.SetDefault("monitor.network.snaplen", 65535)
	v.SetDefault("monitor.network.interfaces", []string{})

	// -- Controller --
	v.SetDefault("controller.join_timeout", "5s")

	// -- Risk --
	v.SetDefault("risk.dynamic.process.high", 10)
	v.SetDefault("risk.dynamic.process.medium", 5)
	v.SetDefault("risk.dynamic.registry.high", 8)
	v.SetDefault("risk.dynamic.registry.medium", 4)
	v.SetDefault("risk.dynamic.filesystem.high", 6)
	v.SetDefault("risk.dynamic.filesystem.medium", 3)
	v.SetDefault("risk.dynamic.network.high", 10)
	v.SetDefault("risk.dynamic.network.medium", 5)
	v.SetDefault("risk.dynamic.persistence.high", 12)
	v.SetDefault("risk.dynamic.persistence.medium", 6)

	// -- Store --
	v.SetDefault("store.url", "")

	// -- Metrics --
	v.SetDefault("metrics.addr", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password; keep it out of config files.
	_ = v.BindEnv("store.url", "DELVER_STORE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

var knownSurfaces = map[string]bool{
	"process":     true,
	"registry":    true,
	"persistence": true,
	"filesystem":  true,
	"network":     true,
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.MonitorCfg.Validate(); err != nil {
		return fmt.Errorf("monitor configuration invalid: %w", err)
	}
	if c.ControllerCfg.JoinTimeout <= 0 {
		return fmt.Errorf("controller.join_timeout must be a positive duration")
	}
	for surface, w := range c.RiskCfg.Dynamic {
		if !knownSurfaces[surface] {
			return fmt.Errorf("risk.dynamic: unknown surface %q", surface)
		}
		if w.High < 0 || w.Medium < 0 {
			return fmt.Errorf("risk.dynamic.%s weights must not be negative", surface)
		}
	}
	return nil
}

// Validate checks the MonitorConfig settings.
func (m *MonitorConfig) Validate() error {
	for _, s := range m.Surfaces {
		if !knownSurfaces[strings.ToLower(s)] {
			return fmt.Errorf("surfaces: unknown surface %q", s)
		}
	}
	intervals := map[string]time.Duration{
		"process.interval":     m.Process.Interval,
		"registry.interval":    m.Registry.Interval,
		"persistence.interval": m.Persistence.Interval,
		"filesystem.interval":  m.Filesystem.Interval,
		"network.interval":     m.Network.Interval,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if m.Persistence.LookupRate <= 0 {
		return fmt.Errorf("persistence.lookup_rate must be greater than 0")
	}
	if m.Persistence.LookupBurst <= 0 {
		return fmt.Errorf("persistence.lookup_burst must be a positive integer")
	}
	for _, p := range m.Network.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("network.ports: %d is not a valid port", p)
		}
	}
	if m.Network.Snaplen <= 0 {
		return fmt.Errorf("network.snaplen must be a positive integer")
	}
	return nil
}

// SurfaceEnabled reports whether the named surface should be monitored.
func (m MonitorConfig) SurfaceEnabled(name string) bool {
	if len(m.Surfaces) == 0 {
		return true
	}
	for _, s := range m.Surfaces {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

var winEnvVar = regexp.MustCompile(`%([A-Za-z0-9_()]+)%`)

// ExpandPath resolves a leading "~", $VAR references and Windows-style %VAR%
// references. Unknown %VAR% references are left untouched.
func ExpandPath(p string) (string, error) {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", fmt.Errorf("failed to expand %q: %w", p, err)
	}
	expanded = winEnvVar.ReplaceAllStringFunc(expanded, func(m string) string {
		if val, ok := os.LookupEnv(m[1 : len(m)-1]); ok {
			return val
		}
		return m
	})
	return os.ExpandEnv(expanded), nil
}

// ExpandPaths expands each path and drops those that still reference an unset
// %VAR% or expand to an empty string.
func ExpandPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		expanded, err := ExpandPath(p)
		if err != nil || expanded == "" || winEnvVar.MatchString(expanded) {
			continue
		}
		out = append(out, expanded)
	}
	return out
}
