package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/ff7link/internal/address"
	"github.com/loykin/ff7link/internal/detector"
	"github.com/loykin/ff7link/internal/logger"
)

// EnvPrefix prefixes environment overrides, e.g. FF7LINK_SERVER_LISTEN.
const EnvPrefix = "FF7LINK"

// DefaultProcessNames are the executables of the PC releases.
var DefaultProcessNames = []string{"ff7.exe", "ff7_en.exe"}

// DefaultAddresses is the region table shipped with the binary. Builds of the
// game differ, so every entry can be overridden under [addresses].
var DefaultAddresses = map[string]string{
	address.WorldMesData:      "0xE2A640",
	address.CurrentModule:     "0xCBF9DC",
	address.WorldMapType:      "0xE045E4",
	address.ZolomCoords:       "0xE3A88C",
	address.WorldCurrentModel: "0xE2AB14",
	address.WorldModels:       "0xE3A4BC",
}

// Config is the whole ff7link configuration file.
type Config struct {
	Process   ProcessConfig     `mapstructure:"process"`
	Addresses map[string]string `mapstructure:"addresses"`
	Bridge    BridgeConfig      `mapstructure:"bridge"`
	Server    ServerConfig      `mapstructure:"server"`
	Updater   UpdaterConfig     `mapstructure:"updater"`
	Log       logger.Config     `mapstructure:"log"`
	History   HistoryConfig     `mapstructure:"history"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`

	// File is the path the config was read from, empty for defaults only.
	File string `mapstructure:"-"`
}

type ProcessConfig struct {
	Names        []string         `mapstructure:"names"`
	PollInterval time.Duration    `mapstructure:"poll_interval"`
	Detectors    []detector.Entry `mapstructure:"detectors"`
}

type BridgeConfig struct {
	IgnoreWriteErrors bool `mapstructure:"ignore_write_errors"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
	// Token, when set, is required as a bearer token on every route but /health.
	Token string `mapstructure:"token"`
}

type UpdaterConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoint       string        `mapstructure:"endpoint"`
	CurrentVersion string        `mapstructure:"current_version"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Restart        bool          `mapstructure:"restart"`
	// Target overrides the manifest platform key ("<os>-<arch>").
	Target string `mapstructure:"target"`
	// InstallPath overrides the binary to replace (defaults to the running executable).
	InstallPath string `mapstructure:"install_path"`
}

// Active reports whether an update cycle should run.
func (u UpdaterConfig) Active() bool { return u.Enabled && strings.TrimSpace(u.Endpoint) != "" }

type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// DSN is the primary sink; DSNs adds more sinks that receive the same events.
	DSN  string   `mapstructure:"dsn"`
	DSNs []string `mapstructure:"dsns"`
}

// Sinks returns every configured DSN.
func (h HistoryConfig) Sinks() []string {
	var out []string
	for _, d := range append([]string{h.DSN}, h.DSNs...) {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Listen serves /metrics on a separate address; empty mounts it on the API server.
	Listen string `mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("process.names", DefaultProcessNames)
	v.SetDefault("process.poll_interval", time.Second)
	v.SetDefault("addresses", DefaultAddresses)
	v.SetDefault("bridge.ignore_write_errors", false)
	v.SetDefault("server.listen", "127.0.0.1:7373")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.token", "")
	v.SetDefault("updater.enabled", true)
	v.SetDefault("updater.endpoint", "")
	v.SetDefault("updater.current_version", "")
	v.SetDefault("updater.timeout", 5*time.Minute)
	v.SetDefault("updater.restart", true)
	v.SetDefault("updater.target", "")
	v.SetDefault("updater.install_path", "")
	def := logger.DefaultConfig()
	v.SetDefault("log.slog.level", def.Slog.Level)
	v.SetDefault("log.slog.format", def.Slog.Format)
	v.SetDefault("log.slog.color", def.Slog.Color)
	v.SetDefault("log.slog.timestamps", def.Slog.TimeStamps)
	v.SetDefault("log.slog.source", false)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
	}
	return v
}

// Default returns the built-in configuration (plus environment overrides).
func Default() *Config {
	cfg, err := decode(newViper(""))
	if err != nil {
		// defaults are static; a failure here is a programming error
		panic(err)
	}
	return cfg
}

// Load reads the TOML file at path on top of the defaults. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.File = path
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// file entries override the built-in table region by region
	merged := make(map[string]string, len(DefaultAddresses)+len(cfg.Addresses))
	for k, a := range DefaultAddresses {
		merged[k] = a
	}
	for k, a := range cfg.Addresses {
		merged[strings.ToLower(k)] = a
	}
	cfg.Addresses = merged
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Process.Names) == 0 {
		errs = append(errs, errors.New("process.names must list at least one executable"))
	}
	for i, n := range c.Process.Names {
		if strings.TrimSpace(n) == "" {
			errs = append(errs, fmt.Errorf("process.names[%d] is empty", i))
		}
	}
	if c.Process.PollInterval <= 0 {
		errs = append(errs, errors.New("process.poll_interval must be positive"))
	}
	if _, err := detector.FromEntries(c.Process.Detectors); err != nil {
		errs = append(errs, fmt.Errorf("process.detectors: %w", err))
	}
	if _, err := address.ParseTable(c.Addresses); err != nil {
		errs = append(errs, fmt.Errorf("addresses: %w", err))
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Updater.Timeout < 0 {
		errs = append(errs, errors.New("updater.timeout must not be negative"))
	}
	if c.History.Enabled && len(c.History.Sinks()) == 0 {
		errs = append(errs, errors.New("history.enabled requires history.dsn"))
	}
	return errors.Join(errs...)
}

// AddressTable parses the [addresses] section.
func (c *Config) AddressTable() (map[string]address.Address, error) {
	return address.ParseTable(c.Addresses)
}

// DetectorList builds the extra detectors from [process].detectors.
func (c *Config) DetectorList() ([]detector.Detector, error) {
	return detector.FromEntries(c.Process.Detectors)
}
