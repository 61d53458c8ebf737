package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/crthrottle/internal/auth"
	"github.com/loykin/crthrottle/internal/detector"
	"github.com/loykin/crthrottle/internal/logger"
	"github.com/loykin/crthrottle/internal/process"
	"github.com/loykin/crthrottle/internal/procfs"
	tlsconf "github.com/loykin/crthrottle/internal/tls"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CRTHROTTLE_HOGS_THRESHOLD.
const EnvPrefix = "CRTHROTTLE"

// Server defaults.
const (
	DefaultListen        = "127.0.0.1:8765"
	DefaultBasePath      = "/api"
	DefaultWatchInterval = 30 * time.Second
)

// Config is the merged result of defaults, the TOML file, the environment
// and command-line flags, in increasing priority.
type Config struct {
	ProcRoot string          `toml:"proc_root" mapstructure:"proc_root"`
	Target   process.Matcher `toml:"target" mapstructure:"target"`
	Hogs     HogsConfig      `toml:"hogs" mapstructure:"hogs"`
	Log      logger.Config   `toml:"log" mapstructure:"log"`
	Server   ServerConfig    `toml:"server" mapstructure:"server"`
	Metrics  MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	Journal  JournalConfig   `toml:"journal" mapstructure:"journal"`
	Watch    WatchConfig     `toml:"watch" mapstructure:"watch"`
}

type HogsConfig struct {
	// TimeWindow is in seconds.
	TimeWindow     float64 `toml:"time_window" mapstructure:"time_window"`
	Threshold      float64 `toml:"threshold" mapstructure:"threshold"`
	TicksPerSecond float64 `toml:"ticks_per_second" mapstructure:"ticks_per_second"` // 0 = ask the kernel
}

// Window returns TimeWindow as a duration.
func (h HogsConfig) Window() time.Duration {
	return time.Duration(h.TimeWindow * float64(time.Second))
}

type ServerConfig struct {
	Listen   string         `toml:"listen" mapstructure:"listen"`
	BasePath string         `toml:"base_path" mapstructure:"base_path"`
	TLS      tlsconf.Config `toml:"tls" mapstructure:"tls"`
	Auth     auth.Config    `toml:"auth" mapstructure:"auth"`
}

type MetricsConfig struct {
	Textfile string `toml:"textfile" mapstructure:"textfile"`
}

type JournalConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type WatchConfig struct {
	Interval  time.Duration `toml:"interval" mapstructure:"interval"`
	AutoPause bool          `toml:"auto_pause" mapstructure:"auto_pause"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"proc-root":        "proc_root",
	"time-window":      "hogs.time_window",
	"threshold":        "hogs.threshold",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"log-file":         "log.file.path",
	"metrics-textfile": "metrics.textfile",
	"journal-dsn":      "journal.dsn",
	"listen":           "server.listen",
	"base-path":        "server.base_path",
	"watch-interval":   "watch.interval",
	"auto-pause":       "watch.auto_pause",
}

func setDefaults(v *viper.Viper) {
	m := process.DefaultMatcher()
	v.SetDefault("proc_root", procfs.DefaultRoot)
	v.SetDefault("target.name", m.Name)
	v.SetDefault("target.executable", m.Executable)
	v.SetDefault("target.type_marker", m.TypeMarker)
	v.SetDefault("hogs.time_window", detector.DefaultWindow.Seconds())
	v.SetDefault("hogs.threshold", detector.DefaultThreshold)
	v.SetDefault("hogs.ticks_per_second", 0)
	v.SetDefault("log.level", logger.LevelInfo)
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.source", false)
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.3")
	v.SetDefault("server.auth.enabled", false)
	v.SetDefault("server.auth.token_ttl", auth.DefaultTokenTTL)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("journal.dsn", "")
	v.SetDefault("watch.interval", DefaultWatchInterval)
	v.SetDefault("watch.auto_pause", false)
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg, err := Load("", nil)
	if err != nil {
		// defaults are constants and always valid
		panic(err)
	}
	return cfg
}

// Load reads the optional TOML file at path, applies CRTHROTTLE_* environment
// variables and the flags in fs that were set, and validates the result.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ProcRoot == "" {
		errs = append(errs, errors.New("proc_root must not be empty"))
	}
	if c.Target.Name == "" || c.Target.Executable == "" || c.Target.TypeMarker == "" {
		errs = append(errs, errors.New("target name, executable and type_marker are required"))
	}
	if !(c.Hogs.TimeWindow > 0) {
		errs = append(errs, fmt.Errorf("hogs.time_window must be positive, got %v", c.Hogs.TimeWindow))
	}
	if c.Hogs.Threshold < 0 {
		errs = append(errs, fmt.Errorf("hogs.threshold must not be negative, got %v", c.Hogs.Threshold))
	}
	if c.Hogs.TicksPerSecond < 0 {
		errs = append(errs, fmt.Errorf("hogs.ticks_per_second must not be negative, got %v", c.Hogs.TicksPerSecond))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with /, got %q", c.Server.BasePath))
	}
	if c.Server.Auth.Enabled && c.Server.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("server.auth.jwt_secret is required when auth is enabled"))
	}
	if c.Server.TLS.Enabled && c.Server.TLS.Dir == "" && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs cert_file and key_file, or dir"))
	}
	if c.Watch.Interval <= 0 {
		errs = append(errs, fmt.Errorf("watch.interval must be positive, got %v", c.Watch.Interval))
	}
	return errors.Join(errs...)
}
