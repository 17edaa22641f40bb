// Package config loads rr settings.
//
// Sources, lowest precedence first: built-in defaults, the config file
// (config.yaml or config.toml in the data directory, or --config), env
// files (variables.env and .env in the working directory), and RR_*
// environment variables. A key such as api.base_url maps to
// RR_API_BASE_URL.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RR"

// DefaultEnvFiles are loaded from the working directory when present.
var DefaultEnvFiles = []string{"variables.env", ".env"}

// Config is the full rr configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" validate:"required"`
	API       APIConfig       `mapstructure:"api"`
	Store     StoreConfig     `mapstructure:"store"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Log       LogConfig       `mapstructure:"log"`
}

// APIConfig locates the remote API.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// StoreConfig locates the local database.
type StoreConfig struct {
	// Path of the SQLite file. Relative paths are resolved against DataDir.
	Path string `mapstructure:"path" validate:"required"`
}

// ProxyConfig configures the request interceptor.
type ProxyConfig struct {
	Listen       string `mapstructure:"listen" validate:"required,hostname_port"`
	StaticOrigin string `mapstructure:"static_origin" validate:"required,url"`
}

// CacheConfig configures the static asset cache.
type CacheConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	Size int    `mapstructure:"size" validate:"gt=0"`
	// Manifest is an optional TOML precache list.
	Manifest string `mapstructure:"manifest"`
}

// DashboardConfig configures the admin server.
type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Addr returns host:port.
func (d DashboardConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// DaemonConfig configures the replay daemon.
type DaemonConfig struct {
	TriggerFile string        `mapstructure:"trigger_file"`
	Debounce    time.Duration `mapstructure:"debounce" validate:"gte=0"`
	PassTimeout time.Duration `mapstructure:"pass_timeout" validate:"gte=0"`
}

// Options controls Load.
type Options struct {
	// ConfigFile overrides the config file search.
	ConfigFile string
	// EnvFiles replaces DefaultEnvFiles. Missing files are skipped.
	EnvFiles []string
}

// DefaultDataDir returns ~/.rr, or .rr when there is no home directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".rr"
	}
	return filepath.Join(home, ".rr")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("api.base_url", "http://localhost:1337")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("store.path", "offline.db")
	v.SetDefault("proxy.listen", "127.0.0.1:8080")
	v.SetDefault("proxy.static_origin", "http://localhost:8000")
	v.SetDefault("cache.name", "mws-rs-v10")
	v.SetDefault("cache.size", 256)
	v.SetDefault("cache.manifest", "")
	v.SetDefault("dashboard.host", "127.0.0.1")
	v.SetDefault("dashboard.port", 8081)
	v.SetDefault("daemon.trigger_file", "sync.trigger")
	v.SetDefault("daemon.debounce", 100*time.Millisecond)
	v.SetDefault("daemon.pass_timeout", 2*time.Minute)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.verbose", false)
}

// Loader holds the viper instance behind a loaded Config so it can be
// watched for changes.
type Loader struct {
	v *viper.Viper
}

// Load reads the configuration.
func Load(opts Options) (*Config, *Loader, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = DefaultEnvFiles
	}
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(v.GetString("data_dir"))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	l := &Loader{v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

// File returns the config file in use, or "".
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch calls fn with the reloaded configuration whenever the config file
// changes. Invalid edits are reported through onErr and otherwise
// ignored. Without a config file Watch does nothing.
func (l *Loader) Watch(fn func(*Config), onErr func(error)) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.DataDir, p)
	}
	c.Store.Path = resolve(c.Store.Path)
	c.Daemon.TriggerFile = resolve(c.Daemon.TriggerFile)
	c.Log.File = resolve(c.Log.File)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(parts, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func loadEnvFiles(files []string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}
