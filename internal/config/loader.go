package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader on an existing viper instance so CLI
// flag bindings take part in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "LEAKWATCH",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (LEAKWATCH_*)
// 3. Project config (.leakwatch/config.yaml)
// 4. User config (~/.config/leakwatch/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(ProjectConfigDir)
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "leakwatch"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("server.host", "127.0.0.1")
	l.v.SetDefault("server.port", 8089)
	l.v.SetDefault("server.admin_token", "")
	l.v.SetDefault("server.cors_origins", []string{})
	l.v.SetDefault("server.read_timeout", "30s")
	l.v.SetDefault("server.write_timeout", "5m")
	l.v.SetDefault("server.shutdown_timeout", "10s")

	l.v.SetDefault("agent.name", "file-leak-detector")
	l.v.SetDefault("agent.runtime", "")
	l.v.SetDefault("agent.socket_dir", "")
	l.v.SetDefault("agent.attach_timeout", "30s")
	l.v.SetDefault("agent.activate_on_start", false)
	l.v.SetDefault("agent.start_options", "")

	l.v.SetDefault("guard.enabled", true)
	l.v.SetDefault("guard.deny_read", []string{})
	l.v.SetDefault("guard.deny_write", []string{})
	l.v.SetDefault("guard.allow_exec", []string{})
	l.v.SetDefault("guard.deny_permissions", []string{})

	l.v.SetDefault("diagnostics.enabled", true)
	l.v.SetDefault("diagnostics.monitor_interval", "30s")
	l.v.SetDefault("diagnostics.history_size", 120)
	l.v.SetDefault("diagnostics.fd_threshold_percent", 80)
	l.v.SetDefault("diagnostics.goroutine_threshold", 10000)
	l.v.SetDefault("diagnostics.fd_leak_per_hour", 10.0)
	l.v.SetDefault("diagnostics.crash_dump_dir", ".leakwatch/crashdumps")
	l.v.SetDefault("diagnostics.max_crash_dumps", 10)
	l.v.SetDefault("diagnostics.include_stack", true)
	l.v.SetDefault("diagnostics.include_env", false)
	l.v.SetDefault("diagnostics.preflight_enabled", true)
	l.v.SetDefault("diagnostics.min_free_fd_percent", 5)
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}
