package config

// Config holds all leakwatch configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Agent       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Guard       GuardConfig       `mapstructure:"guard" yaml:"guard"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// ServerConfig configures the management HTTP server.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// AdminToken is the bearer token required by admin endpoints. Empty
	// trusts every caller.
	AdminToken      string   `mapstructure:"admin_token" yaml:"admin_token"`
	CORSOrigins     []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	ReadTimeout     string   `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string   `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AgentConfig configures how the leak detector is attached.
type AgentConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// Runtime overrides the executable used for attach; empty means the
	// running leakwatch binary.
	Runtime   string `mapstructure:"runtime" yaml:"runtime"`
	SocketDir string `mapstructure:"socket_dir" yaml:"socket_dir"`
	// AttachTimeout bounds a single attach request on the socket.
	AttachTimeout string `mapstructure:"attach_timeout" yaml:"attach_timeout"`
	// ActivateOnStart attaches the detector during serve startup.
	ActivateOnStart bool   `mapstructure:"activate_on_start" yaml:"activate_on_start"`
	StartOptions    string `mapstructure:"start_options" yaml:"start_options"`
}

// GuardConfig configures the host's startup interceptor.
type GuardConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	DenyRead        []string `mapstructure:"deny_read" yaml:"deny_read"`
	DenyWrite       []string `mapstructure:"deny_write" yaml:"deny_write"`
	AllowExec       []string `mapstructure:"allow_exec" yaml:"allow_exec"`
	DenyPermissions []string `mapstructure:"deny_permissions" yaml:"deny_permissions"`
}

// DiagnosticsConfig configures resource monitoring and crash dumps.
type DiagnosticsConfig struct {
	Enabled            bool    `mapstructure:"enabled" yaml:"enabled"`
	MonitorInterval    string  `mapstructure:"monitor_interval" yaml:"monitor_interval"`
	HistorySize        int     `mapstructure:"history_size" yaml:"history_size"`
	FDThresholdPercent int     `mapstructure:"fd_threshold_percent" yaml:"fd_threshold_percent"`
	GoroutineThreshold int     `mapstructure:"goroutine_threshold" yaml:"goroutine_threshold"`
	FDLeakPerHour      float64 `mapstructure:"fd_leak_per_hour" yaml:"fd_leak_per_hour"`
	CrashDumpDir       string  `mapstructure:"crash_dump_dir" yaml:"crash_dump_dir"`
	MaxCrashDumps      int     `mapstructure:"max_crash_dumps" yaml:"max_crash_dumps"`
	IncludeStack       bool    `mapstructure:"include_stack" yaml:"include_stack"`
	IncludeEnv         bool    `mapstructure:"include_env" yaml:"include_env"`
	PreflightEnabled   bool    `mapstructure:"preflight_enabled" yaml:"preflight_enabled"`
	MinFreeFDPercent   int     `mapstructure:"min_free_fd_percent" yaml:"min_free_fd_percent"`
}
