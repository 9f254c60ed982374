package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateAgent(&cfg.Agent)
	v.validateGuard(&cfg.Guard)
	v.validateDiagnostics(&cfg.Diagnostics)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 0 and 65535")
	}
	if strings.TrimSpace(cfg.Host) == "" {
		v.addError("server.host", cfg.Host, "host required")
	}
	if cfg.AdminToken != "" && len(cfg.AdminToken) < 16 {
		v.addError("server.admin_token", "[REDACTED]", "must be at least 16 characters")
	}
	v.validateDuration("server.read_timeout", cfg.ReadTimeout)
	v.validateDuration("server.write_timeout", cfg.WriteTimeout)
	v.validateDuration("server.shutdown_timeout", cfg.ShutdownTimeout)
}

func (v *Validator) validateAgent(cfg *AgentConfig) {
	if strings.TrimSpace(cfg.Name) == "" {
		v.addError("agent.name", cfg.Name, "agent name required")
	}
	if cfg.SocketDir != "" && !isValidPath(cfg.SocketDir) {
		v.addError("agent.socket_dir", cfg.SocketDir, "invalid directory path")
	}
	v.validateDuration("agent.attach_timeout", cfg.AttachTimeout)
}

func (v *Validator) validateGuard(cfg *GuardConfig) {
	for _, p := range cfg.DenyRead {
		if !filepath.IsAbs(p) {
			v.addError("guard.deny_read", p, "paths must be absolute")
		}
	}
	for _, p := range cfg.DenyWrite {
		if !filepath.IsAbs(p) {
			v.addError("guard.deny_write", p, "paths must be absolute")
		}
	}
	for _, e := range cfg.AllowExec {
		if strings.TrimSpace(e) == "" {
			v.addError("guard.allow_exec", e, "entries cannot be empty")
		}
	}
}

func (v *Validator) validateDiagnostics(cfg *DiagnosticsConfig) {
	if !cfg.Enabled {
		return
	}
	v.validateDuration("diagnostics.monitor_interval", cfg.MonitorInterval)
	if cfg.HistorySize <= 0 {
		v.addError("diagnostics.history_size", cfg.HistorySize, "must be positive")
	}
	if cfg.FDThresholdPercent < 0 || cfg.FDThresholdPercent > 100 {
		v.addError("diagnostics.fd_threshold_percent", cfg.FDThresholdPercent, "must be between 0 and 100")
	}
	if cfg.MinFreeFDPercent < 0 || cfg.MinFreeFDPercent > 100 {
		v.addError("diagnostics.min_free_fd_percent", cfg.MinFreeFDPercent, "must be between 0 and 100")
	}
	if cfg.GoroutineThreshold < 0 {
		v.addError("diagnostics.goroutine_threshold", cfg.GoroutineThreshold, "must be non-negative")
	}
	if cfg.FDLeakPerHour < 0 {
		v.addError("diagnostics.fd_leak_per_hour", cfg.FDLeakPerHour, "must be non-negative")
	}
	if cfg.MaxCrashDumps <= 0 {
		v.addError("diagnostics.max_crash_dumps", cfg.MaxCrashDumps, "must be positive")
	}
	if cfg.CrashDumpDir == "" {
		v.addError("diagnostics.crash_dump_dir", cfg.CrashDumpDir, "directory required")
	} else if !isValidPath(cfg.CrashDumpDir) {
		v.addError("diagnostics.crash_dump_dir", cfg.CrashDumpDir, "invalid directory path")
	}
}

func (v *Validator) validateDuration(field, value string) {
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return
	}
	if d <= 0 {
		v.addError(field, value, "must be positive")
	}
}

// Duration parses s, returning fallback when s is empty or invalid.
// Loaded configs have already been validated.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
