package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/attach"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/config"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// Loaded by PersistentPreRunE.
	appConfig     *config.Config
	appConfigFile string
	appLogger     *logging.Logger

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "leakwatch",
	Short: "File handle leak detector for long-running hosts",
	Long: `leakwatch hosts a management surface that can attach a file handle leak
detector to the running process on demand, report which descriptors are
open and who opened them, and keep the host alive if the detector tries
to exit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig(viper.GetViper())
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// ExitError carries a process exit code out of a command. A nil Err means
// the command already reported whatever there was to say.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .leakwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig(v *viper.Viper) error {
	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	appConfig = cfg
	appConfigFile = loader.ConfigFile()
	appLogger = logger
	return nil
}

func configFileUsed() string {
	if appConfigFile == "" {
		return "(defaults, no config file)"
	}
	return appConfigFile
}

// newLogger builds the logger for cfg. Log records go to log.file when set.
func newLogger(cfg *config.Config, fallback io.Writer) (*logging.Logger, error) {
	out := fallback
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: out,
	})
	if cfg.Server.AdminToken != "" {
		logger.Sanitizer().AddLiteral(cfg.Server.AdminToken)
	}
	return logger, nil
}

// socketDir resolves the attach socket directory. The launcher hands its
// child the directory through the environment, which wins over config.
func socketDir(cfg *config.Config) string {
	if dir := os.Getenv(attach.EnvSocketDir); dir != "" {
		return dir
	}
	if cfg.Agent.SocketDir != "" {
		return cfg.Agent.SocketDir
	}
	return attach.DefaultDir()
}
