package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/leakwatch/internal/agent"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/attach"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/config"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/guard"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/launcher"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/leak"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/logging"
	"github.com/hugo-lorenzo-mato/leakwatch/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the management server",
	Long: `Run the leakwatch host: the management HTTP server, the attach socket and
the resource monitor.

Examples:
  # Start with defaults (127.0.0.1:8089)
  leakwatch serve

  # Require an admin token and attach the detector right away
  LEAKWATCH_SERVER_ADMIN_TOKEN=... leakwatch serve --activate`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host address to bind to")
	serveCmd.Flags().IntP("port", "p", 8089, "Port to listen on")
	serveCmd.Flags().Bool("activate", false, "Attach the file leak detector on startup")
	serveCmd.Flags().String("activate-opts", "", "Options for --activate")

	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("agent.activate_on_start", serveCmd.Flags().Lookup("activate"))
	_ = viper.BindPFlag("agent.start_options", serveCmd.Flags().Lookup("activate-opts"))
}

func runServe(c *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, appConfig, appLogger, nil)
}

var registerOnce sync.Once

// registerAgents makes the bundled detector attachable. The registry is
// process-wide, so this runs once however many times serve is entered.
func registerAgents(logger *logging.Logger) error {
	var err error
	registerOnce.Do(func() {
		leak.Default.SetLogger(logger.WithAgent(leak.AgentName).Logger)
		err = leak.Register(agent.Default)
	})
	return err
}

// serve runs the host until ctx is done. ready, when non-nil, receives the
// HTTP address once every listener is up.
func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, ready chan<- string) error {
	if cfg.Guard.Enabled {
		guard.SetProcessPolicy(guard.NewPolicy(guard.PolicyConfig{
			DenyRead:        cfg.Guard.DenyRead,
			DenyWrite:       cfg.Guard.DenyWrite,
			AllowExec:       cfg.Guard.AllowExec,
			DenyPermissions: cfg.Guard.DenyPermissions,
		}))
		logger.Info("process policy installed",
			"deny_read", len(cfg.Guard.DenyRead),
			"deny_write", len(cfg.Guard.DenyWrite),
			"allow_exec", len(cfg.Guard.AllowExec),
		)
	}

	if err := registerAgents(logger); err != nil {
		return fmt.Errorf("registering agents: %w", err)
	}

	var (
		monitor *diagnostics.ResourceMonitor
		dumps   *diagnostics.CrashDumpWriter
	)
	diag := cfg.Diagnostics
	if diag.Enabled {
		monitor = diagnostics.NewResourceMonitor(diagnostics.MonitorConfig{
			Interval:           config.Duration(diag.MonitorInterval, 30*time.Second),
			HistorySize:        diag.HistorySize,
			FDThresholdPercent: diag.FDThresholdPercent,
			GoroutineThreshold: diag.GoroutineThreshold,
			FDLeakPerHour:      diag.FDLeakPerHour,
		}, logger.WithComponent("monitor").Logger)
		dumps = diagnostics.NewCrashDumpWriter(diag.CrashDumpDir, diag.MaxCrashDumps,
			diag.IncludeStack, diag.IncludeEnv, logger.WithComponent("crashdump").Logger, monitor)
		if prev, err := diagnostics.LoadLatestCrashDump(dumps.Dir()); err == nil {
			logger.Warn("an earlier run left a crash dump",
				"time", prev.Timestamp, "agent", prev.Agent, "panic", prev.PanicValue)
		}
	}

	executor := diagnostics.NewSafeExecutor(monitor, dumps, logger.WithComponent("exec").Logger,
		diag.Enabled && diag.PreflightEnabled, diag.MinFreeFDPercent)

	dir := socketDir(cfg)
	sessions := attach.NewSessions()
	bridge := agent.NewBridge(agent.Default, cfg.Agent.Name)
	l := launcher.New(bridge, launcher.NewExecRunner(executor, 0),
		launcher.WithRuntime(cfg.Agent.Runtime),
		launcher.WithSocketDir(dir),
		launcher.WithSessions(sessions),
		launcher.WithLogger(logger.WithComponent("launcher").Logger),
	)

	listener := attach.NewListener(attach.ListenerConfig{
		Dir:      dir,
		Registry: agent.Default,
		Dumps:    dumps,
		Sessions: sessions,
		Logger:   logger.WithComponent("attach").Logger,
		Timeout:  config.Duration(cfg.Agent.AttachTimeout, 30*time.Second),
	})
	if err := listener.Listen(); err != nil {
		return err
	}

	server := web.New(web.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     config.Duration(cfg.Server.ReadTimeout, 30*time.Second),
		WriteTimeout:    config.Duration(cfg.Server.WriteTimeout, 5*time.Minute),
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second),
		CORSOrigins:     cfg.Server.CORSOrigins,
	}, bridge, l, logger.WithComponent("web").Logger,
		web.WithAuthorizer(web.NewTokenAuthorizer(cfg.Server.AdminToken, logger.Logger)),
		web.WithMonitor(monitor),
		web.WithInspector(diagnostics.NewProcessInspector()),
	)

	g, gctx := errgroup.WithContext(ctx)

	ln, err := net.Listen("tcp", server.Addr())
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("listening on %s: %w", server.Addr(), err)
	}
	g.Go(func() error { return server.Serve(gctx, ln) })
	g.Go(func() error { return listener.Serve(gctx) })
	if monitor != nil {
		g.Go(func() error { return monitor.Run(gctx) })
	}

	if cfg.Agent.ActivateOnStart {
		g.Go(func() error {
			res, err := l.Activate(gctx, cfg.Agent.StartOptions)
			if err != nil {
				// The host is still useful without the detector.
				logger.Warn("activate on start failed", "error", err)
				return nil
			}
			logger.Info("file leak detector activated on start",
				"already_active", res.AlreadyActive, "output", res.Output)
			return nil
		})
	}

	logger.Info("leakwatch serving",
		"addr", ln.Addr().String(),
		"attach_socket", listener.Path(),
		"agent", cfg.Agent.Name,
		"guard", cfg.Guard.Enabled,
		"diagnostics", diag.Enabled,
	)
	if ready != nil {
		ready <- ln.Addr().String()
	}

	return g.Wait()
}
