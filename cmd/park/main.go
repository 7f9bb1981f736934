// Command park runs the recording forward/reverse HTTP proxy described
// in §6: `park [ADDRESS [BIND]] [-c|--config FILE]`.
//
// Wiring (cobra command, signal handling, graceful shutdown with a
// timeout) is grounded on the teacher's cmd/proxy/server.go
// (runServerForeground): flag parsing, *logging.NewLogger construction,
// signal.Notify(SIGINT, SIGTERM), and a context.WithTimeout shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sofatutor/park/internal/capturequeue"
	"github.com/sofatutor/park/internal/capturestore"
	"github.com/sofatutor/park/internal/config"
	"github.com/sofatutor/park/internal/controlapi"
	"github.com/sofatutor/park/internal/listener"
	"github.com/sofatutor/park/internal/logging"
	"github.com/sofatutor/park/internal/proxy"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configFile string
	var controlAddr string
	var logLevel string
	var logFormat string

	root := &cobra.Command{
		Use:          "park [ADDRESS [BIND]]",
		Short:        "park is a recording forward/reverse HTTP proxy",
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(args, configFile)
			if err != nil {
				return err
			}
			return run(cfg, controlAddr, logLevel, logFormat)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "path to a TOML configuration file")
	root.Flags().StringVar(&controlAddr, "control-addr", config.DefaultControlAPIAddr, "control API bind address")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&logFormat, "log-format", "json", "log format (json, console)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig enforces §6: ADDRESS and --config are mutually
// exclusive, and exactly one must be supplied.
func resolveConfig(args []string, configFile string) (*config.Config, error) {
	switch {
	case len(args) > 0 && configFile != "":
		return nil, fmt.Errorf("ADDRESS and --config are mutually exclusive")
	case len(args) > 0:
		address := args[0]
		bind := ""
		if len(args) > 1 {
			bind = args[1]
		}
		return config.FromArgs(address, bind)
	case configFile != "":
		return config.Load(configFile)
	default:
		return nil, fmt.Errorf("exactly one of ADDRESS or --config is required")
	}
}

func run(cfg *config.Config, controlAddr, logLevel, logFormat string) error {
	logger, err := logging.NewLogger(logLevel, logFormat, "")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := capturestore.Open(capturestore.Config{
		URI:     cfg.Database.URI,
		MaxSize: cfg.Database.MaxSize,
	}, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	queue := capturequeue.New(capturequeue.DefaultCapacity, logger)

	upstream, err := cfg.UpstreamURL()
	if err != nil {
		return err
	}

	handler := proxy.New(proxy.Config{
		Upstream:      upstream,
		ClientTimeout: cfg.ClientTimeoutDuration(),
		ServerTimeout: cfg.ServerTimeoutDuration(),
	}, queue, logger)

	var tlsCfg *listener.TLSConfig
	if cfg.TLSEnabled() {
		tlsCfg = &listener.TLSConfig{CertFile: cfg.Server.SSLCert, KeyFile: cfg.Server.SSLKey}
	}
	lis, err := listener.New(listener.Config{Bind: cfg.Server.Bind, TLS: tlsCfg}, handler, logger)
	if err != nil {
		return err
	}

	control := controlapi.New(controlAddr, store, proxyReplayAdapter{handler}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	compactorCtx, cancelCompactor := context.WithCancel(context.Background())
	defer cancelCompactor()
	go store.RunCompactor(compactorCtx, cfg.Database.MaxSize, 60*time.Second)
	go queue.Run(context.Background(), store)

	errCh := make(chan error, 2)
	go func() {
		if err := lis.Serve(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := control.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	_ = lis.Shutdown(shutdownCtx)
	_ = control.Shutdown(shutdownCtx)

	queue.Close()
	queue.Wait()

	return nil
}

// proxyReplayAdapter adapts *proxy.Handler to controlapi.Replayer.
type proxyReplayAdapter struct {
	h *proxy.Handler
}

func (a proxyReplayAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.h.ServeHTTP(w, r)
}
