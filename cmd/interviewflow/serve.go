package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harunnryd/interviewflow/pkg/app"
	"github.com/harunnryd/interviewflow/pkg/logging"
	"github.com/harunnryd/interviewflow/pkg/runner"
	"github.com/harunnryd/interviewflow/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept interview sessions over the configured transport",
	Long: `Start the HTTP server. Sessions arrive on /sessions/ws, or on the Twilio SMS
webhook when transport.provider is twilio_sms. SIGINT or SIGTERM drains running
sessions before exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := initLogger(cfg, cmd)

		a, err := app.New(cfg, logger, app.Options{Providers: app.DefaultProviders()})
		if err != nil {
			return err
		}
		defer a.Close()

		srv, err := server.New(a, logging.NewComponentLogger(logger, "server"))
		if err != nil {
			return err
		}
		httpSrv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lc := runner.NewLifecycleRunner(runner.Options{
			Drainer:      srv,
			DrainTimeout: time.Duration(cfg.Server.DrainTimeoutMS) * time.Millisecond,
			Banner:       cmd.OutOrStdout(),
			Logger:       logger,
			Hooks: runner.Hooks{
				OnStart: func(context.Context) error {
					ln, err := net.Listen("tcp", httpSrv.Addr)
					if err != nil {
						return err
					}
					logger.Info("http_listening", "addr", ln.Addr().String())
					go func() {
						if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
							logger.Error("http_serve_failed", "error", err.Error())
							stop()
						}
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					if err := httpSrv.Shutdown(ctx); err != nil {
						logger.Warn("http_shutdown_incomplete", "error", err.Error())
						return httpSrv.Close()
					}
					return nil
				},
			},
		})
		if err := lc.Run(ctx); err != nil && !errors.Is(err, runner.ErrDrainTimeout) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
