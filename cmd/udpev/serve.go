package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/udpev/config"
	"github.com/cyberinferno/udpev/logger"
	"github.com/cyberinferno/udpev/server"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the UDP server",
		Long: `Bind the configured sockets and serve until interrupted.

Echo sockets send every datagram back to its sender; discard sockets only
track the sender's session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			if logLevel != "" {
				cfg.Log.Level = logLevel
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	return cmd
}

func newLogger(cfg config.LogConfig) (logger.Logger, error) {
	level := logger.ParseLevel(cfg.Level)
	if cfg.Dir != "" {
		return logger.NewZerologFileLogger(cfg.Service, cfg.Dir, level)
	}

	return logger.NewConsoleLogger(os.Stdout, cfg.Service, level), nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	if len(cfg.Sockets) == 0 {
		log.Warn("no sockets configured")
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}
	defer srv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		log.Info("shutting down", logger.Field{Key: "signal", Value: sig.String()})
		srv.Stop()
	}()

	return srv.Run(ctx)
}
