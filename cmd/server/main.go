package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yokitheyo/diagramq/internal/config"
	"github.com/yokitheyo/diagramq/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type role struct {
	http    bool
	workers bool
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgPath string

	root := &cobra.Command{
		Use:   "diagramq",
		Short: "Queue-backed text-to-diagram generation service",
		Long: `diagramq turns natural-language scenarios into Mermaid diagrams.
The api process accepts requests and streams progress; worker processes
pull jobs from Redis and run them against a local model server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "config file")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	_ = v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))

	newCmd := func(use, short string, r role) *cobra.Command {
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(cfgPath, v)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if cfg.Broker.Backend == config.BackendMemory && !(r.http && r.workers) {
					return fmt.Errorf("the %s backend only works with the standalone command", config.BackendMemory)
				}
				logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr).With("role", use)

				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return run(ctx, cfg, logger, r)
			},
		}
		if r.http {
			cmd.Flags().Int("port", 0, "HTTP listen port")
			_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
		}
		if r.workers {
			cmd.Flags().Int("concurrency", 0, "number of jobs run in parallel")
			_ = v.BindPFlag("worker.concurrency", cmd.Flags().Lookup("concurrency"))
		}
		return cmd
	}

	root.AddCommand(
		newCmd("api", "Run the HTTP gateway and progress relay", role{http: true}),
		newCmd("worker", "Run generation workers", role{workers: true}),
		newCmd("standalone", "Run gateway and workers in one process", role{http: true, workers: true}),
	)
	return root
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, r role) error {
	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	a := &app{cfg: cfg, logger: logger, backends: b}
	return a.run(ctx, r)
}
