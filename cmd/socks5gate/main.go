// Command socks5gate wires configuration, logging, shared state, and
// the two listeners together, then blocks until a shutdown signal
// arrives. It is the thin bootstrap shim spec.md §1 lists as an
// external collaborator: argument parsing, daemonization, and signal
// handling are out of scope for the session cores' correctness, but
// still need a real entry point to exercise them end to end.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"socks5gate/internal/config"
	"socks5gate/internal/mgmt"
	"socks5gate/internal/sockopt"
	"socks5gate/internal/socks5"
	"socks5gate/internal/state"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "socks5gate",
		Short: "SOCKS5 proxy with an out-of-band management protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to YAML configuration file")
	return cmd
}

func run(configPath string) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("socks5gate: %w", err)
	}

	users := state.NewUsers(cfg.UserTableCapacity)
	if cfg.AdminUser != "" {
		if err := users.Seed(cfg.AdminUser, cfg.AdminPass); err != nil {
			return fmt.Errorf("socks5gate: seed admin: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	deps := socks5.Deps{
		Users:     users,
		Metrics:   state.NewMetrics(registry),
		AccessLog: state.NewAccessLog(cfg.AccessLogCapacity),
		ChunkCap:  state.NewChunkCap(uint32(cfg.InitialChunkCap)),
		Logger:    logrus.NewEntry(logger),
	}
	mgmtDeps := mgmt.Deps{
		Users:     deps.Users,
		Metrics:   deps.Metrics,
		AccessLog: deps.AccessLog,
		ChunkCap:  deps.ChunkCap,
		Logger:    logrus.NewEntry(logger),
	}

	lc := net.ListenConfig{Control: sockopt.Default.Control}

	socksLn, err := lc.Listen(context.Background(), "tcp", cfg.SOCKS5ListenAddr)
	if err != nil {
		return fmt.Errorf("socks5gate: listen socks5: %w", err)
	}
	mgmtLn, err := lc.Listen(context.Background(), "tcp", cfg.MgmtListenAddr)
	if err != nil {
		return fmt.Errorf("socks5gate: listen mgmt: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSrv := &http.Server{
		Addr:    "127.0.0.1:9090",
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return socks5.Serve(gctx, logger.WithField("component", "socks5"), socksLn, deps)
	})
	group.Go(func() error {
		return mgmt.Serve(gctx, logger.WithField("component", "mgmt"), mgmtLn, mgmtDeps)
	})
	group.Go(func() error {
		err := metricsSrv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		return metricsSrv.Close()
	})

	logger.WithFields(logrus.Fields{
		"socks5_addr": cfg.SOCKS5ListenAddr,
		"mgmt_addr":   cfg.MgmtListenAddr,
	}).Info("socks5gate started")

	if err := group.Wait(); err != nil {
		return fmt.Errorf("socks5gate: %w", err)
	}
	return nil
}
