package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"flow-policy-controller/internal/api"
	"flow-policy-controller/internal/diag"
	"flow-policy-controller/internal/redisbus"
)

var (
	redisAddr     string
	redisPassword string
	redisDB       int
	eventChannel  string
	listenAddr    string
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Install tables on switch connect and serve the diagnostics API",
		Long: `serve compiles every role, then consumes switch events from Redis and installs
each connecting switch's table into its FLOW_TABLE keys until interrupted.`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "127.0.0.1:6379", "Redis address for switch events and flow tables")
	cmd.Flags().StringVar(&redisPassword, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&redisDB, "redis-db", 0, "Redis database number")
	cmd.Flags().StringVar(&eventChannel, "channel", redisbus.DefaultChannel, "Redis pub/sub channel carrying switch events")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "Diagnostics API listen address, empty to disable")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel, logFile)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	diag.Register()
	cp, manager, err := loadControlPlane(ctx, diag.NewRecorder(logger))
	if err != nil {
		slog.Error("Failed to compile policy", "error", err)
		return err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Error("Redis not reachable", "addr", redisAddr, "error", err)
		return err
	}

	bus := redisbus.NewBus(client, eventChannel, manager, redisbus.RedisSessions(client), logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bus.Run(gctx) })
	if listenAddr != "" {
		srv := api.NewServer(cp.registry, cp.tables, logger)
		g.Go(func() error { return srv.Run(gctx, listenAddr) })
	}

	slog.Info("Controller running", "roles", len(cp.tables), "switches", len(cp.registry.Switches()))
	err = g.Wait()
	slog.Info("Controller stopped")
	return err
}
