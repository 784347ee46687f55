// Package main is the entry point for the correlator server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Data-Integrities/backend-ai/internal/clock"
	"github.com/Data-Integrities/backend-ai/internal/config"
	"github.com/Data-Integrities/backend-ai/internal/database"
	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/policy"
	"github.com/Data-Integrities/backend-ai/internal/remote"
	"github.com/Data-Integrities/backend-ai/internal/router"
	"github.com/Data-Integrities/backend-ai/internal/services"
	"github.com/Data-Integrities/backend-ai/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "correlator",
		Short: "Operation correlation and reconciliation server",
		Long:  "Correlator dispatches operations to remote actors and reconciles their outcome from callbacks, polling and push events.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context, configPath string) error {
	if err := config.LoadDotEnv(""); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	cfg, cfgErr := config.Load(configPath)
	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfgErr != nil {
		log.Warnf("could not load config from %s, using defaults: %v", configPath, cfgErr)
	}

	clk := clock.Real()

	store := services.NewExecutionStore(services.ExecutionStoreOptions{
		Clock:          clk,
		Logger:         log,
		DefaultTimeout: cfg.Execution.GetDefaultTimeout(),
		MaxRetained:    cfg.Execution.MaxRetained,
		Retention:      cfg.Execution.GetRetention(),
		LogLimit:       cfg.Execution.LogLimit,
	})

	engine, err := policy.LoadEngine(ctx, cfg.Execution.EscalationPolicy)
	if err != nil {
		log.Warnf("escalation policy unavailable, using kind prefixes: %v", err)
		engine = nil
	}

	registry, err := remote.BuildRegistry(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build actor registry: %w", err)
	}

	services.NewEscalator(store, engine, registry, cfg.SSH.GetTimeout(), log)

	batches := services.NewBatchAggregator(store, nil, cfg.Batch.Concurrency, log)
	defer batches.Close()

	operations := services.NewOperationService(store, registry, batches, callbackBase(cfg, log), cfg.Poller.GetRequestTimeout(), log)

	poller := services.NewStatusPoller(store, registry, cfg.Poller.GetInterval(), cfg.Poller.GetRequestTimeout(), clk, log)
	push := services.NewPushReceiver(store, poller, cfg.Poller.GetInterval(), clk, log)

	broadcaster := services.NewBroadcaster(store, cfg.Stream.Buffer, log)
	defer broadcaster.Close()

	newQueue := func(name string) *services.TaskQueue {
		return services.NewTaskQueue(services.TaskQueueOptions{
			Name:         name,
			DefaultTTL:   cfg.Queue.GetDefaultTTL(),
			WaitInterval: cfg.Queue.GetWaitInterval(),
			Grace:        cfg.Queue.GetGrace(),
			MaxWait:      cfg.Queue.GetMaxWait(),
			Clock:        clk,
			Logger:       log,
		})
	}
	commands := newQueue(services.QueueCommands)
	ui := newQueue(services.QueueUI)

	janitor, err := services.NewJanitor(cfg.Queue.Sweep, store, []*services.TaskQueue{commands, ui}, clk, log)
	if err != nil {
		return fmt.Errorf("invalid queue sweep schedule: %w", err)
	}

	var history *services.HistoryService
	if cfg.History.Path != "" {
		db, err := database.New(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Errorf("error closing history database: %v", err)
			}
		}()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		history = services.NewHistoryService(db, store, log)
		defer history.Close()
	}

	r := router.New(cfg, router.Services{
		Store:       store,
		History:     history,
		Operations:  operations,
		Poller:      poller,
		Push:        push,
		Broadcaster: broadcaster,
		Commands:    commands,
		UI:          ui,
	}, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	poller.Start()
	defer poller.Stop()
	janitor.Start()

	log.Infof("%s starting on %s with %d actors", version.String(), addr, len(registry.List()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infof("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		janitor.Stop(shutdownCtx)
		// Stream handlers only return once their subscription closes.
		broadcaster.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// callbackBase is the URL agents post their callbacks under.
func callbackBase(cfg *config.Config, log *logging.Logger) string {
	base := strings.TrimRight(cfg.Server.PublicURL, "/")
	if base == "" {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		base = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
		log.Warnf("server.public_url not set, agents will call back to %s", base)
	}
	return base + cfg.Server.PathPrefix + "/api"
}
