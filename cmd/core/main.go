// Command core runs the Waveline offline core: a local SQLite store, a
// sync engine draining queued actions against the platform backend, and
// a localhost ops surface for desktop shells.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/waveline-app/core/internal/config"
	"github.com/waveline-app/core/internal/connectivity"
	"github.com/waveline-app/core/internal/db"
	"github.com/waveline-app/core/internal/logging"
	"github.com/waveline-app/core/internal/offline"
	"github.com/waveline-app/core/internal/remote"
	"github.com/waveline-app/core/internal/sync"
)

// Version is set at build time.
var Version = "0.1.0"

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "waveline-core",
		Short:   "Waveline offline core",
		Version: Version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "waveline.yaml", "path to config file")

	root.AddCommand(
		serveCmd(),
		statusCmd(),
		syncCmd(),
		retryFailedCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stack bundles the wired components a command needs.
type stack struct {
	cfg      *config.Config
	database *db.DB
	repo     *db.Repository
	monitor  connectivity.Monitor
	engine   *sync.Engine
	facade   *offline.Facade
}

func (s *stack) close() {
	if s.engine != nil {
		s.engine.Stop()
	}
	if p, ok := s.monitor.(*connectivity.ProbeMonitor); ok && p != nil {
		p.Stop()
	}
	if s.repo != nil {
		s.repo.Close()
	}
	if s.database != nil {
		s.database.Close()
	}
}

// buildStack opens the store and wires monitor, engine, and facade.
// When probe is false a ManualMonitor pinned online is used; one-shot
// commands want to attempt the network immediately rather than wait for
// a probe cycle.
func buildStack(probe bool) (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(os.Stderr, cfg.LogLevel)

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	repo := db.NewRepository(database.DB)

	remoteClient := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token,
		remote.WithTimeout(cfg.Remote.Timeout))

	var monitor connectivity.Monitor
	if probe {
		monitor = connectivity.NewProbeMonitor(cfg.Sync.ProbeURL, cfg.Sync.ProbeInterval)
	} else {
		monitor = connectivity.NewManualMonitor(true)
	}

	engine := sync.NewEngine(repo, remoteClient, monitor, sync.Config{
		MaxRetries: cfg.Sync.MaxRetries,
		RetryDelay: cfg.Sync.RetryDelay,
	})
	facade := offline.New(repo, remoteClient, monitor, engine)

	return &stack{
		cfg:      cfg,
		database: database,
		repo:     repo,
		monitor:  monitor,
		engine:   engine,
		facade:   facade,
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the core with the localhost ops surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack(true)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			hub := NewWSHub()
			s.engine.SetEventHandler(hub.Broadcast)
			s.engine.Start()
			if p, ok := s.monitor.(*connectivity.ProbeMonitor); ok {
				p.Start(ctx)
			}

			ops := NewServer(s.database, s.facade, s.engine, hub)
			ops.SetClearPolicy(!s.cfg.Cache.PreservePendingOnClear)
			server := &http.Server{
				Addr:    s.cfg.Server.ListenAddr,
				Handler: ops.Routes(),
			}

			errCh := make(chan error, 1)
			go func() {
				logging.Info("Ops server listening", map[string]interface{}{
					"addr": s.cfg.Server.ListenAddr,
				})
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				logging.Info("Shutting down", map[string]interface{}{
					"signal": sig.String(),
				})
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print queue and sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack(false)
			if err != nil {
				return err
			}
			defer s.close()

			status, err := s.engine.Status()
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the pending action queue once",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack(false)
			if err != nil {
				return err
			}
			defer s.close()

			result, err := s.engine.Drain(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func retryFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Requeue failed actions and drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := buildStack(false)
			if err != nil {
				return err
			}
			defer s.close()

			count, err := s.engine.RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("requeued %d failed action(s)\n", count)
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
