package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lanchat/config"
	"lanchat/db"
	"lanchat/logger"
	"lanchat/server"
	"lanchat/store"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var (
	servePort   int
	serveDBPath string
)

// serveCmd runs the chat server until it is interrupted or told to shut
// down over the control socket.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}
		if cmd.Flags().Changed("db") {
			cfg.DBPath = serveDBPath
		}
		if cmd.Flags().Changed("socket") {
			cfg.ControlSocket = socketPath
		}
		return runServer(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 1145, "TCP port to listen on")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "lanchat.db", "Path to SQLite database")
}

func runServer(parent context.Context, cfg *config.Config) error {
	lg, err := logger.Open(logger.ParseLevel(cfg.LogLevel), cfg.LogPath)
	if err != nil {
		return err
	}
	defer lg.Close()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	st := store.New(database, store.Options{BcryptCost: cfg.BcryptCost, Log: lg.WithPrefix("store")})
	if err := st.Load(); err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}

	srv := server.New(st, &server.ServerConfig{
		Port:         cfg.Port,
		WriteTimeout: cfg.WriteTimeoutDuration(),
		QueueSize:    cfg.QueueSize,
		MaxWorkers:   cfg.MaxWorkers,
		LogoutGrace:  cfg.LogoutGrace(),
	}, lg.WithPrefix("server"))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// The listener is closed by Shutdown, after every session got its exit
	// envelope, not by context cancellation.
	g.Go(func() error {
		defer cancel()
		return srv.Run(context.WithoutCancel(gctx))
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		srv.Shutdown(shutdownCtx)
		return nil
	})

	g.Go(func() error {
		autosave(gctx, st, cfg.AutosaveDuration(), lg)
		return nil
	})

	g.Go(func() error {
		if err := srv.ServeControl(gctx, cfg.ControlSocket, cancel); err != nil {
			lg.Warn("Control socket unavailable: %v", err)
		}
		return nil
	})

	err = g.Wait()
	waitSessions(srv, lg)

	if saveErr := st.Save(); saveErr != nil {
		lg.Error("Failed to save data on shutdown: %v", saveErr)
	} else {
		lg.Info("Data saved to %s", cfg.DBPath)
	}
	return err
}

func waitSessions(srv *server.Server, lg *logger.Logger) {
	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		lg.Warn("Sessions still running after %s", shutdownTimeout)
	}
}

// autosave snapshots the store every period until ctx is done.
func autosave(ctx context.Context, st *store.Store, period time.Duration, lg *logger.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.Save(); err != nil {
				lg.Error("Autosave failed: %v", err)
				continue
			}
			lg.Debug("Autosave complete")
		}
	}
}
