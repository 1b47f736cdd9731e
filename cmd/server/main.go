package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orbit-social/backend/internal/api"
	"github.com/orbit-social/backend/internal/auth"
	"github.com/orbit-social/backend/internal/config"
	"github.com/orbit-social/backend/internal/frontend"
	"github.com/orbit-social/backend/internal/mock"
	"github.com/orbit-social/backend/internal/monitor"
	"github.com/orbit-social/backend/internal/presence"
	"github.com/orbit-social/backend/internal/router"
	"github.com/orbit-social/backend/internal/session"
	"github.com/orbit-social/backend/internal/social"
	"github.com/orbit-social/backend/internal/store"
	"github.com/orbit-social/backend/internal/ws"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:          "orbit",
		Short:        "Orbit social network backend",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (yaml)")

	root.AddCommand(serveCmd(&cfgPath))
	root.AddCommand(migrateCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	applied, err := st.Migrate(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	for _, name := range applied {
		logger.Info("applied migration", "name", name)
	}
	return st, nil
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*cfgPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer st.Close()

			applied, err := st.Migrate(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Println("schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Printf("applied %s\n", name)
			}
			return nil
		},
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	var (
		port     int
		mockMode bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(*cfgPath)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			return serve(cfg, mockMode)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().BoolVar(&mockMode, "mock", false, "run bot accounts that generate demo activity")
	return cmd
}

func serve(cfg *config.Config, mockMode bool) error {
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	// Nobody can be connected before the listener is up.
	if n, err := st.ResetOnline(ctx); err != nil {
		return err
	} else if n > 0 {
		logger.Info("cleared stale online flags", "users", n)
	}

	registry := presence.NewRegistry()
	observers := presence.NewObserverIndex()
	rt := router.New(registry, observers, logger)

	tokens := auth.NewJWTService(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	sessions := session.New(session.Deps{
		Auth:      auth.NewGate(tokens, st),
		Users:     st,
		Chats:     st,
		Registry:  registry,
		Observers: observers,
		Router:    rt,
		Logger:    logger,
	})

	hub := ws.NewHub(cfg.WS.MaxConnections, logger)
	wsServer := ws.NewServer(hub, sessions, rt, ws.Options{
		WS:             cfg.WS,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		CookieName:     cfg.Auth.CookieName,
		Logger:         logger,
	})

	var static http.Handler
	if cfg.Server.StaticDir != "" {
		static, err = frontend.Handler(cfg.Server.StaticDir)
		if err != nil {
			return err
		}
		logger.Info("serving web client", "dir", cfg.Server.StaticDir)
	}

	socialSvc := social.NewService(st, rt, logger)
	if mockMode {
		logger.Info("starting demo activity")
		if err := mock.NewGenerator(st, socialSvc, 2*time.Second, logger).Start(ctx); err != nil {
			return err
		}
	}

	handler := api.New(api.Deps{
		Store:    st,
		Social:   socialSvc,
		Sessions: sessions,
		Tokens:   tokens,
		Stats:    monitor.NewCollector(registry, observers, hub),
		WS:       wsServer,
		Static:   static,
		Auth:     cfg.Auth,
		Logger:   logger,
	}).Router()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "driver", st.Driver())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	hub.CloseAll()

	// Read loops may still be writing offline flags; clear whatever is left.
	if _, err := st.ResetOnline(shutdownCtx); err != nil {
		logger.Error("reset online flags", "error", err)
	}
	return nil
}
