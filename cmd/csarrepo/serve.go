package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	httpx "github.com/csarrepo/csarrepo/internal/http"
	"github.com/csarrepo/csarrepo/internal/seed"
	"github.com/csarrepo/csarrepo/internal/service/auth"
	"github.com/csarrepo/csarrepo/internal/service/csar"
	"github.com/csarrepo/csarrepo/internal/service/deploy"
	"github.com/csarrepo/csarrepo/internal/service/server"
	"github.com/csarrepo/csarrepo/internal/storage"
	"github.com/csarrepo/csarrepo/internal/web"
	"github.com/csarrepo/csarrepo/internal/workspace"
	"github.com/csarrepo/csarrepo/internal/ws"
	"github.com/csarrepo/csarrepo/pkg/config"
)

const staleWorkspaceAge = time.Hour

func newServeCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and web pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, g.logger("csarrepo", cfg))
		},
	}
	cmd.Flags().StringVar(&g.addr, "addr", "", "listen address, overrides API_ADDR")
	return cmd
}

func serve(parent context.Context, cfg config.Config, log *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openMigrated(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.close()

	blobs, err := storage.New(cfg.StorageDir)
	if err != nil {
		return err
	}
	workspaces, err := workspace.New(cfg.WorkspaceDir)
	if err != nil {
		return err
	}
	if removed, err := workspaces.Prune(staleWorkspaceAge); err != nil {
		log.Warn("workspace prune incomplete", "removed", removed, "error", err)
	} else if removed > 0 {
		log.Info("stale workspaces removed", "removed", removed)
	}

	hub := ws.NewHub()
	defer hub.Close()

	authSvc := auth.New(db.store, log, cfg)
	csarSvc := csar.New(db.store, blobs, log)
	serverSvc := server.New(db.store, log)
	deploySvc := deploy.New(db.store, csarSvc, serverSvc, workspaces, hub, log, cfg)

	if path := strings.TrimSpace(cfg.SeedFile); path != "" {
		seedCfg, err := seed.Load(path)
		if err != nil {
			return err
		}
		if _, err := seed.Apply(ctx, seedCfg, serverSvc, 0, log); err != nil {
			return err
		}
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Auth:    authSvc,
		Csars:   csarSvc,
		Servers: serverSvc,
		Deploy:  deploySvc,
		Hub:     hub,
	}, limiter, cfg.MaxUploadBytes, db.store.Ping)
	defer router.Close()

	pages, err := web.New(cfg, web.Services{
		Auth:    authSvc,
		Csars:   csarSvc,
		Servers: serverSvc,
		Deploy:  deploySvc,
	}, log)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ui/", pages)
	mux.Handle("/", router)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("csarrepo server starting", "addr", cfg.Addr, "database", cfg.DatabaseDriver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("csarrepo server stopped")
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
