package main

import (
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/julienbonastre/fba-inbound-helpers/internal/handlers"
	"github.com/julienbonastre/fba-inbound-helpers/internal/store"
)

//go:embed web/*
var webFS embed.FS

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the placement option selection UI",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func sessionKey() ([]byte, error) {
	if cfg.Server.SessionKey == "" {
		logger.Warn("server.session_key not set, sessions will not survive a restart")
		return securecookie.GenerateRandomKey(32), nil
	}
	if key, err := base64.StdEncoding.DecodeString(cfg.Server.SessionKey); err == nil && len(key) >= 32 {
		return key, nil
	}
	if len(cfg.Server.SessionKey) < 32 {
		return nil, fmt.Errorf("server.session_key must be at least 32 bytes")
	}
	return []byte(cfg.Server.SessionKey), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := sessionKey()
	if err != nil {
		return err
	}
	sessionStore := store.NewSessionStore(a.db, key)
	sessionStore.SetOptions(&sessions.Options{
		Path:     "/",
		MaxAge:   cfg.Server.SessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	mux := http.NewServeMux()
	handlers.NewHandler(a.workflows, a.client, sessionStore, a.metrics, logger).Routes(mux)

	webContent, err := fs.Sub(webFS, "web")
	if err != nil {
		return err
	}
	mux.Handle("GET /", http.FileServer(http.FS(webContent)))

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go housekeeping(ctx, a.db, sessionStore)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("selection UI listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// housekeeping purges expired sessions and option cache entries
func housekeeping(ctx context.Context, db *store.DB, sessionStore *store.SessionStore) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sessionStore.CleanupExpiredSessions(); err != nil {
				logger.Warn("session cleanup failed", zap.Error(err))
			}
			if n, err := db.PurgeExpiredPlacementOptions(); err != nil {
				logger.Warn("option cache purge failed", zap.Error(err))
			} else if n > 0 {
				logger.Debug("purged expired placement options", zap.Int64("plans", n))
			}
		}
	}
}
