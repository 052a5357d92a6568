package app

import (
	"context"
	"net/http"
	"time"

	"chatsync/pkg/api"
	"chatsync/pkg/logger"
)

// startHTTP starts the ops HTTP server in a goroutine and returns a channel
// that will carry any fatal server error.
func (a *App) startHTTP(_ context.Context) <-chan error {
	srv := api.NewServer(a.store, a.client)
	a.srv = &http.Server{
		Addr:              a.eff.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", a.eff.Addr)
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

func (a *App) stopHTTP() {
	if a.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Warn("http_shutdown_error", "error", err)
	}
}
