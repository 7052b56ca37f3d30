package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/kilupskalvis/kvblob/internal/logger"
)

// ListenConfig controls the HTTP listener.
type ListenConfig struct {
	Addr         string
	TLSCert      string
	TLSKey       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// ShutdownTimeout bounds graceful shutdown. Zero means 30s.
	ShutdownTimeout time.Duration
}

// Serve runs h until ctx is cancelled, then shuts down gracefully. If ln is
// nil a listener is opened on lc.Addr.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, lc ListenConfig) error {
	srv := &http.Server{
		Addr:         lc.Addr,
		Handler:      h,
		ReadTimeout:  lc.ReadTimeout,
		WriteTimeout: lc.WriteTimeout,
		IdleTimeout:  lc.IdleTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return context.Background() },
	}

	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", lc.Addr)
		if err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if lc.TLSCert != "" && lc.TLSKey != "" {
			err = srv.ServeTLS(ln, lc.TLSCert, lc.TLSKey)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	logger.Info().Str("listen", ln.Addr().String()).Bool("tls", lc.TLSCert != "").Msg("kvblob server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down...")
	timeout := lc.ShutdownTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
