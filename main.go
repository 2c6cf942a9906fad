package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// serveHTTPServer runs the proxy until SIGINT or SIGTERM, then drains
// in-flight detections for at most shutdownTimeout.
func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, sigCh)
}

// serveHTTPServerWithOptions serves on listener, or on server.Addr when
// listener is nil, and shuts down on the first value from signals. A closed
// signals channel waits for the server to exit on its own.
func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signals <-chan os.Signal) error {
	serveErr := make(chan error, 1)
	go func() {
		serve := server.ListenAndServe
		if listener != nil {
			serve = func() error { return server.Serve(listener) }
		}
		if err := serve(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		return err
	case sig, ok := <-signals:
		if !ok {
			return <-serveErr
		}
		logger.Info("shutting down proxy", zap.String("signal", sig.String()), zap.Duration("grace", shutdownTimeout))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown proxy: %w", err)
	}
	return <-serveErr
}
