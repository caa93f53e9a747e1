// Package serverutil runs an http.Server until its context is cancelled and
// then drains it.
package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// TLSConfig names the certificate and key files for a TLS listener.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config controls how Run serves and shuts down.
type Config struct {
	Server          *http.Server
	TLS             TLSConfig
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	// Ready is called with the bound address once the listener is open.
	Ready func(addr net.Addr)
}

// DefaultShutdownTimeout bounds graceful shutdown when the context is cancelled.
const DefaultShutdownTimeout = 10 * time.Second

// Run listens on Server.Addr and serves until ctx is cancelled or serving
// fails. Cancellation triggers a graceful shutdown bounded by
// ShutdownTimeout; a clean shutdown returns nil.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return errors.New("server is required")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return errors.New("both TLS cert file and key file must be provided")
	}
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := listen(cfg)
	if err != nil {
		return err
	}
	if cfg.Ready != nil {
		cfg.Ready(ln.Addr())
	}
	logger.Info("http server listening", "addr", ln.Addr().String(), "tls", cfg.TLS.CertFile != "")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := cfg.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		logger.Info("http server shutting down", "timeout", timeout)
		if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return group.Wait()
}

func listen(cfg Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return nil, err
	}
	if cfg.TLS.CertFile == "" {
		return ln, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	tlsCfg := cfg.Server.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		tlsCfg = tlsCfg.Clone()
	}
	tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
	cfg.Server.TLSConfig = tlsCfg
	return tls.NewListener(ln, tlsCfg), nil
}
