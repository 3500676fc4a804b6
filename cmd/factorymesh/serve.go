package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/factorymesh"
	"github.com/hupe1980/factorymesh/a2a"
)

const shutdownTimeout = 30 * time.Second

// Run serves the workflow endpoint until SIGINT or SIGTERM.
func (s *ServeCmd) Run(cli *CLI) error {
	cfg, logger, err := cli.load("server")
	if err != nil {
		return err
	}
	if s.Listen != "" {
		cfg.Server.Listen = s.Listen
	}

	mesh, err := factorymesh.New(cfg, func(o *factorymesh.Options) { o.Logger = logger })
	if err != nil {
		return err
	}
	defer mesh.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      mesh.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Slog().Handler(), slog.LevelError),
	}

	logger.Info("server.listen", "addr", srv.Addr, "version", version)
	return serveUntilSignal(srv)
}

// Run serves one stage over the remote agent protocol.
func (h *HostCmd) Run(cli *CLI) error {
	cfg, logger, err := cli.load("host")
	if err != nil {
		return err
	}

	mesh, err := factorymesh.New(cfg, func(o *factorymesh.Options) { o.Logger = logger })
	if err != nil {
		return err
	}
	defer mesh.Close()

	stage, err := mesh.Stage(h.Stage)
	if err != nil {
		return err
	}

	handler := a2a.NewHandler(stage, func(o *a2a.HandlerOptions) {
		o.Version = version
		o.PublicURL = h.PublicURL
		o.Logger = logger
	})

	srv := &http.Server{
		Addr:        h.Listen,
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		ErrorLog:    slog.NewLogLogger(logger.Slog().Handler(), slog.LevelError),
	}

	logger.Info("host.listen", "addr", srv.Addr, "stage", stage.Name())
	return serveUntilSignal(srv)
}

func serveUntilSignal(srv *http.Server) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
