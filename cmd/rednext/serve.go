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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stevemurr/rednext/config"
	"github.com/stevemurr/rednext/handler"
	"github.com/stevemurr/rednext/store"
)

const shutdownTimeout = 10 * time.Second

// serverHandler wires the catalog into the HTTP service with its middleware.
func serverHandler(cat store.Catalog, sc config.ServerConfig, logger *slog.Logger) http.Handler {
	h := handler.New(cat, logger)
	return handler.RequestLog(handler.CORS(h, sc.AllowedOrigins), logger)
}

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured catalog over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr()
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           serverHandler(cat, a.cfg.Server, a.logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				a.logger.Info("rednext server starting",
					"addr", addr, "backend", a.cfg.Backend, "location", a.cfg.Location())
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				a.logger.Info("shutting down")
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(sctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, host:port)")
	return cmd
}
