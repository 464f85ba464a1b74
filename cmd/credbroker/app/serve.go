// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklok/credbroker/pkg/authserver"
	"github.com/stacklok/credbroker/pkg/authserver/clients"
	"github.com/stacklok/credbroker/pkg/authserver/handlers"
	"github.com/stacklok/credbroker/pkg/authserver/storage"
	"github.com/stacklok/credbroker/pkg/authserver/upstream"
	"github.com/stacklok/credbroker/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the OAuth authorization server",
	Long: `Start the HTTP server that exposes the authorize, decision, token and
credentials endpoints for registered third-party OAuth clients.`,
	RunE: serveCmdFunc,
}

var configFile string

func init() {
	serveCmd.Flags().StringVar(&configFile, "config", "credbroker.yaml", "Path to the configuration file")
}

func serveCmdFunc(cmd *cobra.Command, _ []string) error {
	// Re-initialize so the --debug flag takes effect.
	logger.Initialize()

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := clients.LoadFile(cfg.ClientsFile)
	if err != nil {
		return fmt.Errorf("failed to load client registrations: %w", err)
	}
	logger.Infof("Loaded %d registered OAuth clients", registry.Len())

	store, err := storage.NewStore(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("Error closing storage: %v", err)
		}
	}()

	platformOpts := []upstream.ClientOption{}
	if cfg.Upstream.AuthToken != "" {
		platformOpts = append(platformOpts, upstream.WithAuthToken(cfg.Upstream.AuthToken))
	}
	platform, err := upstream.NewClient(cfg.Upstream.BaseURL, platformOpts...)
	if err != nil {
		return fmt.Errorf("failed to create credential service client: %w", err)
	}

	srv, err := authserver.New(registry, store, platform, platform)
	if err != nil {
		return fmt.Errorf("failed to create authorization server: %w", err)
	}

	handler := handlers.NewHandler(srv, cfg.ConsentURL)

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", cfg.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	return nil
}
