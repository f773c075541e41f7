// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/leaninspect/services/inspect/telemetry"
	"github.com/AleutianAI/leaninspect/services/inspect/viewer"
)

// shutdownGrace bounds in-flight requests after a stop signal.
const shutdownGrace = 10 * time.Second

func runServe(cmd *cobra.Command, args []string, a *app) error {
	gin.SetMode(gin.ReleaseMode)
	srv, err := viewer.NewServer(viewer.ServerConfig{
		Dir:            serveDir,
		SourceRoot:     serveSourceRoot,
		CacheSize:      a.cfg.Serve.PageCacheSize,
		MetricsHandler: telemetry.MetricsHandler(),
		Logger:         a.logger.Slog(),
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.Serve.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Serve.Addr, err)
	}
	return serve(cmd.Context(), a, ln, srv.Handler())
}

// serve runs handler on ln until ctx is cancelled, then drains in-flight
// requests.
func serve(ctx context.Context, a *app, ln net.Listener, handler http.Handler) error {
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.printer.Success(fmt.Sprintf("serving %s on http://%s", serveDir, ln.Addr()))
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("shutting down viewer server", slog.String("addr", ln.Addr().String()))
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
