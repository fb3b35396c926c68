// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opentrusty/tenancy/internal/app"
	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/opentrusty/tenancy/internal/observability/metrics"
	"github.com/opentrusty/tenancy/internal/observability/tracing"
	transportHTTP "github.com/opentrusty/tenancy/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTelBridge:  cfg.Observability.OTELEnabled,
	})

	if err := run(cfg, log); err != nil {
		log.Error("server failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.InfoContext(ctx, "starting tenancy service",
		slog.String("version", cfg.Observability.ServiceVersion))

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.TraceSampleRate,
		Endpoint:       cfg.Observability.OTELEndpoint,
		Insecure:       cfg.Observability.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer shutdown(log, "tracer", tracer.Shutdown)

	meter, err := metrics.New(metrics.Config{
		Enabled:     cfg.Observability.MetricsEnabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize meter: %w", err)
	}
	defer shutdown(log, "meter", meter.Shutdown)

	recorder, err := metrics.NewRecorder(meter.GetMeter())
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	a, err := app.Open(ctx, cfg, log, recorder)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Migrator.MigrateControlDB(ctx, a.Main.Pool()); err != nil {
		return err
	}
	if err := meter.Register(metrics.NewPoolStatsCollector(a.Registry)); err != nil {
		return fmt.Errorf("failed to register pool collector: %w", err)
	}
	if _, err := a.WarmUp(ctx); err != nil {
		return err
	}

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Close()

	routerCfg := transportHTTP.RouterConfig{RequestTimeout: cfg.Server.RequestTimeout}
	if cfg.Observability.MetricsEnabled {
		routerCfg.Metrics = meter.Handler()
	}
	handler := transportHTTP.NewHandler(a.Service, a.Activator, a.Sessions, a.Registry)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      transportHTTP.NewRouter(handler, rateLimiter, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  requestBaseContext(ctx),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting http server", logger.Component("server"),
			slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", logger.Error(err))
	}
	log.Info("server stopped")
	return nil
}

func shutdown(log *slog.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error("shutdown failed", logger.Component(name), logger.Error(err))
	}
}

// requestBaseContext keeps the values of ctx but not its cancellation, so
// in-flight requests run to completion during Shutdown after a signal.
func requestBaseContext(ctx context.Context) func(net.Listener) context.Context {
	base := context.WithoutCancel(ctx)
	return func(net.Listener) context.Context { return base }
}
