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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opentrusty/tenancy/internal/app"
	"github.com/opentrusty/tenancy/internal/cli"
	"github.com/opentrusty/tenancy/internal/config"
	"github.com/opentrusty/tenancy/internal/observability/logger"
	"github.com/samber/oops"
)

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "tenantctl",
		Output:      os.Stderr,
	})

	a, err := app.Open(ctx, cfg, log, nil)
	if err != nil {
		return oops.In("tenantctl").Wrapf(err, "Failed to initialise tenancy components")
	}
	defer a.Close()

	rootCmd := cli.SetupCommands(ctx, cli.NewCommandFactory(a.Tenants, a.Service, a))

	err = rootCmd.ExecuteContext(ctx)
	if err != nil {
		return oops.In("tenantctl").Wrapf(err, "error executing command")
	}

	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load the config", logger.Error(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		stop()
		slog.Error("tenantctl failed", logger.Error(err))
		os.Exit(1)
	}
}
