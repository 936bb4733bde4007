// Copyright 2020 the Exposure Key Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This package is the service that builds and publishes signed exposure key
// archives; it is intended to be invoked over HTTP by a scheduler.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotwarn/exposure-key-server/internal/buildinfo"
	"github.com/rotwarn/exposure-key-server/internal/export"
	"github.com/rotwarn/exposure-key-server/internal/setup"
	"github.com/rotwarn/exposure-key-server/pkg/logging"
	"github.com/rotwarn/exposure-key-server/pkg/server"
)

func main() {
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	logger := logging.NewLoggerFromEnv().
		With("build_id", buildinfo.ExportServer.ID()).
		With("build_tag", buildinfo.ExportServer.Tag())
	ctx = logging.WithLogger(ctx, logger)

	defer func() {
		done()
		if r := recover(); r != nil {
			logger.Fatalw("application panic", "panic", r)
		}
	}()

	err := realMain(ctx)
	done()

	if err != nil {
		logger.Fatal(err)
	}
	logger.Info("successful shutdown")
}

func realMain(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	var config export.Config
	env, err := setup.Setup(ctx, &config)
	if err != nil {
		return fmt.Errorf("setup.Setup: %w", err)
	}
	defer env.Close(ctx)

	exportServer, err := export.NewServer(&config, env)
	if err != nil {
		return fmt.Errorf("export.NewServer: %w", err)
	}

	srv, err := server.New(config.Port)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}
	logger.Info("listening on: ", config.Port)

	return srv.ServeHTTPHandler(ctx, exportServer.Routes(ctx))
}
