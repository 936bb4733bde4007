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

// Package migrate handles the configuration and execution of database migrations
package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gomigrate "github.com/golang-migrate/migrate/v4"
	"github.com/rotwarn/exposure-key-server/internal/serverenv"
	"github.com/rotwarn/exposure-key-server/pkg/logging"
	"go.uber.org/zap"

	// imported to register the postgres migration driver
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	// imported to register the "file" source migration driver
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// New makes a new, configured Migration.
func New(config *Config, env *serverenv.ServerEnv) (*Migration, error) {
	// The database in the environment has already verified connectivity and
	// resolved any secret references in the config.
	if env.Database() == nil {
		return nil, fmt.Errorf("migrate.New requires Database present in the ServerEnv")
	}

	return &Migration{
		config: config,
		env:    env,
	}, nil
}

// Migration wraps the configuration required to execute a migration against the database.
type Migration struct {
	config *Config
	env    *serverenv.ServerEnv
}

// Run applies any outstanding migrations from the configured migrations path
// against the database.
func (m *Migration) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	source := fmt.Sprintf("file://%s", m.config.Migrations)
	mig, err := gomigrate.New(source, m.config.DatabaseConfig().ConnectionURL())
	if err != nil {
		return fmt.Errorf("failed to create migrate: %w", err)
	}
	mig.Log = &migrateLogger{logger}

	if err := mig.Up(); err != nil && !errors.Is(err, gomigrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	srcErr, dbErr := mig.Close()
	if srcErr != nil {
		return fmt.Errorf("migrate source error: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("migrate database error: %w", dbErr)
	}
	return nil
}

// migrateLogger routes the migration tool's output through the structured logger.
type migrateLogger struct {
	logger *zap.SugaredLogger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
