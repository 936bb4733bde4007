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

// Package export defines the handlers for building and publishing signed
// exposure key archives.
package export

import (
	"time"

	"github.com/rotwarn/exposure-key-server/internal/database"
	"github.com/rotwarn/exposure-key-server/internal/middleware"
	"github.com/rotwarn/exposure-key-server/internal/setup"
	"github.com/rotwarn/exposure-key-server/internal/storage"
	"github.com/rotwarn/exposure-key-server/pkg/keys"
	"github.com/rotwarn/exposure-key-server/pkg/observability"
	"github.com/rotwarn/exposure-key-server/pkg/secrets"
)

// Compile-time check to assert this config matches requirements.
var _ setup.BlobstoreConfigProvider = (*Config)(nil)
var _ setup.DatabaseConfigProvider = (*Config)(nil)
var _ setup.KeyManagerConfigProvider = (*Config)(nil)
var _ setup.SecretManagerConfigProvider = (*Config)(nil)
var _ setup.ObservabilityExporterConfigProvider = (*Config)(nil)
var _ middleware.MaintenanceModeProvider = (*Config)(nil)

// Config represents the configuration and associated environment variables for
// the export components.
type Config struct {
	Database              database.Config
	KeyManager            keys.Config
	SecretManager         secrets.Config
	Storage               storage.Config
	ObservabilityExporter observability.Config

	Port           string        `env:"PORT, default=8080"`
	MaintenanceMod bool          `env:"MAINTENANCE_MODE, default=false"`
	CreateTimeout  time.Duration `env:"CREATE_FILES_TIMEOUT, default=5m"`

	// SigningKey is the resource ID of the key used to sign every archive.
	// The identities advertised next to the signature come from the
	// SignatureInfo rows referenced by each export config.
	SigningKey string `env:"EXPORT_SIGNING_KEY"`

	MinRecords       int  `env:"EXPORT_FILE_MIN_RECORDS, default=1000"`
	PaddingRange     int  `env:"EXPORT_FILE_PADDING_RANGE, default=100"`
	MaxRecords       int  `env:"EXPORT_FILE_MAX_RECORDS, default=30000"`
	ExportCurrentDay bool `env:"EXPORT_CURRENT_DAY, default=false"`
}

func (c *Config) BlobstoreConfig() *storage.Config {
	return &c.Storage
}

func (c *Config) DatabaseConfig() *database.Config {
	return &c.Database
}

func (c *Config) KeyManagerConfig() *keys.Config {
	return &c.KeyManager
}

func (c *Config) SecretManagerConfig() *secrets.Config {
	return &c.SecretManager
}

func (c *Config) ObservabilityExporterConfig() *observability.Config {
	return &c.ObservabilityExporter
}

// MaintenanceMode reports whether the server should reject requests while an
// operator works on the environment.
func (c *Config) MaintenanceMode() bool {
	return c.MaintenanceMod
}
