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

// Package setup provides common logic for configuring the various services.
package setup

import (
	"context"
	"fmt"

	"github.com/rotwarn/exposure-key-server/internal/database"
	"github.com/rotwarn/exposure-key-server/internal/serverenv"
	"github.com/rotwarn/exposure-key-server/internal/storage"
	"github.com/rotwarn/exposure-key-server/pkg/keys"
	"github.com/rotwarn/exposure-key-server/pkg/logging"
	"github.com/rotwarn/exposure-key-server/pkg/observability"
	"github.com/rotwarn/exposure-key-server/pkg/secrets"

	"github.com/sethvargo/go-envconfig"
)

// BlobstoreConfigProvider provides the information about current storage
// configuration.
type BlobstoreConfigProvider interface {
	BlobstoreConfig() *storage.Config
}

// DatabaseConfigProvider ensures that the environment config can provide a DB
// config. All binaries in this application connect to the database via the
// same method.
type DatabaseConfigProvider interface {
	DatabaseConfig() *database.Config
}

// KeyManagerConfigProvider is a marker interface indicating the key manager
// should be installed.
type KeyManagerConfigProvider interface {
	KeyManagerConfig() *keys.Config
}

// SecretManagerConfigProvider signals that the config knows how to configure
// a secret manager.
type SecretManagerConfigProvider interface {
	SecretManagerConfig() *secrets.Config
}

// ObservabilityExporterConfigProvider signals that the config knows how to
// configure an observability exporter.
type ObservabilityExporterConfigProvider interface {
	ObservabilityExporterConfig() *observability.Config
}

// Setup runs common initialization code for all servers. See SetupWith.
func Setup(ctx context.Context, config interface{}) (*serverenv.ServerEnv, error) {
	return SetupWith(ctx, config, envconfig.OsLookuper())
}

// SetupWith processes the given configuration using envconfig. It is
// responsible for establishing database connections, building the key
// manager, resolving secrets, and constructing the server environment. The
// dependencies attached to the environment are determined by the interfaces
// the given config implements.
func SetupWith(ctx context.Context, config interface{}, l envconfig.Lookuper) (*serverenv.ServerEnv, error) {
	logger := logging.FromContext(ctx)

	// Build a list of mutators. This list will grow as we initialize more of
	// the configuration, such as the secret manager.
	var mutatorFuncs []envconfig.MutatorFunc

	// Load the secret manager first - other processors may need to resolve
	// secrets.
	var sm secrets.SecretManager
	{
		var smConfig secrets.Config
		if err := envconfig.ProcessWith(ctx, &smConfig, l); err != nil {
			return nil, fmt.Errorf("unable to process secret configuration: %w", err)
		}

		var err error
		sm, err = secrets.SecretManagerFor(ctx, &smConfig)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to secret manager: %w", err)
		}

		// Enable caching, if a TTL was provided.
		if ttl := smConfig.SecretCacheTTL; ttl > 0 {
			sm, err = secrets.WrapCacher(ctx, sm, ttl)
			if err != nil {
				return nil, fmt.Errorf("unable to create secret manager cache: %w", err)
			}
		}

		// Enable secret expansion, if configured.
		if smConfig.SecretExpansion {
			sm, err = secrets.WrapJSONExpander(ctx, sm)
			if err != nil {
				return nil, fmt.Errorf("unable to create secret expander: %w", err)
			}
		}

		// Update the mutators to process secrets.
		mutatorFuncs = append(mutatorFuncs, secrets.Resolver(sm, &smConfig))
	}

	// Process the config. Env vars are resolved through the secret manager at
	// this point.
	if err := envconfig.ProcessWith(ctx, config, l, mutatorFuncs...); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}
	logger.Infow("provided", "config", config)

	serverEnvOpts := []serverenv.Option{}

	if _, ok := config.(SecretManagerConfigProvider); ok {
		serverEnvOpts = append(serverEnvOpts, serverenv.WithSecretManager(sm))
	}

	if provider, ok := config.(ObservabilityExporterConfigProvider); ok {
		oeConfig := provider.ObservabilityExporterConfig()
		oe, err := observability.NewFromEnv(oeConfig)
		if err != nil {
			return nil, fmt.Errorf("unable to create observability provider: %w", err)
		}
		if err := oe.StartExporter(ctx); err != nil {
			return nil, fmt.Errorf("error initializing observability exporter: %w", err)
		}
		logger.Infow("observability", "exporter", oeConfig.ExporterType)
		serverEnvOpts = append(serverEnvOpts, serverenv.WithObservabilityExporter(oe))
	}

	if provider, ok := config.(KeyManagerConfigProvider); ok {
		kmConfig := provider.KeyManagerConfig()
		km, err := keys.KeyManagerFor(ctx, kmConfig)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to key manager: %w", err)
		}
		logger.Infow("key manager", "type", kmConfig.KeyManagerType)
		serverEnvOpts = append(serverEnvOpts, serverenv.WithKeyManager(km))
	}

	if provider, ok := config.(BlobstoreConfigProvider); ok {
		bsConfig := provider.BlobstoreConfig()
		blobStore, err := storage.BlobstoreFor(ctx, bsConfig.BlobstoreType)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to storage system: %w", err)
		}
		logger.Infow("blobstore", "type", bsConfig.BlobstoreType)
		serverEnvOpts = append(serverEnvOpts, serverenv.WithBlobStorage(blobStore))
	}

	// Database connection is established last - if anything above failed, we
	// haven't consumed pool resources.
	if provider, ok := config.(DatabaseConfigProvider); ok {
		dbConfig := provider.DatabaseConfig()
		db, err := database.NewFromEnv(ctx, dbConfig)
		if err != nil {
			return nil, fmt.Errorf("unable to connect to database: %w", err)
		}
		logger.Infow("database", "host", dbConfig.Host)
		serverEnvOpts = append(serverEnvOpts, serverenv.WithDatabase(db))
	}

	return serverenv.New(ctx, serverEnvOpts...), nil
}
