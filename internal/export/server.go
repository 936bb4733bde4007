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

package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotwarn/exposure-key-server/internal/buildinfo"
	"github.com/rotwarn/exposure-key-server/internal/database"
	exportdatabase "github.com/rotwarn/exposure-key-server/internal/export/database"
	"github.com/rotwarn/exposure-key-server/internal/middleware"
	publishdb "github.com/rotwarn/exposure-key-server/internal/publish/database"
	"github.com/rotwarn/exposure-key-server/internal/serverenv"
	"github.com/rotwarn/exposure-key-server/pkg/logging"
	"github.com/rotwarn/exposure-key-server/pkg/observability"
	"github.com/rotwarn/exposure-key-server/pkg/render"
	"github.com/rotwarn/exposure-key-server/pkg/server"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"go.opencensus.io/stats"
)

// Global lock id, ensuring a single node runs a given export cycle.
const exportLockID = "export_files"

// Notifier is told when an export tick finishes so that follow-up work, like
// cleanup of aged-out archives, can run behind it.
type Notifier interface {
	ExportFinished(ctx context.Context)
}

type noopNotifier struct{}

func (noopNotifier) ExportFinished(context.Context) {}

// Server hosts the export endpoints.
type Server struct {
	config    *Config
	env       *serverenv.ServerEnv
	db        *database.DB
	exportDB  *exportdatabase.ExportDB
	publishDB *publishdb.PublishDB
	notifier  Notifier
	h         *render.Renderer
}

// NewServer makes a Server.
func NewServer(config *Config, env *serverenv.ServerEnv) (*Server, error) {
	// Validate config.
	if env.Database() == nil {
		return nil, fmt.Errorf("export.NewServer requires Database present in the ServerEnv")
	}
	if env.Blobstore() == nil {
		return nil, fmt.Errorf("export.NewServer requires Blobstore present in the ServerEnv")
	}
	if env.GetKeyManager() == nil {
		return nil, fmt.Errorf("export.NewServer requires KeyManager present in the ServerEnv")
	}

	db := env.Database()
	return &Server{
		config:    config,
		env:       env,
		db:        db,
		exportDB:  exportdatabase.New(db),
		publishDB: publishdb.New(db),
		notifier:  noopNotifier{},
		h:         render.NewRenderer(),
	}, nil
}

// SetNotifier replaces the default no-op notifier.
func (s *Server) SetNotifier(n Notifier) {
	s.notifier = n
}

// Routes defines and returns the routes for this server.
func (s *Server) Routes(ctx context.Context) *mux.Router {
	logger := logging.FromContext(ctx).Named("export")

	r := mux.NewRouter()
	r.Use(middleware.Recovery())
	r.Use(middleware.PopulateRequestID())
	r.Use(middleware.PopulateObservability(buildinfo.ExportServer))
	r.Use(middleware.PopulateLogger(logger))
	r.Use(middleware.ProcessMaintenance(s.config))

	r.Handle("/health", server.HandleHealthz(s.db))
	r.Handle("/export", s.handleExport())

	return r
}

// handleExport runs one export tick: every due config gets its archives and
// index rebuilt, guarded by a database lock against peer nodes.
func (s *Server) handleExport() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		logger := logging.FromContext(ctx).Named("handleExport").
			With("lock_id", exportLockID)

		startTime := time.Now()
		blame := observability.BlameNone
		result := observability.ResultOK
		defer func() {
			observability.RecordLatency(ctx, startTime, mExportLatencyMs, &blame, &result)
		}()

		ctx, cancel := context.WithTimeout(ctx, s.config.CreateTimeout)
		defer cancel()

		// Cleanup runs behind every completed tick, including ticks lost to a
		// peer, and always after the lock defer below has released the lock.
		// Only a failed tick skips it.
		ran := false
		defer func() {
			if ran {
				s.notifier.ExportFinished(ctx)
			}
		}()

		// Obtain lock to make sure there are no other processes exporting.
		unlock, err := s.db.Lock(ctx, exportLockID, s.config.CreateTimeout)
		if err != nil {
			if errors.Is(err, database.ErrAlreadyLocked) {
				stats.Record(ctx, mLockContention.M(1))
				result = observability.ResultError("ALREADY_LOCKED")
				logger.Infow("already locked")
				ran = true
				s.h.RenderJSON(w, http.StatusOK, nil)
				return
			}

			blame = observability.BlameServer
			result = observability.ResultError("FAILED_TO_LOCK")
			logger.Errorw("failed to lock", "error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, err)
			return
		}
		defer func() {
			if err := unlock(); err != nil {
				logger.Errorw("failed to unlock", "error", err)
				return
			}
			logger.Debugw("released export lock")
		}()

		now := time.Now().UTC()
		configs, err := s.exportDB.GetAllDueExportConfigs(ctx, now)
		if err != nil {
			stats.Record(ctx, mExportFailure.M(1))
			blame = observability.BlameServer
			result = observability.ResultError("FAILED_TO_GET_CONFIGS")
			logger.Errorw("failed to load export configs", "error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, err)
			return
		}

		var merr *multierror.Error
		for _, ec := range configs {
			if err := ec.Validate(); err != nil {
				// A misconfigured config must not block the remaining ones.
				stats.Record(ctx, mConfigSkipped.M(1))
				logger.Errorw("skipping invalid export config", "config", ec.ConfigID, "error", err)
				merr = multierror.Append(merr, fmt.Errorf("config %d: %w", ec.ConfigID, err))
				continue
			}

			if err := s.exportConfig(ctx, ec, now); err != nil {
				stats.Record(ctx, mExportFailure.M(1))
				blame = observability.BlameServer
				result = observability.ResultError("EXPORT_FAILED")
				logger.Errorw("failed to export config", "config", ec.ConfigID, "error", err)
				s.h.RenderJSON(w, http.StatusInternalServerError, err)
				return
			}
		}
		if err := merr.ErrorOrNil(); err != nil {
			logger.Warnw("skipped export configs", "error", err)
		}

		logger.Infow("processed export configs", "count", len(configs))
		ran = true
		s.h.RenderJSON(w, http.StatusOK, nil)
	})
}
