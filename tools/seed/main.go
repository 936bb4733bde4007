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

// Package main provides a utility that bootstraps a local database with an
// export config, a signing key identity, and random exposures so that the
// export server has something to publish.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotwarn/exposure-key-server/internal/buildinfo"
	"github.com/rotwarn/exposure-key-server/internal/database"
	exportdatabase "github.com/rotwarn/exposure-key-server/internal/export/database"
	exportmodel "github.com/rotwarn/exposure-key-server/internal/export/model"
	publishdb "github.com/rotwarn/exposure-key-server/internal/publish/database"
	publishmodel "github.com/rotwarn/exposure-key-server/internal/publish/model"
	"github.com/rotwarn/exposure-key-server/internal/setup"
	"github.com/rotwarn/exposure-key-server/pkg/logging"
	"github.com/rotwarn/exposure-key-server/pkg/util"
)

var (
	numKeys      = flag.Int("keys", 450, "number of random exposures to insert per diagnosis type")
	region       = flag.String("region", "AT", "region for the seeded data")
	bucketName   = flag.String("bucket", "exposure-archive", "bucket name for the seeded export config")
	filenameRoot = flag.String("filename-root", "AT", "filename root for the seeded export config")
)

func main() {
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	logger := logging.NewLoggerFromEnv().Named("tools.seed").
		With("build_id", buildinfo.ExportServer.ID()).
		With("build_tag", buildinfo.ExportServer.Tag())
	ctx = logging.WithLogger(ctx, logger)

	err := realMain(ctx)
	done()

	if err != nil {
		logger.Fatal(err)
	}
}

func realMain(ctx context.Context) error {
	flag.Parse()

	logger := logging.FromContext(ctx)

	var config database.Config
	env, err := setup.Setup(ctx, &config)
	if err != nil {
		return fmt.Errorf("failed to setup database: %w", err)
	}
	defer env.Close(ctx)

	db := env.Database()
	exportDB := exportdatabase.New(db)
	pubDB := publishdb.New(db)

	// Create the signing key identity advertised in export signatures.
	si := &exportmodel.SignatureInfo{
		SigningKeyVersion: "v1",
		SigningKeyID:      "310",
	}
	if err := exportDB.AddSignatureInfo(ctx, si); err != nil {
		return fmt.Errorf("failed to create signature info: %w", err)
	}
	logger.Infow("created signature info", "id", si.ID)

	// Create an export config covering the seeded region.
	ec := &exportmodel.ExportConfig{
		BucketName:        *bucketName,
		FilenameRoot:      *filenameRoot,
		Region:            *region,
		BigFileDays:       14,
		MediumFileDays:    7,
		DailyFilesDays:    7,
		RedWarningDays:    14,
		YellowWarningDays: 7,
		SignatureInfoIDs:  []int64{si.ID},
		From:              time.Now().UTC(),
	}
	if err := exportDB.AddExportConfig(ctx, ec); err != nil {
		return fmt.Errorf("failed to create export config: %w", err)
	}
	logger.Infow("created export config", "config", ec.ConfigID)

	// Insert random exposures for both exported diagnosis types.
	now := time.Now().UTC()
	for _, diagnosis := range []string{publishmodel.DiagnosisTypeRedWarning, publishmodel.DiagnosisTypeYellowWarning} {
		exposures, err := util.GenerateExposures(*numKeys, *region, diagnosis, now)
		if err != nil {
			return fmt.Errorf("failed to generate exposures: %w", err)
		}
		n, err := pubDB.InsertExposures(ctx, exposures)
		if err != nil {
			return fmt.Errorf("failed to insert exposures: %w", err)
		}
		logger.Infow("seeded exposures", "diagnosis", diagnosis, "count", n)
	}

	return nil
}
