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
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	mrand "math/rand"
	"time"

	"github.com/rotwarn/exposure-key-server/internal/export/model"
	publishdb "github.com/rotwarn/exposure-key-server/internal/publish/database"
	publishmodel "github.com/rotwarn/exposure-key-server/internal/publish/model"
	"github.com/rotwarn/exposure-key-server/pkg/cryptorand"
	"github.com/rotwarn/exposure-key-server/pkg/logging"
	"github.com/rotwarn/exposure-key-server/pkg/timeutils"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/sync/errgroup"
)

const (
	filenameSuffix       = ".zip"
	blobOperationTimeout = 50 * time.Second

	dailyBatchPrefix = "batch"
	fullBatchPrefix  = "batch_full"
)

// exportBatch is one windowed batch of exposures destined for a set of
// archive files sharing a filename prefix and window timestamps.
type exportBatch struct {
	prefix         string
	intervalNumber int32
	startTimestamp time.Time
	endTimestamp   time.Time
	exposures      []*publishmodel.Exposure
}

// exportConfig materializes all archives for one export config and publishes
// the index that points at them. The run instant now doubles as the file
// date, which names the object folder for everything this run writes.
func (s *Server) exportConfig(ctx context.Context, ec *model.ExportConfig, now time.Time) error {
	logger := logging.FromContext(ctx).Named("exportConfig").
		With("config", ec.ConfigID)

	fileDate := now
	startOfToday := timeutils.UTCMidnight(now)
	until := startOfToday
	if s.config.ExportCurrentDay {
		until = now
	}

	allExposures, err := s.collectExposures(ctx, ec, startOfToday, until)
	if err != nil {
		return err
	}

	signers, err := s.signersForConfig(ctx, ec, now)
	if err != nil {
		return err
	}

	indexFile := &model.IndexFile{}

	fullBig, err := s.exportFullBatch(ctx, ec, fileDate, ec.BigFileDays, startOfToday, until, allExposures, signers)
	if err != nil {
		return err
	}
	indexFile.FullBigBatch = fullBig

	fullMedium, err := s.exportFullBatch(ctx, ec, fileDate, ec.MediumFileDays, startOfToday, until, allExposures, signers)
	if err != nil {
		return err
	}
	indexFile.FullMediumBatch = fullMedium

	indexFile.DailyBatches = []*model.IndexFileBatch{}
	date := timeutils.SubtractDays(startOfToday, uint(ec.DailyFilesDays))
	for date.Before(until) {
		next := timeutils.AddDays(date, 1)
		endTimestamp := next
		if endTimestamp.After(fileDate) {
			endTimestamp = fileDate
		}
		startInterval := publishmodel.IntervalNumber(date)

		logger.Infow("creating daily export file", "date", date.Format("2006-01-02"))
		eb := &exportBatch{
			prefix:         dailyBatchPrefix,
			intervalNumber: startInterval,
			startTimestamp: date,
			endTimestamp:   endTimestamp,
			exposures:      filterByInterval(allExposures, startInterval, publishmodel.IntervalNumber(next)),
		}
		files, err := s.exportExposures(ctx, ec, fileDate, eb, signers)
		if err != nil {
			return err
		}
		indexFile.DailyBatches = append(indexFile.DailyBatches, &model.IndexFileBatch{
			IntervalNumber: int64(startInterval),
			Files:          files,
		})
		date = next
	}

	indexName, err := s.createIndex(ctx, ec, fileDate, indexFile)
	if err != nil {
		return fmt.Errorf("creating index file: %w", err)
	}

	// The stable alias is replaced last so a polling client never sees an
	// index that references archives still being uploaded.
	copyCtx, cancel := context.WithTimeout(ctx, blobOperationTimeout)
	err = s.env.Blobstore().CopyObject(copyCtx, ec.BucketName, indexName, exportAliasFilename(ec))
	cancel()
	if err != nil {
		return fmt.Errorf("copying index to %s: %w", exportAliasFilename(ec), err)
	}

	stats.RecordWithTags(ctx, []tag.Mutator{
		tag.Upsert(ExportConfigIDTagKey, fmt.Sprintf("%d", ec.ConfigID)),
		tag.Upsert(ExportRegionTagKey, ec.Region),
	}, mConfigCompletion.M(1))
	logger.Infow("export config completed", "region", ec.Region)
	return nil
}

// collectExposures assembles the master pool for a config: red and yellow
// warnings, each reaching back its own configured number of days. Green
// records never participate in exports.
func (s *Server) collectExposures(ctx context.Context, ec *model.ExportConfig, startOfToday, until time.Time) ([]*publishmodel.Exposure, error) {
	var exposures []*publishmodel.Exposure
	for _, pool := range []struct {
		diagnosisType string
		days          int
	}{
		{publishmodel.DiagnosisTypeRedWarning, ec.RedWarningDays},
		{publishmodel.DiagnosisTypeYellowWarning, ec.YellowWarningDays},
	} {
		criteria := publishdb.IterateExposuresCriteria{
			Region:         ec.Region,
			DiagnosisType:  pool.diagnosisType,
			SinceTimestamp: timeutils.SubtractDays(startOfToday, uint(pool.days)),
			UntilTimestamp: until,
		}
		if _, err := s.publishDB.IterateExposures(ctx, criteria, func(exp *publishmodel.Exposure) error {
			exposures = append(exposures, exp)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("iterating %s exposures: %w", pool.diagnosisType, err)
		}
	}
	return exposures, nil
}

// exportFullBatch writes the archives for one of the cumulative windows that
// reaches back the given number of days from UTC midnight. The marshaled
// window is [startOfToday, until] even though eligibility is decided on
// interval numbers from the window start; released clients depend on those
// timestamps.
func (s *Server) exportFullBatch(ctx context.Context, ec *model.ExportConfig, fileDate time.Time, days int, startOfToday, until time.Time, pool []*publishmodel.Exposure, signers []*Signer) (*model.IndexFileBatch, error) {
	logger := logging.FromContext(ctx)

	startDate := timeutils.SubtractDays(startOfToday, uint(days))
	startInterval := publishmodel.IntervalNumber(startDate)
	endInterval := publishmodel.IntervalNumber(until)

	logger.Infow("creating full export file",
		"config", ec.ConfigID,
		"start", startDate.Format("2006-01-02"),
		"days", days)
	eb := &exportBatch{
		prefix:         fmt.Sprintf("%s%d", fullBatchPrefix, days),
		intervalNumber: startInterval,
		startTimestamp: startOfToday,
		endTimestamp:   until,
		exposures:      filterByInterval(pool, startInterval, endInterval),
	}
	files, err := s.exportExposures(ctx, ec, fileDate, eb, signers)
	if err != nil {
		return nil, err
	}
	return &model.IndexFileBatch{
		IntervalNumber: int64(startInterval),
		Files:          files,
	}, nil
}

// filterByInterval returns the exposures whose interval number falls in
// [startInterval, endInterval).
func filterByInterval(exposures []*publishmodel.Exposure, startInterval, endInterval int32) []*publishmodel.Exposure {
	var filtered []*publishmodel.Exposure
	for _, exp := range exposures {
		if exp.IntervalNumber >= startInterval && exp.IntervalNumber < endInterval {
			filtered = append(filtered, exp)
		}
	}
	return filtered
}

// signersForConfig loads the signing identities still valid at now. The
// identities are metadata only; all of them sign with the one configured
// server key.
func (s *Server) signersForConfig(ctx context.Context, ec *model.ExportConfig, now time.Time) ([]*Signer, error) {
	sigInfos, err := s.exportDB.LookupSignatureInfos(ctx, ec.SignatureInfoIDs, now)
	if err != nil {
		return nil, fmt.Errorf("loading signature infos for config %d: %w", ec.ConfigID, err)
	}
	if len(sigInfos) == 0 {
		return nil, nil
	}

	signer, err := s.env.GetKeyManager().NewSigner(ctx, s.config.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("unable to get signer for key %q: %w", s.config.SigningKey, err)
	}

	signers := make([]*Signer, 0, len(sigInfos))
	for _, si := range sigInfos {
		signers = append(signers, &Signer{SignatureInfo: si, Signer: signer})
	}
	return signers, nil
}

// exportExposures writes the archive files for one batch, splitting the
// exposures into files of at most MaxRecords keys, and returns the published
// paths in batch order.
func (s *Server) exportExposures(ctx context.Context, ec *model.ExportConfig, fileDate time.Time, eb *exportBatch, signers []*Signer) ([]string, error) {
	logger := logging.FromContext(ctx)

	// Build up the groups in memory so the total number of files is known
	// before the first one is written; every file embeds that total.
	var groups [][]*publishmodel.Exposure
	var group []*publishmodel.Exposure
	for _, exp := range eb.exposures {
		group = append(group, exp)
		if len(group) == s.config.MaxRecords {
			groups = append(groups, group)
			group = nil
		}
	}
	// Create a group for any remaining keys.
	if len(group) > 0 {
		groups = append(groups, group)
	}

	if len(groups) == 0 {
		logger.Infow("no records in batch window",
			"config", ec.ConfigID,
			"prefix", eb.prefix,
			"from", eb.startTimestamp.Format(time.RFC3339),
			"until", eb.endTimestamp.Format(time.RFC3339))
		return []string{}, nil
	}

	// Pad the last group up to the batch floor so that published file sizes
	// do not reveal the real number of cases.
	if last := len(groups) - 1; len(groups[last]) < s.config.MinRecords {
		padded, err := ensureMinNumExposures(groups[last], ec.Region, s.config.MinRecords, s.config.PaddingRange)
		if err != nil {
			return nil, fmt.Errorf("ensureMinNumExposures: %w", err)
		}
		groups[last] = padded
	}

	batchSize := len(groups)
	objectNames := make([]string, batchSize)
	g, gctx := errgroup.WithContext(ctx)
	for i, exposures := range groups {
		i, exposures := i, exposures
		g.Go(func() error {
			objectName, err := s.createFile(gctx, ec, fileDate, createFileInfo{
				exposures: exposures,
				batch:     eb,
				batchNum:  i + 1,
				batchSize: batchSize,
				signers:   signers,
			})
			if err != nil {
				return fmt.Errorf("creating export file %d of %d: %w", i+1, batchSize, err)
			}
			logger.Infow("wrote export file", "object", objectName, "config", ec.ConfigID)
			objectNames[i] = objectName
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	paths := make([]string, 0, batchSize)
	for _, objectName := range objectNames {
		paths = append(paths, exportedFilePath(ec.BucketName, objectName))
	}
	return paths, nil
}

type createFileInfo struct {
	exposures []*publishmodel.Exposure
	batch     *exportBatch
	batchNum  int
	batchSize int
	signers   []*Signer
}

func (s *Server) createFile(ctx context.Context, ec *model.ExportConfig, fileDate time.Time, cfi createFileInfo) (string, error) {
	logger := logging.FromContext(ctx)

	data, digest, err := MarshalExportFile(cfi.batch.startTimestamp, cfi.batch.endTimestamp, ec.Region, cfi.exposures, cfi.batchNum, cfi.batchSize, cfi.signers)
	if err != nil {
		return "", fmt.Errorf("marshalling export file: %w", err)
	}

	objectName := exportFilename(ec, cfi.batch, fileDate, cfi.batchNum)
	logger.Debugw("marshalled archive",
		"object", objectName,
		"digest", digest,
		"keys", len(cfi.exposures))

	blobCtx, cancel := context.WithTimeout(ctx, blobOperationTimeout)
	err = s.env.Blobstore().CreateObject(blobCtx, ec.BucketName, objectName, data, true)
	cancel()
	if err != nil {
		return "", fmt.Errorf("creating file %s in bucket %s: %w", objectName, ec.BucketName, err)
	}

	if err := s.exportDB.AddExportFile(ctx, &model.ExportFile{
		Filename:   objectName,
		BucketName: ec.BucketName,
		ConfigID:   ec.ConfigID,
		Region:     ec.Region,
		FileDate:   fileDate,
		Status:     model.ExportFileCreated,
	}); err != nil {
		return "", fmt.Errorf("recording export file %s: %w", objectName, err)
	}

	stats.Record(ctx, mFilesCreated.M(1))
	return objectName, nil
}

// createIndex publishes the per-run index manifest and records it in the
// ExportFile table. The index is written non-cacheable since its alias is the
// object clients poll for freshness.
func (s *Server) createIndex(ctx context.Context, ec *model.ExportConfig, fileDate time.Time, indexFile *model.IndexFile) (string, error) {
	data, err := json.Marshal(indexFile)
	if err != nil {
		return "", fmt.Errorf("marshalling index: %w", err)
	}

	objectName := exportIndexFilename(ec, fileDate)
	blobCtx, cancel := context.WithTimeout(ctx, blobOperationTimeout)
	err = s.env.Blobstore().CreateObject(blobCtx, ec.BucketName, objectName, data, false)
	cancel()
	if err != nil {
		return "", fmt.Errorf("creating index %s in bucket %s: %w", objectName, ec.BucketName, err)
	}

	if err := s.exportDB.AddExportFile(ctx, &model.ExportFile{
		Filename:   objectName,
		BucketName: ec.BucketName,
		ConfigID:   ec.ConfigID,
		Region:     ec.Region,
		FileDate:   fileDate,
		Status:     model.ExportFileCreated,
	}); err != nil {
		return "", fmt.Errorf("recording index file %s: %w", objectName, err)
	}
	return objectName, nil
}

func exportFilename(ec *model.ExportConfig, eb *exportBatch, fileDate time.Time, batchNum int) string {
	return fmt.Sprintf("%s/%d/%s-%d-%d%s", ec.FilenameRoot, fileDate.Unix(), eb.prefix, eb.intervalNumber, batchNum, filenameSuffix)
}

func exportIndexFilename(ec *model.ExportConfig, fileDate time.Time) string {
	return fmt.Sprintf("%s/%d/index.json", ec.FilenameRoot, fileDate.Unix())
}

// exportAliasFilename is the stable index name clients poll; each run
// replaces it with a copy of that run's index.
func exportAliasFilename(ec *model.ExportConfig) string {
	return fmt.Sprintf("%s/index.json", ec.FilenameRoot)
}

func exportedFilePath(bucketName, objectName string) string {
	return fmt.Sprintf("/%s/%s", bucketName, objectName)
}

// ensureMinNumExposures extends the exposures with synthetic records until
// the batch reaches a jittered minimum count. An empty input stays empty; a
// batch is never fabricated from nothing.
func ensureMinNumExposures(exposures []*publishmodel.Exposure, region string, minLength, jitter int) ([]*publishmodel.Exposure, error) {
	if len(exposures) == 0 {
		return exposures, nil
	}

	rng := mrand.New(cryptorand.NewSource())
	extra := 0
	if jitter > 0 {
		extra = rng.Intn(jitter)
	}
	target := minLength + extra

	for len(exposures) < target {
		// Pieces needed are (1) the exposure key, (2) interval number and
		// count, (3) a diagnosis type. The key is 16 fresh random bytes. The
		// interval values are sampled from the batch independently of each
		// other so the synthetic keys match the real marginal distributions
		// without duplicating any single record.
		key := make([]byte, publishmodel.KeyLength)
		if _, err := crand.Read(key); err != nil {
			return nil, fmt.Errorf("generating synthetic key: %w", err)
		}

		intervalNumber := exposures[rng.Intn(len(exposures))].IntervalNumber
		intervalCount := exposures[rng.Intn(len(exposures))].IntervalCount

		diagnosisType := publishmodel.DiagnosisTypeRedWarning
		if rng.Intn(2) == 1 {
			diagnosisType = publishmodel.DiagnosisTypeYellowWarning
		}

		// The remaining exposure fields are not visible in the export file.
		exposures = append(exposures, &publishmodel.Exposure{
			ExposureKey:    key,
			Region:         region,
			DiagnosisType:  diagnosisType,
			IntervalNumber: intervalNumber,
			IntervalCount:  intervalCount,
		})
	}

	return exposures, nil
}
