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

// Package export contains OpenCensus metrics and views for export operations
package export

import (
	"github.com/rotwarn/exposure-key-server/internal/metrics"
	"github.com/rotwarn/exposure-key-server/pkg/observability"
	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	exportMetricsPrefix = metrics.MetricRoot + "export_"

	mLockContention = stats.Int64(exportMetricsPrefix+"lock_contention",
		"Instances of export lock contention", stats.UnitDimensionless)
	mExportFailure = stats.Int64(exportMetricsPrefix+"failure",
		"Instances of export failures", stats.UnitDimensionless)
	mConfigSkipped = stats.Int64(exportMetricsPrefix+"config_skipped",
		"Instances of export configs skipped as invalid", stats.UnitDimensionless)
	mFilesCreated = stats.Int64(exportMetricsPrefix+"files_created",
		"Number of export archive files created", stats.UnitDimensionless)

	mConfigCompletion = stats.Int64(exportMetricsPrefix+"config_completion",
		"Number of export configs completed by output region", stats.UnitDimensionless)

	mExportLatencyMs = stats.Float64(exportMetricsPrefix+"latency",
		"Latency of export runs", stats.UnitMilliseconds)

	ExportConfigIDTagKey = tag.MustNewKey("export_config_id")
	ExportRegionTagKey   = tag.MustNewKey("export_region")
)

func init() {
	observability.CollectViews([]*view.View{
		{
			Name:        metrics.MetricRoot + "export_lock_contention_count",
			Description: "Total count of lock contention instances",
			Measure:     mLockContention,
			Aggregation: view.Sum(),
		},
		{
			Name:        metrics.MetricRoot + "export_failure_count",
			Description: "Total count of export failures",
			Measure:     mExportFailure,
			Aggregation: view.Sum(),
		},
		{
			Name:        metrics.MetricRoot + "export_config_skipped_count",
			Description: "Total count of export configs skipped as invalid",
			Measure:     mConfigSkipped,
			Aggregation: view.Sum(),
		},
		{
			Name:        metrics.MetricRoot + "export_files_created_count",
			Description: "Total count of export archive files created",
			Measure:     mFilesCreated,
			Aggregation: view.Sum(),
		},
		{
			Name:        metrics.MetricRoot + "export_config_completion",
			Description: "Number of export configs completed by output region",
			Measure:     mConfigCompletion,
			Aggregation: view.Sum(),
			TagKeys:     []tag.Key{ExportConfigIDTagKey, ExportRegionTagKey},
		},
		{
			Name:        metrics.MetricRoot + "export_latency",
			Description: "Latency distribution of export runs",
			Measure:     mExportLatencyMs,
			Aggregation: ochttp.DefaultLatencyDistribution,
			TagKeys:     append(observability.CommonTagKeys(), observability.BlameTagKey, observability.ResultTagKey),
		},
	}...)
}
