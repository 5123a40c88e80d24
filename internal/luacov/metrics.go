// Copyright 2025 Tom Barlow
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

package luacov

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collect outcomes used as the "result" label.
const (
	resultMerged = "merged"
	resultEmpty  = "empty"
	resultError  = "error"
)

var (
	collectRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "functest_luacov_collect_runs_total",
			Help: "Total luacov collect runs by result",
		},
		[]string{"result"},
	)

	filesMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "functest_luacov_files_merged_total",
		Help: "Total per-process stats files merged",
	})

	recordsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "functest_luacov_records_merged_total",
		Help: "Total source file records merged",
	})

	collectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "functest_luacov_collect_duration_seconds",
		Help:    "Duration of luacov collect runs",
		Buckets: prometheus.DefBuckets,
	})
)

func recordCollect(result string, files, records int, d time.Duration) {
	collectRuns.WithLabelValues(result).Inc()
	collectDuration.Observe(d.Seconds())

	if files > 0 {
		filesMerged.Add(float64(files))
	}
	if records > 0 {
		recordsMerged.Add(float64(records))
	}
}
