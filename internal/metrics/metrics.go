// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/nitfscale/pkg/cache"
	"github.com/novatechflow/nitfscale/pkg/storage"
)

const namespace = "nitfscale"

var (
	S3Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "s3_requests_total",
			Help:      "S3 requests by operation.",
		},
		[]string{"operation"},
	)
	S3Errors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "s3_errors_total",
			Help:      "S3 errors by operation.",
		},
		[]string{"operation"},
	)
	S3Duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "s3_request_duration_ms",
			Help:      "S3 request duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"operation"},
	)
	S3HealthState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "s3_health_state",
			Help:      "1 for the current object store health state, 0 otherwise.",
		},
		[]string{"state"},
	)
	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Row tasks handled by status.",
		},
		[]string{"status"},
	)
	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_ms",
			Help:      "Row task duration in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 14),
		},
	)
	BytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "File bytes written by row tasks.",
		},
	)
	TasksPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_published_total",
			Help:      "Row tasks published by the planner.",
		},
	)
	MissingRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "assembler_missing_rows",
			Help:      "Rows not yet recorded as written for the watched job.",
		},
	)
	AssembledBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assembled_bytes_total",
			Help:      "Bytes of finished files composed by the assembler.",
		},
	)
	CacheBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes",
			Help:      "Bytes held by the raw pixel window cache.",
		},
	)
	CacheLookups = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_lookups",
			Help:      "Window cache lookups by result since start.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		S3Requests,
		S3Errors,
		S3Duration,
		S3HealthState,
		TasksTotal,
		TaskDuration,
		BytesWritten,
		TasksPublished,
		MissingRows,
		AssembledBytes,
		CacheBytes,
		CacheLookups,
	)
}

// ObserveS3 records one object store call. It has the onS3Op signature.
func ObserveS3(op string, latency time.Duration, err error) {
	S3Requests.WithLabelValues(op).Inc()
	S3Duration.WithLabelValues(op).Observe(float64(latency.Microseconds()) / 1000)
	if err != nil {
		S3Errors.WithLabelValues(op).Inc()
	}
}

// ObserveTask records one handled row task.
func ObserveTask(written int64, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	TasksTotal.WithLabelValues(status).Inc()
	TaskDuration.Observe(float64(elapsed.Microseconds()) / 1000)
	if written > 0 {
		BytesWritten.Add(float64(written))
	}
}

// SetHealth exports state as a one-hot gauge.
func SetHealth(state storage.HealthState) {
	for _, s := range []storage.HealthState{storage.StateHealthy, storage.StateDegraded, storage.StateUnavailable} {
		v := 0.0
		if s == state {
			v = 1
		}
		S3HealthState.WithLabelValues(string(s)).Set(v)
	}
}

// UpdateCache copies the counters of c into the cache gauges.
func UpdateCache(c *cache.RangeCache) {
	if c == nil {
		return
	}
	hits, misses := c.Stats()
	CacheBytes.Set(float64(c.Size()))
	CacheLookups.WithLabelValues("hit").Set(float64(hits))
	CacheLookups.WithLabelValues("miss").Set(float64(misses))
}
