// Package metrics exposes sync-run counters, gauges, and timings on a
// private Prometheus registry.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omicslake/sra-mirror-lake/logging"
)

// Collector manages all metrics for the mirror sync engine.
type Collector struct {
	logger *logging.ComponentLogger

	// Counters
	entriesProcessed *prometheus.CounterVec
	entriesFailed    *prometheus.CounterVec
	recordsWritten   *prometheus.CounterVec
	recordsSkipped   *prometheus.CounterVec
	fieldErrors      *prometheus.CounterVec
	chunksWritten    *prometheus.CounterVec
	bytesWritten     *prometheus.CounterVec
	chunksDeleted    *prometheus.CounterVec
	retriesTotal     prometheus.Counter

	// Gauges
	baselineDate  *prometheus.GaugeVec
	builderMemory prometheus.Gauge

	// Histograms
	entryDuration *prometheus.HistogramVec
	chunkDuration prometheus.Histogram

	registry *prometheus.Registry
	server   *http.Server
}

// NewCollector creates a metrics collector on a fresh registry.
func NewCollector(logger *logging.ComponentLogger) *Collector {
	registry := prometheus.NewRegistry()
	entityLabel := []string{"entity"}

	c := &Collector{
		logger:   logger,
		registry: registry,

		entriesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sra_mirror_entries_processed_total",
			Help: "Mirror entries extracted successfully",
		}, entityLabel),

		entriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sra_mirror_entries_failed_total",
			Help: "Mirror entries that failed extraction",
		}, entityLabel),

		recordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sra_mirror_records_written_total",
			Help: "Records written to parquet chunks",
		}, entityLabel),

		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sra_mirror_records_skipped_total",
			Help: "Records dropped for a missing or unusable key field",
		}, entityLabel),

		fieldErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sra_mirror_field_coercion_errors_total",
			Help: "Fields nulled because the raw value did not fit the schema",
		}, entityLabel),

		chunksWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sra_mirror_chunks_written_total",
			Help: "Parquet chunks uploaded to the sink",
		}, entityLabel),

		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sra_mirror_bytes_written_total",
			Help: "Parquet bytes uploaded to the sink",
		}, entityLabel),

		chunksDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sra_mirror_chunks_deleted_total",
			Help: "Stale pre-baseline chunks removed by cleanup",
		}, entityLabel),

		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sra_mirror_retries_total",
			Help: "Retried network operations",
		}),

		baselineDate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sra_mirror_baseline_date_seconds",
			Help: "Published date of the current Full baseline, unix seconds",
		}, entityLabel),

		builderMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sra_mirror_builder_memory_peak_bytes",
			Help: "Peak Arrow builder memory observed in the last entry",
		}),

		entryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sra_mirror_entry_duration_seconds",
			Help:    "End-to-end extraction time per mirror entry",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
		}, entityLabel),

		chunkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sra_mirror_chunk_upload_duration_seconds",
			Help:    "Time to finalize and upload one parquet chunk",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
	}

	registry.MustRegister(
		c.entriesProcessed,
		c.entriesFailed,
		c.recordsWritten,
		c.recordsSkipped,
		c.fieldErrors,
		c.chunksWritten,
		c.bytesWritten,
		c.chunksDeleted,
		c.retriesTotal,
		c.baselineDate,
		c.builderMemory,
		c.entryDuration,
		c.chunkDuration,
	)
	registry.MustRegister(prometheus.NewGoCollector())

	logger.Info().Msg("Metrics collector initialized")

	return c
}

// Registry exposes the underlying registry for scraping outside the
// built-in server.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// StartMetricsServer serves /metrics on the given port in the background.
func (c *Collector) StartMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	c.logger.Info().
		Int("port", port).
		Msg("Starting Prometheus metrics server")

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error().
				Err(err).
				Msg("Metrics server failed")
		}
	}()
}

// Shutdown stops the metrics server if one was started.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// RecordEntryProcessed records a completed entry extraction.
func (c *Collector) RecordEntryProcessed(entity string, rows, skipped, fieldErrs int64, duration time.Duration) {
	c.entriesProcessed.WithLabelValues(entity).Inc()
	c.recordsWritten.WithLabelValues(entity).Add(float64(rows))
	c.recordsSkipped.WithLabelValues(entity).Add(float64(skipped))
	c.fieldErrors.WithLabelValues(entity).Add(float64(fieldErrs))
	c.entryDuration.WithLabelValues(entity).Observe(duration.Seconds())
}

// RecordEntryFailed records a failed entry extraction.
func (c *Collector) RecordEntryFailed(entity string) {
	c.entriesFailed.WithLabelValues(entity).Inc()
}

// RecordChunkWritten records one finalized chunk upload.
func (c *Collector) RecordChunkWritten(entity string, bytes int64, duration time.Duration) {
	c.chunksWritten.WithLabelValues(entity).Inc()
	c.bytesWritten.WithLabelValues(entity).Add(float64(bytes))
	c.chunkDuration.Observe(duration.Seconds())
}

// RecordChunksDeleted records stale chunks removed by cleanup.
func (c *Collector) RecordChunksDeleted(entity string, count int) {
	c.chunksDeleted.WithLabelValues(entity).Add(float64(count))
}

// RecordRetry increments the retry counter.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Inc()
}

// UpdateBaseline publishes the current Full baseline date for an entity.
func (c *Collector) UpdateBaseline(entity string, date time.Time) {
	c.baselineDate.WithLabelValues(entity).Set(float64(date.Unix()))
}

// UpdateBuilderMemory publishes the peak builder memory of the last entry.
func (c *Collector) UpdateBuilderMemory(bytes int64) {
	c.builderMemory.Set(float64(bytes))
}
