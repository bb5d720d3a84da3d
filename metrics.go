// metrics.go
package main

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event flow counters
var (
	emittedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctrace_events_total",
			Help: "Total number of events published to the transport ring by type",
		},
		[]string{"event_type"},
	)

	droppedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctrace_dropped_events_total",
			Help: "Total number of events dropped because the transport ring was full",
		},
		[]string{"event_type"},
	)

	excludedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctrace_excluded_events_total",
			Help: "Total number of events excluded by the eligibility policy",
		},
		[]string{"filter_type"},
	)

	eventProcessingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctrace_processing_errors_total",
			Help: "Total number of event processing errors by type",
		},
		[]string{"event_type"},
	)
)

// Deduplication counters
var (
	dedupSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proctrace_dedup_suppressed_total",
			Help: "File-open events absorbed into an existing aggregation entry",
		},
	)

	dedupFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctrace_dedup_flushes_total",
			Help: "Aggregation entries flushed by reason",
		},
		[]string{"reason"},
	)

	aggregationEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctrace_aggregation_entries",
			Help: "Current number of file-open aggregation entries",
		},
	)
)

// Table and resource gauges
var (
	trackedPidsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctrace_tracked_pids",
			Help: "Current number of tracked-entity table entries",
		},
	)

	cacheStats = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proctrace_cache_stats",
			Help: "Process cache statistics including size, hit ratio, evictions",
		},
		[]string{"type"},
	)

	resourceUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proctrace_resource_usage",
			Help: "Current resource utilization stats",
		},
		[]string{"resource"},
	)
)

// serveMetrics exposes /metrics on addr. Listener errors are logged, not
// fatal; metrics are an observation surface, not a dependency.
func serveMetrics(addr string, logger *Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics", "metrics listener failed: %v", err)
		}
	}()
}

// MetricsCollector periodically refreshes the table and resource gauges.
type MetricsCollector struct {
	cache   *ProcessCache
	tracked PidTable
	ctx     context.Context
	stop    context.CancelFunc
}

func NewMetricsCollector(cache *ProcessCache, tracked PidTable) *MetricsCollector {
	ctx, stop := context.WithCancel(context.Background())
	return &MetricsCollector{
		cache:   cache,
		tracked: tracked,
		ctx:     ctx,
		stop:    stop,
	}
}

func (mc *MetricsCollector) Start() {
	go mc.collect()
}

func (mc *MetricsCollector) Stop() {
	mc.stop()
}

func (mc *MetricsCollector) collect() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-mc.ctx.Done():
			return
		case <-ticker.C:
			mc.updateMetrics()
		}
	}
}

func (mc *MetricsCollector) updateMetrics() {
	if mc.tracked != nil {
		trackedPidsGauge.Set(float64(mc.tracked.Len()))
	}

	if mc.cache != nil {
		if metrics := mc.cache.GetMetrics(); metrics != nil {
			cacheStats.WithLabelValues("size").Set(float64(metrics.KeysAdded() - metrics.KeysEvicted()))
			cacheStats.WithLabelValues("max_size").Set(float64(mc.cache.MaxSize()))
			cacheStats.WithLabelValues("hit_ratio").Set(metrics.Ratio() * 100)
			cacheStats.WithLabelValues("evictions").Set(float64(metrics.KeysEvicted()))
		}
	}

	stats := runtime.MemStats{}
	runtime.ReadMemStats(&stats)
	resourceUsage.WithLabelValues("memory_bytes").Set(float64(stats.Alloc))
	resourceUsage.WithLabelValues("goroutines").Set(float64(runtime.NumGoroutine()))
}
