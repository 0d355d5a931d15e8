package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message metrics
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meme_bot_messages_received_total",
		Help: "Total number of messages received",
	}, []string{"chat_type"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meme_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	// Generation metrics
	generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meme_bot_generations_total",
		Help: "Total number of generation attempts by outcome",
	}, []string{"outcome"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meme_bot_generation_duration_seconds",
		Help:    "Duration of generation requests that reached the renderer",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// Avatar cache metrics
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meme_bot_avatar_cache_hits_total",
		Help: "Total number of avatar cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meme_bot_avatar_cache_misses_total",
		Help: "Total number of avatar cache misses",
	})

	downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meme_bot_downloads_total",
		Help: "Total number of remote image downloads",
	}, []string{"kind", "status"})

	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meme_bot_cache_sweeps_total",
		Help: "Total number of avatar cache sweeps",
	}, []string{"status"})

	sweptEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meme_bot_cache_swept_entries_total",
		Help: "Total number of expired avatar entries removed",
	})

	sweptBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meme_bot_cache_swept_bytes_total",
		Help: "Total bytes reclaimed by avatar cache sweeps",
	})

	// Template index gauge
	templatesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meme_bot_templates_loaded",
		Help: "Number of templates in the current index snapshot",
	})

	// Runtime settings gauges
	pluginEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meme_bot_plugin_enabled",
		Help: "1 when meme generation is switched on",
	})

	disabledTemplates = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meme_bot_disabled_templates",
		Help: "Number of templates disabled by administrators",
	})
)

// Metrics provides methods to record metrics. A nil *Metrics is valid.
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records a received message
func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordGeneration records the outcome of a generation request
func (m *Metrics) RecordGeneration(outcome string, duration time.Duration) {
	generationsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		generationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// RecordCacheHit records an avatar cache hit
func (m *Metrics) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records an avatar cache miss
func (m *Metrics) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordDownload records a remote fetch; kind is "avatar" or "image"
func (m *Metrics) RecordDownload(kind, status string) {
	downloads.WithLabelValues(kind, status).Inc()
}

// RecordSweep records one cache sweep
func (m *Metrics) RecordSweep(status string, removed int, bytes int64) {
	sweepsTotal.WithLabelValues(status).Inc()
	sweptEntries.Add(float64(removed))
	sweptBytes.Add(float64(bytes))
}

// SetTemplatesLoaded sets the template index size
func (m *Metrics) SetTemplatesLoaded(count int) {
	templatesLoaded.Set(float64(count))
}

// SetSettings mirrors the runtime admin settings
func (m *Metrics) SetSettings(enabled bool, disabled int) {
	if enabled {
		pluginEnabled.Set(1)
	} else {
		pluginEnabled.Set(0)
	}
	disabledTemplates.Set(float64(disabled))
}

// StatusFunc produces the JSON document served on /status
type StatusFunc func() any

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string, status StatusFunc) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if status != nil {
		router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(status())
		}).Methods(http.MethodGet)
	}

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
