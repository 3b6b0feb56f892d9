// Package telemetry exposes the service's Prometheus collectors. Everything
// is registered on the default registry and served by promhttp in the app.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Appends counts accepted log appends by entry kind.
	Appends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_log_appends_total",
		Help: "Log entries appended, by kind.",
	}, []string{"kind"})

	// TrimmedEntries counts entries removed by cap enforcement.
	TrimmedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_log_trimmed_entries_total",
		Help: "Entries trimmed from capped conversation logs.",
	})

	// StoreErrors counts backing-store failures by operation.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_store_errors_total",
		Help: "Pebble store failures, by operation.",
	}, []string{"op"})

	// WindowRefreshes counts latest-window cache rebuilds.
	WindowRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_window_refreshes_total",
		Help: "Latest-window cache refreshes.",
	})

	// WindowStaleReads counts reads served from a cached window after a
	// store failure.
	WindowStaleReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_window_stale_reads_total",
		Help: "Window reads degraded to the last cached copy.",
	})

	// OnlineIdentities tracks identities currently considered online.
	OnlineIdentities = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_presence_online_identities",
		Help: "Identities currently online.",
	})

	// Connections tracks open websocket connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_ws_connections",
		Help: "Open websocket connections.",
	})

	// DroppedEvents counts inbound events rejected because the event queue
	// was full.
	DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_event_queue_dropped_total",
		Help: "Inbound events dropped due to a full queue.",
	})

	// AggregatorFlushes counts join/leave buckets flushed into system
	// notices.
	AggregatorFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_notify_flushes_total",
		Help: "Notification buckets flushed, by kind.",
	}, []string{"kind"})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }
