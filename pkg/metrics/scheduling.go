package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(resolutionsTotal, scansTotal, triggerActionsTotal, updateConflictsTotal, cacheLookupsTotal, layoutEventsPerDay)
}

var resolutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "qr_resolutions_total",
		Help: "QR resolutions, labeled by outcome.",
	},
	[]string{"outcome"}, // 'found', 'none', 'conflict'
)

var scansTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "qr_scans_total",
		Help: "Total scans recorded against a live destination.",
	},
)

var triggerActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "trigger_actions_total",
		Help: "Trigger actions processed, labeled by action and status.",
	},
	[]string{"action", "status"},
)

var updateConflictsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "destination_update_conflicts_total",
		Help: "Destination updates rejected by a version mismatch.",
	},
)

var cacheLookupsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "destination_cache_lookups_total",
		Help: "Destination list cache lookups, labeled by result.",
	},
	[]string{"result"}, // 'hit', 'miss', 'error'
)

var layoutEventsPerDay = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "calendar_layout_events_per_day",
		Help:    "Number of events laid out per calendar day.",
		Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
	},
)

func IncResolution(outcome string) { resolutionsTotal.WithLabelValues(norm(outcome)).Inc() }

func IncScan() { scansTotal.Inc() }

func IncTriggerAction(action, status string) {
	triggerActionsTotal.WithLabelValues(norm(action), norm(status)).Inc()
}

func IncUpdateConflict() { updateConflictsTotal.Inc() }

func IncCacheLookup(result string) { cacheLookupsTotal.WithLabelValues(norm(result)).Inc() }

func ObserveLayoutDay(events int) { layoutEventsPerDay.Observe(float64(events)) }

func norm(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}
