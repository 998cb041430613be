package diag

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flowctl"

var (
	installsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Count of table installations by result.",
		},
		[]string{"result"},
	)
	entriesPushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_pushed_total",
			Help:      "Count of flow entries pushed by successful installations.",
		},
	)
	installDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "install_duration_seconds",
			Help:      "Time taken to push a full table to one switch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)
	tableMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_misses_total",
			Help:      "Count of table-miss packets reported by switches, by kind.",
		},
		[]string{"kind"},
	)
	unknownSwitches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_switch_total",
			Help:      "Count of events from switches without a role binding.",
		},
	)
)

var registerMetrics sync.Once

// Register all metrics with the default prometheus registry.
func Register() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(installsTotal)
		prometheus.MustRegister(entriesPushed)
		prometheus.MustRegister(installDuration)
		prometheus.MustRegister(tableMisses)
		prometheus.MustRegister(unknownSwitches)
	})
}

func recordInstall(result string, entries int, elapsed time.Duration) {
	installsTotal.WithLabelValues(result).Inc()
	if result == "success" {
		entriesPushed.Add(float64(entries))
		installDuration.Observe(elapsed.Seconds())
	}
}

func recordMiss(kind string) {
	tableMisses.WithLabelValues(kind).Inc()
}

func recordUnknownSwitch() {
	unknownSwitches.Inc()
}
