// Package metrics provides Prometheus metrics for rating history fits.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pashagolub/elohistory/pkg/elo"
)

// ErrTextfileWrite is returned when the metrics file cannot be written.
var ErrTextfileWrite = errors.New("metrics textfile write failed")

// Manager holds the fit metrics. It implements elo.Observer and is safe for
// concurrent use, so one Manager can watch partitions fitted in parallel.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	constLabels      map[string]string
	registry         *prometheus.Registry

	matchesApplied   prometheus.Counter
	upsets           prometheus.Counter
	winProbability   prometheus.Histogram
	seasonReversions prometheus.Counter
	reversionMean    prometheus.Gauge
	fitsCompleted    prometheus.Counter
	fitDuration      prometheus.Histogram
	competitors      prometheus.Gauge
	lastFitRows      prometheus.Gauge
}

// NewManager creates a metrics manager registered on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "elohistory",
		subsystem:        "fit",
		histogramBuckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		enabled:          true,
		constLabels:      map[string]string{},
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.constLabels)

	m.matchesApplied = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "matches_applied_total",
		Help:        "Total number of matches folded into rating histories",
		ConstLabels: labels,
	})

	m.upsets = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "upsets_total",
		Help:        "Matches won by the side given less than even odds",
		ConstLabels: labels,
	})

	m.winProbability = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "winner_probability",
		Help:        "Pre-match win probability of the eventual winner",
		Buckets:     prometheus.LinearBuckets(0.1, 0.1, 10),
		ConstLabels: labels,
	})

	m.seasonReversions = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "season_reversions_total",
		Help:        "Total number of year-boundary reversions applied",
		ConstLabels: labels,
	})

	m.reversionMean = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "last_reversion_mean",
		Help:        "Population mean used by the most recent reversion",
		ConstLabels: labels,
	})

	m.fitsCompleted = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "completed_total",
		Help:        "Total number of completed fits",
		ConstLabels: labels,
	})

	m.fitDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "duration_seconds",
		Help:        "Wall time of a fit in seconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.competitors = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "competitors",
		Help:        "Number of competitors in the most recent fit",
		ConstLabels: labels,
	})

	m.lastFitRows = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "last_rows",
		Help:        "Number of ledger rows produced by the most recent fit",
		ConstLabels: labels,
	})
}

// MatchApplied implements elo.Observer.
func (m *Manager) MatchApplied(row elo.Row) {
	if !m.enabled {
		return
	}
	m.matchesApplied.Inc()
	m.winProbability.Observe(row.WinProb)
	if row.WinProb < 0.5 {
		m.upsets.Inc()
	}
}

// SeasonReverted implements elo.Observer.
func (m *Manager) SeasonReverted(_ int, mean float64) {
	if !m.enabled {
		return
	}
	m.seasonReversions.Inc()
	m.reversionMean.Set(mean)
}

// FitCompleted implements elo.Observer.
func (m *Manager) FitCompleted(rows, competitors int, elapsed time.Duration) {
	if !m.enabled {
		return
	}
	m.fitsCompleted.Inc()
	m.fitDuration.Observe(elapsed.Seconds())
	m.competitors.Set(float64(competitors))
	m.lastFitRows.Set(float64(rows))
}

// Registry returns the registry holding the metrics.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics in the Prometheus text format, suitable
// for the node exporter textfile collector. The file is replaced atomically.
func (m *Manager) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("%w: %v", ErrTextfileWrite, err)
	}
	return nil
}
