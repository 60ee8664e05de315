package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/pashagolub/elohistory/pkg/elo"
)

func histogramCount(registry *prometheus.Registry, name string) uint64 {
	families, err := registry.Gather()
	if err != nil {
		return 0
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func TestMetricsOptions(t *testing.T) {
	Convey("Given metrics options", t, func() {
		Convey("When creating a manager with custom options", func() {
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("ledger"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithConstLabels(map[string]string{"input": "games.csv"}),
			)
			registry := manager.Registry()

			Convey("Then metrics use the namespace", func() {
				manager.FitCompleted(3, 2, time.Millisecond)

				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_ledger_completed_total"], ShouldBeTrue)
				So(names["test_ledger_duration_seconds"], ShouldBeTrue)
			})
		})

		Convey("When empty options are given", func() {
			manager := NewManager(WithNamespace(""), WithSubsystem(""), WithHistogramBuckets(nil))

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "elohistory")
				So(manager.subsystem, ShouldEqual, "fit")
				So(manager.Registry(), ShouldNotBeNil)
			})
		})
	})
}

func TestMetricsObserver(t *testing.T) {
	Convey("Given a manager attached to a fit", t, func() {
		manager := NewManager()
		cfg := elo.DefaultConfig()
		cfg.SeasonalMeanReversion = 0.5
		e, err := elo.NewEngine(cfg, elo.Input{
			Winners:    []string{"A", "A", "B", "C"},
			Losers:     []string{"B", "C", "A", "A"},
			Timestamps: []string{"2018-01-01", "2018-02-01", "2019-01-01", "2020-01-01"},
		}, elo.WithObserver(manager))
		So(err, ShouldBeNil)

		Convey("When the ledger is built", func() {
			ledger := e.Fit()

			Convey("Then every match and reversion is counted", func() {
				So(testutil.ToFloat64(manager.matchesApplied), ShouldEqual, 4.0)
				So(testutil.ToFloat64(manager.seasonReversions), ShouldEqual, 2.0)
				So(testutil.ToFloat64(manager.fitsCompleted), ShouldEqual, 1.0)
				So(testutil.ToFloat64(manager.competitors), ShouldEqual, 3.0)
				So(testutil.ToFloat64(manager.lastFitRows), ShouldEqual, float64(ledger.Len()))
				So(testutil.ToFloat64(manager.reversionMean), ShouldAlmostEqual, 1500, 1e-9)
				So(histogramCount(manager.Registry(), "elohistory_fit_winner_probability"), ShouldEqual, uint64(4))
				So(histogramCount(manager.Registry(), "elohistory_fit_duration_seconds"), ShouldEqual, uint64(1))
			})

			Convey("Then upsets are the wins below even odds", func() {
				upsets := 0
				for _, row := range ledger.Rows() {
					if row.WinProb < 0.5 {
						upsets++
					}
				}
				So(upsets, ShouldBeGreaterThan, 0)
				So(testutil.ToFloat64(manager.upsets), ShouldEqual, float64(upsets))
			})
		})
	})

	Convey("Given a disabled manager", t, func() {
		manager := NewManager(WithMetricsEnabled(false))

		Convey("When notifications arrive", func() {
			manager.MatchApplied(elo.Row{WinProb: 0.3})
			manager.SeasonReverted(2020, 1500)
			manager.FitCompleted(1, 2, time.Second)

			Convey("Then nothing is recorded", func() {
				So(testutil.ToFloat64(manager.matchesApplied), ShouldEqual, 0.0)
				So(testutil.ToFloat64(manager.seasonReversions), ShouldEqual, 0.0)
				So(testutil.ToFloat64(manager.fitsCompleted), ShouldEqual, 0.0)
			})
		})
	})
}

func TestWriteTextfile(t *testing.T) {
	Convey("Given a manager with recorded fits", t, func() {
		manager := NewManager()
		manager.MatchApplied(elo.Row{WinProb: 0.5})
		manager.FitCompleted(1, 2, 5*time.Millisecond)

		Convey("When writing the textfile", func() {
			path := filepath.Join(t.TempDir(), "elohistory.prom")
			err := manager.WriteTextfile(path)

			Convey("Then the file holds the exposition format", func() {
				So(err, ShouldBeNil)
				data, readErr := os.ReadFile(path)
				So(readErr, ShouldBeNil)
				So(string(data), ShouldContainSubstring, "elohistory_fit_matches_applied_total 1")
				So(string(data), ShouldContainSubstring, "elohistory_fit_competitors 2")
			})
		})

		Convey("When the directory does not exist", func() {
			err := manager.WriteTextfile(filepath.Join(t.TempDir(), "missing", "out.prom"))

			Convey("Then an error is returned", func() {
				So(errors.Is(err, ErrTextfileWrite), ShouldBeTrue)
			})
		})
	})
}
