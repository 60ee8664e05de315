package calibration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashagolub/elohistory/pkg/elo"
)

const tolerance = 1e-12

func TestInverseSigmoid(t *testing.T) {
	tests := []struct {
		p, a, b float64
		want    float64
	}{
		{0.5, 5, 0.2, 0.5},
		{0, 5, 0.2, 0.02042094544032591},
		{1, 5, 0.2, 0.9795790545596743},
		{0.75, 5, 0.2, 0.6774606390001805},
		{0.75, 2, 0.5, 0.8465735902799727},
	}
	for _, tt := range tests {
		got, err := InverseSigmoid(tt.p, tt.a, tt.b)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, tolerance, "p=%g a=%g b=%g", tt.p, tt.a, tt.b)
	}

	t.Run("monotonic on the unit interval", func(t *testing.T) {
		prev := -1.0
		for p := 0.0; p <= 1.0; p += 0.05 {
			got, err := InverseSigmoid(p, 5, 0.2)
			require.NoError(t, err)
			assert.Greater(t, got, prev)
			prev = got
		}
	})

	t.Run("invalid parameters", func(t *testing.T) {
		_, err := InverseSigmoid(0.5, 0, 0.2)
		assert.ErrorIs(t, err, ErrInvalidSteepness)
		_, err = InverseSigmoid(1.2, 5, 0.2)
		assert.ErrorIs(t, err, ErrSigmoidUndefined)
	})
}

func TestCurve(t *testing.T) {
	t.Run("uniform bins with edge values", func(t *testing.T) {
		labels := []int{1, 0, 1, 1, 0}
		probs := []float64{0.05, 0.1, 0.5, 0.55, 1.0}

		curve, err := Curve(labels, probs, 10)
		require.NoError(t, err)
		require.Len(t, curve, 4)

		assert.Equal(t, 2, curve[0].Count)
		assert.InDelta(t, 0.5, curve[0].ProbTrue, tolerance)
		assert.InDelta(t, 0.075, curve[0].ProbPred, tolerance)

		// 0.5 sits on an inner edge and lands in the lower bin
		assert.Equal(t, Bin{ProbTrue: 1, ProbPred: 0.5, Count: 1}, curve[1])
		assert.Equal(t, Bin{ProbTrue: 1, ProbPred: 0.55, Count: 1}, curve[2])
		assert.Equal(t, Bin{ProbTrue: 0, ProbPred: 1, Count: 1}, curve[3])
	})

	t.Run("single bin", func(t *testing.T) {
		curve, err := Curve([]int{1, 0, 0, 1}, []float64{0, 0.2, 0.4, 1}, 1)
		require.NoError(t, err)
		require.Len(t, curve, 1)
		assert.Equal(t, 4, curve[0].Count)
		assert.InDelta(t, 0.5, curve[0].ProbTrue, tolerance)
		assert.InDelta(t, 0.4, curve[0].ProbPred, tolerance)
	})

	t.Run("empty input", func(t *testing.T) {
		curve, err := Curve(nil, nil, 20)
		require.NoError(t, err)
		assert.Empty(t, curve)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := Curve([]int{1}, []float64{0.5}, 0)
		assert.ErrorIs(t, err, ErrInvalidBins)
		_, err = Curve([]int{1, 0}, []float64{0.5}, 5)
		assert.ErrorIs(t, err, ErrLengthMismatch)
		_, err = Curve([]int{1}, []float64{1.5}, 5)
		assert.ErrorIs(t, err, ErrProbabilityRange)
		_, err = Curve([]int{2}, []float64{0.5}, 5)
		assert.ErrorIs(t, err, ErrInvalidLabel)
	})
}

func TestScores(t *testing.T) {
	labels := []int{1, 0, 1, 0}
	probs := []float64{0.8, 0.3, 0.6, 0.1}

	brier, err := Brier(labels, probs)
	require.NoError(t, err)
	assert.InDelta(t, 0.075, brier, tolerance)

	logLoss, err := LogLoss(labels, probs)
	require.NoError(t, err)
	assert.InDelta(t, 0.2990011586691898, logLoss, tolerance)

	t.Run("certain and wrong is finite", func(t *testing.T) {
		ll, err := LogLoss([]int{1}, []float64{0})
		require.NoError(t, err)
		assert.InDelta(t, 34.538776394910684, ll, 1e-6)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := Brier(nil, nil)
		assert.ErrorIs(t, err, ErrNoOutcomes)
		_, err = LogLoss([]int{1}, nil)
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})
}

func TestSplit(t *testing.T) {
	outcomes := make([]elo.Outcome, 7)
	for i := range outcomes {
		outcomes[i] = elo.Outcome{ID: string(rune('a' + i)), Label: 1, Probability: 0.1 * float64(i+1)}
	}

	split := Split(outcomes, 42)
	require.Len(t, split, len(outcomes))

	wins := 0
	for i, o := range split {
		assert.Equal(t, outcomes[i].ID, o.ID, "order is kept")
		if o.Label == 1 {
			wins++
			assert.Equal(t, outcomes[i].Probability, o.Probability)
		} else {
			assert.Equal(t, 0, o.Label)
			assert.InDelta(t, 1-outcomes[i].Probability, o.Probability, tolerance)
		}
	}
	// half of 7 rounds to even
	assert.Equal(t, 4, wins)

	assert.Equal(t, split, Split(outcomes, 42), "same seed, same split")
	assert.Equal(t, len(outcomes), countWins(outcomes), "input is not modified")

	assert.Empty(t, Split(nil, 1))
	assert.Equal(t, 2, countWins(Split(outcomes[:5], 3)))
}

func countWins(outcomes []elo.Outcome) int {
	n := 0
	for _, o := range outcomes {
		n += o.Label
	}
	return n
}

func TestPairs(t *testing.T) {
	day := func(s string) time.Time {
		ts, err := time.Parse("2006-01-02", s)
		require.NoError(t, err)
		return ts
	}
	outcomes := []elo.Outcome{
		{ID: "a", Timestamp: day("2017-12-31")},
		{ID: "b", Timestamp: day("2018-01-01")},
		{ID: "c", Timestamp: day("2018-01-02")},
	}

	kept := Pairs(outcomes, day("2018-01-01"))
	require.Len(t, kept, 1)
	assert.Equal(t, "c", kept[0].ID)

	assert.Len(t, Pairs(outcomes, time.Time{}), 3)
}

func TestEvaluate(t *testing.T) {
	in := elo.Input{
		Winners:    []string{"A", "B", "A", "C", "A", "B", "C", "A"},
		Losers:     []string{"B", "C", "C", "B", "B", "A", "A", "C"},
		Timestamps: []string{"2017-05-01", "2018-01-01", "2018-02-01", "2018-03-01", "2018-04-01", "2019-01-01", "2019-02-01", "2019-03-01"},
	}
	e, err := elo.NewEngine(elo.DefaultConfig(), in)
	require.NoError(t, err)
	ledger := e.Fit()

	t.Run("default options", func(t *testing.T) {
		report, err := Evaluate(ledger, DefaultOptions())
		require.NoError(t, err)
		// 2017 and the first instant of 2018 are excluded
		assert.Equal(t, 6, report.Samples)

		total := 0
		for _, b := range report.Curve {
			total += b.Count
			assert.GreaterOrEqual(t, b.ProbPred, 0.0)
			assert.LessOrEqual(t, b.ProbPred, 1.0)
		}
		assert.Equal(t, 6, total)
		assert.Greater(t, report.Brier, 0.0)
		assert.Greater(t, report.LogLoss, 0.0)

		again, err := Evaluate(ledger, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, report, again)
	})

	t.Run("no start year keeps everything", func(t *testing.T) {
		opts := DefaultOptions()
		opts.StartYear = 0
		report, err := Evaluate(ledger, opts)
		require.NoError(t, err)
		assert.Equal(t, 8, report.Samples)
	})

	t.Run("nothing after start year", func(t *testing.T) {
		opts := DefaultOptions()
		opts.StartYear = 2030
		_, err := Evaluate(ledger, opts)
		assert.ErrorIs(t, err, ErrNoOutcomes)
	})

	t.Run("start year needs timestamps", func(t *testing.T) {
		e, err := elo.NewEngine(elo.DefaultConfig(), elo.Input{Winners: []string{"A"}, Losers: []string{"B"}})
		require.NoError(t, err)
		_, err = Evaluate(e.Fit(), DefaultOptions())
		assert.ErrorIs(t, err, ErrStartYearNeedsTime)
	})
}
