// Package calibration measures how well the win probabilities of a rating
// history match observed outcomes.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/pashagolub/elohistory/pkg/elo"
)

// Errors returned by the calibration functions
var (
	ErrInvalidBins        = errors.New("number of bins must be positive")
	ErrLengthMismatch     = errors.New("labels and probabilities differ in length")
	ErrProbabilityRange   = errors.New("probability outside [0, 1]")
	ErrInvalidLabel       = errors.New("label must be 0 or 1")
	ErrInvalidSteepness   = errors.New("inverse sigmoid steepness must not be zero")
	ErrNoOutcomes         = errors.New("no outcomes to calibrate")
	ErrSigmoidUndefined   = errors.New("inverse sigmoid undefined for probability")
	ErrStartYearNeedsTime = errors.New("start year filter needs timestamps")
)

// Options of a calibration run
type Options struct {
	Bins      int     `json:"bins"`       // Number of uniform bins
	StartYear int     `json:"start_year"` // Only matches after the first instant of this year, 0 keeps all
	A         float64 `json:"a"`          // Inverse sigmoid steepness
	B         float64 `json:"b"`          // Inverse sigmoid offset
	Seed      uint64  `json:"seed"`       // Seed of the winner/loser split
}

// DefaultOptions returns the usual calibration settings
func DefaultOptions() Options {
	return Options{Bins: 20, StartYear: 2018, A: 5, B: 0.2, Seed: 1}
}

// Bin is one non-empty bin of a calibration curve
type Bin struct {
	ProbTrue float64 `json:"prob_true"` // Fraction of positive labels
	ProbPred float64 `json:"prob_pred"` // Mean predicted probability
	Count    int     `json:"count"`
}

// Report is the outcome of a calibration run
type Report struct {
	Options Options `json:"options"`
	Samples int     `json:"samples"`
	Curve   []Bin   `json:"curve"`    // on inverse-sigmoid transformed probabilities
	Brier   float64 `json:"brier"`    // on raw probabilities
	LogLoss float64 `json:"log_loss"` // on raw probabilities
}

// Pairs keeps the outcomes strictly after since. A zero since keeps all.
func Pairs(outcomes []elo.Outcome, since time.Time) []elo.Outcome {
	out := make([]elo.Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if since.IsZero() || o.Timestamp.After(since) {
			out = append(out, o)
		}
	}
	return out
}

// Split labels a random half of the outcomes as wins (label 1, probability p)
// and the rest as losses (label 0, probability 1-p), so both classes are
// represented. The half is rounded to even like the usual frac=0.5 sample.
// Output keeps the input order.
func Split(outcomes []elo.Outcome, seed uint64) []elo.Outcome {
	n := len(outcomes)
	wins := int(math.RoundToEven(float64(n) / 2))

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(n)
	won := make([]bool, n)
	for _, i := range perm[:wins] {
		won[i] = true
	}

	out := make([]elo.Outcome, n)
	for i, o := range outcomes {
		out[i] = o
		if won[i] {
			out[i].Label = 1
		} else {
			out[i].Label = 0
			out[i].Probability = 1 - o.Probability
		}
	}
	return out
}

// InverseSigmoid stretches probabilities around 1/2:
// -(1/a)*ln((1+b)/(p+b/2) - 1) + 1/2
func InverseSigmoid(p, a, b float64) (float64, error) {
	if a == 0 {
		return 0, ErrInvalidSteepness
	}
	x := (1+b)/(p+b/2) - 1
	if x <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fmt.Errorf("%w: %g", ErrSigmoidUndefined, p)
	}
	return -(1/a)*math.Log(x) + 0.5, nil
}

// Curve bins the probabilities uniformly over [0, 1] and returns the observed
// frequency and mean prediction of each non-empty bin. A probability equal to
// an inner bin edge falls into the lower bin.
func Curve(labels []int, probs []float64, bins int) ([]Bin, error) {
	if bins <= 0 {
		return nil, ErrInvalidBins
	}
	if len(labels) != len(probs) {
		return nil, fmt.Errorf("%w: %d labels, %d probabilities", ErrLengthMismatch, len(labels), len(probs))
	}

	edges := make([]float64, bins+1)
	for i := range edges {
		edges[i] = float64(i) / float64(bins)
	}

	sumPred := make([]float64, bins)
	sumTrue := make([]float64, bins)
	total := make([]int, bins)
	for i, p := range probs {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return nil, fmt.Errorf("%w: %g", ErrProbabilityRange, p)
		}
		if labels[i] != 0 && labels[i] != 1 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidLabel, labels[i])
		}
		b := binIndex(edges[1:bins], p)
		sumPred[b] += p
		sumTrue[b] += float64(labels[i])
		total[b]++
	}

	curve := make([]Bin, 0, bins)
	for b := range bins {
		if total[b] == 0 {
			continue
		}
		curve = append(curve, Bin{
			ProbTrue: sumTrue[b] / float64(total[b]),
			ProbPred: sumPred[b] / float64(total[b]),
			Count:    total[b],
		})
	}
	return curve, nil
}

// binIndex counts the inner edges strictly below p
func binIndex(inner []float64, p float64) int {
	lo, hi := 0, len(inner)
	for lo < hi {
		mid := (lo + hi) / 2
		if inner[mid] < p {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Brier returns the mean squared difference between probability and label
func Brier(labels []int, probs []float64) (float64, error) {
	if len(labels) != len(probs) {
		return 0, ErrLengthMismatch
	}
	if len(labels) == 0 {
		return 0, ErrNoOutcomes
	}
	var sum float64
	for i, p := range probs {
		d := p - float64(labels[i])
		sum += d * d
	}
	return sum / float64(len(probs)), nil
}

// LogLoss returns the mean negative log-likelihood of the labels.
// Probabilities are clipped away from 0 and 1.
func LogLoss(labels []int, probs []float64) (float64, error) {
	const eps = 1e-15
	if len(labels) != len(probs) {
		return 0, ErrLengthMismatch
	}
	if len(labels) == 0 {
		return 0, ErrNoOutcomes
	}
	var sum float64
	for i, p := range probs {
		p = math.Min(math.Max(p, eps), 1-eps)
		if labels[i] == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(len(probs)), nil
}

// Evaluate runs the whole calibration on a ledger: filter by start year,
// split into wins and losses, transform and bin.
func Evaluate(ledger *elo.Ledger, opts Options) (*Report, error) {
	if opts.Bins <= 0 {
		return nil, ErrInvalidBins
	}
	if opts.A == 0 {
		return nil, ErrInvalidSteepness
	}

	var since time.Time
	if opts.StartYear != 0 {
		if !ledger.HasTimestamps() {
			return nil, ErrStartYearNeedsTime
		}
		since = time.Date(opts.StartYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	}

	outcomes := Split(Pairs(ledger.Outcomes(), since), opts.Seed)
	if len(outcomes) == 0 {
		return nil, ErrNoOutcomes
	}

	labels := make([]int, len(outcomes))
	raw := make([]float64, len(outcomes))
	stretched := make([]float64, len(outcomes))
	for i, o := range outcomes {
		labels[i] = o.Label
		raw[i] = o.Probability
		s, err := InverseSigmoid(o.Probability, opts.A, opts.B)
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", o.ID, err)
		}
		stretched[i] = s
	}

	curve, err := Curve(labels, stretched, opts.Bins)
	if err != nil {
		return nil, err
	}
	brier, err := Brier(labels, raw)
	if err != nil {
		return nil, err
	}
	logLoss, err := LogLoss(labels, raw)
	if err != nil {
		return nil, err
	}

	return &Report{
		Options: opts,
		Samples: len(outcomes),
		Curve:   curve,
		Brier:   brier,
		LogLoss: logLoss,
	}, nil
}
