// Package elo computes time-ordered Elo ratings from a batch of pairwise
// win/loss outcomes. It validates the batch, orders it by time, applies the
// pairwise update rule with an optional seasonal regression to the mean, and
// records the pre-match win probability and a rating snapshot of every
// competitor after each match.
package elo

import (
	"fmt"
	"math"
)

// Config holds the parameters of one engine instance
type Config struct {
	K                     int     `yaml:"k" json:"k"`                                             // Step size of a single update
	InitialRating         int     `yaml:"elo_init" json:"elo_init"`                               // Starting rating of every competitor
	Scale                 int     `yaml:"elo_diff" json:"elo_diff"`                               // Rating difference for 10:1 odds
	SeasonalMeanReversion float64 `yaml:"seasonal_mean_reversion" json:"seasonal_mean_reversion"` // Share of spread removed at a year boundary
}

// DefaultConfig returns the classic parameters: K=20, 1500 start, 400 scale
// and no seasonal reversion.
func DefaultConfig() Config {
	return Config{
		K:                     20,
		InitialRating:         1500,
		Scale:                 400,
		SeasonalMeanReversion: 0,
	}
}

// Validate checks the configuration scalars.
// SeasonalMeanReversion may be negative (spread is amplified) but not above 1.
func (c Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("%w: k must be a positive integer, got %d", ErrConfiguration, c.K)
	}
	if c.InitialRating <= 0 {
		return fmt.Errorf("%w: elo_init must be a positive integer, got %d", ErrConfiguration, c.InitialRating)
	}
	if c.Scale <= 0 {
		return fmt.Errorf("%w: elo_diff must be a positive integer, got %d", ErrConfiguration, c.Scale)
	}
	r := c.SeasonalMeanReversion
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return fmt.Errorf("%w: seasonal_mean_reversion must be a finite number, got %v", ErrConfiguration, r)
	}
	if r > 1 {
		return fmt.Errorf("%w: seasonal_mean_reversion must be <= 1, got %v", ErrConfiguration, r)
	}
	return nil
}

// ExpectedOutcome returns the probability that a competitor rated winner
// beats one rated loser on the given scale.
// ExpectedOutcome(a, b, s) + ExpectedOutcome(b, a, s) == 1.
func ExpectedOutcome(winner, loser float64, scale int) float64 {
	return 1.0 / (1.0 + math.Pow(10.0, (loser-winner)/float64(scale)))
}

// Pairwise applies one win of winner over loser.
// It returns the new winner rating, the new loser rating and the probability
// the winner was expected to win. The transfer is zero-sum.
func Pairwise(winner, loser float64, scale, k int) (float64, float64, float64) {
	p := ExpectedOutcome(winner, loser, scale)
	delta := float64(k) * (1.0 - p)
	return winner + delta, loser - delta, p
}

// Engine is a validated, time-ordered batch of matches ready to be fitted
type Engine struct {
	config    Config
	batch     *Batch
	observers []Observer
}

// Option configures an Engine
type Option func(*Engine)

// WithObserver registers an observer notified during every fit.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// NewEngine validates the input against the configuration and establishes the
// processing order. No rating is computed before validation has succeeded.
func NewEngine(config Config, in Input, opts ...Option) (*Engine, error) {
	batch, err := Validate(config, in)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config: config,
		batch:  Sequence(batch),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// Batch returns the matches in processing order
func (e *Engine) Batch() *Batch {
	return e.batch
}
