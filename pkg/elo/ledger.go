package elo

import (
	"slices"
	"time"
)

// Observer receives notifications while a ledger is being built.
// It cannot change ratings.
type Observer interface {
	// MatchApplied is called after each match has been committed
	MatchApplied(row Row)
	// SeasonReverted is called when a year boundary triggered a reversion
	SeasonReverted(year int, mean float64)
	// FitCompleted is called once with the total number of rows and elapsed time
	FitCompleted(rows, competitors int, elapsed time.Duration)
}

// Row is one match in the history with the ratings right after it
type Row struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Winner    string    `json:"winner"`
	Loser     string    `json:"loser"`
	WinProb   float64   `json:"win_prob"`
	Ratings   []float64 `json:"ratings"` // aligned with Ledger.Competitors()
}

// Ledger is the append-only history produced by one fit
type Ledger struct {
	config        Config
	competitors   []string
	index         map[string]int // competitor -> column
	rows          []Row
	byID          map[string]int // match id -> row
	hasTimestamps bool
}

// Fit walks the matches in order and builds the history ledger.
// Every call starts from a fresh rating state, so repeated fits are identical.
func (e *Engine) Fit() *Ledger {
	start := time.Now()
	b := e.batch

	l := &Ledger{
		config:        e.config,
		competitors:   slices.Clone(b.Competitors),
		index:         make(map[string]int, len(b.Competitors)),
		rows:          make([]Row, 0, len(b.Matches)),
		byID:          make(map[string]int, len(b.Matches)),
		hasTimestamps: b.HasTimestamps,
	}
	for i, c := range l.competitors {
		l.index[c] = i
	}

	ratings := make([]float64, len(l.competitors))
	for i := range ratings {
		ratings[i] = float64(e.config.InitialRating)
	}

	var year int
	if b.HasTimestamps && len(b.Matches) > 0 {
		year = b.Matches[0].Timestamp.Year()
	}

	for _, m := range b.Matches {
		if b.HasTimestamps && m.Timestamp.Year() != year {
			year = m.Timestamp.Year()
			mean := Revert(ratings, e.config.SeasonalMeanReversion)
			for _, o := range e.observers {
				o.SeasonReverted(year, mean)
			}
		}

		w, lo := l.index[m.Winner], l.index[m.Loser]
		newW, newL, p := Pairwise(ratings[w], ratings[lo], e.config.Scale, e.config.K)
		ratings[w], ratings[lo] = newW, newL

		row := Row{
			ID:        m.ID,
			Timestamp: m.Timestamp,
			Winner:    m.Winner,
			Loser:     m.Loser,
			WinProb:   p,
			Ratings:   slices.Clone(ratings),
		}
		l.byID[m.ID] = len(l.rows)
		l.rows = append(l.rows, row)

		for _, o := range e.observers {
			o.MatchApplied(row)
		}
	}

	for _, o := range e.observers {
		o.FitCompleted(len(l.rows), len(l.competitors), time.Since(start))
	}
	return l
}

// Config returns the configuration the ledger was fitted with
func (l *Ledger) Config() Config {
	return l.config
}

// Competitors returns the snapshot column order
func (l *Ledger) Competitors() []string {
	return slices.Clone(l.competitors)
}

// HasTimestamps reports whether rows carry timestamps
func (l *Ledger) HasTimestamps() bool {
	return l.hasTimestamps
}

// Len returns the number of rows
func (l *Ledger) Len() int {
	return len(l.rows)
}

// Rows returns a copy of all rows in processing order
func (l *Ledger) Rows() []Row {
	out := make([]Row, len(l.rows))
	for i, r := range l.rows {
		out[i] = r.clone()
	}
	return out
}

// Row returns the row of a match id
func (l *Ledger) Row(id string) (Row, bool) {
	i, ok := l.byID[id]
	if !ok {
		return Row{}, false
	}
	return l.rows[i].clone(), true
}

// Since returns the rows whose timestamp is at or after t
func (l *Ledger) Since(t time.Time) ([]Row, error) {
	if !l.hasTimestamps {
		return nil, ErrNoTimestamps
	}
	// rows are sorted by time, find the first one not before t
	first, _ := slices.BinarySearchFunc(l.rows, t, func(r Row, t time.Time) int {
		if r.Timestamp.Before(t) {
			return -1
		}
		return 1
	})
	out := make([]Row, 0, len(l.rows)-first)
	for _, r := range l.rows[first:] {
		out = append(out, r.clone())
	}
	return out, nil
}

// Rating returns a competitor's rating in a row
func (l *Ledger) Rating(row Row, competitor string) (float64, bool) {
	i, ok := l.index[competitor]
	if !ok || i >= len(row.Ratings) {
		return 0, false
	}
	return row.Ratings[i], true
}

// Final returns every competitor's rating after the last match.
// With no matches every competitor holds the initial rating.
func (l *Ledger) Final() map[string]float64 {
	out := make(map[string]float64, len(l.competitors))
	for i, c := range l.competitors {
		if len(l.rows) == 0 {
			out[c] = float64(l.config.InitialRating)
			continue
		}
		out[c] = l.rows[len(l.rows)-1].Ratings[i]
	}
	return out
}

// Outcome is the calibration pair of one match seen from the winner's side
type Outcome struct {
	ID          string
	Timestamp   time.Time
	Label       int     // 1: the side whose probability is reported won
	Probability float64 // predicted probability of that side winning
}

// Outcomes returns one (label, probability) pair per row, from the winner's side
func (l *Ledger) Outcomes() []Outcome {
	out := make([]Outcome, len(l.rows))
	for i, r := range l.rows {
		out[i] = Outcome{ID: r.ID, Timestamp: r.Timestamp, Label: 1, Probability: r.WinProb}
	}
	return out
}

func (r Row) clone() Row {
	r.Ratings = slices.Clone(r.Ratings)
	return r
}
