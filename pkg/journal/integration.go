package journal

import (
	"slices"
	"strings"
	"time"

	"github.com/pashagolub/elohistory/pkg/elo"
)

// History is the export view of a rating history. It is built either from a
// freshly fitted ledger or from a stored run, so exports do not need to refit.
type History struct {
	RunID         string
	CreatedAt     time.Time
	Config        elo.Config
	Competitors   []string
	Rows          []elo.Row
	HasTimestamps bool
}

// FromLedger converts a fitted ledger into its export view
func FromLedger(runID string, ledger *elo.Ledger) *History {
	return &History{
		RunID:         runID,
		CreatedAt:     time.Now().UTC(),
		Config:        ledger.Config(),
		Competitors:   ledger.Competitors(),
		Rows:          ledger.Rows(),
		HasTimestamps: ledger.HasTimestamps(),
	}
}

// Since returns the rows at or after t. A zero t returns every row.
func (h *History) Since(t time.Time) ([]elo.Row, error) {
	if t.IsZero() {
		return h.Rows, nil
	}
	if !h.HasTimestamps {
		return nil, elo.ErrNoTimestamps
	}
	first := slices.IndexFunc(h.Rows, func(r elo.Row) bool { return !r.Timestamp.Before(t) })
	if first < 0 {
		return []elo.Row{}, nil
	}
	return h.Rows[first:], nil
}

// Standing is one competitor's rating after the last row
type Standing struct {
	Rank       int     `json:"rank"`
	Competitor string  `json:"competitor"`
	Rating     float64 `json:"rating"`
	Matches    int     `json:"matches"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
}

// Standings ranks competitors by final rating, ties broken by name
func (h *History) Standings() []Standing {
	out := make([]Standing, len(h.Competitors))
	for i, c := range h.Competitors {
		out[i] = Standing{Competitor: c, Rating: float64(h.Config.InitialRating)}
		if len(h.Rows) > 0 {
			out[i].Rating = h.Rows[len(h.Rows)-1].Ratings[i]
		}
	}

	index := make(map[string]int, len(h.Competitors))
	for i, c := range h.Competitors {
		index[c] = i
	}
	for _, r := range h.Rows {
		out[index[r.Winner]].Wins++
		out[index[r.Loser]].Losses++
	}

	slices.SortStableFunc(out, func(a, b Standing) int {
		switch {
		case a.Rating > b.Rating:
			return -1
		case a.Rating < b.Rating:
			return 1
		}
		return strings.Compare(a.Competitor, b.Competitor)
	})
	for i := range out {
		out[i].Rank = i + 1
		out[i].Matches = out[i].Wins + out[i].Losses
	}
	return out
}
