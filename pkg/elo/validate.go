package elo

import (
	"fmt"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
)

// Input is the raw batch handed over by the data acquisition side.
// All slices are aligned by position. IDs and Timestamps are optional.
// A nil Winners or Losers slice is empty, so the zero Input is an empty batch.
type Input struct {
	Winners    []string
	Losers     []string
	IDs        []string // nil means ids are input positions
	Timestamps []string // nil disables seasonal reversion
}

// Match is one validated outcome
type Match struct {
	ID        string
	Winner    string
	Loser     string
	Timestamp time.Time // zero when the batch has no timestamps
}

// Batch is a validated set of matches plus the sorted competitor set
type Batch struct {
	Matches       []Match
	Competitors   []string
	HasTimestamps bool
}

// Validate checks the input and configuration and returns the parsed batch.
// It performs no rating computation.
func Validate(config Config, in Input) (*Batch, error) {
	n := len(in.Winners)
	if len(in.Losers) != n {
		return nil, fmt.Errorf("%w: %d winners but %d losers", ErrInputShape, n, len(in.Losers))
	}
	if in.IDs != nil && len(in.IDs) != n {
		return nil, fmt.Errorf("%w: %d ids for %d matches", ErrInputShape, len(in.IDs), n)
	}
	if in.Timestamps != nil && len(in.Timestamps) != n {
		return nil, fmt.Errorf("%w: %d timestamps for %d matches", ErrInputShape, len(in.Timestamps), n)
	}

	ids := in.IDs
	if ids == nil {
		ids = make([]string, n)
		for i := range ids {
			ids[i] = strconv.Itoa(i)
		}
	} else {
		seen := make(map[string]int, n)
		for i, id := range ids {
			if first, ok := seen[id]; ok {
				return nil, fmt.Errorf("%w: id %q appears at positions %d and %d", ErrInputShape, id, first, i)
			}
			seen[id] = i
		}
	}

	for i := range n {
		if in.Winners[i] == in.Losers[i] {
			return nil, &SelfPlayError{Index: i, ID: ids[i], Competitor: in.Winners[i]}
		}
	}

	var times []time.Time
	if in.Timestamps != nil {
		times = make([]time.Time, n)
		for i, raw := range in.Timestamps {
			t, err := ParseTimestamp(raw)
			if err != nil {
				return nil, &TimestampParseError{Index: i, Value: raw, Err: err}
			}
			times[i] = t
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	batch := &Batch{
		Matches:       make([]Match, n),
		HasTimestamps: times != nil,
	}
	set := make(map[string]struct{})
	for i := range n {
		batch.Matches[i] = Match{ID: ids[i], Winner: in.Winners[i], Loser: in.Losers[i]}
		if times != nil {
			batch.Matches[i].Timestamp = times[i]
		}
		set[in.Winners[i]] = struct{}{}
		set[in.Losers[i]] = struct{}{}
	}
	batch.Competitors = sortedKeys(set)

	return batch, nil
}

// ParseTimestamp interprets any common calendar representation. A written
// offset is kept so the calendar year is the one in the text; values
// without an offset are taken as UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	return dateparse.ParseIn(raw, time.UTC)
}
