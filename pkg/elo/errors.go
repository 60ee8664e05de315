package elo

import (
	"errors"
	"fmt"
)

// Error types for validation
var (
	ErrConfiguration         = errors.New("invalid configuration")
	ErrInputShape            = errors.New("invalid input shape")
	ErrSelfPlay              = errors.New("competitor cannot play against itself")
	ErrTimestampParse        = errors.New("invalid timestamp")
	ErrNoTimestamps          = errors.New("ledger was built without timestamps")
	ErrOverlappingPartitions = errors.New("partitions share a competitor")
)

// SelfPlayError identifies a match whose winner and loser are the same competitor
type SelfPlayError struct {
	Index      int    // Position in the input
	ID         string // Match identifier
	Competitor string // The competitor on both sides
}

func (e *SelfPlayError) Error() string {
	return fmt.Sprintf("%v: match %q at position %d has %q on both sides", ErrSelfPlay, e.ID, e.Index, e.Competitor)
}

func (e *SelfPlayError) Unwrap() error {
	return ErrSelfPlay
}

// TimestampParseError names a timestamp that is not a calendar value
type TimestampParseError struct {
	Index int    // Position in the input
	Value string // Offending raw value
	Err   error  // Underlying parser error
}

func (e *TimestampParseError) Error() string {
	return fmt.Sprintf("%v: %q at position %d: %v", ErrTimestampParse, e.Value, e.Index, e.Err)
}

func (e *TimestampParseError) Unwrap() []error {
	return []error{ErrTimestampParse, e.Err}
}
