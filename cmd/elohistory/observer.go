package main

import (
	"context"
	"time"

	"github.com/pashagolub/elohistory/pkg/elo"
	"github.com/pashagolub/elohistory/pkg/logger"
)

// logObserver reports fit progress through the structured logger.
// Matches are logged at debug level only.
type logObserver struct {
	ctx context.Context
	log logger.Logger
}

func newLogObserver(ctx context.Context, log logger.Logger) *logObserver {
	return &logObserver{ctx: ctx, log: log}
}

func (o *logObserver) MatchApplied(row elo.Row) {
	o.log.Debug(o.ctx, "match applied",
		logger.String("id", row.ID),
		logger.String("winner", row.Winner),
		logger.String("loser", row.Loser),
		logger.Float64("win_prob", row.WinProb))
}

func (o *logObserver) SeasonReverted(year int, mean float64) {
	o.log.Debug(o.ctx, "season reverted", logger.Int("year", year), logger.Float64("mean", mean))
}

func (o *logObserver) FitCompleted(rows, competitors int, elapsed time.Duration) {
	o.log.Debug(o.ctx, "ledger built",
		logger.Int("rows", rows),
		logger.Int("competitors", competitors),
		logger.Any("elapsed", elapsed))
}
