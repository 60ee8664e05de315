package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	ctx := context.Background()
	t.Cleanup(func() { SetLevel(slog.LevelInfo) })

	t.Run("writes structured fields", func(t *testing.T) {
		var buf bytes.Buffer
		InitWriter(&buf)
		require.NoError(t, SetLevelString("info"))

		Named("fit").Info(ctx, "ledger built", Int("rows", 3), String("input", "games.csv"), Error(errors.New("boom")))

		out := buf.String()
		assert.Contains(t, out, "ledger built")
		assert.Contains(t, out, "component=fit")
		assert.Contains(t, out, "rows=3")
		assert.Contains(t, out, "input=games.csv")
		assert.Contains(t, out, "error=boom")
	})

	t.Run("respects level", func(t *testing.T) {
		var buf bytes.Buffer
		InitWriter(&buf)
		require.NoError(t, SetLevelString("warn"))

		Get().Info(ctx, "hidden")
		Get().Debug(ctx, "hidden too")
		Get().Warn(ctx, "visible", Float64("mean", 1500))

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "visible")
		assert.Contains(t, out, "mean=1500")
	})

	t.Run("level parsing", func(t *testing.T) {
		for _, level := range []string{"debug", "INFO", " warning ", "error", ""} {
			assert.NoError(t, SetLevelString(level), level)
		}
		assert.Error(t, SetLevelString("verbose"))
	})
}
