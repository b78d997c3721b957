package recovery

import (
	"strings"
	"testing"

	"github.com/cyberinferno/udpev/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	t.Run("returns nil when fn completes", func(t *testing.T) {
		ran := false
		got := Guard(logger.NewNopLogger(), "cron", func() { ran = true })
		assert.True(t, ran)
		assert.Nil(t, got)
	})

	t.Run("recovers and logs a panic", func(t *testing.T) {
		var lines []string
		log := logger.NewSinkLogger(func(sev logger.Severity, msg string) {
			require.Equal(t, logger.SeverityError, sev)
			lines = append(lines, msg)
		})

		got := Guard(log, "handler", func() { panic("boom") }, logger.Field{Key: "name", Value: 3})

		assert.Equal(t, "boom", got)
		require.Len(t, lines, 1)
		assert.True(t, strings.HasPrefix(lines[0], "panic recovered"))
		assert.Contains(t, lines[0], "callback=handler")
		assert.Contains(t, lines[0], "name=3")
		assert.Contains(t, lines[0], "panic=boom")
	})

	t.Run("nil logger still recovers", func(t *testing.T) {
		assert.NotPanics(t, func() {
			got := Guard(nil, "timeout", func() { panic(42) })
			assert.Equal(t, 42, got)
		})
	})
}
