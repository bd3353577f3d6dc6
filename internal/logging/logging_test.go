package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	defer func(l zerolog.Logger) { log.Logger = l }(log.Logger)

	var buf bytes.Buffer
	require.NoError(t, Setup("warn", FormatJSON, &buf))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "v", entry["k"])
}

func TestSetupAutoIsJSONOffTerminal(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	defer func(l zerolog.Logger) { log.Logger = l }(log.Logger)

	var buf bytes.Buffer
	require.NoError(t, Setup("", FormatAuto, &buf))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	log.Info().Msg("plain")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}

func TestSetupRejectsUnknownValues(t *testing.T) {
	assert.Error(t, Setup("loud", FormatJSON, &bytes.Buffer{}))
	assert.Error(t, Setup("info", "xml", &bytes.Buffer{}))
}

func TestProgressLogsAtSteps(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress("replay", 20, zerolog.New(&buf))
	start := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	p.started = start
	clock := start
	p.now = func() time.Time { return clock }

	for i := 0; i < 10; i++ {
		clock = clock.Add(time.Second)
		p.Increment()
	}
	assert.Equal(t, 50.0, p.Percent())
	assert.Equal(t, 10*time.Second, p.ETA())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 5, "one line per ten percent")

	p.Update(20)
	assert.Equal(t, 100.0, p.Percent())
	assert.Zero(t, p.ETA())

	buf.Reset()
	p.Finish()
	assert.Contains(t, buf.String(), `"done":20`)
}

func TestProgressWithoutTotal(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress("empty", 0, zerolog.New(&buf))
	p.Increment()
	assert.Zero(t, p.Percent())
	assert.Empty(t, buf.String())
}
