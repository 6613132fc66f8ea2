package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	initLogger(&buf, "debug", false)

	logger := GetLogger()
	logger.Info().Str("session", "abc").Msg("turn started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "abc", line["session"])
	assert.Equal(t, "turn started", line["message"])
}

func TestInitLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	initLogger(&buf, "chatty", false)

	logger := GetLogger()
	logger.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
	logger.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewSessionID_Unique(t *testing.T) {
	assert.NotEqual(t, NewSessionID(), NewSessionID())
}
