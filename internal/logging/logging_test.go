package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestContextLoggerCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{ServiceName: "smartpos", Level: "info", Output: &buf})

	ctx := Into(context.Background(), logger)
	ctx = WithFields(ctx, map[string]any{"request_id": "abc"})
	FromContext(ctx).Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "smartpos", entry["service"])
	assert.Equal(t, "abc", entry["request_id"])
	assert.Equal(t, "hello", entry["message"])
}

func TestFromContextWithoutLoggerIsSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		FromContext(context.Background()).Warn().Msg("dropped")
	})
}
