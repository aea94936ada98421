package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := New("debug", FormatJSON, &buf)
		require.NoError(t, err)

		log.Info().Str("session", "abc").Msg("analyze requested")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "info", line["level"])
		assert.Equal(t, "analyze requested", line["message"])
		assert.Equal(t, "abc", line["session"])
	})

	t.Run("level filters", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := New("warn", FormatJSON, &buf)
		require.NoError(t, err)

		log.Info().Msg("hidden")
		assert.Zero(t, buf.Len())
	})

	t.Run("pretty format", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := New("", "", &buf)
		require.NoError(t, err)

		log.Info().Msg("server listening")
		assert.Contains(t, buf.String(), "server listening")
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New("loud", FormatJSON, nil)
		assert.Error(t, err)
	})

	t.Run("invalid format", func(t *testing.T) {
		_, err := New("info", "xml", nil)
		assert.Error(t, err)
	})
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123abcd", ShortID("0123abcd-ffff-4444"))
	assert.Equal(t, "abc", ShortID("abc"))
}
