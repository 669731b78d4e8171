package logger_test

import (
	"bytes"
	"testing"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.LogLevel
		ok   bool
	}{
		{"debug", logger.DebugLevel, true},
		{"INFO", logger.InfoLevel, true},
		{"", logger.InfoLevel, true},
		{"warning", logger.WarnLevel, true},
		{"warn", logger.WarnLevel, true},
		{"error", logger.ErrorLevel, true},
		{"loud", logger.InfoLevel, false},
	}

	for _, tt := range tests {
		got, ok := logger.ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.WarnLevel, &buf, true)

	log.Info().Msg("quiet")
	assert.Empty(t, buf.String())

	log.Warn().Str("pile", "P1").Msg("loud")
	assert.Contains(t, buf.String(), "loud")
	assert.Contains(t, buf.String(), "P1")
}

func TestErrorWithCodeAndComponent(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.DebugLevel, &buf, true).With("storage")

	log.ErrorWithCode(errors.New().New(errors.ErrPileNotFound)).Msg("lookup failed")

	out := buf.String()
	assert.Contains(t, out, "pile_not_found")
	assert.Contains(t, out, "storage")
	assert.Contains(t, out, "lookup failed")
}
