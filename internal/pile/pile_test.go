package pile_test

import (
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/pilewatch/internal/pile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeasured(t *testing.T) {
	v, ok := pile.Reading{Voltage: -0.95}.Measured()
	assert.True(t, ok)
	assert.InDelta(t, -0.95, v, 1e-12)

	_, ok = pile.Reading{Voltage: pile.SentinelVoltage}.Measured()
	assert.False(t, ok)

	_, ok = pile.Reading{Voltage: math.NaN()}.Measured()
	assert.False(t, ok)
}

func TestVoltagePtr(t *testing.T) {
	assert.Nil(t, pile.Reading{Voltage: pile.SentinelVoltage}.VoltagePtr())

	p := pile.Reading{Voltage: -1.1}.VoltagePtr()
	require.NotNil(t, p)
	assert.InDelta(t, -1.1, *p, 1e-12)
}

func TestRangeContains(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	r := pile.Last(24*time.Hour, now)

	assert.True(t, r.Contains(now))
	assert.True(t, r.Contains(now.Add(-24*time.Hour)))
	assert.False(t, r.Contains(now.Add(-25*time.Hour)))
	assert.False(t, r.Contains(now.Add(time.Second)))
	assert.True(t, pile.Range{}.Contains(now))
}
