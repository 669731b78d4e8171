package aggregate_test

import (
	"math/rand"
	"testing"
	"time"

	"codeberg.org/mutker/pilewatch/internal/aggregate"
	"codeberg.org/mutker/pilewatch/internal/pile"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func at(day time.Time, hour int) time.Time {
	return day.Add(time.Duration(hour) * time.Hour)
}

func TestByDayEmpty(t *testing.T) {
	got := aggregate.ByDay(nil)
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = aggregate.ByDay([]pile.Reading{})
	assert.Empty(t, got)
}

func TestByDaySentinelOnly(t *testing.T) {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got := aggregate.ByDay([]pile.Reading{
		{PileID: 4, Voltage: pile.SentinelVoltage, Timestamp: at(d, 3)},
		{PileID: 4, Voltage: pile.SentinelVoltage, Timestamp: at(d, 9)},
	})
	assert.Empty(t, got)
}

func TestByDayMeans(t *testing.T) {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	readings := []pile.Reading{
		{PileID: 1, Voltage: -0.8, Timestamp: at(d, 24+5)},
		{PileID: 1, Voltage: -1.0, Timestamp: at(d, 10)},
		{PileID: 1, Voltage: pile.SentinelVoltage, Timestamp: at(d, 11)},
		{PileID: 1, Voltage: -1.2, Timestamp: at(d, 23)},
	}

	got := aggregate.ByDay(readings)
	want := []aggregate.DailyAggregate{
		{Day: d, MeanVoltage: -1.1, Samples: 2},
		{Day: d.AddDate(0, 0, 1), MeanVoltage: -0.8, Samples: 1},
	}

	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Fatalf("ByDay mismatch (-want +got):\n%s", diff)
	}
}

func TestByDayDoesNotMutateInput(t *testing.T) {
	d := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	readings := []pile.Reading{
		{Voltage: -0.9, Timestamp: at(d, 30)},
		{Voltage: -1.0, Timestamp: at(d, 1)},
	}
	before := append([]pile.Reading(nil), readings...)

	aggregate.ByDay(readings)
	assert.Equal(t, before, readings)
}

func TestByDayUsesLocalDate(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	// 23:30 and 00:30 local fall on different days even though they are
	// one hour apart.
	late := time.Date(2024, 6, 1, 23, 30, 0, 0, loc)
	early := time.Date(2024, 6, 2, 0, 30, 0, 0, loc)

	got := aggregate.ByDay([]pile.Reading{
		{Voltage: -1.0, Timestamp: early},
		{Voltage: -0.9, Timestamp: late},
	})

	require.Len(t, got, 2)
	assert.True(t, got[0].Day.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, loc)))
	assert.Equal(t, loc, got[0].Day.Location())
	assert.True(t, got[1].Day.Equal(time.Date(2024, 6, 2, 0, 0, 0, 0, loc)))
}

func TestByDaySameDateAcrossEqualZones(t *testing.T) {
	// Two zone values with the same offset, as produced by parsing
	// timestamps separately.
	morning := time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("CST", 8*3600))
	afternoon := time.Date(2024, 3, 1, 15, 0, 0, 0, time.FixedZone("CST", 8*3600))

	got := aggregate.ByDay([]pile.Reading{
		{Voltage: -1.0, Timestamp: morning},
		{Voltage: -1.2, Timestamp: afternoon},
	})

	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Samples)
	assert.InDelta(t, -1.1, got[0].MeanVoltage, 1e-9)
	assert.True(t, got[0].Day.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, morning.Location())))
}

func TestByDayOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	readings := make([]pile.Reading, 0, 200)
	days := make(map[time.Time]struct{})
	for i := 0; i < 200; i++ {
		ts := base.Add(time.Duration(rng.Intn(10*24*60)) * time.Minute)
		readings = append(readings, pile.Reading{
			Voltage:   -1.5 + rng.Float64(),
			Timestamp: ts,
		})
		y, m, d := ts.Date()
		days[time.Date(y, m, d, 0, 0, 0, 0, time.UTC)] = struct{}{}
	}

	want := aggregate.ByDay(readings)
	assert.LessOrEqual(t, len(want), len(days))

	for i := 0; i < 5; i++ {
		shuffled := append([]pile.Reading(nil), readings...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		if diff := cmp.Diff(want, aggregate.ByDay(shuffled), approx); diff != "" {
			t.Fatalf("permutation changed result (-want +got):\n%s", diff)
		}
	}

	for i := 1; i < len(want); i++ {
		assert.True(t, want[i-1].Day.Before(want[i].Day))
	}
}
