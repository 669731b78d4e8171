// Package pile holds the domain types shared by storage, the classifier and
// the HTTP surface: test piles along a pipeline and their voltage readings.
package pile

import (
	"math"
	"time"
)

// SentinelVoltage marks a reading slot that holds no real measurement. The
// voltage column is NOT NULL, so "no data" is written as this value.
const SentinelVoltage = 9999.0

// Pile is a fixed monitoring point along a pipeline.
type Pile struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Longitude   float64   `json:"longitude"`
	Latitude    float64   `json:"latitude"`
	PipelineID  string    `json:"pipeline_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Reading is one voltage sample for a pile.
type Reading struct {
	ID        int64     `json:"id"`
	PileID    int64     `json:"pile_id"`
	Voltage   float64   `json:"voltage"`
	Timestamp time.Time `json:"timestamp"`
}

// IsSentinel reports whether v is the "no measurement" placeholder.
func IsSentinel(v float64) bool {
	return v == SentinelVoltage
}

// Measured returns the voltage and true, or false when the reading carries
// the sentinel or a NaN.
func (r Reading) Measured() (float64, bool) {
	if IsSentinel(r.Voltage) || math.IsNaN(r.Voltage) {
		return 0, false
	}
	return r.Voltage, true
}

// VoltagePtr returns the measured voltage, or nil when there is none.
func (r Reading) VoltagePtr() *float64 {
	v, ok := r.Measured()
	if !ok {
		return nil
	}
	return &v
}

// Range bounds a history query. Zero values leave that side open.
type Range struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within the range, both ends inclusive.
func (r Range) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// Last returns a range ending at now and covering the preceding d.
func Last(d time.Duration, now time.Time) Range {
	return Range{Start: now.Add(-d), End: now}
}
