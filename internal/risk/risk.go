// Package risk maps a pile voltage onto a cathodic-protection risk level.
//
// One threshold set is canonical: at or below -1.2 V the pile is
// over-protected, down to and including -0.85 V it is normal, above that it
// is under-protected. An absent voltage, the storage sentinel and NaN are
// unknown.
package risk

import (
	"encoding/json"
	"fmt"
	"math"

	"codeberg.org/mutker/pilewatch/internal/pile"
)

const (
	// OverProtectionLimit is the most negative voltage still classed as over-protected.
	OverProtectionLimit = -1.2
	// UnderProtectionLimit is the least negative voltage still classed as normal.
	UnderProtectionLimit = -0.85
)

// Level is a categorical protection status.
type Level int

const (
	Unknown Level = iota
	OverProtected
	Normal
	UnderProtected
)

// Levels lists every level in legend order.
var Levels = []Level{OverProtected, Normal, UnderProtected, Unknown}

type legendEntry struct {
	key   string
	label string
	color string
}

var legend = map[Level]legendEntry{
	OverProtected:  {"over_protected", "Over-protected", "#0000FF"},
	Normal:         {"normal", "Normal", "#00FF00"},
	UnderProtected: {"under_protected", "Under-protected", "#FF0000"},
	Unknown:        {"unknown", "Unknown / no data", "#808080"},
}

// Classify returns the level for an optional voltage.
func Classify(voltage *float64) Level {
	if voltage == nil {
		return Unknown
	}
	return ClassifyValue(*voltage)
}

// ClassifyValue classifies a raw stored voltage, treating the sentinel as absent.
func ClassifyValue(v float64) Level {
	switch {
	case pile.IsSentinel(v), math.IsNaN(v):
		return Unknown
	case v <= OverProtectionLimit:
		return OverProtected
	case v <= UnderProtectionLimit:
		return Normal
	default:
		return UnderProtected
	}
}

// ClassifyReading classifies a stored reading; nil means the pile has none.
func ClassifyReading(r *pile.Reading) Level {
	if r == nil {
		return Unknown
	}
	return ClassifyValue(r.Voltage)
}

// String returns the stable machine key, e.g. "over_protected".
func (l Level) String() string {
	if e, ok := legend[l]; ok {
		return e.key
	}
	return legend[Unknown].key
}

// Label returns the human readable legend label.
func (l Level) Label() string {
	if e, ok := legend[l]; ok {
		return e.label
	}
	return legend[Unknown].label
}

// Color returns the legend color as #RRGGBB.
func (l Level) Color() string {
	if e, ok := legend[l]; ok {
		return e.color
	}
	return legend[Unknown].color
}

// Parse maps a machine key back to its Level.
func Parse(s string) (Level, bool) {
	for l, e := range legend {
		if e.key == s {
			return l, true
		}
	}
	return Unknown, false
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, _ := Parse(s)
	*l = parsed
	return nil
}

// UnmarshalText accepts only known machine keys, so configuration files
// with a misspelled level fail to load.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, ok := Parse(string(b))
	if !ok {
		return fmt.Errorf("unknown risk level %q", string(b))
	}
	*l = parsed
	return nil
}

// LegendItem is one entry of the fixed four-category map legend.
type LegendItem struct {
	Level Level  `json:"level"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// Legend returns the legend in display order.
func Legend() []LegendItem {
	items := make([]LegendItem, 0, len(Levels))
	for _, l := range Levels {
		items = append(items, LegendItem{Level: l, Label: l.Label(), Color: l.Color()})
	}
	return items
}
