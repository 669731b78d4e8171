// Package aggregate turns raw pile readings into per-day mean voltages for
// the long-range history chart.
package aggregate

import (
	"sort"
	"time"

	"codeberg.org/mutker/pilewatch/internal/pile"
)

// DailyAggregate is the mean voltage of one calendar day. Day is that day's
// midnight in the location of the readings it was built from.
type DailyAggregate struct {
	Day         time.Time `json:"day"`
	MeanVoltage float64   `json:"mean_voltage"`
	Samples     int       `json:"samples"`
}

type dayKey struct {
	year  int
	month time.Month
	day   int
}

type accumulator struct {
	loc   *time.Location
	sum   float64
	count int
}

// ByDay groups readings by the calendar date of their timestamp and returns
// one mean per day, oldest first. Sentinel readings are ignored. The result is
// empty, never nil, when nothing is left to average.
func ByDay(readings []pile.Reading) []DailyAggregate {
	sums := make(map[dayKey]*accumulator)
	for _, r := range readings {
		v, ok := r.Measured()
		if !ok {
			continue
		}
		y, m, d := r.Timestamp.Date()
		k := dayKey{year: y, month: m, day: d}
		acc, found := sums[k]
		if !found {
			// Equal zones may be distinct values; the first one names the day.
			acc = &accumulator{loc: r.Timestamp.Location()}
			sums[k] = acc
		}
		acc.sum += v
		acc.count++
	}

	out := make([]DailyAggregate, 0, len(sums))
	for k, acc := range sums {
		out = append(out, DailyAggregate{
			Day:         time.Date(k.year, k.month, k.day, 0, 0, 0, 0, acc.loc),
			MeanVoltage: acc.sum / float64(acc.count),
			Samples:     acc.count,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Day.Before(out[j].Day)
	})

	return out
}
