package monitor

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/pilewatch/internal/aggregate"
	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/pile"
)

type View string

const (
	ViewDay   View = "day"
	ViewWeek  View = "week"
	ViewMonth View = "month"
	ViewAll   View = "all"
)

var Views = []View{ViewDay, ViewWeek, ViewMonth, ViewAll}

// ParseView accepts a view name case-insensitively. Empty means month.
func ParseView(s string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(s)))
	if v == "" {
		return ViewMonth, nil
	}
	for _, known := range Views {
		if v == known {
			return v, nil
		}
	}
	return "", errors.New().WithData(ErrInvalidView, s)
}

// Point is one chart sample: a time and a voltage.
type Point struct {
	X time.Time `json:"x"`
	Y float64   `json:"y"`
}

type History struct {
	PileID int64   `json:"pile_id"`
	View   View    `json:"view"`
	Points []Point `json:"points"`
}

// History returns chart points for a pile in chronological order. Raw
// views skip sentinel readings, aggregated views hold one daily mean per day.
func (s *Service) History(ctx context.Context, id int64, view View) (History, error) {
	errFactory := errors.New()

	if _, err := s.store.PileByID(ctx, id); err != nil {
		if errors.HasCode(err, ErrPileNotFound) {
			return History{}, errFactory.WithData(ErrPileNotFound, id)
		}
		return History{}, errFactory.Wrap(ErrHistory, err)
	}

	now := s.now()
	var (
		rng   pile.Range
		limit int
		daily bool
	)
	switch view {
	case ViewDay:
		rng = pile.Last(24*time.Hour, now)
	case ViewWeek:
		rng, daily = pile.Last(7*24*time.Hour, now), true
	case ViewMonth:
		rng, daily = pile.Last(30*24*time.Hour, now), true
	case ViewAll:
		limit = s.historyLimit
	default:
		return History{}, errFactory.WithData(ErrInvalidView, string(view))
	}

	readings, err := s.store.Readings(ctx, id, rng, limit)
	if err != nil {
		return History{}, errFactory.Wrap(ErrHistory, err)
	}

	h := History{PileID: id, View: view}
	if daily {
		h.Points = dailyPoints(readings)
	} else {
		h.Points = rawPoints(readings)
	}

	s.log.Debug().
		Int64("pile_id", id).
		Str("view", string(view)).
		Int("readings", len(readings)).
		Int("points", len(h.Points)).
		Msg("Built pile history")

	return h, nil
}

// rawPoints reverses newest-first readings into chronological points.
func rawPoints(readings []pile.Reading) []Point {
	points := make([]Point, 0, len(readings))
	for i := len(readings) - 1; i >= 0; i-- {
		if v, ok := readings[i].Measured(); ok {
			points = append(points, Point{X: readings[i].Timestamp, Y: v})
		}
	}
	return points
}

func dailyPoints(readings []pile.Reading) []Point {
	days := aggregate.ByDay(readings)
	points := make([]Point, 0, len(days))
	for _, d := range days {
		points = append(points, Point{X: d.Day, Y: d.MeanVoltage})
	}
	return points
}
