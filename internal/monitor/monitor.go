// Package monitor joins piles with their readings into risk snapshots,
// pipeline routes and chart-ready histories.
package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/metrics"
	"codeberg.org/mutker/pilewatch/internal/pile"
	"codeberg.org/mutker/pilewatch/internal/risk"
	"codeberg.org/mutker/pilewatch/internal/storage"
)

const DefaultHistoryLimit = 365

// PileStatus is a pile with its latest measured voltage and risk level.
// Voltage is nil when the pile has no reading or only the sentinel.
type PileStatus struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Longitude   float64    `json:"longitude"`
	Latitude    float64    `json:"latitude"`
	PipelineID  string     `json:"pipeline_id,omitempty"`
	Description string     `json:"description,omitempty"`
	Voltage     *float64   `json:"voltage"`
	Risk        risk.Level `json:"risk_level"`
	Color       string     `json:"color"`
	ReadingAt   *time.Time `json:"reading_at,omitempty"`
}

// Coordinate is a longitude/latitude pair.
type Coordinate struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Route is the pipeline path through all piles in id order.
type Route struct {
	Points []Coordinate `json:"points"`
}

// HasLine reports whether the route has enough points to draw a line.
func (r Route) HasLine() bool {
	return len(r.Points) >= 2
}

type LevelCount struct {
	Level risk.Level `json:"level"`
	Label string     `json:"label"`
	Color string     `json:"color"`
	Count int        `json:"count"`
}

type Summary struct {
	Total  int          `json:"total"`
	Levels []LevelCount `json:"levels"`
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(c metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithHistoryLimit bounds the "all" history view. Values <= 0 keep the default.
func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

type Service struct {
	store        storage.Store
	log          logger.Logger
	metrics      metrics.Collector
	now          func() time.Time
	historyLimit int
}

func New(store storage.Store, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:        store,
		log:          log,
		metrics:      metrics.New(false),
		now:          time.Now,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func statusOf(p pile.Pile, latest *pile.Reading) PileStatus {
	st := PileStatus{
		ID:          p.ID,
		Name:        p.Name,
		Longitude:   p.Longitude,
		Latitude:    p.Latitude,
		PipelineID:  p.PipelineID,
		Description: p.Description,
		Risk:        risk.ClassifyReading(latest),
	}
	if latest != nil {
		st.Voltage = latest.VoltagePtr()
		ts := latest.Timestamp
		st.ReadingAt = &ts
	}
	st.Color = st.Risk.Color()
	return st
}

// Snapshot classifies every pile by its latest reading, in id order, and
// refreshes the risk gauges.
func (s *Service) Snapshot(ctx context.Context) ([]PileStatus, error) {
	errFactory := errors.New()

	piles, err := s.store.ListPiles(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrSnapshot, err)
	}
	latest, err := s.store.LatestReadings(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrSnapshot, err)
	}

	statuses := make([]PileStatus, 0, len(piles))
	counts := make(map[risk.Level]int, len(risk.Levels))
	for _, p := range piles {
		var r *pile.Reading
		if l, ok := latest[p.ID]; ok {
			r = &l
		}
		st := statusOf(p, r)
		counts[st.Risk]++
		statuses = append(statuses, st)
	}
	s.metrics.SetRiskCounts(counts)

	s.log.Debug().Int("piles", len(statuses)).Msg("Built risk snapshot")

	return statuses, nil
}

// Route returns pile coordinates in id order.
func (s *Service) Route(ctx context.Context) (Route, error) {
	piles, err := s.store.ListPiles(ctx)
	if err != nil {
		return Route{}, errors.New().Wrap(ErrSnapshot, err)
	}

	route := Route{Points: make([]Coordinate, 0, len(piles))}
	for _, p := range piles {
		route.Points = append(route.Points, Coordinate{Longitude: p.Longitude, Latitude: p.Latitude})
	}
	return route, nil
}

// Details returns the status of a single pile.
func (s *Service) Details(ctx context.Context, id int64) (PileStatus, error) {
	errFactory := errors.New()

	p, err := s.store.PileByID(ctx, id)
	if err != nil {
		if errors.HasCode(err, ErrPileNotFound) {
			return PileStatus{}, errFactory.WithData(ErrPileNotFound, id)
		}
		return PileStatus{}, errFactory.Wrap(ErrSnapshot, err)
	}

	readings, err := s.store.Readings(ctx, id, pile.Range{}, 1)
	if err != nil {
		return PileStatus{}, errFactory.Wrap(ErrSnapshot, err)
	}

	var latest *pile.Reading
	if len(readings) > 0 {
		latest = &readings[0]
	}
	return statusOf(p, latest), nil
}

// Summary counts piles per risk level in legend order.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	statuses, err := s.Snapshot(ctx)
	if err != nil {
		return Summary{}, err
	}

	counts := make(map[risk.Level]int, len(risk.Levels))
	for _, st := range statuses {
		counts[st.Risk]++
	}

	sum := Summary{Total: len(statuses), Levels: make([]LevelCount, 0, len(risk.Levels))}
	for _, l := range risk.Levels {
		sum.Levels = append(sum.Levels, LevelCount{
			Level: l,
			Label: l.Label(),
			Color: l.Color(),
			Count: counts[l],
		})
	}
	return sum, nil
}
