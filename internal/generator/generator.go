package generator

import (
	"context"
	"math"
	"math/rand"
	"time"

	"codeberg.org/mutker/pilewatch/internal/errors"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/metrics"
	"codeberg.org/mutker/pilewatch/internal/pile"
	"codeberg.org/mutker/pilewatch/internal/storage"
)

const (
	defaultInterval   = 10 * time.Second
	defaultMaxPiles   = 3
	defaultMinVoltage = -1.5
	defaultMaxVoltage = -0.5
	defaultPrecision  = 3
)

type Config struct {
	Interval   time.Duration
	MaxPiles   int
	MinVoltage float64
	MaxVoltage float64
	Precision  int
}

func DefaultConfig() Config {
	return Config{
		Interval:   defaultInterval,
		MaxPiles:   defaultMaxPiles,
		MinVoltage: defaultMinVoltage,
		MaxVoltage: defaultMaxVoltage,
		Precision:  defaultPrecision,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(ErrInvalidInterval, c.Interval.String())
	}
	if c.MaxPiles < 1 {
		return errFactory.WithMessage(ErrInvalidConfig, "max_piles must be at least 1")
	}
	if c.MinVoltage > c.MaxVoltage {
		return errFactory.WithMessage(ErrInvalidConfig, "min_voltage must not exceed max_voltage")
	}
	if c.Precision < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "precision must not be negative")
	}
	return nil
}

// Sink receives every reading the generator stores.
type Sink interface {
	Publish(ctx context.Context, readings ...pile.Reading) error
}

type Option func(*Generator)

// WithSink forwards stored readings to s.
func WithSink(s Sink) Option {
	return func(g *Generator) { g.sink = s }
}

// WithRand replaces the random source, mainly for tests.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rnd = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func WithMetrics(c metrics.Collector) Option {
	return func(g *Generator) { g.metrics = c }
}

// Generator writes simulated voltage readings for randomly chosen piles.
type Generator struct {
	store   storage.Store
	cfg     Config
	log     logger.Logger
	sink    Sink
	rnd     *rand.Rand
	now     func() time.Time
	metrics metrics.Collector
}

func New(store storage.Store, cfg Config, log logger.Logger, opts ...Option) (*Generator, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	g := &Generator{
		store:   store,
		cfg:     cfg,
		log:     log,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		metrics: metrics.New(false),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Tick writes one reading to each of 1..min(n, MaxPiles) distinct random
// piles and returns what was stored. No piles means nothing to do.
func (g *Generator) Tick(ctx context.Context) ([]pile.Reading, error) {
	errFactory := errors.New()

	piles, err := g.store.ListPiles(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrTickFailed, err)
	}
	if len(piles) == 0 {
		g.log.Info().Msg("No test piles found, skipping reading generation")
		return nil, nil
	}

	count := 1 + g.rnd.Intn(min(len(piles), g.cfg.MaxPiles))
	now := g.now()

	readings := make([]pile.Reading, 0, count)
	for _, idx := range g.rnd.Perm(len(piles))[:count] {
		readings = append(readings, pile.Reading{
			PileID:    piles[idx].ID,
			Voltage:   g.voltage(),
			Timestamp: now,
		})
	}

	if err := g.store.InsertReadings(ctx, readings); err != nil {
		return nil, errFactory.Wrap(ErrTickFailed, err)
	}
	g.metrics.ReadingsGenerated(len(readings))

	for _, r := range readings {
		g.log.Debug().
			Int64("pile_id", r.PileID).
			Float64("voltage", r.Voltage).
			Msg("Generated reading")
	}

	if g.sink != nil {
		if err := g.sink.Publish(ctx, readings...); err != nil {
			return readings, errFactory.Wrap(ErrPublishFailed, err)
		}
	}

	return readings, nil
}

// Run ticks every Interval until ctx is done. Failed ticks are logged and
// the loop carries on.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	g.log.Info().
		Dur("interval", g.cfg.Interval).
		Int("max_piles", g.cfg.MaxPiles).
		Msg("Reading generator started")

	for {
		select {
		case <-ctx.Done():
			g.log.Info().Msg("Reading generator stopped")
			return nil
		case <-ticker.C:
			readings, err := g.Tick(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				g.metrics.GeneratorError()
				g.log.Error().Err(err).Msg("Reading generation failed")
				continue
			}
			if len(readings) > 0 {
				g.log.Info().Int("readings", len(readings)).Msg("Generated readings")
			}
		}
	}
}

func (g *Generator) voltage() float64 {
	v := g.cfg.MinVoltage + g.rnd.Float64()*(g.cfg.MaxVoltage-g.cfg.MinVoltage)
	return round(v, g.cfg.Precision)
}

func round(v float64, precision int) float64 {
	scale := math.Pow10(precision)
	return math.Round(v*scale) / scale
}
