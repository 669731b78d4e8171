package metrics

import (
	"net/http"

	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/risk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pilewatch"

// Collector records pile and reading metrics.
type Collector interface {
	// SetRiskCounts replaces the per-level pile gauge.
	SetRiskCounts(counts map[risk.Level]int)
	ReadingsGenerated(n int)
	ReadingsIngested(n int)
	GeneratorError()
	// Handler exposes the collected metrics. The no-op collector serves 404.
	Handler() http.Handler
}

type service struct {
	registry  *prometheus.Registry
	piles     *prometheus.GaugeVec
	generated prometheus.Counter
	ingested  prometheus.Counter
	genErrors prometheus.Counter
}

// No-op implementation
type noopCollector struct{}

// New returns a Prometheus backed Collector with its own registry, or a
// no-op collector when disabled.
func New(enabled bool) Collector {
	if !enabled {
		logger.Debug().Msg("Metrics collection disabled, using no-op collector")
		return noopCollector{}
	}

	s := &service{
		registry: prometheus.NewRegistry(),
		piles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "piles",
			Help:      "Number of test piles by current risk level.",
		}, []string{"risk_level"}),
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_generated_total",
			Help:      "Total simulated readings written by the generator.",
		}),
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Total readings stored from the Kafka consumer.",
		}),
		genErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_errors_total",
			Help:      "Total failed generator ticks.",
		}),
	}

	s.registry.MustRegister(
		s.piles,
		s.generated,
		s.ingested,
		s.genErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, level := range risk.Levels {
		s.piles.WithLabelValues(level.String()).Set(0)
	}

	return s
}

func (s *service) SetRiskCounts(counts map[risk.Level]int) {
	for _, level := range risk.Levels {
		s.piles.WithLabelValues(level.String()).Set(float64(counts[level]))
	}
}

func (s *service) ReadingsGenerated(n int) {
	s.generated.Add(float64(n))
}

func (s *service) ReadingsIngested(n int) {
	s.ingested.Add(float64(n))
}

func (s *service) GeneratorError() {
	s.genErrors.Inc()
}

func (s *service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (noopCollector) SetRiskCounts(map[risk.Level]int) {}
func (noopCollector) ReadingsGenerated(int)            {}
func (noopCollector) ReadingsIngested(int)             {}
func (noopCollector) GeneratorError()                  {}

func (noopCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}
