// Package prom exposes the latest value of every numeric tracking record as
// Prometheus gauges. Training jobs are short lived, so the sink can push its
// registry to a Pushgateway when it is closed.
package prom

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("prometheus sink closed")

// DefaultNamespace prefixes metric names when Config.Namespace is empty.
const DefaultNamespace = "scitrack"

// Config configures the sink.
type Config struct {
	Namespace string
	// PushURL, when set, is the Pushgateway the registry is pushed to on Close.
	PushURL string
	// Job is the Pushgateway job label.
	Job string
	// RunName is added as a grouping label when pushing.
	RunName string
}

// Sink records numeric values as gauges labeled by path.
type Sink struct {
	cfg      Config
	registry *prometheus.Registry
	value    *prometheus.GaugeVec
	step     *prometheus.GaugeVec
	records  *prometheus.CounterVec
	logger   log.Logger

	mu     sync.Mutex
	closed bool
}

var _ tracking.Sink = (*Sink)(nil)

// New registers the sink's collectors on a fresh registry.
func New(cfg Config) *Sink {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Job == "" {
		cfg.Job = "training"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Sink{
		cfg:      cfg,
		registry: reg,
		value: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "record_value",
				Help:      "Latest value of a numeric tracking record, labeled by path.",
			},
			[]string{"path"},
		),
		step: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "record_step",
				Help:      "Step of the latest numeric tracking record, labeled by path.",
			},
			[]string{"path"},
		),
		records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "records_total",
				Help:      "Total number of records appended, labeled by value kind.",
			},
			[]string{"kind"},
		),
		logger: log.GetLogger().With(log.ComponentKey, "prom"),
	}
}

func (s *Sink) Name() string { return "prometheus" }

// Registry returns the registry holding the sink's collectors.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// Handler serves the sink's registry in the Prometheus text format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Append updates gauges for numeric and bool records. Strings and bytes are
// only counted.
func (s *Sink) Append(_ context.Context, records []tracking.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, r := range records {
		s.records.WithLabelValues(r.Value.Kind.String()).Inc()
		f, ok := r.Value.Numeric()
		if !ok {
			continue
		}
		s.value.WithLabelValues(r.Path).Set(f)
		s.step.WithLabelValues(r.Path).Set(float64(r.Step))
	}
	return nil
}

// Close pushes to the configured Pushgateway, if any. Only the first call
// pushes; the registry stays readable through Handler afterwards.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cfg.PushURL == "" {
		return nil
	}
	start := time.Now()
	p := push.New(s.cfg.PushURL, s.cfg.Job).Gatherer(s.registry)
	if s.cfg.RunName != "" {
		p = p.Grouping("run", s.cfg.RunName)
	}
	if err := p.PushContext(ctx); err != nil {
		return errors.Wrapf(err, "push to %s", s.cfg.PushURL)
	}
	s.logger.Debug("pushed metrics", log.EndpointKey, s.cfg.PushURL, log.DurationMsKey, time.Since(start).Milliseconds())
	return nil
}
