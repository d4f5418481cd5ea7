// Package prometheus exports delta counters and histograms through the
// Prometheus client.
package prometheus

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/juanbarco92/delta/core"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultLabels is the label set every metric carries. Tags outside it are
// dropped and missing ones are exported empty, so a metric keeps one label
// schema however it is called.
var DefaultLabels = []string{"operation", "status", "method", "status_code", "reason", "job_id"}

// Recorder implements core.MetricsRecorder by registering one vector per
// metric name on first use.
type Recorder struct {
	registerer prom.Registerer
	gatherer   prom.Gatherer
	labels     []string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prom.CounterVec
	histograms map[string]*prom.HistogramVec
}

type Option func(*Recorder)

func WithLabels(labels ...string) Option {
	return func(r *Recorder) {
		if len(labels) > 0 {
			r.labels = append([]string(nil), labels...)
		}
	}
}

func WithBuckets(buckets ...float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

func NewRecorder(registry *prom.Registry, opts ...Option) *Recorder {
	if registry == nil {
		registry = prom.NewRegistry()
	}
	r := &Recorder{
		registerer: registry,
		gatherer:   registry,
		labels:     append([]string(nil), DefaultLabels...),
		buckets:    []float64{5, 25, 100, 250, 1000, 2500, 10000},
		counters:   map[string]*prom.CounterVec{},
		histograms: map[string]*prom.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	vec, err := r.counter(name)
	if err != nil || value < 0 {
		return
	}
	vec.With(r.labelValues(tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	vec, err := r.histogram(name)
	if err != nil {
		return
	}
	vec.With(r.labelValues(tags)).Observe(value)
}

func (r *Recorder) Gatherer() prom.Gatherer {
	return r.gatherer
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) counter(name string) (*prom.CounterVec, error) {
	metric := MetricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.counters[metric]; ok {
		return vec, nil
	}
	vec := prom.NewCounterVec(prom.CounterOpts{Name: metric, Help: "delta counter " + name}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		return nil, err
	}
	r.counters[metric] = vec
	return vec, nil
}

func (r *Recorder) histogram(name string) (*prom.HistogramVec, error) {
	metric := MetricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if vec, ok := r.histograms[metric]; ok {
		return vec, nil
	}
	vec := prom.NewHistogramVec(prom.HistogramOpts{Name: metric, Help: "delta histogram " + name, Buckets: r.buckets}, r.labels)
	if err := r.registerer.Register(vec); err != nil {
		return nil, err
	}
	r.histograms[metric] = vec
	return vec, nil
}

func (r *Recorder) labelValues(tags map[string]string) prom.Labels {
	values := make(prom.Labels, len(r.labels))
	for _, label := range r.labels {
		values[label] = tags[label]
	}
	return values
}

// MetricName maps a dotted delta metric name onto the Prometheus charset.
func MetricName(name string) string {
	var b strings.Builder
	for i, ch := range strings.TrimSpace(name) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '_', ch == ':':
			b.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(ch)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "delta_unnamed"
	}
	return b.String()
}

var _ core.MetricsRecorder = (*Recorder)(nil)
