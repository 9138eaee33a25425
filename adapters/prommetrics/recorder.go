package prommetrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-crmsync/core"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric unless the name already carries it.
const DefaultNamespace = "crmsync"

var DefaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type Option func(*Recorder)

func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		r.namespace = sanitizeName(namespace)
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// Recorder maps the service metric contract onto prometheus vectors. Vectors
// are created lazily and their label set is fixed by the first observation.
type Recorder struct {
	registerer prometheus.Registerer
	namespace  string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*labeledCounter
	histograms map[string]*labeledHistogram
	onError    func(error)
}

type labeledCounter struct {
	vec    *prometheus.CounterVec
	labels []string
}

type labeledHistogram struct {
	vec    *prometheus.HistogramVec
	labels []string
}

func New(registerer prometheus.Registerer, opts ...Option) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		registerer: registerer,
		namespace:  DefaultNamespace,
		buckets:    DefaultBuckets,
		counters:   map[string]*labeledCounter{},
		histograms: map[string]*labeledHistogram{},
		onError:    func(error) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// OnError receives registration failures. Metrics never fail the caller.
func (r *Recorder) OnError(fn func(error)) {
	if r == nil || fn == nil {
		return
	}
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

func (r *Recorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	counter, err := r.counter(name, tags)
	if err != nil {
		r.report(err)
		return
	}
	counter.vec.With(labelValues(counter.labels, tags)).Add(float64(value))
}

func (r *Recorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram, err := r.histogram(name, tags)
	if err != nil {
		r.report(err)
		return
	}
	histogram.vec.With(labelValues(histogram.labels, tags)).Observe(value)
}

func (r *Recorder) counter(name string, tags map[string]string) (*labeledCounter, error) {
	metricName := r.metricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[metricName]; ok {
		return existing, nil
	}
	labels := labelNames(tags)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricName,
		Help: fmt.Sprintf("Counter %s.", strings.TrimSpace(name)),
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				vec = existing
			} else {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	created := &labeledCounter{vec: vec, labels: labels}
	r.counters[metricName] = created
	return created, nil
}

func (r *Recorder) histogram(name string, tags map[string]string) (*labeledHistogram, error) {
	metricName := r.metricName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[metricName]; ok {
		return existing, nil
	}
	labels := labelNames(tags)
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricName,
		Help:    fmt.Sprintf("Histogram %s.", strings.TrimSpace(name)),
		Buckets: r.buckets,
	}, labels)
	if err := r.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				vec = existing
			} else {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	created := &labeledHistogram{vec: vec, labels: labels}
	r.histograms[metricName] = created
	return created, nil
}

func (r *Recorder) report(err error) {
	r.mu.Lock()
	fn := r.onError
	r.mu.Unlock()
	fn(err)
}

// metricName turns "crmsync.delivery.attempts.total" into
// "crmsync_delivery_attempts_total".
func (r *Recorder) metricName(name string) string {
	sanitized := sanitizeName(name)
	if r.namespace == "" || sanitized == r.namespace || strings.HasPrefix(sanitized, r.namespace+"_") {
		return sanitized
	}
	return r.namespace + "_" + sanitized
}

func sanitizeName(value string) string {
	value = strings.TrimSpace(value)
	var builder strings.Builder
	builder.Grow(len(value))
	for i, ch := range value {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '_':
			builder.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			if i == 0 {
				builder.WriteRune('_')
			}
			builder.WriteRune(ch)
		default:
			builder.WriteRune('_')
		}
	}
	return builder.String()
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for key := range tags {
		if name := sanitizeName(key); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return compactSorted(names)
}

// labelValues fills missing labels with "" and ignores tags outside the
// registered label set.
func labelValues(names []string, tags map[string]string) prometheus.Labels {
	byName := make(map[string]string, len(tags))
	for key, value := range tags {
		byName[sanitizeName(key)] = value
	}
	out := make(prometheus.Labels, len(names))
	for _, name := range names {
		out[name] = byName[name]
	}
	return out
}

func compactSorted(values []string) []string {
	if len(values) < 2 {
		return values
	}
	out := values[:1]
	for _, value := range values[1:] {
		if value != out[len(out)-1] {
			out = append(out, value)
		}
	}
	return out
}

var _ core.MetricsRecorder = (*Recorder)(nil)
