package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Edonmorinaa/wirecrest-monorepo-sub004/buildinfo"
)

// ScrapeRegistry implements Registry for the server's /metrics endpoint.
//
// Besides the metrics created through it, the registry always exports the
// Go runtime and process collectors, <namespace>_build_info and
// <namespace>_uptime_seconds, so a single scrape identifies the running
// build. Constant labels apply to every service metric but not to the
// runtime collectors.
type ScrapeRegistry struct {
	prom        *prometheus.Registry
	reg         prometheus.Registerer
	namespace   string
	constLabels prometheus.Labels
	startTime   time.Time
}

// ScrapeOption configures a ScrapeRegistry.
type ScrapeOption func(*ScrapeRegistry)

// WithNamespace replaces Namespace as the default metric name prefix.
func WithNamespace(namespace string) ScrapeOption {
	return func(r *ScrapeRegistry) {
		r.namespace = namespace
	}
}

// WithConstLabels attaches labels to every service metric, for example the
// deployment an instance belongs to.
func WithConstLabels(labels prometheus.Labels) ScrapeOption {
	return func(r *ScrapeRegistry) {
		r.constLabels = labels
	}
}

// NewScrapeRegistry creates a ScrapeRegistry.
func NewScrapeRegistry(opts ...ScrapeOption) (*ScrapeRegistry, error) {
	r := &ScrapeRegistry{
		prom:      prometheus.NewRegistry(),
		namespace: Namespace,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reg = r.prom
	if len(r.constLabels) > 0 {
		r.reg = prometheus.WrapRegistererWith(r.constLabels, r.prom)
	}

	if err := r.prom.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}
	if err := r.prom.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("registering process collector: %w", err)
	}

	props := buildinfo.Get()
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "build_info",
		Help:      "Build of the running service. Always 1.",
	}, []string{"version", "git_commit", "go_version"})
	info.With(prometheus.Labels{
		"version":    props.Version,
		"git_commit": props.GitCommit,
		"go_version": props.GoVersion,
	}).Set(1)
	if err := r.register("gauge vec", "build_info", info); err != nil {
		return nil, err
	}

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the registry was created.",
	}, func() float64 {
		return time.Since(r.startTime).Seconds()
	})
	if err := r.register("gauge", "uptime_seconds", uptime); err != nil {
		return nil, err
	}

	return r, nil
}

// Handler returns an http.Handler for the /metrics endpoint.
func (r *ScrapeRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *ScrapeRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

func (r *ScrapeRegistry) register(kind, name string, c prometheus.Collector) error {
	if err := r.reg.Register(c); err != nil {
		return fmt.Errorf("registering %s %q: %w", kind, name, err)
	}
	return nil
}

// ns fills in the registry's namespace when the caller left it empty.
func (r *ScrapeRegistry) ns(namespace string) string {
	if namespace == "" {
		return r.namespace
	}
	return namespace
}

// NewGauge creates and registers a new Gauge.
func (r *ScrapeRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	opts.Namespace = r.ns(opts.Namespace)
	g := prometheus.NewGauge(opts)
	if err := r.register("gauge", opts.Name, g); err != nil {
		return nil, err
	}
	return g, nil
}

// NewGaugeVec creates and registers a new GaugeVec.
func (r *ScrapeRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	opts.Namespace = r.ns(opts.Namespace)
	g := prometheus.NewGaugeVec(opts, labels)
	if err := r.register("gauge vec", opts.Name, g); err != nil {
		return nil, err
	}
	return gaugeVec{g}, nil
}

// NewCounter creates and registers a new Counter.
func (r *ScrapeRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	opts.Namespace = r.ns(opts.Namespace)
	c := prometheus.NewCounter(opts)
	if err := r.register("counter", opts.Name, c); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCounterVec creates and registers a new CounterVec.
func (r *ScrapeRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	opts.Namespace = r.ns(opts.Namespace)
	c := prometheus.NewCounterVec(opts, labels)
	if err := r.register("counter vec", opts.Name, c); err != nil {
		return nil, err
	}
	return counterVec{c}, nil
}

// NewHistogramVec creates and registers a new HistogramVec.
func (r *ScrapeRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) (HistogramVec, error) {
	opts.Namespace = r.ns(opts.Namespace)
	h := prometheus.NewHistogramVec(opts, labels)
	if err := r.register("histogram vec", opts.Name, h); err != nil {
		return nil, err
	}
	return histogramVec{h}, nil
}

// The client_golang metric types satisfy Gauge, Counter and Histogram as
// they are; only the vecs need adapting since With returns concrete types.

type gaugeVec struct{ *prometheus.GaugeVec }

func (g gaugeVec) With(labels prometheus.Labels) Gauge { return g.GaugeVec.With(labels) }

type counterVec struct{ *prometheus.CounterVec }

func (c counterVec) With(labels prometheus.Labels) Counter { return c.CounterVec.With(labels) }

type histogramVec struct{ *prometheus.HistogramVec }

func (h histogramVec) With(labels prometheus.Labels) Histogram { return h.HistogramVec.With(labels) }
