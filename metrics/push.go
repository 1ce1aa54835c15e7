package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second
)

// PushRegistry implements Registry for the CLI. A command lives too briefly
// to be scraped, so updates are buffered as the current value of each series
// and sent to a Prometheus remote write endpoint in one request by Flush.
// Counters and histograms stay cumulative across flushes.
type PushRegistry struct {
	namespace string
	buf       *seriesBuffer
	client    *remoteWriter
}

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint (e.g., "http://localhost:8428").
	URL string
	// Namespace is the default metric name prefix. Defaults to Namespace.
	Namespace string
	// Job is the job label for all metrics.
	Job string
	// Instance is the instance label for all metrics.
	Instance string
	// Timeout is the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
	// Logger receives flush results. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewPushRegistry creates a PushRegistry that flushes to cfg.URL.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = Namespace
	}

	return &PushRegistry{
		namespace: namespace,
		buf:       &seriesBuffer{series: make(map[string]*series), now: time.Now},
		client: &remoteWriter{
			logger:     logger.With("component", "metrics_push"),
			url:        strings.TrimSuffix(cfg.URL, "/") + "/api/v1/write",
			httpClient: &http.Client{Timeout: timeout},
			job:        cfg.Job,
			instance:   cfg.Instance,
		},
	}
}

func (r *PushRegistry) name(namespace, subsystem, name string) string {
	if namespace == "" {
		namespace = r.namespace
	}
	return prometheus.BuildFQName(namespace, subsystem, name)
}

// NewGauge creates a new push-based Gauge.
func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return &pushGauge{buf: r.buf, name: r.name(opts.Namespace, opts.Subsystem, opts.Name)}, nil
}

// NewGaugeVec creates a new push-based GaugeVec.
func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	return &pushGaugeVec{buf: r.buf, name: r.name(opts.Namespace, opts.Subsystem, opts.Name)}, nil
}

// NewCounter creates a new push-based Counter.
func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return &pushCounter{buf: r.buf, name: r.name(opts.Namespace, opts.Subsystem, opts.Name)}, nil
}

// NewCounterVec creates a new push-based CounterVec.
func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	return &pushCounterVec{buf: r.buf, name: r.name(opts.Namespace, opts.Subsystem, opts.Name)}, nil
}

// NewHistogramVec creates a new push-based HistogramVec. Observations are
// pushed as the usual _bucket, _sum and _count series.
func (r *PushRegistry) NewHistogramVec(opts prometheus.HistogramOpts, labels []string) (HistogramVec, error) {
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	return &pushHistogramVec{
		buf:     r.buf,
		name:    r.name(opts.Namespace, opts.Subsystem, opts.Name),
		buckets: append(append([]float64(nil), buckets...), math.Inf(1)),
	}, nil
}

// Flush sends every buffered series in one remote write request. It is a
// no-op when nothing was recorded.
func (r *PushRegistry) Flush(ctx context.Context) error {
	snapshot := r.buf.snapshot()
	if len(snapshot) == 0 {
		return nil
	}
	if err := r.client.write(ctx, snapshot); err != nil {
		return fmt.Errorf("pushing %d series: %w", len(snapshot), err)
	}
	r.client.logger.Debug("pushed metrics", "series", len(snapshot))
	return nil
}

// series is the current value of one name and label set.
type series struct {
	name   string
	labels map[string]string
	value  float64
	at     time.Time
}

// seriesBuffer holds the latest value of each series between flushes.
type seriesBuffer struct {
	mu     sync.Mutex
	series map[string]*series
	now    func() time.Time
}

func (b *seriesBuffer) entry(name string, labels map[string]string) *series {
	key := name + "{" + labelsToKey(labels) + "}"
	s, ok := b.series[key]
	if !ok {
		copied := make(map[string]string, len(labels))
		for k, v := range labels {
			copied[k] = v
		}
		s = &series{name: name, labels: copied}
		b.series[key] = s
	}
	return s
}

func (b *seriesBuffer) set(name string, labels map[string]string, v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.entry(name, labels)
	s.value = v
	s.at = b.now()
}

func (b *seriesBuffer) add(name string, labels map[string]string, delta float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.entry(name, labels)
	s.value += delta
	s.at = b.now()
}

// observe updates the series of one histogram observation under a single
// lock so a flush never sees a partial observation. buckets must end in +Inf.
func (b *seriesBuffer) observe(name string, labels map[string]string, buckets []float64, v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	bump := func(s *series, delta float64) {
		s.value += delta
		s.at = now
	}
	for _, upper := range buckets {
		if v > upper {
			continue
		}
		le := make(map[string]string, len(labels)+1)
		for k, val := range labels {
			le[k] = val
		}
		le["le"] = formatBound(upper)
		bump(b.entry(name+"_bucket", le), 1)
	}
	bump(b.entry(name+"_sum", labels), v)
	bump(b.entry(name+"_count", labels), 1)
}

// snapshot copies the buffer in a stable order.
func (b *seriesBuffer) snapshot() []series {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.series))
	for k := range b.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]series, 0, len(keys))
	for _, k := range keys {
		out = append(out, *b.series[k])
	}
	return out
}

func formatBound(upper float64) string {
	if math.IsInf(upper, 1) {
		return "+Inf"
	}
	return strconv.FormatFloat(upper, 'g', -1, 64)
}

// remoteWriter encodes series as a remote write request.
type remoteWriter struct {
	logger     *slog.Logger
	url        string
	httpClient *http.Client
	job        string
	instance   string
}

func (w *remoteWriter) write(ctx context.Context, snapshot []series) error {
	req := &prompb.WriteRequest{Timeseries: make([]prompb.TimeSeries, 0, len(snapshot))}
	for _, s := range snapshot {
		req.Timeseries = append(req.Timeseries, w.timeSeries(s))
	}

	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(snappy.Encode(nil, data)))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// timeSeries builds the labels of s, job and instance included, sorted by
// name as remote write receivers expect.
func (w *remoteWriter) timeSeries(s series) prompb.TimeSeries {
	labels := make([]prompb.Label, 0, len(s.labels)+3)
	labels = append(labels, prompb.Label{Name: "__name__", Value: s.name})
	if w.job != "" {
		labels = append(labels, prompb.Label{Name: "job", Value: w.job})
	}
	if w.instance != "" {
		labels = append(labels, prompb.Label{Name: "instance", Value: w.instance})
	}
	for k, v := range s.labels {
		labels = append(labels, prompb.Label{Name: k, Value: v})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })

	return prompb.TimeSeries{
		Labels:  labels,
		Samples: []prompb.Sample{{Value: s.value, Timestamp: s.at.UnixMilli()}},
	}
}

type pushGauge struct {
	buf    *seriesBuffer
	name   string
	labels map[string]string
}

func (g *pushGauge) Set(v float64) {
	g.buf.set(g.name, g.labels, v)
}

type pushGaugeVec struct {
	buf  *seriesBuffer
	name string
}

func (g *pushGaugeVec) With(labels prometheus.Labels) Gauge {
	return &pushGauge{buf: g.buf, name: g.name, labels: labels}
}

type pushCounter struct {
	buf    *seriesBuffer
	name   string
	labels map[string]string
}

func (c *pushCounter) Inc() {
	c.Add(1)
}

func (c *pushCounter) Add(v float64) {
	if v < 0 {
		panic("counter cannot decrease in value")
	}
	c.buf.add(c.name, c.labels, v)
}

type pushCounterVec struct {
	buf  *seriesBuffer
	name string
}

func (c *pushCounterVec) With(labels prometheus.Labels) Counter {
	return &pushCounter{buf: c.buf, name: c.name, labels: labels}
}

type pushHistogram struct {
	buf     *seriesBuffer
	name    string
	buckets []float64
	labels  map[string]string
}

func (h *pushHistogram) Observe(v float64) {
	h.buf.observe(h.name, h.labels, h.buckets, v)
}

type pushHistogramVec struct {
	buf     *seriesBuffer
	name    string
	buckets []float64
}

func (h *pushHistogramVec) With(labels prometheus.Labels) Histogram {
	return &pushHistogram{buf: h.buf, name: h.name, buckets: h.buckets, labels: labels}
}

// labelsToKey creates a stable string key from labels for map lookup.
func labelsToKey(labels map[string]string) string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}
