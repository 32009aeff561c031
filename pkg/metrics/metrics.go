// Package metrics is a small Prometheus text-format registry for the
// helpdesk binaries. Series are addressed by their full name, labels
// included, so `helpdesk_ingest_messages_total{state="persisted"}` and
// `helpdesk_ingest_messages_total{state="failed"}` are two series of one
// family.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets suit durations from a few milliseconds to a full cycle.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter only goes up.
type Counter struct{ n atomic.Int64 }

func (c *Counter) Inc() { c.n.Add(1) }

func (c *Counter) Add(n int64) { c.n.Add(n) }

func (c *Counter) Value() int64 { return c.n.Load() }

// Gauge holds the last value set.
type Gauge struct{ n atomic.Int64 }

func (g *Gauge) Set(n int64) { g.n.Store(n) }

func (g *Gauge) Value() int64 { return g.n.Load() }

// Histogram counts observations into fixed upper bounds.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64 // per bound, not cumulative
	sum    float64
	count  uint64
}

func newHistogram(bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b))}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	i := sort.SearchFloat64s(h.bounds, v)
	h.mu.Lock()
	if i < len(h.counts) {
		h.counts[i]++
	}
	h.sum += v
	h.count++
	h.mu.Unlock()
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

func (h *Histogram) snapshot() (bounds []float64, counts []uint64, sum float64, count uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bounds, append([]uint64(nil), h.counts...), h.sum, h.count
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups the series sharing a base name.
type family struct {
	kind   kind
	help   string
	series map[string]any
}

// Registry holds every family in registration order.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
	order    []string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{families: map[string]*family{}}
}

// lookup returns the series called name, creating it with mk on first use.
// Asking for an existing family under a different kind panics.
func (r *Registry) lookup(name, help string, k kind, mk func() any) any {
	base := metricBaseName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[base]
	if !ok {
		f = &family{kind: k, series: map[string]any{}}
		r.families[base] = f
		r.order = append(r.order, base)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", base, f.kind, k))
	}
	if f.help == "" {
		f.help = help
	}
	s, ok := f.series[name]
	if !ok {
		s = mk()
		f.series[name] = s
	}
	return s
}

// Counter returns the counter called name, creating it if needed.
func (r *Registry) Counter(name, help string) *Counter {
	return r.lookup(name, help, kindCounter, func() any { return &Counter{} }).(*Counter)
}

// Gauge returns the gauge called name, creating it if needed.
func (r *Registry) Gauge(name, help string) *Gauge {
	return r.lookup(name, help, kindGauge, func() any { return &Gauge{} }).(*Gauge)
}

// Histogram returns the histogram called name. buckets only matter on
// first use; nil means DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return r.lookup(name, help, kindHistogram, func() any { return newHistogram(buckets) }).(*Histogram)
}

// WithLabels appends label pairs to name: WithLabels("x", "k", "v") is
// `x{k="v"}`. An odd number of kvs leaves name unchanged.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		pairs = append(pairs, fmt.Sprintf("%s=%q", kvs[i], kvs[i+1]))
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func metricBaseName(name string) string {
	base, _, _ := strings.Cut(name, "{")
	return base
}

// labelsOf returns the text between the braces of a series name.
func labelsOf(name string) string {
	_, rest, ok := strings.Cut(name, "{")
	if !ok {
		return ""
	}
	return strings.TrimSuffix(rest, "}")
}

// Render writes every series in the Prometheus text exposition format.
func (r *Registry) Render() string {
	var b strings.Builder
	r.WriteTo(&b)
	return b.String()
}

// WriteTo implements io.WriterTo.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cw := &countingWriter{w: w}
	for _, base := range r.order {
		f := r.families[base]
		if f.help != "" {
			fmt.Fprintf(cw, "# HELP %s %s\n", base, f.help)
		}
		fmt.Fprintf(cw, "# TYPE %s %s\n", base, f.kind)

		names := make([]string, 0, len(f.series))
		for n := range f.series {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			switch s := f.series[n].(type) {
			case *Counter:
				fmt.Fprintf(cw, "%s %d\n", n, s.Value())
			case *Gauge:
				fmt.Fprintf(cw, "%s %d\n", n, s.Value())
			case *Histogram:
				writeHistogram(cw, base, labelsOf(n), s)
			}
		}
	}
	return cw.n, cw.err
}

func writeHistogram(w io.Writer, base, labels string, h *Histogram) {
	bounds, counts, sum, count := h.snapshot()
	extra, wrapped := "", ""
	if labels != "" {
		extra, wrapped = ","+labels, "{"+labels+"}"
	}
	var cum uint64
	for i, le := range bounds {
		cum += counts[i]
		fmt.Fprintf(w, "%s_bucket{le=\"%g\"%s} %d\n", base, le, extra, cum)
	}
	fmt.Fprintf(w, "%s_bucket{le=\"+Inf\"%s} %d\n", base, extra, count)
	fmt.Fprintf(w, "%s_sum%s %g\n", base, wrapped, sum)
	fmt.Fprintf(w, "%s_count%s %d\n", base, wrapped, count)
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

// Handler serves the registry in the text exposition format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	})
}

// Serve exposes /metrics on port until ctx is done.
func (r *Registry) Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", r.Handler())
	mux.HandleFunc("GET /", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok\n")
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	})
	defer stop()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeAsync runs Serve in the background and logs its failure.
func (r *Registry) ServeAsync(ctx context.Context, port int, log *slog.Logger) {
	go func() {
		if err := r.Serve(ctx, port); err != nil {
			log.Error("metrics server error", "port", port, "error", err)
		}
	}()
}

// CollectRuntime samples goroutine, heap and GC figures now and then every
// interval until ctx is done.
func (r *Registry) CollectRuntime(ctx context.Context, interval time.Duration) {
	goroutines := r.Gauge("process_goroutines", "Number of live goroutines")
	heap := r.Gauge("process_heap_bytes", "Bytes of allocated heap objects")
	gcs := r.Gauge("process_gc_cycles", "Completed GC cycles")
	sample := func() {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		goroutines.Set(int64(runtime.NumGoroutine()))
		heap.Set(int64(ms.HeapAlloc))
		gcs.Set(int64(ms.NumGC))
	}
	sample()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				sample()
			}
		}
	}()
}
