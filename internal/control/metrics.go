package control

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ---------------------------------------------------------------------------
// Metrics — Prometheus text exposition for the counters the loops expose
// ---------------------------------------------------------------------------

// metricPoint is one sample in the exposition output.
type metricPoint struct {
	Name  string
	Help  string
	Type  string // counter|gauge
	Value float64
}

// MetricsSource produces the current samples at scrape time. The loops
// already keep atomic counters in their Stats structs, so the registry
// pulls instead of being pushed.
type MetricsSource func() []metricPoint

// metricsRegistry collects sources and renders them.
type metricsRegistry struct {
	mu      sync.Mutex
	sources []MetricsSource
}

func (r *metricsRegistry) register(src MetricsSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, src)
}

// render writes all samples in Prometheus text exposition format,
// sorted by name for a stable scrape.
func (r *metricsRegistry) render() string {
	r.mu.Lock()
	sources := append([]MetricsSource(nil), r.sources...)
	r.mu.Unlock()

	var points []metricPoint
	for _, src := range sources {
		points = append(points, src()...)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Name < points[j].Name })

	var b strings.Builder
	for _, p := range points {
		fmt.Fprintf(&b, "# HELP %s %s\n", p.Name, p.Help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", p.Name, p.Type)
		b.WriteString(p.Name)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(p.Value, 'g', -1, 64))
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *metricsRegistry) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.render()))
	}
}
