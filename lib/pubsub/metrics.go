package pubsub

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// registryMetrics are the counters of one Registry. They live in their own
// go-metrics registry so several Registries (e.g. in tests) don't share counters.
type registryMetrics struct {
	registry    gometrics.Registry
	published   gometrics.Counter
	delivered   gometrics.Counter
	failed      gometrics.Counter
	removed     gometrics.Counter
	subscribers gometrics.Counter
}

func newRegistryMetrics() *registryMetrics {
	r := gometrics.NewRegistry()
	return &registryMetrics{
		registry:    r,
		published:   gometrics.NewRegisteredCounter("pubsub.published", r),
		delivered:   gometrics.NewRegisteredCounter("pubsub.delivered", r),
		failed:      gometrics.NewRegisteredCounter("pubsub.failed", r),
		removed:     gometrics.NewRegisteredCounter("pubsub.removed", r),
		subscribers: gometrics.NewRegisteredCounter("pubsub.subscribers", r),
	}
}

// Stats is a point in time copy of the registry counters
type Stats struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Failed      int64 `json:"failed"`
	Removed     int64 `json:"removed"`
	Subscribers int64 `json:"subscribers"`
}

// Stats returns the current counters
func (r *Registry) Stats() Stats {
	m := r.metrics
	return Stats{
		Published:   m.published.Count(),
		Delivered:   m.delivered.Count(),
		Failed:      m.failed.Count(),
		Removed:     m.removed.Count(),
		Subscribers: m.subscribers.Count(),
	}
}

// Metrics exposes the underlying go-metrics registry
func (r *Registry) Metrics() gometrics.Registry { return r.metrics.registry }

// LogStats logs all counters every interval until ctx is done
func (r *Registry) LogStats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Logger.Infof("stats: %s", formatRegistry(r.metrics.registry))
		}
	}
}

// formatRegistry renders all counters as "name=value" sorted by name
func formatRegistry(reg gometrics.Registry) string {
	var parts []string
	reg.Each(func(name string, metric interface{}) {
		if c, ok := metric.(gometrics.Counter); ok {
			parts = append(parts, name+"="+strconv.FormatInt(c.Count(), 10))
		}
	})
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
