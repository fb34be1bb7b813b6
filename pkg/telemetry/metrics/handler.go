package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an HTTP handler exposing the collector's registry in the
// Prometheus exposition format. A nil collector serves an empty registry.
//
// Example:
//
//	router.GET(cfg.Telemetry.Metrics.Path, gin.WrapH(collector.Handler()))
func (c *Collector) Handler() http.Handler {
	return c.HandlerWithOptions(promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// HandlerWithOptions returns an HTTP handler with custom options.
func (c *Collector) HandlerWithOptions(opts promhttp.HandlerOpts) http.Handler {
	if c == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), opts)
	}
	return promhttp.HandlerFor(c.registry, opts)
}
