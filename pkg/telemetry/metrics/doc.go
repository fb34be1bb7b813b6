// Package metrics provides Prometheus metrics collection for keygate.
//
// # Overview
//
// A Collector owns a private Prometheus registry and groups metrics by the
// component that produces them:
//
//   - Admission Metrics: admissions by tier and result, CAS conflicts,
//     fallbacks, admission latency and reserved token estimates
//   - Usage Metrics: completions by outcome, reconciled tokens and
//     credential status transitions
//   - Sweep Metrics: sweep runs, duration, reclaimed windows and
//     per-credential failures
//   - Tier Metrics: aggregated per-tier usage gauges
//   - Cache Metrics: status cache hits, misses, evictions and identity
//     check failures
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordAdmission("flagship", metrics.ResultAdmitted, 3*time.Millisecond)
//	router.GET("/metrics", gin.WrapH(collector.Handler()))
//
// Every Record method is safe on a nil *Collector so components can run
// without metrics in tests and CLI commands.
//
// # Prometheus Endpoint
//
//	# HELP keygate_admissions_total Total number of admission decisions
//	# TYPE keygate_admissions_total counter
//	keygate_admissions_total{result="admitted",tier="flagship"} 1234
package metrics
