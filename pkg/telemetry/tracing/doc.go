// Package tracing records OpenTelemetry spans for keygate.
//
// Spans cover each HTTP request and each admission decision. Admission
// spans carry the requested and granted tier, the credential id and the
// reservation id; key material never appears in span attributes.
//
// Configuration:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    sampler: ratio        # always | never | ratio
//	    sample_ratio: 0.1
//	    exporter: otlp
//	    endpoint: localhost:4317
//	    otlp:
//	      insecure: true
//
// Incoming W3C traceparent headers are honoured, so a caller's trace
// continues through keygate. Outbound identity lookups carry the current
// trace context.
package tracing
