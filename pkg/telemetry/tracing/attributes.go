package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys. Generic HTTP attributes follow the OpenTelemetry
// semantic conventions; keygate specifics live under "keygate.".
const (
	AttrRequestedTier   = "keygate.tier.requested"
	AttrTier            = "keygate.tier"
	AttrCredentialID    = "keygate.credential.id"
	AttrReservationID   = "keygate.reservation.id"
	AttrEstimatedTokens = "keygate.tokens.estimated"
	AttrActualTokens    = "keygate.tokens.actual"
	AttrFallbackCount   = "keygate.fallback.count"
	AttrRetryAfter      = "keygate.retry_after_seconds"
	AttrOutcome         = "keygate.outcome"

	AttrHTTPMethod = "http.request.method"
	AttrHTTPRoute  = "http.route"
	AttrHTTPStatus = "http.response.status_code"
	AttrRequestID  = "keygate.request_id"
)

// SetAdmissionRequest records what an admission asked for.
func SetAdmissionRequest(span trace.Span, requestedTier string, estimatedTokens int64) {
	span.SetAttributes(
		attribute.String(AttrRequestedTier, requestedTier),
		attribute.Int64(AttrEstimatedTokens, estimatedTokens),
	)
}

// SetGrant records the credential an admission was granted. The key
// material is never recorded.
func SetGrant(span trace.Span, grantedTier, credentialID, reservationID string, fallbackCount int) {
	span.SetAttributes(
		attribute.String(AttrOutcome, "admitted"),
		attribute.String(AttrTier, grantedTier),
		attribute.String(AttrCredentialID, credentialID),
		attribute.String(AttrReservationID, reservationID),
		attribute.Int(AttrFallbackCount, fallbackCount),
	)
}

// SetExhausted records a refused admission and its retry hint.
func SetExhausted(span trace.Span, exhaustedTier string, retryAfterSeconds int) {
	span.SetAttributes(
		attribute.String(AttrOutcome, "exhausted"),
		attribute.String(AttrTier, exhaustedTier),
		attribute.Int(AttrRetryAfter, retryAfterSeconds),
	)
}
