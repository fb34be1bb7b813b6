package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	servertls "campuscore/keygate/pkg/security/tls"
	"campuscore/keygate/pkg/telemetry/logging"
	"campuscore/keygate/pkg/telemetry/tracing"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestID reuses the client's X-Request-ID or generates one, and stores it
// in the request context for logs and ledger events.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = generateRequestID()
		}
		ctx := logging.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-request-id"
	}
	return hex.EncodeToString(b)
}

// TraceIDHeader echoes the trace id of sampled requests.
const TraceIDHeader = "X-Trace-ID"

// traced continues the caller's W3C trace, or starts one, with a server
// span per request.
func traced(tracer *tracing.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := tracing.Extract(c.Request.Context(), c.Request.Header)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if id := tracing.TraceID(ctx); id != "" {
			c.Header(TraceIDHeader, id)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String(tracing.AttrHTTPMethod, c.Request.Method),
			attribute.String(tracing.AttrHTTPRoute, route),
			attribute.Int(tracing.AttrHTTPStatus, status),
			attribute.String(tracing.AttrRequestID, logging.GetRequestID(ctx)),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// accessLog logs every request once it completes. 4xx responses log at
// warn, 5xx at error. mTLS callers are logged with their certificate
// identity.
func accessLog(identitySource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"remote_addr", c.ClientIP(),
		}
		if id := servertls.ClientIdentity(c.Request, identitySource); id != "" {
			attrs = append(attrs, "client_identity", id)
		}
		slog.Log(c.Request.Context(), level, "request completed", attrs...)
	}
}

// recovery turns a handler panic into a 500 without leaking details.
func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				slog.ErrorContext(c.Request.Context(), "panic in handler",
					"error", err,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
					Error:   "internal_error",
					Message: "an internal error occurred",
				})
			}
		}()
		c.Next()
	}
}

// operatorAuth requires the operator bearer token.
func operatorAuth(token string) gin.HandlerFunc {
	return tokenAuth(token, "operator token required")
}

// serviceAuth requires the service bearer token.
func serviceAuth(token string) gin.HandlerFunc {
	return tokenAuth(token, "service token required")
}

func tokenAuth(token, message string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := []byte(bearerToken(c.Request))
		if len(want) == 0 || len(got) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error:   "unauthorized",
				Message: message,
			})
			return
		}
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
