package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"campuscore/keygate/pkg/admission"
	"campuscore/keygate/pkg/ledger"
	"campuscore/keygate/pkg/status"
	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/usage"
	"campuscore/keygate/pkg/vault"
)

type errorBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// writeError maps the keygate error taxonomy onto HTTP.
func writeError(c *gin.Context, err error) {
	var (
		exhausted   *admission.ExhaustionError
		unavailable *status.UnavailableError
		sealErr     *vault.SealError
		queryErr    *ledger.QueryError
	)

	switch {
	case errors.As(err, &exhausted):
		secs := exhausted.RetryAfterSeconds()
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
		c.JSON(http.StatusTooManyRequests, errorBody{Error: "exhausted", Message: err.Error(), RetryAfterSeconds: secs})
	case errors.As(err, &unavailable):
		secs := int64(unavailable.RetryAfter.Seconds() + 0.999)
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "status_unavailable", Message: err.Error(), RetryAfterSeconds: secs})
	case errors.Is(err, status.ErrInvalidIdentity):
		c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid_identity", Message: err.Error()})
	case errors.Is(err, tier.ErrUnknownTier):
		c.JSON(http.StatusBadRequest, errorBody{Error: "unknown_tier", Message: err.Error()})
	case errors.Is(err, admission.ErrInvalidEstimate), errors.Is(err, usage.ErrInvalidTokens):
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_tokens", Message: err.Error()})
	case errors.Is(err, admission.ErrEstimateTooLarge):
		c.JSON(http.StatusBadRequest, errorBody{Error: "estimate_too_large", Message: err.Error()})
	case errors.As(err, &queryErr):
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_query", Message: err.Error()})
	case errors.Is(err, usage.ErrUnknownReservation):
		c.JSON(http.StatusNotFound, errorBody{Error: "unknown_reservation", Message: err.Error()})
	case errors.Is(err, vault.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: "unknown_credential", Message: err.Error()})
	case errors.As(err, &sealErr):
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "credential_unavailable", Message: "credential material failed integrity check"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "timeout", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "an internal error occurred"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: msg})
}
