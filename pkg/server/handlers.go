package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"campuscore/keygate/pkg/admission"
	"campuscore/keygate/pkg/estimate"
	"campuscore/keygate/pkg/ledger"
	"campuscore/keygate/pkg/ledger/export"
	"campuscore/keygate/pkg/telemetry/logging"
	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/usage"
)

type admitRequest struct {
	Tier            string `json:"tier"`
	EstimatedTokens *int64 `json:"estimated_tokens"`
	Prompt          string `json:"prompt"`
	MaxOutputTokens int64  `json:"max_output_tokens"`
	Fallback        bool   `json:"fallback"`
}

type admitResponse struct {
	CredentialID    string    `json:"credential_id"`
	Tier            tier.Tier `json:"tier"`
	RequestedTier   tier.Tier `json:"requested_tier"`
	Material        string    `json:"material"`
	ReservationID   string    `json:"reservation_id"`
	EstimatedTokens int64     `json:"estimated_tokens"`
	EstimateMethod  string    `json:"estimate_method"`
	FallbackCount   int       `json:"fallback_count"`
	AdmittedAt      time.Time `json:"admitted_at"`
}

func (s *Server) admit(c *gin.Context) {
	var req admitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	t, err := tier.Parse(req.Tier)
	if err != nil {
		writeError(c, err)
		return
	}

	est := s.resolveEstimate(req)
	ctx := logging.WithTier(c.Request.Context(), string(t))

	var grant *admission.Grant
	if req.Fallback {
		grant, err = s.deps.Admission.AdmitWithFallback(ctx, t, est.TotalTokens)
	} else {
		grant, err = s.deps.Admission.Admit(ctx, t, est.TotalTokens)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, admitResponse{
		CredentialID:    grant.CredentialID,
		Tier:            grant.Tier,
		RequestedTier:   grant.RequestedTier,
		Material:        string(grant.Material),
		ReservationID:   grant.ReservationID,
		EstimatedTokens: grant.EstimatedTokens,
		EstimateMethod:  string(est.Method),
		FallbackCount:   grant.FallbackCount,
		AdmittedAt:      grant.AdmittedAt,
	})
}

func (s *Server) resolveEstimate(req admitRequest) estimate.Estimate {
	r := estimate.Request{Tokens: req.EstimatedTokens, Prompt: req.Prompt, MaxOutputTokens: req.MaxOutputTokens}
	if s.deps.Estimator == nil {
		if r.Tokens != nil {
			return estimate.Estimate{TotalTokens: *r.Tokens, Method: estimate.MethodExplicit}
		}
		return estimate.Estimate{TotalTokens: 0, Method: estimate.MethodDefault}
	}
	return s.deps.Estimator.Resolve(r)
}

type completionRequest struct {
	ReservationID string `json:"reservation_id" binding:"required"`
	CredentialID  string `json:"credential_id"`
	ActualTokens  int64  `json:"actual_tokens"`
	Succeeded     bool   `json:"succeeded"`
	RateLimited   bool   `json:"rate_limited"`
	Unmetered     bool   `json:"unmetered"`
}

type settledResponse struct {
	CredentialID        string `json:"credential_id"`
	Status              string `json:"status"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	TPMUsed             int64  `json:"tpm_used"`
	TotalRequests       int64  `json:"total_requests"`
	TotalTokens         int64  `json:"total_tokens"`
}

func (s *Server) complete(c *gin.Context) {
	var req completionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	cred, err := s.deps.Recorder.RecordCompletion(c.Request.Context(), usage.Completion{
		ReservationID: req.ReservationID,
		CredentialID:  req.CredentialID,
		ActualTokens:  req.ActualTokens,
		Succeeded:     req.Succeeded,
		RateLimited:   req.RateLimited,
		Unmetered:     req.Unmetered,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, settledResponse{
		CredentialID:        cred.ID,
		Status:              string(cred.Status),
		ConsecutiveFailures: cred.ConsecutiveFailures,
		TPMUsed:             cred.Usage.TPMUsed,
		TotalRequests:       cred.Usage.TotalRequests,
		TotalTokens:         cred.Usage.TotalTokens,
	})
}

type abandonRequest struct {
	ReservationID string `json:"reservation_id" binding:"required"`
}

func (s *Server) abandon(c *gin.Context) {
	var req abandonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	cred, err := s.deps.Recorder.RecordAbandoned(c.Request.Context(), req.ReservationID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, settledResponse{
		CredentialID:        cred.ID,
		Status:              string(cred.Status),
		ConsecutiveFailures: cred.ConsecutiveFailures,
		TPMUsed:             cred.Usage.TPMUsed,
		TotalRequests:       cred.Usage.TotalRequests,
		TotalTokens:         cred.Usage.TotalTokens,
	})
}

func (s *Server) status(c *gin.Context) {
	caller := c.Query("caller")
	ctx := logging.WithCaller(c.Request.Context(), caller)

	snap, err := s.deps.Status.GetStatus(ctx, caller, bearerToken(c.Request))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", snap.Bytes())
}

func (s *Server) sweep(c *gin.Context) {
	report, err := s.deps.Sweeper.RunScheduledSweep(c.Request.Context())
	if err != nil {
		s.logger.ErrorContext(c.Request.Context(), "manual sweep failed", "error", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) summaries(c *gin.Context) {
	out := s.deps.Aggregator.Summaries()
	if len(out) == 0 {
		var err error
		out, err = s.deps.Aggregator.Recompute(c.Request.Context())
		if err != nil {
			s.logger.ErrorContext(c.Request.Context(), "failed to compute summaries", "error", err)
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"summaries": out})
}

func (s *Server) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Health.CheckLiveness(c.Request.Context()))
}

func (s *Server) readiness(c *gin.Context) {
	result := s.deps.Health.CheckReadiness(c.Request.Context())
	code := http.StatusOK
	if !result.Ready() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, result)
}

func (s *Server) queryLedger(c *gin.Context) {
	q, err := parseLedgerQuery(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	ledger.ApplyDefaults(q, s.deps.LedgerLimits)
	if err := ledger.Validate(q, s.deps.LedgerLimits); err != nil {
		writeError(c, err)
		return
	}

	format := c.DefaultQuery("format", "json")
	exporter, err := export.ForFormat(format)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	events, err := s.deps.Ledger.Query(ctx, q)
	if err != nil {
		s.logger.ErrorContext(ctx, "ledger query failed", "error", err)
		writeError(c, err)
		return
	}

	c.Header("Content-Type", contentType(format))
	c.Status(http.StatusOK)
	if err := exporter.Export(ctx, events, c.Writer); err != nil {
		s.logger.ErrorContext(ctx, "ledger export failed", "error", err)
	}
}

func parseLedgerQuery(c *gin.Context) (*ledger.Query, error) {
	q := &ledger.Query{
		Kind:          ledger.EventKind(c.Query("kind")),
		Tier:          c.Query("tier"),
		CredentialID:  c.Query("credential_id"),
		ReservationID: c.Query("reservation_id"),
		SortOrder:     c.Query("order"),
	}

	for name, dst := range map[string]**time.Time{"start": &q.StartTime, "end": &q.EndTime} {
		if v := c.Query(name); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("%s must be RFC3339: %v", name, err)
			}
			*dst = &ts
		}
	}
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		if v := c.Query(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("%s must be an integer", name)
			}
			*dst = n
		}
	}
	return q, nil
}

func contentType(format string) string {
	switch format {
	case "csv":
		return "text/csv"
	case "jsonl", "ndjson":
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}
