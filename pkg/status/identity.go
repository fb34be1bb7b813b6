package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"campuscore/keygate/pkg/config"
	"campuscore/keygate/pkg/telemetry/tracing"
	"campuscore/keygate/pkg/tier"
)

// Identity is a verified caller.
type Identity struct {
	CallerID string
	// Tiers restricts the snapshot. Empty means every configured tier.
	Tiers []tier.Tier
}

// Verifier checks a caller token.
// Implementations return an error wrapping ErrInvalidIdentity for rejected
// tokens; any other error is treated as transient.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// NewVerifier builds the verifier selected by cfg.Mode.
func NewVerifier(cfg config.IdentityConfig) (Verifier, error) {
	switch cfg.Mode {
	case "", "jwt":
		return NewJWTVerifier(cfg), nil
	case "remote":
		return NewRemoteVerifier(cfg, nil), nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Mode)
	}
}

// JWTVerifier accepts HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret     []byte
	issuer     string
	audience   string
	tiersClaim string
}

// NewJWTVerifier creates a JWTVerifier. An empty secret rejects every token.
func NewJWTVerifier(cfg config.IdentityConfig) *JWTVerifier {
	claim := cfg.TiersClaim
	if claim == "" {
		claim = config.DefaultIdentityTiersClaim
	}
	return &JWTVerifier{
		secret:     []byte(cfg.JWTSecret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		tiersClaim: claim,
	}
}

// Verify validates signature, expiry, issuer and audience of token.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: no signing secret configured", ErrInvalidIdentity)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidIdentity)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token not valid", ErrInvalidIdentity)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidIdentity)
	}

	return &Identity{CallerID: sub, Tiers: tiersFromClaim(claims[v.tiersClaim])}, nil
}

// tiersFromClaim accepts a list of names or a space separated string.
// Unknown names are ignored.
func tiersFromClaim(raw interface{}) []tier.Tier {
	var names []string
	switch val := raw.(type) {
	case string:
		names = strings.Fields(val)
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	}
	return parseTiers(names)
}

func parseTiers(names []string) []tier.Tier {
	var out []tier.Tier
	for _, name := range names {
		if t, err := tier.Parse(name); err == nil {
			out = append(out, t)
		}
	}
	return out
}

// RemoteVerifier asks an HTTP identity endpoint about the token.
//
// The token is sent as a bearer Authorization header with a GET request.
// 2xx answers must carry a JSON body with the caller id in "caller_id",
// "sub" or "user.id" and an optional "tiers" array. 401 and 403 reject the
// caller. Any other status or a network error is transient.
type RemoteVerifier struct {
	url    string
	client *http.Client
}

// NewRemoteVerifier creates a RemoteVerifier. A nil client gets one with
// cfg.RemoteTimeout.
func NewRemoteVerifier(cfg config.IdentityConfig, client *http.Client) *RemoteVerifier {
	if client == nil {
		timeout := cfg.RemoteTimeout
		if timeout <= 0 {
			timeout = config.DefaultIdentityRemoteTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RemoteVerifier{url: cfg.RemoteURL, client: client}
}

// Verify calls the identity endpoint.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidIdentity)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	tracing.Inject(ctx, req.Header)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read identity response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: identity service answered %d", ErrInvalidIdentity, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("identity service answered %d", resp.StatusCode)
	}

	if !gjson.ValidBytes(body) {
		return nil, errors.New("identity service returned invalid JSON")
	}
	result := gjson.ParseBytes(body)

	callerID := ""
	for _, path := range []string{"caller_id", "sub", "user.id"} {
		if r := result.Get(path); r.Exists() && r.String() != "" {
			callerID = r.String()
			break
		}
	}
	if callerID == "" {
		return nil, fmt.Errorf("%w: identity response has no caller id", ErrInvalidIdentity)
	}

	var names []string
	result.Get("tiers").ForEach(func(_, value gjson.Result) bool {
		names = append(names, value.String())
		return true
	})

	return &Identity{CallerID: callerID, Tiers: parseTiers(names)}, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
