package logging

import (
	"log/slog"
	"regexp"
	"strings"

	"campuscore/keygate/pkg/config"
)

// Redactor masks secrets in log attributes.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternProviderKey = "provider_key"
	PatternGoogleKey   = "google_key"
	PatternBearerToken = "bearer_token"
	PatternSealedBlob  = "sealed_blob"
)

const redacted = "[REDACTED]"

var sensitiveKeys = []string{
	"material", "secret", "token", "password",
	"api_key", "apikey", "authorization", "private_key",
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// customPatterns. Invalid custom patterns are skipped.
func NewRedactor(customPatterns []config.RedactPattern) *Redactor {
	r := &Redactor{}

	for _, p := range []struct{ name, regex, replacement string }{
		{PatternBearerToken, `Bearer\s+[A-Za-z0-9\-._~+/]+=*`, "Bearer ***"},
		{PatternProviderKey, `sk-[A-Za-z0-9_\-]{8,}`, "sk-***"},
		{PatternGoogleKey, `AIza[0-9A-Za-z_\-]{35}`, "AIza***"},
		{PatternSealedBlob, `[A-Za-z0-9+/]{40,}={0,2}`, "***"},
	} {
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}

	for _, p := range customPatterns {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, &redactPattern{name: p.Name, regex: regex, replacement: p.Replacement})
	}

	return r
}

// RedactString masks every pattern match in value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// RedactAttr redacts one attribute, descending into groups.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()

	if v.Kind() == slog.KindGroup {
		group := v.Group()
		out := make([]any, len(group))
		for i, ga := range group {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Group(a.Key, out...)
	}

	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, redacted)
	}

	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if lower == s || strings.HasSuffix(lower, "_"+s) {
			return true
		}
	}
	return false
}

// MaskID shortens an identifier for display, keeping a recognizable prefix.
func MaskID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[:6] + "…"
}
