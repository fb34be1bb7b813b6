package estimate

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"campuscore/keygate/pkg/config"
)

// EncodingNone disables the tokenizer.
const EncodingNone = "none"

// Method reports how an estimate was produced.
type Method string

const (
	MethodExplicit  Method = "explicit"
	MethodTokenizer Method = "tokenizer"
	MethodHeuristic Method = "heuristic"
	MethodDefault   Method = "default"
)

// Request describes what is known about an upcoming provider call.
type Request struct {
	// Tokens is a caller supplied estimate. When set it wins.
	Tokens *int64

	// Prompt is the text that will be sent.
	Prompt string

	// MaxOutputTokens is the completion budget added to the prompt count.
	MaxOutputTokens int64
}

// Estimate contains the estimation result.
type Estimate struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Method           Method
}

// Estimator estimates token counts. It is safe for concurrent use.
type Estimator struct {
	codec         tokenizer.Codec
	charsPerToken int
	defaultTokens int64
	logger        *slog.Logger
}

// New creates an Estimator from configuration.
func New(cfg config.EstimateConfig) (*Estimator, error) {
	e := &Estimator{
		charsPerToken: cfg.CharsPerToken,
		defaultTokens: cfg.DefaultTokens,
		logger:        slog.Default().With("component", "estimate"),
	}
	if e.charsPerToken < 1 {
		e.charsPerToken = config.DefaultEstimateCharsPerToken
	}
	if e.defaultTokens < 1 {
		e.defaultTokens = config.DefaultEstimateTokens
	}

	encoding := strings.ToLower(strings.TrimSpace(cfg.Encoding))
	if encoding != "" && encoding != EncodingNone {
		codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer %q: %w", encoding, err)
		}
		e.codec = codec
	}

	return e, nil
}

// EstimateText counts tokens in text.
func (e *Estimator) EstimateText(text string) (int64, Method) {
	if text == "" {
		return 0, MethodHeuristic
	}

	if e.codec != nil {
		ids, _, err := e.codec.Encode(text)
		if err == nil {
			return int64(len(ids)), MethodTokenizer
		}
		e.logger.Debug("tokenizer failed, using heuristic", "error", err)
	}

	return e.heuristic(text), MethodHeuristic
}

// heuristic is ceil(chars / charsPerToken).
func (e *Estimator) heuristic(text string) int64 {
	chars := int64(utf8.RuneCountInString(text))
	per := int64(e.charsPerToken)
	return (chars + per - 1) / per
}

// Resolve produces the estimate to reserve for req.
// An explicit estimate is returned as given, even when negative, so the
// admission controller can reject it.
func (e *Estimator) Resolve(req Request) Estimate {
	completion := req.MaxOutputTokens
	if completion < 0 {
		completion = 0
	}

	if req.Tokens != nil {
		return Estimate{
			PromptTokens: *req.Tokens,
			TotalTokens:  *req.Tokens,
			Method:       MethodExplicit,
		}
	}

	if req.Prompt == "" {
		return Estimate{
			PromptTokens:     e.defaultTokens,
			CompletionTokens: completion,
			TotalTokens:      e.defaultTokens + completion,
			Method:           MethodDefault,
		}
	}

	prompt, method := e.EstimateText(req.Prompt)
	return Estimate{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		Method:           method,
	}
}

// DefaultTokens returns the estimate charged when nothing is known.
func (e *Estimator) DefaultTokens() int64 {
	return e.defaultTokens
}
