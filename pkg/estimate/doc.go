// Package estimate turns a prompt into the token estimate reserved at
// admission.
//
// Callers that know their request size pass it explicitly. Otherwise the
// prompt is counted with a BPE tokenizer (github.com/tiktoken-go/tokenizer),
// falling back to a characters-per-token heuristic when the tokenizer is
// disabled or fails. With neither an estimate nor a prompt the configured
// default is charged.
//
// An optional completion budget (max output tokens) is added on top of the
// prompt count since the provider bills both against the same minute window.
package estimate
