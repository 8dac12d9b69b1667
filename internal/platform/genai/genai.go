// Package genai is the generation collaborator: a text (and optionally image)
// prompt goes in, untrusted free text comes out.
package genai

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrEmptyResponse is returned when the model produced no text part.
	ErrEmptyResponse = errors.New("genai: empty response")
	// ErrRefused is returned when the reply is a refusal rather than an answer.
	ErrRefused = errors.New("genai: model refused the request")
)

// Image is an inline image sent along with the prompt.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is one generation call.
type Request struct {
	System      string
	Prompt      string
	Image       *Image
	Temperature float32
}

// Generator is implemented by VertexClient and by test fakes.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

var refusalPhrases = []string{
	"i am unable to",
	"i'm unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"i can't provide",
	"as a large language model",
	"as an ai language model",
}

// apologyLeads may precede a refusal phrase.
var apologyLeads = []string{
	"i'm sorry,",
	"i am sorry,",
	"sorry,",
	"unfortunately,",
}

// IsRefusal reports whether text opens with a refusal. A disclaimer later in
// an otherwise useful answer does not count.
func IsRefusal(text string) bool {
	lead := strings.ToLower(strings.TrimSpace(text))
	for _, a := range apologyLeads {
		if rest, ok := strings.CutPrefix(lead, a); ok {
			lead = strings.TrimSpace(rest)
			break
		}
	}
	for _, phrase := range refusalPhrases {
		if strings.HasPrefix(lead, phrase) {
			return true
		}
	}
	return false
}

// StripFences removes a surrounding ``` fence, with or without a language
// tag, and trims whitespace.
func StripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		tag := strings.TrimSpace(s[:nl])
		if tag == "" || !strings.ContainsAny(tag, " |\t,") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
