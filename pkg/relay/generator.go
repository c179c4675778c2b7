package relay

import (
	"context"

	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
)

// GenerateRequest is everything the generation API receives for one user turn.
type GenerateRequest struct {
	SystemInstruction string
	// Turns is the full transcript in order, including the user turn that triggered the call.
	Turns []transcript.Turn
}

// Part is one piece of candidate content. Text is empty when the part carries no text.
type Part struct {
	Text string
}

type Candidate struct {
	Parts        []Part
	FinishReason string
}

type Usage struct {
	PromptTokens    int
	CandidateTokens int
	TotalTokens     int
}

// Response mirrors the shape of a generateContent answer.
type Response struct {
	Candidates []Candidate
	Usage      Usage
}

// FirstText returns the text of the first part of the first candidate, or "" when there is
// none.
func (r *Response) FirstText() string {
	if r == nil || len(r.Candidates) == 0 || len(r.Candidates[0].Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Parts[0].Text
}

// Generator calls the external generation API. Implementations return *UpstreamError for
// error statuses so the relay can tell overload apart from other failures.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (*Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (*Response, error) {
	return f(ctx, req)
}

// TextResponse builds a single-candidate, single-part response.
func TextResponse(text string) *Response {
	return &Response{Candidates: []Candidate{{Parts: []Part{{Text: text}}}}}
}
