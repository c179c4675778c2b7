// Package gemini implements relay.Generator on top of the Google generative language API.
package gemini

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/go-go-golems/dsa-tutor/pkg/relay"
	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
)

const DefaultModel = "gemini-2.5-flash"

// Gemini calls the role we store as "assistant" "model".
const (
	roleUser  = "user"
	roleModel = "model"
)

type Settings struct {
	APIKey string
	Model  string
}

// Generator sends the whole transcript as a chat history and returns the first response.
// It performs no retries and sets no deadline of its own.
type Generator struct {
	client *genai.Client
	model  string
}

var _ relay.Generator = (*Generator)(nil)

// NewGenerator creates the API client. opts are appended after the API key, e.g. to point the
// client at another endpoint.
func NewGenerator(ctx context.Context, s Settings, opts ...option.ClientOption) (*Generator, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	model := s.Model
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(s.APIKey)}, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "gemini: create client")
	}
	return &Generator{client: client, model: model}, nil
}

func (g *Generator) Model() string {
	return g.model
}

func (g *Generator) Close() error {
	if g == nil || g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Generator) Generate(ctx context.Context, req relay.GenerateRequest) (*relay.Response, error) {
	history, last, err := toContents(req.Turns)
	if err != nil {
		return nil, err
	}

	m := g.client.GenerativeModel(g.model)
	if req.SystemInstruction != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemInstruction)}}
	}
	cs := m.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, last.Parts...)
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) && blocked != nil {
		// a withheld answer is an answer without text, not a failed call
		out := blockedResponse(blocked)
		log.Warn().Str("component", "gemini").Str("model", g.model).Err(err).Msg("response blocked")
		return out, nil
	}
	if err != nil {
		return nil, classifyError(err)
	}

	out := toResponse(resp)
	log.Debug().Str("component", "gemini").Str("model", g.model).
		Int("prompt_tokens", out.Usage.PromptTokens).
		Int("candidate_tokens", out.Usage.CandidateTokens).
		Int("total_tokens", out.Usage.TotalTokens).
		Msg("generate content")
	return out, nil
}

// toContents converts the transcript into the chat history plus the final message to send.
// The final message is always sent with the user role.
func toContents(turns []transcript.Turn) ([]*genai.Content, *genai.Content, error) {
	if len(turns) == 0 {
		return nil, nil, errors.New("gemini: empty transcript")
	}
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, &genai.Content{
			Role:  toRole(t.Role),
			Parts: []genai.Part{genai.Text(t.Text)},
		})
	}
	return contents[:len(contents)-1], contents[len(contents)-1], nil
}

func toRole(r transcript.Role) string {
	if r == transcript.RoleAssistant {
		return roleModel
	}
	return roleUser
}

func toResponse(resp *genai.GenerateContentResponse) *relay.Response {
	out := &relay.Response{}
	if resp == nil {
		return out
	}
	for _, c := range resp.Candidates {
		out.Candidates = append(out.Candidates, toCandidate(c))
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = relay.Usage{
			PromptTokens:    int(u.PromptTokenCount),
			CandidateTokens: int(u.CandidatesTokenCount),
			TotalTokens:     int(u.TotalTokenCount),
		}
	}
	return out
}

func toCandidate(c *genai.Candidate) relay.Candidate {
	if c == nil {
		return relay.Candidate{}
	}
	cand := relay.Candidate{FinishReason: c.FinishReason.String()}
	if c.Content != nil {
		for _, p := range c.Content.Parts {
			text, _ := p.(genai.Text)
			cand.Parts = append(cand.Parts, relay.Part{Text: string(text)})
		}
	}
	return cand
}

// blockedResponse turns a safety or recitation block into the response the API sent: the
// blocked candidate, or no candidate at all when the prompt itself was blocked.
func blockedResponse(b *genai.BlockedError) *relay.Response {
	out := &relay.Response{}
	if b.Candidate != nil {
		out.Candidates = append(out.Candidates, toCandidate(b.Candidate))
	}
	return out
}

// classifyError wraps API errors that carry a status into relay.UpstreamError.
func classifyError(err error) error {
	if code := statusCode(err); code > 0 {
		return &relay.UpstreamError{StatusCode: code, Err: err}
	}
	return errors.Wrap(err, "gemini: generate content")
}

func statusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr != nil && gerr.Code > 0 {
		return gerr.Code
	}
	var aerr *apierror.APIError
	if errors.As(err, &aerr) && aerr != nil {
		if c := aerr.HTTPCode(); c > 0 {
			return c
		}
		if st := aerr.GRPCStatus(); st != nil {
			return httpStatusFromCode(st.Code())
		}
	}
	if st, ok := status.FromError(err); ok && st != nil && st.Code() != codes.OK {
		return httpStatusFromCode(st.Code())
	}
	return 0
}

func httpStatusFromCode(c codes.Code) int {
	switch c {
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unknown:
		return 0
	default:
		return http.StatusInternalServerError
	}
}
