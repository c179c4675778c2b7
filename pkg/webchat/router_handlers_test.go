package webchat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/dsa-tutor/pkg/relay"
	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
)

func newTestRouter(t *testing.T, gen relay.GeneratorFunc) (*Router, *transcript.Transcript) {
	t.Helper()
	tr := transcript.New()
	svc, err := relay.NewService(tr, gen)
	require.NoError(t, err)
	r, err := NewRouter(svc, nil)
	require.NoError(t, err)
	return r, tr
}

func echo(prefix string) relay.GeneratorFunc {
	return func(_ context.Context, req relay.GenerateRequest) (*relay.Response, error) {
		return relay.TextResponse(prefix + req.Turns[len(req.Turns)-1].Text), nil
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "http://example.com"+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestChatHandler_ReturnsReply(t *testing.T) {
	r, tr := newTestRouter(t, echo("re: "))
	rec := do(t, r.Handler(), http.MethodPost, "/", `{"message":"What is a stack?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, ChatResponse{Reply: "re: What is a stack?"}, decode[ChatResponse](t, rec))
	require.Equal(t, 2, tr.Len())
}

func TestChatHandler_MissingMessage(t *testing.T) {
	r, tr := newTestRouter(t, echo(""))
	for _, body := range []string{`{}`, `{"message":""}`, `{"message":null}`, `{"message":42}`, `{"message":true}`, `{"message":["x"]}`, `not json`, ``} {
		rec := do(t, r.Handler(), http.MethodPost, "/", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.Equal(t, ErrorResponse{Error: "Message is required"}, decode[ErrorResponse](t, rec))
	}
	require.Equal(t, 0, tr.Len())
}

func TestChatHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		gen    relay.GeneratorFunc
		status int
		msg    string
	}{
		{
			name: "empty reply",
			gen: func(context.Context, relay.GenerateRequest) (*relay.Response, error) {
				return &relay.Response{}, nil
			},
			status: http.StatusInternalServerError,
			msg:    "No reply generated from Gemini.",
		},
		{
			name: "overloaded",
			gen: func(context.Context, relay.GenerateRequest) (*relay.Response, error) {
				return nil, &relay.UpstreamError{StatusCode: http.StatusServiceUnavailable, Err: errors.New("overloaded")}
			},
			status: http.StatusServiceUnavailable,
			msg:    "Gemini API is currently overloaded. Please try again in a few moments.",
		},
		{
			name: "other failure",
			gen: func(context.Context, relay.GenerateRequest) (*relay.Response, error) {
				return nil, errors.New("connection reset")
			},
			status: http.StatusInternalServerError,
			msg:    "Failed to get response from Gemini",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, tr := newTestRouter(t, tc.gen)
			rec := do(t, r.Handler(), http.MethodPost, "/", `{"message":"hi"}`)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, ErrorResponse{Error: tc.msg}, decode[ErrorResponse](t, rec))
			require.Equal(t, 1, tr.Len())
		})
	}
}

func TestResetHandler(t *testing.T) {
	r, tr := newTestRouter(t, echo(""))
	tr.AppendUser("a")
	tr.AppendAssistant("b")

	rec := do(t, r.Handler(), http.MethodPost, "/reset", `ignored`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"ok":true}`, rec.Body.String())
	require.Equal(t, 0, tr.Len())

	rec = do(t, r.Handler(), http.MethodPost, "/reset", ``)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTranscriptHandler(t *testing.T) {
	r, _ := newTestRouter(t, echo("re: "))
	rec := do(t, r.Handler(), http.MethodGet, "/transcript", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"turns":[],"length":0}`, rec.Body.String())

	do(t, r.Handler(), http.MethodPost, "/", `{"message":"q"}`)
	rec = do(t, r.Handler(), http.MethodGet, "/transcript", "")
	got := decode[TranscriptResponse](t, rec)
	require.Equal(t, 2, got.Length)
	require.Equal(t, []transcript.Turn{
		{Role: transcript.RoleUser, Text: "q"},
		{Role: transcript.RoleAssistant, Text: "re: q"},
	}, got.Turns)
}

func TestRouter_MethodAndPathMatching(t *testing.T) {
	r, _ := newTestRouter(t, echo(""))
	require.Equal(t, http.StatusMethodNotAllowed, do(t, r.Handler(), http.MethodGet, "/", "").Code)
	require.Equal(t, http.StatusNotFound, do(t, r.Handler(), http.MethodPost, "/nope", `{"message":"x"}`).Code)
}

func TestCORS(t *testing.T) {
	r, _ := newTestRouter(t, echo(""))

	rec := do(t, r.Handler(), http.MethodOptions, "/", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "content-type")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "content-type", rec.Header().Get("Access-Control-Allow-Headers"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	rec = do(t, r.Handler(), http.MethodPost, "/reset", "", "Origin", "http://example.org")
	require.Equal(t, "http://example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, r.Handler(), http.MethodPost, "/reset", "")
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	r, _ := newTestRouter(t, echo(""))

	rec := do(t, r.Handler(), http.MethodPost, "/reset", "", RequestIDHeader, "req-123")
	require.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))

	rec = do(t, r.Handler(), http.MethodPost, "/reset", "")
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestNewRouter_RequiresRelay(t *testing.T) {
	_, err := NewRouter(nil, nil)
	require.Error(t, err)
}
