package relay

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/dsa-tutor/pkg/events"
	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []GenerateRequest
	fn    func(req GenerateRequest) (*Response, error)
}

func (g *fakeGenerator) Generate(_ context.Context, req GenerateRequest) (*Response, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	g.mu.Unlock()
	return g.fn(req)
}

func (g *fakeGenerator) lastCall(t *testing.T) GenerateRequest {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	require.NotEmpty(t, g.calls)
	return g.calls[len(g.calls)-1]
}

func echoGenerator() *fakeGenerator {
	return &fakeGenerator{fn: func(req GenerateRequest) (*Response, error) {
		last := req.Turns[len(req.Turns)-1]
		return TextResponse("re: " + last.Text), nil
	}}
}

func newTestService(t *testing.T, g Generator, opts ...Option) (*Service, *transcript.Transcript) {
	t.Helper()
	tr := transcript.New()
	svc, err := NewService(tr, g, opts...)
	require.NoError(t, err)
	return svc, tr
}

func TestHandleMessage_RoundTrip(t *testing.T) {
	reply := "A stack is a LIFO structure... Time: O(1) push/pop, Space: O(n). " + ClosingQuestion
	g := &fakeGenerator{fn: func(req GenerateRequest) (*Response, error) {
		return TextResponse(reply), nil
	}}
	svc, tr := newTestService(t, g)

	got, err := svc.HandleMessage(context.Background(), "What is a stack?")
	require.NoError(t, err)
	require.Equal(t, reply, got)

	call := g.lastCall(t)
	require.Equal(t, SystemInstruction, call.SystemInstruction)
	require.Equal(t, []transcript.Turn{{Role: transcript.RoleUser, Text: "What is a stack?"}}, call.Turns)

	require.Equal(t, 2, tr.Len())
	require.Equal(t, transcript.Turn{Role: transcript.RoleAssistant, Text: reply}, tr.Snapshot()[1])
}

func TestHandleMessage_SerialSendsAlternate(t *testing.T) {
	g := echoGenerator()
	svc, tr := newTestService(t, g)

	msgs := []string{"What is a queue?", "And a deque?", "Show me code", "In Python please"}
	for i, m := range msgs {
		_, err := svc.HandleMessage(context.Background(), m)
		require.NoError(t, err)
		// the generator always sees the full history plus the new turn
		require.Len(t, g.lastCall(t).Turns, 2*i+1)
	}

	snap := tr.Snapshot()
	require.Len(t, snap, 2*len(msgs))
	for i, m := range msgs {
		require.Equal(t, transcript.Turn{Role: transcript.RoleUser, Text: m}, snap[2*i])
		require.Equal(t, transcript.Turn{Role: transcript.RoleAssistant, Text: "re: " + m}, snap[2*i+1])
	}
}

func TestHandleMessage_EmptyMessageIsValidationError(t *testing.T) {
	g := echoGenerator()
	svc, tr := newTestService(t, g)
	_, err := svc.HandleMessage(context.Background(), "seed")
	require.NoError(t, err)

	_, err = svc.HandleMessage(context.Background(), "")
	require.Error(t, err)
	require.True(t, IsKind(err, KindValidation))

	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	require.Equal(t, http.StatusBadRequest, rerr.Status())
	require.Equal(t, MsgMessageRequired, rerr.Msg)

	require.Equal(t, 2, tr.Len())
	require.Len(t, g.calls, 1)
}

func TestHandleMessage_OutOfDomainRefusalIsOrdinaryReply(t *testing.T) {
	g := &fakeGenerator{fn: func(GenerateRequest) (*Response, error) {
		return TextResponse(RefusalText), nil
	}}
	svc, tr := newTestService(t, g)

	got, err := svc.HandleMessage(context.Background(), "Who won the match?")
	require.NoError(t, err)
	require.Equal(t, RefusalText, got)
	require.Equal(t, transcript.Turn{Role: transcript.RoleAssistant, Text: RefusalText}, tr.Snapshot()[1])
}

func TestHandleMessage_FailuresLeaveDanglingUserTurn(t *testing.T) {
	cases := []struct {
		name   string
		resp   *Response
		err    error
		kind   Kind
		status int
		msg    string
	}{
		{
			name:   "nil response",
			kind:   KindEmptyReply,
			status: http.StatusInternalServerError,
			msg:    MsgEmptyReply,
		},
		{
			name:   "no candidates",
			resp:   &Response{},
			kind:   KindEmptyReply,
			status: http.StatusInternalServerError,
			msg:    MsgEmptyReply,
		},
		{
			name:   "candidate without parts",
			resp:   &Response{Candidates: []Candidate{{FinishReason: "SAFETY"}}},
			kind:   KindEmptyReply,
			status: http.StatusInternalServerError,
			msg:    MsgEmptyReply,
		},
		{
			name:   "first part without text",
			resp:   &Response{Candidates: []Candidate{{Parts: []Part{{}, {Text: "second"}}}}},
			kind:   KindEmptyReply,
			status: http.StatusInternalServerError,
			msg:    MsgEmptyReply,
		},
		{
			name:   "overloaded",
			err:    &UpstreamError{StatusCode: http.StatusServiceUnavailable, Err: errors.New("model is overloaded")},
			kind:   KindUpstreamOverload,
			status: http.StatusServiceUnavailable,
			msg:    MsgUpstreamOverload,
		},
		{
			name:   "wrapped overload",
			err:    errors.Wrap(&UpstreamError{StatusCode: http.StatusServiceUnavailable}, "gemini"),
			kind:   KindUpstreamOverload,
			status: http.StatusServiceUnavailable,
			msg:    MsgUpstreamOverload,
		},
		{
			name:   "rate limited is generic",
			err:    &UpstreamError{StatusCode: http.StatusTooManyRequests},
			kind:   KindGeneration,
			status: http.StatusInternalServerError,
			msg:    MsgGeneration,
		},
		{
			name:   "transport error",
			err:    errors.New("dial tcp: connection refused"),
			kind:   KindGeneration,
			status: http.StatusInternalServerError,
			msg:    MsgGeneration,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &fakeGenerator{fn: func(GenerateRequest) (*Response, error) {
				return tc.resp, tc.err
			}}
			svc, tr := newTestService(t, g)

			_, err := svc.HandleMessage(context.Background(), "What is a heap?")
			require.Error(t, err)
			require.Equal(t, tc.kind, KindOf(err))

			var rerr *Error
			require.True(t, errors.As(err, &rerr))
			require.Equal(t, tc.status, rerr.Status())
			require.Equal(t, tc.msg, rerr.Msg)
			require.Equal(t, tc.kind == KindUpstreamOverload, rerr.Retryable())
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			}

			require.Equal(t, []transcript.Turn{{Role: transcript.RoleUser, Text: "What is a heap?"}}, tr.Snapshot())
		})
	}
}

func TestHandleMessage_DanglingTurnIsSentOnNextCall(t *testing.T) {
	fail := true
	g := &fakeGenerator{fn: func(req GenerateRequest) (*Response, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return TextResponse("ok"), nil
	}}
	svc, tr := newTestService(t, g)

	_, err := svc.HandleMessage(context.Background(), "first")
	require.Error(t, err)

	fail = false
	_, err = svc.HandleMessage(context.Background(), "second")
	require.NoError(t, err)

	require.Equal(t, []transcript.Turn{
		{Role: transcript.RoleUser, Text: "first"},
		{Role: transcript.RoleUser, Text: "second"},
	}, g.lastCall(t).Turns)
	require.Equal(t, 3, tr.Len())
}

func TestReset_AlwaysEmptiesTranscript(t *testing.T) {
	svc, tr := newTestService(t, echoGenerator())

	res := svc.Reset(context.Background())
	require.True(t, res.OK)
	require.Equal(t, 0, tr.Len())

	for i := 0; i < 3; i++ {
		_, err := svc.HandleMessage(context.Background(), fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}
	require.Equal(t, 6, tr.Len())

	res = svc.Reset(context.Background())
	require.True(t, res.OK)
	require.Equal(t, 6, res.Dropped)
	require.Equal(t, 0, tr.Len())
	require.Empty(t, svc.Turns())
}

func TestHandleMessage_ConcurrentCallsLoseNothing(t *testing.T) {
	// Both calls reach the generator only after both user turns are in the transcript, which
	// forces the interleaved ordering.
	var arrived sync.WaitGroup
	arrived.Add(2)
	g := &fakeGenerator{fn: func(req GenerateRequest) (*Response, error) {
		arrived.Done()
		arrived.Wait()
		last := req.Turns[len(req.Turns)-1]
		return TextResponse("re: " + last.Text), nil
	}}

	var mu sync.Mutex
	var seen []events.Event
	sink := events.SinkFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
		return nil
	})

	svc, tr := newTestService(t, g, WithEventSinks(sink))

	errs := make(chan error, 2)
	for _, m := range []string{"a", "b"} {
		go func(m string) {
			_, err := svc.HandleMessage(context.Background(), m)
			errs <- err
		}(m)
	}
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	snap := tr.Snapshot()
	require.Len(t, snap, 4)
	counts := map[transcript.Turn]int{}
	for _, turn := range snap {
		counts[turn]++
	}
	require.Equal(t, 1, counts[transcript.Turn{Role: transcript.RoleUser, Text: "a"}])
	require.Equal(t, 1, counts[transcript.Turn{Role: transcript.RoleUser, Text: "b"}])
	require.Equal(t, 2, counts[transcript.Turn{Role: transcript.RoleAssistant, Text: "re: b"}]+counts[transcript.Turn{Role: transcript.RoleAssistant, Text: "re: a"}])
	require.Len(t, seen, 4)
}

func TestHandleMessage_PublishesEvents(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	var seen []events.Event
	sink := events.SinkFunc(func(_ context.Context, e events.Event) error {
		seen = append(seen, e)
		return nil
	})
	failing := events.SinkFunc(func(context.Context, events.Event) error {
		return errors.New("bus down")
	})

	svc, _ := newTestService(t, echoGenerator(),
		WithEventSinks(failing, sink),
		WithClock(func() time.Time { return at }),
	)

	_, err := svc.HandleMessage(context.Background(), "hi")
	require.NoError(t, err)
	svc.Reset(context.Background())

	require.Equal(t, []events.Event{
		{Type: events.EventTurnAppended, Role: transcript.RoleUser, Text: "hi", Index: 0, Length: 1, AtMs: at.UnixMilli()},
		{Type: events.EventTurnAppended, Role: transcript.RoleAssistant, Text: "re: hi", Index: 1, Length: 2, AtMs: at.UnixMilli()},
		{Type: events.EventTranscriptReset, Length: 0, Dropped: 2, AtMs: at.UnixMilli()},
	}, seen)
}

func TestNewService_RequiresCollaborators(t *testing.T) {
	_, err := NewService(nil, echoGenerator())
	require.Error(t, err)
	_, err = NewService(transcript.New(), nil)
	require.Error(t, err)
}

type lenCounter struct{}

func (lenCounter) Count(text string) int { return len(text) }

func TestHandleMessage_WarnsAboveContextThreshold(t *testing.T) {
	var buf bytes.Buffer
	svc, tr := newTestService(t, echoGenerator(),
		WithSystemInstruction("sys"),
		WithTokenCounter(lenCounter{}),
		WithContextWarnTokens(10),
		WithLogger(zerolog.New(&buf).Level(zerolog.InfoLevel)),
	)

	_, err := svc.HandleMessage(context.Background(), "short")
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "sending transcript to generator")

	_, err = svc.HandleMessage(context.Background(), "a much longer question")
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"level":"warn"`)
	require.Contains(t, buf.String(), `"warn_threshold":10`)
	// nothing is dropped
	require.Equal(t, 4, tr.Len())
}
