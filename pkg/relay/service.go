// Package relay mediates between chat clients and the generation API. It owns no state of its
// own beyond the transcript it is given: every user message is appended, the whole transcript
// is sent to the generator, and the reply is appended and returned.
package relay

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/dsa-tutor/pkg/events"
	"github.com/go-go-golems/dsa-tutor/pkg/tokens"
	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
)

// DefaultContextWarnTokens is the estimated prompt size above which each call logs a warning.
// The transcript is never truncated.
const DefaultContextWarnTokens = 30000

// Service implements the relay operations on top of a shared transcript.
type Service struct {
	transcript        *transcript.Transcript
	generator         Generator
	systemInstruction string
	sinks             []events.Sink
	counter           tokens.Counter
	contextWarnTokens int
	now               func() time.Time
	logger            zerolog.Logger
}

type Option func(*Service)

// WithSystemInstruction replaces the default persona.
func WithSystemInstruction(s string) Option {
	return func(svc *Service) {
		svc.systemInstruction = s
	}
}

// WithEventSinks adds sinks notified after every transcript mutation.
func WithEventSinks(sinks ...events.Sink) Option {
	return func(svc *Service) {
		for _, s := range sinks {
			if s != nil {
				svc.sinks = append(svc.sinks, s)
			}
		}
	}
}

// WithTokenCounter sets the counter used for context size estimates.
func WithTokenCounter(c tokens.Counter) Option {
	return func(svc *Service) {
		svc.counter = c
	}
}

// WithContextWarnTokens sets the warning threshold; 0 or less disables the warning.
func WithContextWarnTokens(n int) Option {
	return func(svc *Service) {
		svc.contextWarnTokens = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) {
		if now != nil {
			svc.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(svc *Service) {
		svc.logger = logger
	}
}

func NewService(t *transcript.Transcript, g Generator, opts ...Option) (*Service, error) {
	if t == nil {
		return nil, errors.New("relay: transcript is nil")
	}
	if g == nil {
		return nil, errors.New("relay: generator is nil")
	}
	svc := &Service{
		transcript:        t,
		generator:         g,
		systemInstruction: SystemInstruction,
		contextWarnTokens: DefaultContextWarnTokens,
		now:               time.Now,
		logger:            log.Logger.With().Str("component", "relay").Logger(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.counter == nil {
		svc.counter = tokens.HeuristicCounter{}
	}
	return svc, nil
}

// HandleMessage records text as a user turn, asks the generator for a reply given the whole
// transcript, records the reply and returns it.
//
// Failures never remove the user turn: a failed call leaves it unanswered in the transcript.
// There is no retry and no timeout beyond ctx.
func (s *Service) HandleMessage(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", newValidationError()
	}

	s.append(ctx, transcript.Turn{Role: transcript.RoleUser, Text: text})

	turns := s.transcript.Snapshot()
	s.logContextSize(turns)

	resp, err := s.generator.Generate(ctx, GenerateRequest{
		SystemInstruction: s.systemInstruction,
		Turns:             turns,
	})
	if err != nil {
		rerr := classifyGeneratorError(err)
		s.logger.Error().Err(err).Str("kind", rerr.Kind.String()).Int("context_turns", len(turns)).Msg("generation failed")
		return "", rerr
	}
	if resp == nil {
		s.logger.Warn().Msg("generation returned no response")
		return "", newEmptyReplyError()
	}

	s.logger.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("candidate_tokens", resp.Usage.CandidateTokens).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("generation usage")

	reply := resp.FirstText()
	if reply == "" {
		s.logger.Warn().Int("candidates", len(resp.Candidates)).Msg("generation returned no text")
		return "", newEmptyReplyError()
	}

	s.append(ctx, transcript.Turn{Role: transcript.RoleAssistant, Text: reply})
	return reply, nil
}

// ResetResult acknowledges a reset.
type ResetResult struct {
	OK      bool `json:"ok"`
	Dropped int  `json:"-"`
}

// Reset clears the transcript. It always succeeds. A reset racing an in-flight HandleMessage
// may leave that call's later turns in the transcript.
func (s *Service) Reset(ctx context.Context) ResetResult {
	dropped := s.transcript.Reset()
	s.logger.Info().Int("dropped", dropped).Msg("transcript reset")
	s.publish(ctx, events.NewTranscriptReset(dropped, s.now()))
	return ResetResult{OK: true, Dropped: dropped}
}

// Turns returns a copy of the current transcript.
func (s *Service) Turns() []transcript.Turn {
	return s.transcript.Snapshot()
}

func (s *Service) append(ctx context.Context, turn transcript.Turn) {
	length := s.transcript.Append(turn)
	s.publish(ctx, events.NewTurnAppended(turn, length, s.now()))
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, e); err != nil {
			s.logger.Warn().Err(err).Str("event", string(e.Type)).Msg("failed to publish transcript event")
		}
	}
}

func (s *Service) logContextSize(turns []transcript.Turn) {
	estimate := s.counter.Count(s.systemInstruction)
	for _, t := range turns {
		estimate += s.counter.Count(t.Text)
	}
	ev := s.logger.Debug()
	if s.contextWarnTokens > 0 && estimate > s.contextWarnTokens {
		ev = s.logger.Warn().Int("warn_threshold", s.contextWarnTokens)
	}
	ev.Int("context_turns", len(turns)).Int("estimated_tokens", estimate).Msg("sending transcript to generator")
}
