// Package client keeps the terminal client's local message list and talks to the relay.
//
// The local list is not the relay's transcript. Messages are appended optimistically before the
// relay answers and are never reconciled with what the relay holds, so several clients sharing
// one relay each see only their own exchanges.
package client

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	MsgSendFailed  = "Something went wrong. Please try again."
	MsgResetFailed = "Server reset failed. Please try again."
	// FallbackReply is shown when the relay answers 200 without a reply.
	FallbackReply = "Sorry, I couldn't get a response."
)

var ErrEmptyInput = errors.New("client: empty input")

type Author string

const (
	AuthorUser Author = "user"
	AuthorBot  Author = "bot"
)

type Message struct {
	ID     string `json:"id" yaml:"id"`
	Author Author `json:"author" yaml:"author"`
	// Text is the part of FullText revealed so far. User messages are fully revealed.
	Text     string `json:"text" yaml:"text"`
	FullText string `json:"full_text" yaml:"full_text"`
}

func (m Message) Revealed() bool {
	return len(m.Text) >= len(m.FullText)
}

// Relay is what the session needs from the relay API.
type Relay interface {
	Send(ctx context.Context, text string) (string, error)
	Reset(ctx context.Context) error
}

type Session struct {
	relay    Relay
	rollback bool
	newID    func() string

	mu       sync.Mutex
	messages []Message
	errMsg   string
	loading  bool
}

type Option func(*Session)

// WithRollbackOnFailure removes the optimistic user message when a send fails.
func WithRollbackOnFailure(v bool) Option {
	return func(s *Session) {
		s.rollback = v
	}
}

func WithIDGenerator(f func() string) Option {
	return func(s *Session) {
		if f != nil {
			s.newID = f
		}
	}
}

func NewSession(r Relay, opts ...Option) (*Session, error) {
	if r == nil {
		return nil, errors.New("client: relay is nil")
	}
	s := &Session{
		relay:    r,
		rollback: true,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Send appends text as a user message right away, then asks the relay for a reply. On success
// the bot message is appended unrevealed and returned. On failure the inline error is set and,
// with rollback enabled, the user message is removed again. Whitespace-only input is ignored.
func (s *Session) Send(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyInput
	}
	user := Message{ID: s.newID(), Author: AuthorUser, Text: text, FullText: text}

	s.mu.Lock()
	s.messages = append(s.messages, user)
	s.errMsg = ""
	s.loading = true
	s.mu.Unlock()

	reply, err := s.relay.Send(ctx, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.errMsg = MsgSendFailed
		if s.rollback {
			s.removeLocked(user.ID)
		}
		log.Warn().Err(err).Str("component", "client").Bool("rolled_back", s.rollback).Msg("send failed")
		return Message{}, err
	}
	if reply == "" {
		reply = FallbackReply
	}
	bot := Message{ID: s.newID(), Author: AuthorBot, FullText: reply}
	s.messages = append(s.messages, bot)
	return bot, nil
}

// Reset asks the relay to clear its transcript and clears the local list only if that worked.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.errMsg = ""
	s.loading = true
	s.mu.Unlock()

	err := s.relay.Reset(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.errMsg = MsgResetFailed
		log.Warn().Err(err).Str("component", "client").Msg("reset failed")
		return err
	}
	s.messages = nil
	return nil
}

// RevealNext reveals one more rune of message id and reports whether it is now fully revealed.
// Unknown ids count as revealed.
func (s *Session) RevealNext(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return true
	}
	m := &s.messages[i]
	if m.Revealed() {
		return true
	}
	_, size := utf8.DecodeRuneInString(m.FullText[len(m.Text):])
	m.Text = m.FullText[:len(m.Text)+size]
	return m.Revealed()
}

func (s *Session) RevealAll(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		s.messages[i].Text = s.messages[i].FullText
	}
}

func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastBotMessage returns the most recent bot message.
func (s *Session) LastBotMessage() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Author == AuthorBot {
			return s.messages[i], true
		}
	}
	return Message{}, false
}

// RollsBack reports whether failed sends remove their user message.
func (s *Session) RollsBack() bool {
	return s.rollback
}

// Error returns the inline error to display, "" when the last operation succeeded.
func (s *Session) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Session) indexLocked(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) removeLocked(id string) {
	if i := s.indexLocked(id); i >= 0 {
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
	}
}
