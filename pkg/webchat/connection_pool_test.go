package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/dsa-tutor/pkg/events"
	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
)

type stubConn struct {
	mu       sync.Mutex
	writes   [][]byte
	blockCh  chan struct{}
	closedCh chan struct{}
	failErr  error
}

func newStubConn(blockWrites bool) *stubConn {
	blockCh := make(chan struct{})
	if !blockWrites {
		close(blockCh)
	}
	return &stubConn{blockCh: blockCh, closedCh: make(chan struct{})}
}

func (s *stubConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-s.closedCh:
		return errors.New("closed")
	case <-s.blockCh:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closedCh:
		return nil
	default:
		close(s.closedCh)
		return nil
	}
}

func (s *stubConn) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (s *stubConn) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, string(w))
	}
	return out
}

func (s *stubConn) isClosed() bool {
	select {
	case <-s.closedCh:
		return true
	default:
		return false
	}
}

func TestConnectionPoolDropsOnFullBuffer(t *testing.T) {
	pool := NewConnectionPool("test")
	pool.sendBuffer = 1
	pool.writeTimeout = 0

	conn := newStubConn(true)
	pool.Add(conn)

	pool.Broadcast([]byte("one"))
	pool.Broadcast([]byte("two"))
	pool.Broadcast([]byte("three"))

	require.Eventually(t, func() bool {
		return pool.Count() == 0
	}, time.Second, 10*time.Millisecond)
	require.True(t, conn.isClosed())
}

func TestConnectionPoolBroadcastsInOrder(t *testing.T) {
	pool := NewConnectionPool("test")
	a := newStubConn(false)
	b := newStubConn(false)
	pool.Add(a)
	pool.Add(b)
	require.Equal(t, 2, pool.Count())

	pool.Broadcast([]byte("one"))
	pool.Broadcast([]byte("two"))

	for _, c := range []*stubConn{a, b} {
		c := c
		require.Eventually(t, func() bool {
			return len(c.written()) == 2
		}, time.Second, 5*time.Millisecond)
		require.Equal(t, []string{"one", "two"}, c.written())
	}
}

func TestConnectionPoolDropsOnWriteError(t *testing.T) {
	pool := NewConnectionPool("test")
	bad := newStubConn(false)
	bad.failErr = errors.New("broken pipe")
	good := newStubConn(false)
	pool.Add(bad)
	pool.Add(good)

	pool.Broadcast([]byte("hello"))

	require.Eventually(t, func() bool {
		return pool.Count() == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(good.written()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConnectionPoolHandleEventAndCloseAll(t *testing.T) {
	pool := NewConnectionPool("test")
	conn := newStubConn(false)
	pool.Add(conn)

	e := events.NewTurnAppended(transcript.Turn{Role: transcript.RoleUser, Text: "hi"}, 1, time.UnixMilli(42))
	require.NoError(t, pool.HandleEvent(context.Background(), e))

	require.Eventually(t, func() bool {
		return len(conn.written()) == 1
	}, time.Second, 5*time.Millisecond)
	var got events.Event
	require.NoError(t, json.Unmarshal([]byte(conn.written()[0]), &got))
	require.Equal(t, e, got)

	pool.CloseAll()
	require.Equal(t, 0, pool.Count())
	require.True(t, conn.isClosed())
}
