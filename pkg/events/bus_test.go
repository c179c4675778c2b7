package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/dsa-tutor/pkg/transcript"
)

func TestInMemoryBus_FansOutToEveryConsumer(t *testing.T) {
	bus := NewInMemoryBus(NewZerologAdapter(zerolog.Nop()))
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := bus.Subscribe(ctx, "ws")
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, "archive")
	require.NoError(t, err)

	gotA := make(chan Event, 4)
	gotB := make(chan Event, 4)
	go a.Run(func(_ context.Context, e Event) error { gotA <- e; return nil })
	go b.Run(func(_ context.Context, e Event) error { gotB <- e; return nil })

	at := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, bus.Publish(ctx, NewTurnAppended(transcript.Turn{Role: transcript.RoleUser, Text: "hi"}, 1, at)))
	require.NoError(t, bus.Publish(ctx, NewTranscriptReset(1, at)))

	for _, ch := range []chan Event{gotA, gotB} {
		first := receive(t, ch)
		require.Equal(t, EventTurnAppended, first.Type)
		require.Equal(t, transcript.RoleUser, first.Role)
		require.Equal(t, "hi", first.Text)
		require.Equal(t, 0, first.Index)
		require.Equal(t, 1, first.Length)
		require.Equal(t, at.UnixMilli(), first.AtMs)

		second := receive(t, ch)
		require.Equal(t, EventTranscriptReset, second.Type)
		require.Equal(t, 0, second.Length)
		require.Equal(t, 1, second.Dropped)
	}
}

func TestConsumer_StopsWhenContextEnds(t *testing.T) {
	bus := NewInMemoryBus(nil)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	c, err := bus.Subscribe(ctx, "ws")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Run(nil)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func receive(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}
