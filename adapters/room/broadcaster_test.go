package room

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type testEvent struct {
	Room string
	Seq  int
}

func testRoomOf(ev testEvent) string { return ev.Room }

// fakeRelay 以行程內通道模擬跨節點轉發層
type fakeRelay struct {
	mu     sync.Mutex
	ch     chan testEvent
	closed bool
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{ch: make(chan testEvent, 100)}
}

func (f *fakeRelay) Start() {}

func (f *fakeRelay) Publish(ev testEvent) error {
	f.ch <- ev
	return nil
}

func (f *fakeRelay) Subscribe() <-chan testEvent { return f.ch }

func (f *fakeRelay) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}

func TestBroadcaster_Join(t *testing.T) {
	t.Run("join returns current members", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf)
		defer b.Done()

		_, members := b.Join("room-1", Member{ID: "u1", Name: "alice"}, "conn-1")
		assert.Len(t, members, 1)

		_, members = b.Join("room-1", Member{ID: "u2", Name: "bob"}, "conn-2")
		assert.Len(t, members, 2)
	})

	t.Run("rejoin with same connection is idempotent", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf)
		defer b.Done()

		ch1, _ := b.Join("room-1", Member{ID: "u1"}, "conn-1")
		ch2, members := b.Join("room-1", Member{ID: "u1"}, "conn-1")

		assert.Equal(t, ch1, ch2)
		assert.Len(t, members, 1)
	})

	t.Run("same member over two connections listed once", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf)
		defer b.Done()

		b.Join("room-1", Member{ID: "u1"}, "conn-1")
		_, members := b.Join("room-1", Member{ID: "u1"}, "conn-2")

		assert.Len(t, members, 1)
	})
}

func TestBroadcaster_Publish(t *testing.T) {
	t.Run("events arrive in publish order", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf)
		defer b.Done()
		ch, _ := b.Join("room-1", Member{ID: "u1"}, "conn-1")

		for i := 1; i <= 5; i++ {
			require.NoError(t, b.Publish(testEvent{Room: "room-1", Seq: i}))
		}

		for i := 1; i <= 5; i++ {
			ev := <-ch
			assert.Equal(t, i, ev.Seq)
		}
	})

	t.Run("events only reach the target room", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf)
		defer b.Done()
		ch1, _ := b.Join("room-1", Member{ID: "u1"}, "conn-1")
		ch2, _ := b.Join("room-2", Member{ID: "u2"}, "conn-2")

		require.NoError(t, b.Publish(testEvent{Room: "room-1", Seq: 1}))

		assert.Equal(t, 1, (<-ch1).Seq)
		assert.Empty(t, ch2)
	})

	t.Run("no replay for late joiners", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf)
		defer b.Done()
		b.Join("room-1", Member{ID: "u1"}, "conn-1")

		require.NoError(t, b.Publish(testEvent{Room: "room-1", Seq: 1}))

		ch, _ := b.Join("room-1", Member{ID: "u2"}, "conn-2")
		require.NoError(t, b.Publish(testEvent{Room: "room-1", Seq: 2}))

		ev := <-ch
		assert.Equal(t, 2, ev.Seq, "late joiner must only see events published after joining")
	})

	t.Run("slow member drops events instead of blocking", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf, WithBroadcasterBufferSize[testEvent](1))
		defer b.Done()
		slow, _ := b.Join("room-1", Member{ID: "u1"}, "conn-1")

		require.NoError(t, b.Publish(testEvent{Room: "room-1", Seq: 1}))
		require.NoError(t, b.Publish(testEvent{Room: "room-1", Seq: 2}))

		assert.Equal(t, 1, (<-slow).Seq)
		assert.Empty(t, slow, "overflowing event should be dropped for the slow member")
	})

	t.Run("publish to room without members is a no-op", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf)
		defer b.Done()

		assert.NoError(t, b.Publish(testEvent{Room: "nowhere", Seq: 1}))
	})
}

func TestBroadcaster_Leave(t *testing.T) {
	t.Run("leave closes the member channel", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf)
		defer b.Done()
		ch, _ := b.Join("room-1", Member{ID: "u1"}, "conn-1")

		b.Leave("room-1", "conn-1")

		_, ok := <-ch
		assert.False(t, ok)
	})

	t.Run("empty room is reaped", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf)
		defer b.Done()
		b.Join("room-1", Member{ID: "u1"}, "conn-1")

		b.Leave("room-1", "conn-1")

		assert.Nil(t, b.Members("room-1"))
	})

	t.Run("leave unknown connection is a no-op", func(t *testing.T) {
		b := NewBroadcaster(testRoomOf)
		defer b.Done()

		b.Leave("room-1", "conn-404")
	})
}

func TestBroadcaster_Pin(t *testing.T) {
	b := NewBroadcaster(testRoomOf)
	defer b.Done()

	b.Join("room-1", Member{ID: "u1"}, "conn-1")
	b.Pin("room-1")
	b.Leave("room-1", "conn-1")

	// Pin 住的房間即使沒有成員也不會被回收
	assert.NotNil(t, b.Members("room-1"))

	b.Unpin("room-1")
	assert.Nil(t, b.Members("room-1"))
}

func TestBroadcaster_WithRelay(t *testing.T) {
	defer goleak.VerifyNone(t)

	relay := newFakeRelay()
	b := NewBroadcaster(testRoomOf, WithBroadcasterRelay[testEvent](relay))
	b.Start()
	defer b.Done()

	ch, _ := b.Join("room-1", Member{ID: "u1"}, "conn-1")

	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Publish(testEvent{Room: "room-1", Seq: i}))
	}

	for i := 1; i <= 3; i++ {
		select {
		case ev := <-ch:
			assert.Equal(t, i, ev.Seq)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for relayed event")
		}
	}
}

func TestBroadcaster_Done(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := NewBroadcaster(testRoomOf)
	ch, _ := b.Join("room-1", Member{ID: "u1"}, "conn-1")

	b.Done()
	b.Done() // Should be no-op

	_, ok := <-ch
	assert.False(t, ok)

	gotCh, members := b.Join("room-1", Member{ID: "u2"}, "conn-2")
	assert.Nil(t, gotCh)
	assert.Nil(t, members)
	assert.Error(t, b.Publish(testEvent{Room: "room-1", Seq: 1}))
}
