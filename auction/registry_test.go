package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeKeeper struct {
	mu     sync.Mutex
	events []Event
	pins   []string
	unpins []string
}

func (k *fakeKeeper) Publish(ev Event) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.events = append(k.events, ev)
	return nil
}

func (k *fakeKeeper) Pin(roomID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.pins = append(k.pins, roomID)
}

func (k *fakeKeeper) Unpin(roomID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.unpins = append(k.unpins, roomID)
}

func (k *fakeKeeper) eventKinds() []EventKind {
	k.mu.Lock()
	defer k.mu.Unlock()
	kinds := make([]EventKind, len(k.events))
	for i, ev := range k.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

type fakeLocker struct {
	mu      sync.Mutex
	locks   int
	unlocks int
}

func (l *fakeLocker) Lock(ctx context.Context) (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks++
	return ctx, nil
}

func (l *fakeLocker) Unlock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocks++
	return true, nil
}

func TestRegistry_StartSession(t *testing.T) {
	t.Run("opens session and pins room", func(t *testing.T) {
		engine := NewEngine()
		keeper := &fakeKeeper{}
		r := NewRegistry(engine, keeper)
		listing := testListing(100)

		session, err := r.StartSession(context.Background(), "room-1", listing)

		require.NoError(t, err)
		assert.Equal(t, StatusOpen, session.Snapshot().Status)
		assert.Equal(t, []string{"room-1"}, keeper.pins)
		assert.Equal(t, []EventKind{EventSessionOpened}, keeper.eventKinds())

		sessionID, open := r.OpenSession("room-1")
		require.True(t, open)
		assert.Equal(t, session.ID, sessionID)
	})

	t.Run("room with open session is busy", func(t *testing.T) {
		engine := NewEngine()
		r := NewRegistry(engine, &fakeKeeper{})

		_, err := r.StartSession(context.Background(), "room-1", testListing(100))
		require.NoError(t, err)

		_, err = r.StartSession(context.Background(), "room-1", testListing(200))
		assert.ErrorIs(t, err, ErrRoomBusy)
	})

	t.Run("different rooms are independent", func(t *testing.T) {
		engine := NewEngine()
		r := NewRegistry(engine, &fakeKeeper{})

		_, err := r.StartSession(context.Background(), "room-1", testListing(100))
		require.NoError(t, err)
		_, err = r.StartSession(context.Background(), "room-2", testListing(200))
		assert.NoError(t, err)
	})

	t.Run("acquires and releases the room lock", func(t *testing.T) {
		locker := &fakeLocker{}
		r := NewRegistry(NewEngine(), &fakeKeeper{},
			WithRegistryLockFactory(func(string) Locker { return locker }))

		_, err := r.StartSession(context.Background(), "room-1", testListing(100))

		require.NoError(t, err)
		assert.Equal(t, 1, locker.locks)
		assert.Equal(t, 1, locker.unlocks)
	})
}

func TestRegistry_EndSession(t *testing.T) {
	t.Run("no open session", func(t *testing.T) {
		r := NewRegistry(NewEngine(), &fakeKeeper{})

		_, err := r.EndSession(context.Background(), "room-1")

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("closes session and broadcasts the result", func(t *testing.T) {
		engine := NewEngine()
		keeper := &fakeKeeper{}
		r := NewRegistry(engine, keeper)

		session, err := r.StartSession(context.Background(), "room-1", testListing(100))
		require.NoError(t, err)
		bidder := Identity{ID: uuid.New(), DisplayName: "alice"}
		_, err = engine.Submit(attempt(session.ID, bidder, 150))
		require.NoError(t, err)

		result, err := r.EndSession(context.Background(), "room-1")

		require.NoError(t, err)
		require.NotNil(t, result.WinnerID)
		assert.Equal(t, bidder.ID, *result.WinnerID)
		assert.Equal(t, int64(150), result.FinalPrice)
		assert.Equal(t, []string{"room-1"}, keeper.unpins)
		assert.Equal(t, []EventKind{EventSessionOpened, EventSessionClosed}, keeper.eventKinds())

		closed := keeper.events[1]
		require.NotNil(t, closed.Session)
		assert.Equal(t, bidder.ID, *closed.Session.WinnerID)
		assert.Equal(t, int64(150), closed.Session.FinalPrice)

		_, open := r.OpenSession("room-1")
		assert.False(t, open)
	})

	t.Run("room can host a new session afterwards", func(t *testing.T) {
		r := NewRegistry(NewEngine(), &fakeKeeper{})

		_, err := r.StartSession(context.Background(), "room-1", testListing(100))
		require.NoError(t, err)
		_, err = r.EndSession(context.Background(), "room-1")
		require.NoError(t, err)

		_, err = r.StartSession(context.Background(), "room-1", testListing(200))
		assert.NoError(t, err)
	})
}

func TestRegistry_Sweep(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	engine := NewEngine()
	keeper := &fakeKeeper{}
	r := NewRegistry(engine, keeper,
		WithRegistryClock(clock),
		WithRegistryIdleTimeout(time.Minute))

	idle, err := r.StartSession(context.Background(), "room-idle", testListing(100))
	require.NoError(t, err)
	active, err := r.StartSession(context.Background(), "room-active", testListing(100))
	require.NoError(t, err)

	// 閒置逾時後其中一個房間收到新出價
	now = now.Add(2 * time.Minute)
	_, err = engine.Submit(attempt(active.ID, Identity{ID: uuid.New(), DisplayName: "alice"}, 100))
	require.NoError(t, err)

	r.sweep(context.Background())

	_, open := r.OpenSession("room-idle")
	assert.False(t, open, "idle session should be closed by the sweeper")
	assert.Equal(t, StatusClosed, idle.Snapshot().Status)

	_, open = r.OpenSession("room-active")
	assert.True(t, open, "session with recent activity should stay open")
	assert.Equal(t, StatusOpen, active.Snapshot().Status)
}

func TestRegistry_StartClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry(NewEngine(), &fakeKeeper{},
		WithRegistrySweepInterval(10*time.Millisecond))

	r.Start()
	r.Start() // Should be no-op
	time.Sleep(50 * time.Millisecond)
	r.Close()
	r.Close() // Should be no-op
}
