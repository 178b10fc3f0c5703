package auction

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testListing(startingPrice int64) Listing {
	return Listing{
		ID:            uuid.New(),
		SellerID:      uuid.New(),
		StartingPrice: startingPrice,
		Status:        "listed",
	}
}

func TestSession_Transitions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		prepare func(s *Session)
		action  func(s *Session) error
		wantErr error
	}{
		{
			name:   "open pending session",
			action: func(s *Session) error { return s.Open(now) },
		},
		{
			name:    "open already open session",
			prepare: func(s *Session) { require.NoError(t, s.Open(now)) },
			action:  func(s *Session) error { return s.Open(now) },
			wantErr: ErrInvalidTransition,
		},
		{
			name:    "close open session",
			prepare: func(s *Session) { require.NoError(t, s.Open(now)) },
			action: func(s *Session) error {
				_, err := s.Close(now)
				return err
			},
		},
		{
			name: "close pending session",
			action: func(s *Session) error {
				_, err := s.Close(now)
				return err
			},
			wantErr: ErrInvalidTransition,
		},
		{
			name: "close already closed session",
			prepare: func(s *Session) {
				require.NoError(t, s.Open(now))
				_, err := s.Close(now)
				require.NoError(t, err)
			},
			action: func(s *Session) error {
				_, err := s.Close(now)
				return err
			},
			wantErr: ErrInvalidTransition,
		},
		{
			name:   "cancel pending session",
			action: func(s *Session) error { return s.Cancel(now) },
		},
		{
			name:    "cancel open session",
			prepare: func(s *Session) { require.NoError(t, s.Open(now)) },
			action:  func(s *Session) error { return s.Cancel(now) },
			wantErr: ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(testListing(100), "room-1", 1)
			if tt.prepare != nil {
				tt.prepare(s)
			}

			err := tt.action(s)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSession_Snapshot(t *testing.T) {
	t.Run("initial snapshot", func(t *testing.T) {
		listing := testListing(50)
		s := newSession(listing, "room-1", 2)

		snap := s.Snapshot()

		assert.Equal(t, listing.ID, snap.ListingID)
		assert.Equal(t, "room-1", snap.RoomID)
		assert.Equal(t, StatusPending, snap.Status)
		assert.Equal(t, int64(50), snap.StartingPrice)
		assert.Equal(t, int64(2), snap.MinIncrement)
		assert.Equal(t, int64(50), snap.CurrentPrice)
		assert.Nil(t, snap.LeaderID)
		assert.Zero(t, snap.BidCount)
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		s := newSession(testListing(50), "room-1", 1)
		require.NoError(t, s.Open(time.Now()))
		bidder := Identity{ID: uuid.New(), DisplayName: "alice"}
		s.mu.Lock()
		s.applyAcceptedBid(60, bidder, time.Now())
		s.mu.Unlock()

		snap := s.Snapshot()
		require.NotNil(t, snap.LeaderID)
		*snap.LeaderID = uuid.New()

		again := s.Snapshot()
		assert.Equal(t, bidder.ID, *again.LeaderID)
		assert.Equal(t, "alice", again.LeaderName)
		assert.Equal(t, int64(60), again.CurrentPrice)
	})
}

func TestSession_CloseResult(t *testing.T) {
	t.Run("no bids means no winner", func(t *testing.T) {
		s := newSession(testListing(100), "room-1", 1)
		require.NoError(t, s.Open(time.Now()))

		result, err := s.Close(time.Now())

		require.NoError(t, err)
		assert.Nil(t, result.WinnerID)
		assert.Empty(t, result.WinnerName)
		assert.Equal(t, int64(100), result.FinalPrice)
	})

	t.Run("leader at close wins", func(t *testing.T) {
		s := newSession(testListing(100), "room-1", 1)
		require.NoError(t, s.Open(time.Now()))
		bidder := Identity{ID: uuid.New(), DisplayName: "bob"}
		s.mu.Lock()
		s.applyAcceptedBid(120, bidder, time.Now())
		s.mu.Unlock()

		result, err := s.Close(time.Now())

		require.NoError(t, err)
		require.NotNil(t, result.WinnerID)
		assert.Equal(t, bidder.ID, *result.WinnerID)
		assert.Equal(t, "bob", result.WinnerName)
		assert.Equal(t, int64(120), result.FinalPrice)
	})
}

func TestSession_IdleSince(t *testing.T) {
	s := newSession(testListing(100), "room-1", 1)

	_, open := s.IdleSince()
	assert.False(t, open, "pending session should not report idle time")

	openedAt := time.Now()
	require.NoError(t, s.Open(openedAt))
	last, open := s.IdleSince()
	assert.True(t, open)
	assert.Equal(t, openedAt, last)

	bidAt := openedAt.Add(time.Minute)
	s.mu.Lock()
	s.applyAcceptedBid(150, Identity{ID: uuid.New()}, bidAt)
	s.mu.Unlock()
	last, open = s.IdleSince()
	assert.True(t, open)
	assert.Equal(t, bidAt, last)

	_, err := s.Close(bidAt.Add(time.Minute))
	require.NoError(t, err)
	_, open = s.IdleSince()
	assert.False(t, open, "closed session should not report idle time")
}
