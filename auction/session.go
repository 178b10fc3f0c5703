package auction

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status 代表拍賣場次的狀態
type Status int32

const (
	StatusPending Status = iota // 已排定，尚未開始
	StatusOpen                  // 競價進行中
	StatusClosed                // 已結束，狀態不再改變
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Session 代表一個刊登物品在一個直播間內的即時競價狀態，
// 是目前價格、領先者與場次狀態的唯一權威。
// 所有讀寫都必須在 mu 之下進行，各場次的鎖互不相關。
type Session struct {
	ID        uuid.UUID
	ListingID uuid.UUID
	RoomID    string

	mu            sync.Mutex
	status        Status
	startingPrice int64
	minIncrement  int64
	currentPrice  int64
	leaderID      *uuid.UUID
	leaderName    string
	openedAt      time.Time
	closedAt      time.Time
	lastActivity  time.Time
	nextSeq       uint64
	faulted       bool
	ledger        []LedgerEntry
}

// Snapshot 是場次狀態在某個瞬間的一致性副本，供查詢與廣播使用
type Snapshot struct {
	ID            uuid.UUID
	ListingID     uuid.UUID
	RoomID        string
	Status        Status
	StartingPrice int64
	MinIncrement  int64
	CurrentPrice  int64
	LeaderID      *uuid.UUID
	LeaderName    string
	OpenedAt      time.Time
	ClosedAt      time.Time
	BidCount      uint64
}

// CloseResult 是場次結束時具有約束力的最終結果
type CloseResult struct {
	SessionID  uuid.UUID
	ListingID  uuid.UUID
	RoomID     string
	WinnerID   *uuid.UUID
	WinnerName string
	FinalPrice int64
	ClosedAt   time.Time
}

func newSession(listing Listing, roomID string, minIncrement int64) *Session {
	return &Session{
		ID:            uuid.New(),
		ListingID:     listing.ID,
		RoomID:        roomID,
		status:        StatusPending,
		startingPrice: listing.StartingPrice,
		minIncrement:  minIncrement,
		currentPrice:  listing.StartingPrice,
	}
}

// Open 將場次由 Pending 轉為 Open，其餘狀態一律回傳 ErrInvalidTransition
func (s *Session) Open(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPending {
		return fmt.Errorf("%w: cannot open session in state %s", ErrInvalidTransition, s.status)
	}
	s.status = StatusOpen
	s.openedAt = now
	s.lastActivity = now
	return nil
}

// Close 將場次由 Open 轉為 Closed，並回傳具約束力的最終結果。
// 已結束或尚未開始的場次一律回傳 ErrInvalidTransition。
func (s *Session) Close(now time.Time) (CloseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusOpen {
		return CloseResult{}, fmt.Errorf("%w: cannot close session in state %s", ErrInvalidTransition, s.status)
	}
	s.status = StatusClosed
	s.closedAt = now
	return s.result(), nil
}

// Cancel 允許尚未開始的場次直接作廢 (Pending → Closed)
func (s *Session) Cancel(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPending {
		return fmt.Errorf("%w: cannot cancel session in state %s", ErrInvalidTransition, s.status)
	}
	s.status = StatusClosed
	s.closedAt = now
	return nil
}

// Snapshot 回傳場次目前狀態的一致性副本
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:            s.ID,
		ListingID:     s.ListingID,
		RoomID:        s.RoomID,
		Status:        s.status,
		StartingPrice: s.startingPrice,
		MinIncrement:  s.minIncrement,
		CurrentPrice:  s.currentPrice,
		LeaderName:    s.leaderName,
		OpenedAt:      s.openedAt,
		ClosedAt:      s.closedAt,
		BidCount:      s.nextSeq,
	}
	if s.leaderID != nil {
		id := *s.leaderID
		snap.LeaderID = &id
	}
	return snap
}

// Ledger 回傳至今為止所有已接受出價的副本，依序號排序
func (s *Session) Ledger() []LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LedgerEntry, len(s.ledger))
	copy(out, s.ledger)
	return out
}

// IdleSince 回傳最後一次活動（開場或最後一次出價）的時間。
// 場次未開放時回傳 false。
func (s *Session) IdleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusOpen {
		return time.Time{}, false
	}
	return s.lastActivity, true
}

// applyAcceptedBid 在呼叫端（競價引擎）完成驗證後套用一筆出價。
// 純狀態更新，不做任何驗證；呼叫端必須已持有 s.mu。
func (s *Session) applyAcceptedBid(amount int64, bidder Identity, now time.Time) {
	id := bidder.ID
	s.currentPrice = amount
	s.leaderID = &id
	s.leaderName = bidder.DisplayName
	s.lastActivity = now
}

// result 組出最終結果，呼叫端必須已持有 s.mu
func (s *Session) result() CloseResult {
	res := CloseResult{
		SessionID:  s.ID,
		ListingID:  s.ListingID,
		RoomID:     s.RoomID,
		WinnerName: s.leaderName,
		FinalPrice: s.currentPrice,
		ClosedAt:   s.closedAt,
	}
	if s.leaderID != nil {
		id := *s.leaderID
		res.WinnerID = &id
	}
	return res
}
