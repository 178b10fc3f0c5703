package auction

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type engineOptions struct {
	logger *slog.Logger
	sink   func(LedgerEntry)
	now    func() time.Time
}

type EngineOption func(*engineOptions)

// WithEngineLogger 設置日誌記錄器
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithEngineSink 設置帳本輸出函數，引擎每接受一筆出價就呼叫一次，
// 呼叫順序與序號順序一致。sink 在場次鎖之下執行，不得阻塞。
func WithEngineSink(sink func(LedgerEntry)) EngineOption {
	return func(o *engineOptions) {
		o.sink = sink
	}
}

// WithEngineClock 設置時間來源，測試用
func WithEngineClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) {
		o.now = now
	}
}

// Engine 是競價排序引擎，負責驗證並全序化所有出價。
// 同一場次的驗證與套用在該場次的鎖之下為單一原子單位，
// 不同場次之間互不阻塞，也沒有任何全域鎖。
type Engine struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	logger   *slog.Logger
	options  engineOptions
}

func NewEngine(opts ...EngineOption) *Engine {
	options := engineOptions{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Engine{
		sessions: make(map[uuid.UUID]*Session),
		logger:   options.logger.With(slog.String("caller", "Engine")),
		options:  options,
	}
}

// CreateSession 為一個刊登物品在指定直播間建立 Pending 場次
func (e *Engine) CreateSession(listing Listing, roomID string, minIncrement int64) *Session {
	s := newSession(listing, roomID, minIncrement)
	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()
	e.logger.Info("session created",
		slog.String("sessionId", s.ID.String()),
		slog.String("listingId", listing.ID.String()),
		slog.String("roomId", roomID))
	return s
}

// Session 依 ID 取得場次
func (e *Engine) Session(id uuid.UUID) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Sessions 回傳目前所有場次
func (e *Engine) Sessions() []*Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Remove 將已結束的場次自引擎移除（歸檔後呼叫）
func (e *Engine) Remove(id uuid.UUID) {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
}

// Submit 驗證一次出價並在接受時產生帳本紀錄。
//
// 驗證依序短路：場次必須存在且 Open、金額必須為正數、
// 金額必須達到門檻（尚無領先者時門檻即起標價，否則為目前價格加上最小增額）、
// 出價者不得已是領先者。任一規則失敗時不改變任何狀態。
//
// 接受時在場次鎖之下原子性地分配序號、套用出價、附加帳本紀錄，
// 兩筆金額相同的並發出價必定恰好一筆被接受，另一筆因門檻已被推高而被拒絕。
func (e *Engine) Submit(attempt BidAttempt) (LedgerEntry, error) {
	e.mu.RLock()
	s, ok := e.sessions[attempt.SessionID]
	e.mu.RUnlock()
	if !ok {
		return LedgerEntry{}, ErrSessionNotOpen
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faulted {
		return LedgerEntry{}, ErrSessionFaulted
	}
	if s.status != StatusOpen {
		return LedgerEntry{}, ErrSessionNotOpen
	}
	if attempt.Amount <= 0 {
		return LedgerEntry{}, ErrInvalidAmount
	}
	// 尚無領先者時首次出價可以等於起標價
	floor := s.startingPrice
	if s.leaderID != nil {
		floor = s.currentPrice + s.minIncrement
	}
	if attempt.Amount < floor {
		return LedgerEntry{}, fmt.Errorf("%w: floor is %d", ErrBidTooLow, floor)
	}
	if s.leaderID != nil && *s.leaderID == attempt.Bidder.ID {
		return LedgerEntry{}, ErrAlreadyLeading
	}

	// 價格只增不減；偵測到下降代表內部狀態已毀損，隔離該場次而非讓整個行程崩潰
	if attempt.Amount < s.currentPrice {
		s.faulted = true
		e.logger.Error("session halted: current price would decrease",
			slog.String("sessionId", s.ID.String()),
			slog.Int64("currentPrice", s.currentPrice),
			slog.Int64("amount", attempt.Amount))
		return LedgerEntry{}, ErrSessionFaulted
	}

	now := attempt.SubmittedAt
	if now.IsZero() {
		now = e.options.now()
	}
	s.nextSeq++
	entry := LedgerEntry{
		SequenceNumber: s.nextSeq,
		SessionID:      s.ID,
		ListingID:      s.ListingID,
		RoomID:         s.RoomID,
		BidderID:       attempt.Bidder.ID,
		BidderName:     attempt.Bidder.DisplayName,
		Amount:         attempt.Amount,
		AcceptedAt:     now,
	}
	s.applyAcceptedBid(attempt.Amount, attempt.Bidder, now)
	s.ledger = append(s.ledger, entry)

	if e.options.sink != nil {
		e.options.sink(entry)
	}

	e.logger.Debug("bid accepted",
		slog.String("sessionId", s.ID.String()),
		slog.Uint64("seq", entry.SequenceNumber),
		slog.Int64("amount", entry.Amount),
		slog.String("bidder", attempt.Bidder.ID.String()))
	return entry, nil
}
