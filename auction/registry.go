package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoomKeeper 是場次註冊表對房間廣播層的最小依賴。
// Pin 讓房間在場次開放期間即使沒有成員也不會被回收。
type RoomKeeper interface {
	Publish(ev Event) error
	Pin(roomID string)
	Unpin(roomID string)
}

// Locker 是跨節點互斥鎖的最小介面，adapters/redis 的
// AutoRenewMutex 直接滿足此介面；測試中可以不設置。
type Locker interface {
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
}

type registryOptions struct {
	logger        *slog.Logger
	lockFactory   func(key string) Locker
	minIncrement  int64
	idleTimeout   time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

type RegistryOption func(*registryOptions)

// WithRegistryLogger 設置日誌記錄器
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(o *registryOptions) {
		o.logger = logger
	}
}

// WithRegistryLockFactory 設置跨節點鎖的工廠函數，
// 用於在多個服務實例之間維持「一個房間同時只有一個開放場次」
func WithRegistryLockFactory(factory func(key string) Locker) RegistryOption {
	return func(o *registryOptions) {
		o.lockFactory = factory
	}
}

// WithRegistryMinIncrement 設置預設的最小出價增額
func WithRegistryMinIncrement(v int64) RegistryOption {
	return func(o *registryOptions) {
		o.minIncrement = v
	}
}

// WithRegistryIdleTimeout 設置開放場次的閒置逾時，超過後由背景清掃自動結束
func WithRegistryIdleTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		o.idleTimeout = d
	}
}

// WithRegistrySweepInterval 設置背景清掃的間隔
func WithRegistrySweepInterval(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		o.sweepInterval = d
	}
}

// WithRegistryClock 設置時間來源，測試用
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(o *registryOptions) {
		o.now = now
	}
}

// Registry 追蹤哪個場次正在哪個直播間進行，
// 只持有 roomID 到開放場次的對照，場次狀態本身歸競價引擎所有。
type Registry struct {
	engine *Engine
	keeper RoomKeeper
	logger *slog.Logger

	mu   sync.Mutex
	open map[string]uuid.UUID // roomID → 開放中的場次

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	options    registryOptions
}

func NewRegistry(engine *Engine, keeper RoomKeeper, opts ...RegistryOption) *Registry {
	options := registryOptions{
		logger:        slog.Default(),
		minIncrement:  1,
		idleTimeout:   5 * time.Minute,
		sweepInterval: 30 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Registry{
		engine:  engine,
		keeper:  keeper,
		logger:  options.logger.With(slog.String("caller", "Registry")),
		open:    make(map[string]uuid.UUID),
		closed:  true,
		options: options,
	}
}

// Start 啟動背景清掃，自動結束閒置過久的開放場次
func (r *Registry) Start() {
	r.mu.Lock()
	if !r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = false
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelFunc = cancel
	r.mu.Unlock()
	r.logger.Info("starting session registry sweeper")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.logger.Info("session registry sweeper stopped")
		ticker := time.NewTicker(r.options.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

// Close 停止背景清掃
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.cancelFunc()
	r.wg.Wait()
}

// StartSession 在指定直播間為刊登物品建立並開放一個新場次。
// 房間已有開放場次時回傳 ErrRoomBusy。
func (r *Registry) StartSession(ctx context.Context, roomID string, listing Listing) (*Session, error) {
	const op = "StartSession"

	// 跨節點互斥：同一個房間的開場/收場在所有實例間序列化
	if r.options.lockFactory != nil {
		locker := r.options.lockFactory(roomID)
		lockCtx, err := locker.Lock(ctx)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to acquire room lock, err=%w", op, err)
		}
		ctx = lockCtx
		defer func() {
			if _, err := locker.Unlock(); err != nil {
				r.logger.Warn("fail to release room lock", slog.String("roomId", roomID), slog.Any("error", err))
			}
		}()
	}

	r.mu.Lock()
	if _, busy := r.open[roomID]; busy {
		r.mu.Unlock()
		return nil, ErrRoomBusy
	}
	session := r.engine.CreateSession(listing, roomID, r.options.minIncrement)
	r.open[roomID] = session.ID
	r.mu.Unlock()

	if err := session.Open(r.options.now()); err != nil {
		// 剛建立的場次必定是 Pending，走到這裡代表程式邏輯錯誤
		r.mu.Lock()
		delete(r.open, roomID)
		r.mu.Unlock()
		return nil, fmt.Errorf("[%s] Fail to open session, err=%w", op, err)
	}
	r.keeper.Pin(roomID)

	if err := r.keeper.Publish(Event{
		Kind:   EventSessionOpened,
		RoomID: roomID,
		At:     r.options.now(),
		Session: &SessionPayload{
			SessionID:     session.ID,
			ListingID:     listing.ID,
			StartingPrice: listing.StartingPrice,
		},
	}); err != nil {
		r.logger.Error("fail to broadcast session opened", slog.String("roomId", roomID), slog.Any("error", err))
	}
	r.logger.Info("session opened",
		slog.String("roomId", roomID),
		slog.String("sessionId", session.ID.String()),
		slog.String("listingId", listing.ID.String()))
	return session, nil
}

// EndSession 結束指定直播間目前開放的場次並廣播最終結果。
// 沒有開放場次時回傳 ErrNotFound。
func (r *Registry) EndSession(ctx context.Context, roomID string) (CloseResult, error) {
	const op = "EndSession"

	if r.options.lockFactory != nil {
		locker := r.options.lockFactory(roomID)
		if _, err := locker.Lock(ctx); err != nil {
			return CloseResult{}, fmt.Errorf("[%s] Fail to acquire room lock, err=%w", op, err)
		}
		defer func() {
			if _, err := locker.Unlock(); err != nil {
				r.logger.Warn("fail to release room lock", slog.String("roomId", roomID), slog.Any("error", err))
			}
		}()
	}

	r.mu.Lock()
	sessionID, ok := r.open[roomID]
	if !ok {
		r.mu.Unlock()
		return CloseResult{}, ErrNotFound
	}
	delete(r.open, roomID)
	r.mu.Unlock()

	session, ok := r.engine.Session(sessionID)
	if !ok {
		return CloseResult{}, ErrNotFound
	}
	result, err := session.Close(r.options.now())
	if err != nil {
		return CloseResult{}, err
	}
	r.keeper.Unpin(roomID)
	r.publishClosed(result)
	return result, nil
}

// OpenSession 回傳指定直播間目前開放的場次 ID
func (r *Registry) OpenSession(roomID string) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.open[roomID]
	return id, ok
}

// sweep 結束所有閒置超過 idleTimeout 的開放場次
func (r *Registry) sweep(ctx context.Context) {
	now := r.options.now()

	r.mu.Lock()
	var stale []string
	for roomID, sessionID := range r.open {
		session, ok := r.engine.Session(sessionID)
		if !ok {
			stale = append(stale, roomID)
			continue
		}
		if last, open := session.IdleSince(); open && now.Sub(last) >= r.options.idleTimeout {
			stale = append(stale, roomID)
		}
	}
	r.mu.Unlock()

	for _, roomID := range stale {
		result, err := r.EndSession(ctx, roomID)
		if err != nil {
			r.logger.Warn("fail to sweep idle session", slog.String("roomId", roomID), slog.Any("error", err))
			continue
		}
		r.logger.Info("idle session closed by sweeper",
			slog.String("roomId", roomID),
			slog.String("sessionId", result.SessionID.String()))
	}
}

func (r *Registry) publishClosed(result CloseResult) {
	if err := r.keeper.Publish(Event{
		Kind:   EventSessionClosed,
		RoomID: result.RoomID,
		At:     result.ClosedAt,
		Session: &SessionPayload{
			SessionID:  result.SessionID,
			ListingID:  result.ListingID,
			WinnerID:   result.WinnerID,
			WinnerName: result.WinnerName,
			FinalPrice: result.FinalPrice,
		},
	}); err != nil {
		r.logger.Error("fail to broadcast session closed",
			slog.String("roomId", result.RoomID), slog.Any("error", err))
	}
	r.logger.Info("session closed",
		slog.String("roomId", result.RoomID),
		slog.String("sessionId", result.SessionID.String()),
		slog.Int64("finalPrice", result.FinalPrice))
}
