package room

import (
	"context"
	"log/slog"
	"sync"
)

type broadcasterOptions[T any] struct {
	logger     *slog.Logger
	bufferSize int
	relay      Relay[T]
	roomOf     func(T) string
}

type BroadcasterOption[T any] func(*broadcasterOptions[T])

// WithBroadcasterLogger 設置日誌記錄器
func WithBroadcasterLogger[T any](logger *slog.Logger) BroadcasterOption[T] {
	return func(o *broadcasterOptions[T]) {
		o.logger = logger
	}
}

// WithBroadcasterBufferSize 設置每條連線接收通道的緩衝大小
func WithBroadcasterBufferSize[T any](size int) BroadcasterOption[T] {
	return func(o *broadcasterOptions[T]) {
		o.bufferSize = size
	}
}

// WithBroadcasterRelay 設置跨節點轉發層；未設置時事件只在本節點派送
func WithBroadcasterRelay[T any](relay Relay[T]) BroadcasterOption[T] {
	return func(o *broadcasterOptions[T]) {
		o.relay = relay
	}
}

// Broadcaster 將直播間 ID 對應到其成員連線，並把事件依序派送給所有成員。
// 不同房間之間沒有任何順序保證，同一房間內的事件依發布順序送達。
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	rooms  map[string]*room[T]
	active bool
	wg     sync.WaitGroup
	logger *slog.Logger

	options broadcasterOptions[T]
}

// NewBroadcaster 建立房間廣播層。
// roomOf 用於從事件中取出目標房間的 ID。
func NewBroadcaster[T any](roomOf func(T) string, opts ...BroadcasterOption[T]) *Broadcaster[T] {
	options := broadcasterOptions[T]{
		logger:     slog.Default(),
		bufferSize: 64,
		roomOf:     roomOf,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Broadcaster[T]{
		rooms:   make(map[string]*room[T]),
		active:  true,
		logger:  options.logger.With(slog.String("caller", "Broadcaster")),
		options: options,
	}
}

// Start 啟動廣播層；有設置 Relay 時啟動跨節點事件的接收迴圈
func (b *Broadcaster[T]) Start() {
	if b.options.relay == nil {
		return
	}
	b.options.relay.Start()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range b.options.relay.Subscribe() {
			b.deliver(ev)
		}
	}()
}

// Done 停止廣播層並關閉所有房間
func (b *Broadcaster[T]) Done() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.active = false
	b.mu.Unlock()

	if b.options.relay != nil {
		b.options.relay.Close()
	}
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.rooms {
		r.closeAll()
	}
	clear(b.rooms)
}

// Join 將連線加入房間，房間不存在時建立。
// 回傳接收事件的唯讀通道與目前的成員清單。
func (b *Broadcaster[T]) Join(roomID string, member Member, connID string) (<-chan T, []Member) {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return nil, nil
	}
	r, ok := b.rooms[roomID]
	if !ok {
		r = newRoom[T]()
		b.rooms[roomID] = r
		b.logger.Debug("room created", slog.String("roomId", roomID))
	}
	b.mu.Unlock()

	ch, members := r.join(member, connID, b.options.bufferSize)
	b.logger.Debug("member joined",
		slog.String("roomId", roomID),
		slog.String("memberId", member.ID),
		slog.Int("members", len(members)))
	return ch, members
}

// Leave 將連線移出房間；成員清空且未被 Pin 的房間會被回收
func (b *Broadcaster[T]) Leave(roomID string, connID string) {
	b.mu.RLock()
	r, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	member, left := r.leave(connID)
	if !left {
		return
	}
	b.logger.Debug("member left",
		slog.String("roomId", roomID),
		slog.String("memberId", member.ID))
	b.reap(roomID)
}

// Publish 發布事件到事件所屬的房間。
// 有設置 Relay 時先送往 Redis Stream，再由接收迴圈派送，
// 讓多個節點以一致的順序收到；Publish 不等待派送完成。
func (b *Broadcaster[T]) Publish(ev T) error {
	b.mu.RLock()
	active := b.active
	b.mu.RUnlock()
	if !active {
		return context.Canceled
	}

	if b.options.relay != nil {
		return b.options.relay.Publish(ev)
	}
	b.deliver(ev)
	return nil
}

// Members 回傳房間目前的成員清單
func (b *Broadcaster[T]) Members(roomID string) []Member {
	b.mu.RLock()
	r, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.members()
}

// Pin 讓房間在沒有任何成員時也不被回收（場次開放期間使用）
func (b *Broadcaster[T]) Pin(roomID string) {
	b.mu.Lock()
	r, ok := b.rooms[roomID]
	if !ok {
		r = newRoom[T]()
		b.rooms[roomID] = r
	}
	b.mu.Unlock()
	r.setPinned(true)
}

// Unpin 解除 Pin，若房間已無成員則立即回收
func (b *Broadcaster[T]) Unpin(roomID string) {
	b.mu.RLock()
	r, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	r.setPinned(false)
	b.reap(roomID)
}

// deliver 將事件派送給目標房間的所有本地成員
func (b *Broadcaster[T]) deliver(ev T) {
	roomID := b.options.roomOf(ev)
	b.mu.RLock()
	r, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	if dropped := r.broadcast(ev); dropped > 0 {
		b.logger.Warn("dropped events for slow members",
			slog.String("roomId", roomID),
			slog.Uint64("dropped", dropped))
	}
}

// reap 回收已無成員且未被 Pin 的房間
func (b *Broadcaster[T]) reap(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rooms[roomID]; ok && r.idle() {
		delete(b.rooms, roomID)
		b.logger.Debug("room destroyed", slog.String("roomId", roomID))
	}
}
