package room

import (
	"sync"
)

// subscriber 代表房間內的一條連線
type subscriber[T any] struct {
	member Member
	ch     chan T
}

// room 管理單一房間的成員與事件派送。
// 成員的增減只在 mu 之下進行，與場次鎖互不相干也永不嵌套。
type room[T any] struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber[T] // 以連線 ID 為鍵
	pinned      bool
	dropped     uint64
}

func newRoom[T any]() *room[T] {
	return &room[T]{
		subscribers: make(map[string]*subscriber[T]),
	}
}

// join 加入一條連線並回傳其接收通道。
// 已存在的 (member, connID) 回傳原本的通道，維持冪等。
func (r *room[T]) join(member Member, connID string, bufferSize int) (<-chan T, []Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subscribers[connID]; ok && sub.member.ID == member.ID {
		return sub.ch, r.membersLocked()
	}
	sub := &subscriber[T]{
		member: member,
		ch:     make(chan T, bufferSize),
	}
	r.subscribers[connID] = sub
	return sub.ch, r.membersLocked()
}

// leave 移除連線並關閉其通道，回傳是否確實有此連線
func (r *room[T]) leave(connID string) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subscribers[connID]
	if !ok {
		return Member{}, false
	}
	delete(r.subscribers, connID)
	close(sub.ch)
	return sub.member, true
}

// broadcast 將事件派送給所有連線。
// 持有寫鎖期間逐一送入各連線的緩衝通道，因此對同一個房間而言，
// 派送順序與 broadcast 的呼叫順序一致；緩衝已滿的連線直接略過
// （at-most-once，斷線或過慢的成員不保證收到）。
func (r *room[T]) broadcast(ev T) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dropped uint64
	for _, sub := range r.subscribers {
		select {
		case sub.ch <- ev:
		default:
			dropped++
		}
	}
	r.dropped += dropped
	return dropped
}

// closeAll 關閉所有連線的通道並清空成員
func (r *room[T]) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subscribers {
		close(sub.ch)
	}
	clear(r.subscribers)
}

// idle 判斷房間是否可以被回收
func (r *room[T]) idle() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers) == 0 && !r.pinned
}

func (r *room[T]) members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked()
}

// membersLocked 彙整成員清單；同一身份的多條連線只列一次。
// 呼叫端必須已持有 r.mu。
func (r *room[T]) membersLocked() []Member {
	seen := make(map[string]struct{}, len(r.subscribers))
	out := make([]Member, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		if _, ok := seen[sub.member.ID]; ok {
			continue
		}
		seen[sub.member.ID] = struct{}{}
		out = append(out, sub.member)
	}
	return out
}

func (r *room[T]) setPinned(pinned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pinned = pinned
}
