//go:generate mockgen -package=room -destination=mock.go -source=interfaces.go

package room

// Member 代表房間內的一個參與者身份
type Member struct {
	ID   string `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
}

// Relay 是跨節點事件轉發的介面，由 adapters/redis 的 Stream Relay 實作。
// Publish 送出的事件會經由共享的 Redis Stream 回到每個節點的 Subscribe 通道，
// 單一 stream 保證了所有節點看到一致的事件順序。
type Relay[T any] interface {
	Start()
	Publish(data T) error
	Subscribe() <-chan T
	Close()
}

// IBroadcaster 定義了房間廣播層的操作介面
type IBroadcaster[T any] interface {
	// Start 啟動廣播層，開始處理事件的接收與派送。
	// 應在呼叫其他方法前先呼叫此方法。
	Start()
	// Done 停止廣播層，關閉所有訂閱並釋放資源。
	Done()
	// Join 將一個連線加入房間，回傳接收事件的通道與目前的成員清單。
	// 對同一個 (member, connID) 重複呼叫是冪等的。
	Join(roomID string, member Member, connID string) (<-chan T, []Member)
	// Leave 將連線移出房間，房間成員清空且未被 Pin 時回收房間
	Leave(roomID string, connID string)
	// Publish 發布事件；有設置 Relay 時經由 Redis Stream 繞行，
	// 讓所有節點以相同順序收到事件
	Publish(ev T) error
	// Members 回傳房間目前的成員清單
	Members(roomID string) []Member
	// Pin 讓房間在沒有成員時也不被回收
	Pin(roomID string)
	// Unpin 解除 Pin，若房間已無成員則立即回收
	Unpin(roomID string)
}
