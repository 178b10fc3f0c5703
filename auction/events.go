package auction

import (
	"time"

	"github.com/google/uuid"
)

// EventKind 標記房間事件的種類
type EventKind string

const (
	EventChatMessage       EventKind = "chat"
	EventBidAccepted       EventKind = "bidAccepted"
	EventSessionOpened     EventKind = "sessionOpened"
	EventSessionClosed     EventKind = "sessionClosed"
	EventParticipantJoined EventKind = "participantJoined"
	EventParticipantLeft   EventKind = "participantLeft"
)

// ChatPayload 代表一則聊天訊息，僅轉發不落地
type ChatPayload struct {
	SenderID   uuid.UUID `json:"senderId" msgpack:"senderId"`
	SenderName string    `json:"senderName" msgpack:"senderName"`
	Text       string    `json:"text" msgpack:"text"`
	SentAt     time.Time `json:"sentAt" msgpack:"sentAt"`
}

// SessionPayload 代表場次狀態轉換事件的內容。
// Winner 相關欄位只在 EventSessionClosed 且有人得標時才有值。
type SessionPayload struct {
	SessionID     uuid.UUID  `json:"sessionId" msgpack:"sessionId"`
	ListingID     uuid.UUID  `json:"listingId" msgpack:"listingId"`
	StartingPrice int64      `json:"startingPrice" msgpack:"startingPrice"`
	WinnerID      *uuid.UUID `json:"winnerId,omitempty" msgpack:"winnerId"`
	WinnerName    string     `json:"winnerName,omitempty" msgpack:"winnerName"`
	FinalPrice    int64      `json:"finalPrice,omitempty" msgpack:"finalPrice"`
}

// Event 是房間內廣播事件的封包，依 Kind 決定哪個 payload 欄位有值。
// 同一結構同時用於 WebSocket 輸出與 Redis Stream 上的跨節點轉發。
type Event struct {
	Kind   EventKind `json:"kind" msgpack:"kind"`
	RoomID string    `json:"roomId" msgpack:"roomId"`
	At     time.Time `json:"at" msgpack:"at"`

	Chat        *ChatPayload    `json:"chat,omitempty" msgpack:"chat"`
	Bid         *LedgerEntry    `json:"bid,omitempty" msgpack:"bid"`
	Session     *SessionPayload `json:"session,omitempty" msgpack:"session"`
	Participant *Identity       `json:"participant,omitempty" msgpack:"participant"`
}
