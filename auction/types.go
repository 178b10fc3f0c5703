package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Identity 代表一個已驗證的參與者身份
// 由外部身份提供者核發，在連線存續期間不會改變
type Identity struct {
	ID          uuid.UUID `json:"id" msgpack:"id"`
	DisplayName string    `json:"displayName" msgpack:"displayName"`
}

// Listing 是型錄儲存層持有的刊登資訊在競價核心中的唯讀視圖
type Listing struct {
	ID            uuid.UUID
	SellerID      uuid.UUID
	StartingPrice int64
	Status        string
}

// CatalogStore 是競價核心對型錄儲存層的唯讀依賴，
// 實際儲存由 adapters/catalog 提供
type CatalogStore interface {
	// GetListing 依 ID 取得刊登資訊，不存在時回傳 ErrNotFound
	GetListing(ctx context.Context, id uuid.UUID) (Listing, error)
}

// BidAttempt 代表一次出價嘗試，被拒絕時不會留下任何紀錄
type BidAttempt struct {
	SessionID   uuid.UUID
	Bidder      Identity
	Amount      int64
	SubmittedAt time.Time
}

// LedgerEntry 代表一筆已被接受的出價，為不可變的帳本紀錄。
// SequenceNumber 由引擎在接受出價的同時原子性分配，
// 在同一場次中嚴格遞增且無空洞，是「目前最高出價」的唯一依據。
type LedgerEntry struct {
	SequenceNumber uint64    `json:"sequenceNumber" msgpack:"sequenceNumber"`
	SessionID      uuid.UUID `json:"sessionId" msgpack:"sessionId"`
	ListingID      uuid.UUID `json:"listingId" msgpack:"listingId"`
	RoomID         string    `json:"roomId" msgpack:"roomId"`
	BidderID       uuid.UUID `json:"bidderId" msgpack:"bidderId"`
	BidderName     string    `json:"bidderName" msgpack:"bidderName"`
	Amount         int64     `json:"amount" msgpack:"amount"`
	AcceptedAt     time.Time `json:"acceptedAt" msgpack:"acceptedAt"`
}
