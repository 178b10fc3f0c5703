package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BidRecord 代表一筆已被接受的出價
// 由競價引擎在接受出價時產生，經由 Redis Stream 非同步寫回資料庫，
// SequenceNumber 在同一場拍賣中嚴格遞增
type BidRecord struct {
	gorm.Model

	ID             uuid.UUID `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	SessionID      uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	CardID         uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	BidderID       uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Amount         int64     `gorm:"type:bigint;not null;<-:create"`
	SequenceNumber uint64    `gorm:"type:bigint;not null;<-:create"`
	AcceptedAt     time.Time `gorm:"type:timestamp with time zone;not null;<-:create"`

	// 外鍵關聯
	Bidder User `gorm:"foreignKey:BidderID"`
	Card   Card `gorm:"foreignKey:CardID"`
}
