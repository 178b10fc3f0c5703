package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 卡片的刊登狀態
const (
	CardStatusListed = "listed" // 已刊登，尚未開拍
	CardStatusLive   = "live"   // 正在直播拍賣中
	CardStatusSold   = "sold"   // 已結標
)

// Card 代表賣家刊登的待拍賣卡片
// 包含卡片資訊、起標價與刊登狀態
type Card struct {
	gorm.Model

	ID            uuid.UUID `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	SellerID      uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Title         string    `gorm:"type:varchar(255);not null"`
	Description   string    `gorm:"type:text;not null"`
	StartingPrice uint32    `gorm:"type:integer;not null;<-:create"`
	Status        string    `gorm:"type:varchar(32);not null;default:'listed'"`

	// 外鍵關聯
	Seller     User        `gorm:"foreignKey:SellerID"`
	BidRecords []BidRecord `gorm:"foreignKey:CardID"`
}
