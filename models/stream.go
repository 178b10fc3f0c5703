package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 直播的狀態
const (
	StreamStatusActive = "active"
	StreamStatusEnded  = "ended"
)

// Stream 代表一場直播
// 直播間 (room) 以 Stream 的 ID 作為識別，競標與聊天事件都繫結在此之上
type Stream struct {
	gorm.Model

	ID        uuid.UUID  `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	HostID    uuid.UUID  `gorm:"type:uuid;not null;<-:create"`
	Title     string     `gorm:"type:varchar(255);not null"`
	Status    string     `gorm:"type:varchar(32);not null;default:'active'"`
	StartedAt time.Time  `gorm:"type:timestamp with time zone;not null;<-:create"`
	EndedAt   *time.Time `gorm:"type:timestamp with time zone"`

	Host User `gorm:"foreignKey:HostID"`
}
