package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User 代表拍賣平台中的使用者
// 包含登入用的 email 與密碼雜湊，以及顯示用的使用者名稱
type User struct {
	gorm.Model

	ID           uuid.UUID `gorm:"type:uuid;default:public.uuid_generate_v7();primaryKey;<-:false"`
	Username     string    `gorm:"type:varchar(255);not null;uniqueIndex,where:deleted_at IS NULL"`
	Email        string    `gorm:"type:varchar(255);not null;uniqueIndex,where:deleted_at IS NULL;<-:create"`
	PasswordHash string    `gorm:"type:text;not null"`
}
