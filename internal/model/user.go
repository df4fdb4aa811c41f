package model

import "time"

// User 用户账户（积分余额只由 CreditService 变更）
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Phone     string    `gorm:"type:varchar(20);default:''" json:"phone"`
	Credits   int       `gorm:"not null;default:0" json:"credits"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}
