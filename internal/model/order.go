package model

import (
	"time"

	"gorm.io/gorm"
)

// Order is a persisted flash-sale order. The ID is allocated at admission
// time by the redis id worker, before the row exists; the row is immutable
// once written.
type Order struct {
	ID        uint64         `gorm:"primarykey;autoIncrement:false" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	UserID    int64 `gorm:"not null;uniqueIndex:idx_user_voucher" json:"user_id"`
	VoucherID uint  `gorm:"not null;uniqueIndex:idx_user_voucher" json:"voucher_id"`
	Amount    int64 `gorm:"not null" json:"amount"` // cents
}

func (Order) TableName() string { return "orders" }
