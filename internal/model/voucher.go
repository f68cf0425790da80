package model

import (
	"time"

	"gorm.io/gorm"
)

// Voucher is a flash-sale voucher: title, stock, price and the sale window.
type Voucher struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Stock is the durable source of truth; the live admission counter is a
	// mirror in Redis, preloaded before the sale opens.
	Title     string    `gorm:"size:128;not null" json:"title"`
	Stock     int64     `gorm:"not null;default:0" json:"stock"`
	Price     int64     `gorm:"not null" json:"price"` // cents
	BeginTime time.Time `gorm:"not null" json:"begin_time"`
	EndTime   time.Time `gorm:"not null" json:"end_time"`
}

func (Voucher) TableName() string { return "vouchers" }
