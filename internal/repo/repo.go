// Package repo is the durable storage collaborator, backed by gorm. Stock is
// never read-then-written here: the only mutation is a conditional UPDATE
// whose predicate re-checks stock > 0 at write time.
package repo

import (
	"context"
	"errors"

	"seckill/internal/model"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// VoucherByID returns the voucher or (nil, nil) when it does not exist.
func (r *Repo) VoucherByID(ctx context.Context, id uint) (*model.Voucher, error) {
	var v model.Voucher
	err := r.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repo) CreateVoucher(ctx context.Context, v *model.Voucher) error {
	return r.db.WithContext(ctx).Create(v).Error
}

// UpdateVoucher writes the row; the caller evicts the cache entry after.
// Stock is excluded: the caller's copy comes from a cache read and writing
// it back would undo decrements that landed in between. The conditional
// decrement is the only stock mutation.
func (r *Repo) UpdateVoucher(ctx context.Context, v *model.Voucher) error {
	return r.db.WithContext(ctx).Omit("stock").Save(v).Error
}

// OrderExists reports whether the user already has an order for the voucher.
func (r *Repo) OrderExists(ctx context.Context, userID int64, voucherID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("user_id = ? AND voucher_id = ?", userID, voucherID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DecrementStock decrements durable stock under the optimistic predicate
// stock > 0. Returns false when the predicate failed (no row updated).
func (r *Repo) DecrementStock(ctx context.Context, voucherID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Voucher{}).
		Where("id = ? AND stock > 0", voucherID).
		UpdateColumn("stock", gorm.Expr("stock - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) SaveOrder(ctx context.Context, o *model.Order) error {
	return r.db.WithContext(ctx).Create(o).Error
}
