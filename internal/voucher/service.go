// Package voucher serves voucher reads through the cache and keeps the
// cache coherent with voucher writes.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"seckill/internal/cache"
	"seckill/internal/model"
	rediskey "seckill/pkg/redis"
)

// Repo is the durable side of voucher reads and writes.
type Repo interface {
	VoucherByID(ctx context.Context, id uint) (*model.Voucher, error)
	CreateVoucher(ctx context.Context, v *model.Voucher) error
	UpdateVoucher(ctx context.Context, v *model.Voucher) error
}

// Service resolves vouchers with two cache strategies layered on one path:
// preloaded "hot" vouchers are served via logical expiration (readers never
// block on a rebuild), everything else goes through the mutex-guarded
// read-through entry with a hard TTL.
type Service struct {
	repo       Repo
	cache      *cache.Client
	logicalTTL time.Duration
}

func NewService(repo Repo, c *cache.Client, logicalTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, logicalTTL: logicalTTL}
}

// ByID returns the voucher or (nil, nil) when it does not exist.
func (s *Service) ByID(ctx context.Context, id uint) (*model.Voucher, error) {
	load := func(ctx context.Context) (*model.Voucher, error) {
		return s.repo.VoucherByID(ctx, id)
	}

	v, err := cache.GetWithLogicalExpire(ctx, s.cache,
		rediskey.HotVoucherCacheKey(id), rediskey.HotVoucherLockKey(id), s.logicalTTL, load)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}

	// Not preloaded; normal mutex-guarded read-through.
	v, err = cache.GetWithMutex(ctx, s.cache,
		rediskey.VoucherCacheKey(id), rediskey.VoucherLockKey(id), load)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func (s *Service) Create(ctx context.Context, v *model.Voucher) error {
	return s.repo.CreateVoucher(ctx, v)
}

// Update writes the durable row first, then evicts both cache entries so the
// next read rebuilds from the fresh row.
func (s *Service) Update(ctx context.Context, v *model.Voucher) error {
	if err := s.repo.UpdateVoucher(ctx, v); err != nil {
		return err
	}
	if err := s.cache.Delete(ctx, rediskey.VoucherCacheKey(v.ID)); err != nil {
		return fmt.Errorf("evict voucher cache: %w", err)
	}
	if err := s.cache.Delete(ctx, rediskey.HotVoucherCacheKey(v.ID)); err != nil {
		return fmt.Errorf("evict hot voucher cache: %w", err)
	}
	return nil
}

// Prewarm writes the logically-expiring entry for a voucher about to go on
// sale. Returns the voucher so the caller can mirror its stock.
func (s *Service) Prewarm(ctx context.Context, id uint) (*model.Voucher, error) {
	v, err := s.repo.VoucherByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	if err := s.cache.SetWithLogicalExpire(ctx, rediskey.HotVoucherCacheKey(id), v, s.logicalTTL); err != nil {
		return nil, err
	}
	return v, nil
}
