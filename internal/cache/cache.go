// Package cache is a read-through cache client over a shared key-value
// store. It guards expensive rebuilds two ways: a blocking mutex where the
// winning caller reloads and everyone else retries, and logical expiration
// where readers always get an immediate answer (possibly stale) while a
// bounded pool rebuilds in the background. Lookups for ids that do not exist
// are answered from a short-lived null marker instead of hitting the durable
// source every time.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrMiss is returned by Store.Get when the key is absent. Distinct from
	// a cached null marker, which means "looked up before, does not exist".
	ErrMiss = errors.New("cache: miss")

	// ErrNotFound means the entity does not exist in the durable source.
	ErrNotFound = errors.New("cache: entity not found")

	// ErrUnavailable means another caller held the rebuild lock for the whole
	// bounded retry budget.
	ErrUnavailable = errors.New("cache: rebuild in progress, retries exhausted")
)

// Store is the minimal coordination-store surface the cache needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Options tunes TTLs and the rebuild machinery. Zero fields get defaults.
type Options struct {
	TTL            time.Duration // hard TTL for mutex-strategy entries
	NullTTL        time.Duration // TTL of the not-found marker
	LockTTL        time.Duration // rebuild lock TTL
	RetryDelay     time.Duration // wait between lookup retries while locked out
	MaxRetries     int           // lookup retries before ErrUnavailable
	RebuildWorkers int           // async rebuild pool size
	RebuildTimeout time.Duration // per-rebuild deadline
}

func (o *Options) withDefaults() {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Minute
	}
	if o.NullTTL <= 0 {
		o.NullTTL = 2 * time.Minute
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 50 * time.Millisecond
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 20
	}
	if o.RebuildWorkers <= 0 {
		o.RebuildWorkers = 10
	}
	if o.RebuildTimeout <= 0 {
		o.RebuildTimeout = 5 * time.Second
	}
}

// Client serves reads and owns the rebuild worker pool.
type Client struct {
	store Store
	log   *slog.Logger
	opts  Options

	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewClient(store Store, log *slog.Logger, opts Options) *Client {
	opts.withDefaults()
	c := &Client{
		store: store,
		log:   log,
		opts:  opts,
		tasks: make(chan func(), opts.RebuildWorkers*2),
	}
	for i := 0; i < opts.RebuildWorkers; i++ {
		c.wg.Add(1)
		go c.rebuildLoop()
	}
	return c
}

// Close stops accepting rebuilds and waits for in-flight ones to finish.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.tasks) })
	c.wg.Wait()
}

func (c *Client) rebuildLoop() {
	defer c.wg.Done()
	for task := range c.tasks {
		c.runTask(task)
	}
}

func (c *Client) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cache rebuild panic", "panic", r)
		}
	}()
	task()
}

// submit hands a rebuild to the pool without blocking the read path.
func (c *Client) submit(task func()) bool {
	select {
	case c.tasks <- task:
		return true
	default:
		return false
	}
}

// Set serializes v and writes it with a hard TTL.
func (c *Client) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, string(b), ttl)
}

// Delete evicts a key; used by write paths after updating the durable source.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// envelope wraps a payload with its logical expiration timestamp. Entries
// carry no store TTL; staleness is decided by ExpireAt alone.
type envelope struct {
	Data     json.RawMessage `json:"data"`
	ExpireAt time.Time       `json:"expire_at"`
}

// SetWithLogicalExpire pre-warms key with v, valid for ttl. The entry is
// never evicted by the store; an expired read serves it stale and triggers
// a background rebuild.
func (c *Client) SetWithLogicalExpire(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b, err := json.Marshal(envelope{Data: data, ExpireAt: time.Now().Add(ttl)})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, string(b), 0)
}

func (c *Client) tryLock(ctx context.Context, lockKey string) (bool, error) {
	return c.store.SetIfAbsent(ctx, lockKey, "1", c.opts.LockTTL)
}

func (c *Client) unlock(ctx context.Context, lockKey string) {
	if err := c.store.Delete(ctx, lockKey); err != nil {
		c.log.Error("cache unlock failed", "key", lockKey, "err", err)
	}
}

// GetWithMutex looks key up, rebuilding from load under a short-lived mutex
// on a true miss. Load returning (nil, nil) means the entity does not exist;
// a null marker is cached for NullTTL so repeated lookups of a nonexistent
// id do not reach the durable source. Callers locked out by a concurrent
// rebuild retry the lookup up to MaxRetries times, then get ErrUnavailable.
func GetWithMutex[T any](ctx context.Context, c *Client, key, lockKey string, load func(context.Context) (*T, error)) (*T, error) {
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		raw, err := c.store.Get(ctx, key)
		if err == nil {
			if raw == "" {
				return nil, ErrNotFound
			}
			var v T
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, err
			}
			return &v, nil
		}
		if !errors.Is(err, ErrMiss) {
			return nil, err
		}

		ok, err := c.tryLock(ctx, lockKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Someone else is loading; wait briefly and re-read.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.RetryDelay):
			}
			continue
		}

		v, err := rebuildLocked(ctx, c, key, lockKey, load)
		return v, err
	}
	return nil, ErrUnavailable
}

func rebuildLocked[T any](ctx context.Context, c *Client, key, lockKey string, load func(context.Context) (*T, error)) (*T, error) {
	defer c.unlock(ctx, lockKey)

	// Double-check after winning the lock: the previous holder may have
	// rebuilt the entry between our miss and our acquisition.
	raw, err := c.store.Get(ctx, key)
	if err == nil {
		if raw == "" {
			return nil, ErrNotFound
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return &v, nil
	}
	if !errors.Is(err, ErrMiss) {
		return nil, err
	}

	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		// Penetration guard: remember the absence.
		if err := c.store.Set(ctx, key, "", c.opts.NullTTL); err != nil {
			c.log.Error("cache null marker write failed", "key", key, "err", err)
		}
		return nil, ErrNotFound
	}
	if err := c.Set(ctx, key, v, c.opts.TTL); err != nil {
		c.log.Error("cache write failed", "key", key, "err", err)
	}
	return v, nil
}

// GetWithLogicalExpire serves key from its pre-warmed envelope. An absent key
// is ErrNotFound (pre-warming is the caller's responsibility). A fresh entry
// is returned as-is. An expired entry is returned stale immediately; if this
// reader wins the rebuild lock it submits an async rebuild that reloads,
// stamps a new expiration ttl from now, overwrites the entry and releases
// the lock on every path. Losing the lock just means another reader is
// already rebuilding.
func GetWithLogicalExpire[T any](ctx context.Context, c *Client, key, lockKey string, ttl time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return nil, err
	}

	if time.Now().Before(env.ExpireAt) {
		return &v, nil
	}

	ok, err := c.tryLock(ctx, lockKey)
	if err != nil {
		c.log.Error("cache rebuild lock failed", "key", key, "err", err)
		return &v, nil
	}
	if ok {
		submitted := c.submit(func() {
			// The pool outlives the request; don't inherit its context.
			rctx, cancel := context.WithTimeout(context.Background(), c.opts.RebuildTimeout)
			defer cancel()
			defer c.unlock(rctx, lockKey)

			fresh, err := load(rctx)
			if err != nil {
				c.log.Error("cache rebuild load failed", "key", key, "err", err)
				return
			}
			if fresh == nil {
				c.log.Warn("cache rebuild found nothing, keeping stale entry", "key", key)
				return
			}
			if err := c.SetWithLogicalExpire(rctx, key, fresh, ttl); err != nil {
				c.log.Error("cache rebuild write failed", "key", key, "err", err)
			}
		})
		if !submitted {
			// Pool saturated; give the lock back so the next reader can try.
			c.unlock(ctx, lockKey)
		}
	}

	return &v, nil
}
