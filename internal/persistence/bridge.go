// Package persistence bridges the single-writer simulation to an
// asynchronous durable store. Saves are fire-and-forget; loads are awaited
// with a bounded timeout.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/config"
	"github.com/steven-mosley/idleverse/internal/game/character"
	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/storage"
)

var (
	// ErrQueueFull is returned when a save is dropped because its shard is saturated.
	ErrQueueFull = errors.New("persistence queue full")
	// ErrClosed is returned for saves submitted after Close.
	ErrClosed = errors.New("persistence bridge closed")
)

type job struct {
	op  string
	key string
	fn  func(ctx context.Context) error
}

// Stats counts bridge outcomes since start.
type Stats struct {
	Completed int64
	Failed    int64
	Dropped   int64
}

// Bridge runs saves on key-sharded worker goroutines. Saves for the same key
// land on the same shard and so complete in submission order.
type Bridge struct {
	store   storage.Store
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	shards []chan job
	wg     sync.WaitGroup
	once   sync.Once

	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewBridge starts cfg.Workers shard workers over store.
//
// Precondition: store and logger must be non-nil.
// Postcondition: The bridge accepts saves until Close.
func NewBridge(store storage.Store, cfg config.StorageConfig, logger *zap.Logger) *Bridge {
	workers := max(cfg.Workers, 1)
	queue := max(cfg.QueueSize/workers, 1)
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	b := &Bridge{
		store:   store,
		logger:  logger,
		timeout: timeout,
		shards:  make([]chan job, workers),
	}
	for i := range b.shards {
		ch := make(chan job, queue)
		b.shards[i] = ch
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.work(ch)
		}()
	}
	return b
}

func (b *Bridge) work(ch <-chan job) {
	for j := range ch {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		start := time.Now()
		err := j.fn(ctx)
		cancel()
		if err != nil {
			b.failed.Add(1)
			b.logger.Warn("persistence save failed",
				zap.String("op", j.op),
				zap.String("key", j.key),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			continue
		}
		b.completed.Add(1)
	}
}

func (b *Bridge) shard(key string) chan job {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.shards[h.Sum32()%uint32(len(b.shards))]
}

// enqueue never blocks. A saturated shard drops the save.
func (b *Bridge) enqueue(op, key string, fn func(ctx context.Context) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.shard(key) <- job{op: op, key: key, fn: fn}:
		return nil
	default:
		b.dropped.Add(1)
		b.logger.Warn("persistence queue full, dropping save",
			zap.String("op", op),
			zap.String("key", key),
		)
		return ErrQueueFull
	}
}

// SaveResource enqueues an upsert of n.
func (b *Bridge) SaveResource(n resource.Node) error {
	return b.enqueue("save_resource", fmt.Sprintf("resource:%d", n.ID), func(ctx context.Context) error {
		return b.store.SaveResource(ctx, n)
	})
}

// UpdatePlayerStats enqueues a stats increment for userID.
func (b *Bridge) UpdatePlayerStats(userID string, d storage.StatsDelta) error {
	return b.enqueue("update_player_stats", "player:"+userID, func(ctx context.Context) error {
		return b.store.UpdatePlayerStats(ctx, userID, d)
	})
}

// SavePlayer enqueues an upsert of p.
func (b *Bridge) SavePlayer(p storage.PlayerRecord) error {
	p = p.Clone()
	return b.enqueue("save_player", "player:"+p.UserID, func(ctx context.Context) error {
		return b.store.SavePlayer(ctx, p)
	})
}

// SaveWorldState enqueues the world checkpoint.
func (b *Bridge) SaveWorldState(w storage.WorldRecord) error {
	return b.enqueue("save_world_state", "world", func(ctx context.Context) error {
		return b.store.SaveWorldState(ctx, w)
	})
}

// SaveAIRecord enqueues an upsert of a.
func (b *Bridge) SaveAIRecord(a storage.AIRecord) error {
	a = a.Clone()
	return b.enqueue("save_ai_character", "ai:"+a.StoreID, func(ctx context.Context) error {
		return b.store.SaveAICharacter(ctx, a)
	})
}

// SaveAI satisfies the AI engine's saver.
//
// Precondition: c must be an AI character.
func (b *Bridge) SaveAI(c *character.Character, active bool) {
	if !c.IsAI() {
		return
	}
	_ = b.SaveAIRecord(AIRecordFrom(c, active))
}

// SavePlayerNow saves p synchronously with the bridge timeout. Shutdown uses
// it so player saves finish before the store closes.
func (b *Bridge) SavePlayerNow(ctx context.Context, p storage.PlayerRecord) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.store.SavePlayer(ctx, p); err != nil {
		return fmt.Errorf("saving player %s: %w", p.UserID, err)
	}
	return nil
}

// LoadPlayer awaits the stored record for userID.
//
// Postcondition: Returns storage.ErrNotFound for unknown users.
func (b *Bridge) LoadPlayer(ctx context.Context, userID string) (storage.PlayerRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.store.LoadPlayer(ctx, userID)
}

// Ping checks the store.
func (b *Bridge) Ping(ctx context.Context) error {
	return b.store.Ping(ctx)
}

// Store returns the underlying store for boot-time loads.
func (b *Bridge) Store() storage.Store {
	return b.store
}

// Stats reports the outcome counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Completed: b.completed.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Close refuses further saves, drains every queued save and closes the store.
//
// Postcondition: Every save accepted before Close has been attempted.
func (b *Bridge) Close() error {
	var err error
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		for _, ch := range b.shards {
			close(ch)
		}
		b.mu.Unlock()
		b.wg.Wait()
		st := b.Stats()
		b.logger.Info("persistence bridge drained",
			zap.Int64("completed", st.Completed),
			zap.Int64("failed", st.Failed),
			zap.Int64("dropped", st.Dropped),
		)
		err = b.store.Close()
	})
	return err
}
