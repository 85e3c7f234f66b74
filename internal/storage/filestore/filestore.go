// Package filestore keeps the durable store in memory and snapshots it to a
// zstd-compressed JSON file. Writes are coalesced and flushed on an
// interval and on Close.
package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/steven-mosley/idleverse/internal/game/resource"
	"github.com/steven-mosley/idleverse/internal/storage"
	"github.com/steven-mosley/idleverse/internal/storage/memory"
)

const snapshotVersion = 1

type header struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
}

type snapshot struct {
	Header header      `json:"header"`
	Data   memory.Dump `json:"data"`
}

// Store is a memory.Store flushed to one file.
type Store struct {
	*memory.Store

	path   string
	logger *zap.Logger
	dirty  atomic.Bool

	flushMu sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

var _ storage.Store = (*Store)(nil)

// Open loads path when it exists and starts the flusher. A non-positive
// interval flushes only on Close and explicit Flush.
//
// Precondition: path must be non-empty; logger must be non-nil.
func Open(path string, interval time.Duration, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty file store path")
	}
	s := &Store{
		Store:  memory.New(),
		path:   path,
		logger: logger,
		stop:   make(chan struct{}),
	}
	snap, err := readSnapshot(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("file store starting empty", zap.String("path", path))
	case err != nil:
		return nil, err
	default:
		s.Restore(snap.Data)
		logger.Info("file store loaded",
			zap.String("path", path),
			zap.Int("players", len(snap.Data.Players)),
			zap.Int("resources", len(snap.Data.Resources)),
			zap.Int("ai", len(snap.Data.AI)),
		)
	}

	if interval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(interval)
		}()
	}
	return s, nil
}

func (s *Store) loop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if err := s.Flush(); err != nil {
				s.logger.Warn("file store flush failed", zap.Error(err))
			}
		}
	}
}

// Flush writes the snapshot if anything changed since the last flush.
//
// Postcondition: on success the file reflects every write made before the call.
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if !s.dirty.Swap(false) {
		return nil
	}
	snap := snapshot{
		Header: header{Version: snapshotVersion, SavedAt: time.Now().UTC()},
		Data:   s.Dump(),
	}
	if err := writeSnapshot(s.path, snap); err != nil {
		s.dirty.Store(true)
		return err
	}
	return nil
}

func (s *Store) SavePlayer(ctx context.Context, p storage.PlayerRecord) error {
	return s.mark(s.Store.SavePlayer(ctx, p))
}

func (s *Store) UpdatePlayerStats(ctx context.Context, userID string, d storage.StatsDelta) error {
	return s.mark(s.Store.UpdatePlayerStats(ctx, userID, d))
}

func (s *Store) SaveResource(ctx context.Context, n resource.Node) error {
	return s.mark(s.Store.SaveResource(ctx, n))
}

func (s *Store) SaveWorldState(ctx context.Context, w storage.WorldRecord) error {
	return s.mark(s.Store.SaveWorldState(ctx, w))
}

func (s *Store) SaveAICharacter(ctx context.Context, a storage.AIRecord) error {
	return s.mark(s.Store.SaveAICharacter(ctx, a))
}

func (s *Store) mark(err error) error {
	if err == nil {
		s.dirty.Store(true)
	}
	return err
}

// Close stops the flusher and writes a final snapshot.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.Flush()
	})
	return err
}

// writeSnapshot writes to a temp file in the same directory and renames it
// over path, so readers never observe a partial file.
func writeSnapshot(path string, snap snapshot) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := json.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return fmt.Errorf("flushing snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing zstd writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

func readSnapshot(path string) (snapshot, error) {
	var snap snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	if err := json.NewDecoder(bufio.NewReaderSize(dec, 256*1024)).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	if snap.Header.Version != snapshotVersion {
		return snap, fmt.Errorf("snapshot %s: unsupported version %d", path, snap.Header.Version)
	}
	return snap, nil
}
