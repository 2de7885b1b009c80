package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

const snapshotVersion = 1

// diskSnapshot is the on-disk form: msgpack inside an lz4 frame.
type diskSnapshot struct {
	Version int    `msgpack:"v"`
	Seq     uint64 `msgpack:"seq"`
	SavedAt int64  `msgpack:"saved_at"`
	Root    any    `msgpack:"root"`
}

// startPeriodicSnapshots saves the tree at the configured interval until Close.
func (s *MemoryStore) startPeriodicSnapshots(ctx context.Context) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(s.snapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				if err := s.SaveSnapshot(s.snapshotPath); err != nil {
					s.logger.Error(ctx, "periodic snapshot failed", logger.Error(err))
				}
			}
		}
	}()
}

// SaveSnapshot writes the current tree to path atomically.
func (s *MemoryStore) SaveSnapshot(path string) error {
	start := time.Now()

	s.mu.Lock()
	snap := diskSnapshot{Version: snapshotVersion, Seq: s.seq, SavedAt: s.now().UnixMilli(), Root: s.root}
	s.mu.Unlock()

	// The root is immutable once published, so encoding outside the lock is safe.
	raw, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrSnapshot, err)
	}

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return fmt.Errorf("%w: compress: %w", ErrSnapshot, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: compress: %w", ErrSnapshot, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	metrics.RecordStoreSnapshot(float64(time.Since(start).Microseconds()) / 1000)
	return nil
}

// LoadSnapshot replaces the tree with the one saved at path. Subscribers are
// not notified; it is meant for startup.
func (s *MemoryStore) LoadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(lz4.NewReader(f))
	if err != nil {
		return fmt.Errorf("%w: decompress: %w", ErrSnapshot, err)
	}
	var snap diskSnapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("%w: decode: %w", ErrSnapshot, err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrSnapshot, snap.Version)
	}
	root, err := normalize(snap.Root)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshot, err)
	}

	s.mu.Lock()
	s.root = root
	s.seq = snap.Seq
	s.mu.Unlock()
	return nil
}
