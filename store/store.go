package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/segtree"
	"github.com/hupe1980/segtree/internal/wal"
)

const (
	treeFile = "tree.seg"
	walFile  = "tree.wal"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
	// ErrFailed wraps the error that left the tree behind its log. The store
	// must be reopened, which replays the log.
	ErrFailed = errors.New("store failed")
)

// Store serializes access to one tree and logs every mutation.
type Store struct {
	mu     sync.Mutex
	dir    string
	tree   *segtree.Tree
	wal    *wal.WAL
	lsn    uint64
	opts   options
	logger *segtree.Logger
	err    error
	closed bool

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Open opens or creates the store in dir and replays its log.
func Open(dir string, optFns ...Option) (*Store, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}
	if err := o.fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	treeOpts := append([]segtree.Option{segtree.WithLogger(o.logger)}, o.treeOptions...)
	tree, err := segtree.Open(o.fsys, filepath.Join(dir, treeFile), segtree.OpenLazy, treeOpts...)
	if err != nil {
		return nil, fmt.Errorf("store: open tree: %w", err)
	}
	w, err := wal.Open(o.fsys, filepath.Join(dir, walFile), wal.Options{Durability: o.durability.wal()})
	if err != nil {
		_ = tree.Close()
		return nil, fmt.Errorf("store: open wal: %w", err)
	}

	s := &Store{
		dir:     dir,
		tree:    tree,
		wal:     w,
		lsn:     max(tree.Checkpoint(), w.LastLSN()),
		opts:    o,
		logger:  o.logger,
		closeCh: make(chan struct{}),
	}
	if err := s.recover(); err != nil {
		_ = w.Close()
		_ = tree.Close()
		return nil, err
	}

	if o.checkpointInterval > 0 {
		s.wg.Add(1)
		go s.runCheckpointLoop()
	}
	return s, nil
}

func (s *Store) recover() error {
	ctx := context.Background()
	n, err := s.wal.Replay(s.tree.Checkpoint(), func(rec *wal.Record) error {
		if err := s.apply(rec); err != nil {
			return fmt.Errorf("store: replay lsn %d: %w", rec.LSN, err)
		}
		s.lsn = rec.LSN
		return nil
	})
	if err != nil {
		return err
	}
	if n > 0 || !s.wal.Empty() {
		s.logger.InfoContext(ctx, "wal replayed", "records", n, "lsn", s.lsn)
		return s.checkpoint(ctx)
	}
	return nil
}

func (s *Store) apply(rec *wal.Record) error {
	switch rec.Type {
	case wal.RecordTypeAppend:
		return s.tree.Append(rec.ID, rec.Payload)
	case wal.RecordTypeRemove:
		_, err := s.tree.Remove(rec.ID, rec.Payload)
		return err
	case wal.RecordTypeRemoveID:
		_, err := s.tree.RemoveID(rec.ID)
		return err
	default:
		return wal.ErrInvalidType
	}
}

// mutate logs rec, then applies it with fn.
func (s *Store) mutate(rec *wal.Record, fn func() error) error {
	if err := s.usable(); err != nil {
		return err
	}
	rec.LSN = s.lsn + 1
	if err := s.wal.Append(rec); err != nil {
		return fmt.Errorf("store: log %s: %w", rec.Type, err)
	}
	s.lsn = rec.LSN
	if err := fn(); err != nil {
		s.err = fmt.Errorf("%w: %w", ErrFailed, err)
		return s.err
	}
	if s.opts.checkpointBytes > 0 && s.wal.Size() > s.opts.checkpointBytes {
		return s.checkpoint(context.Background())
	}
	return nil
}

func (s *Store) usable() error {
	if s.closed {
		return ErrClosed
	}
	return s.err
}

// Append logs and inserts (id, payload).
func (s *Store) Append(id uint64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == segtree.InvalidID {
		return segtree.ErrInvalidID
	}
	rec := &wal.Record{Type: wal.RecordTypeAppend, ID: id, Payload: payload}
	return s.mutate(rec, func() error { return s.tree.Append(id, payload) })
}

// Remove logs and deletes the first entry equal to (id, payload).
func (s *Store) Remove(id uint64, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed bool
	rec := &wal.Record{Type: wal.RecordTypeRemove, ID: id, Payload: payload}
	err := s.mutate(rec, func() (err error) {
		removed, err = s.tree.Remove(id, payload)
		return err
	})
	return removed, err
}

// RemoveID logs and deletes every entry with id.
func (s *Store) RemoveID(id uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	rec := &wal.Record{Type: wal.RecordTypeRemoveID, ID: id}
	err := s.mutate(rec, func() (err error) {
		removed, err = s.tree.RemoveID(id)
		return err
	})
	return removed, err
}

// GetItems returns the payloads of id in insertion order.
func (s *Store) GetItems(id uint64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	items, err := s.tree.GetItems(id)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(items))
	for i, p := range items {
		out[i] = append([]byte(nil), p...)
	}
	return out, nil
}

// ContainsID reports whether id has any entry.
func (s *Store) ContainsID(id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return false, err
	}
	return s.tree.ContainsID(id)
}

// Scan calls fn for every entry in ascending id order until fn returns
// false. The store is locked for the duration.
func (s *Store) Scan(fn func(id uint64, payload []byte) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	for e, err := range s.tree.All() {
		if err != nil {
			return err
		}
		if !fn(e.ID, e.Payload) {
			return nil
		}
	}
	return nil
}

// Stats describes the store.
type Stats struct {
	Tree     segtree.Stats
	LSN      uint64
	WALBytes int64
}

// Stats returns a snapshot of the store's counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Tree: s.tree.Stats(), LSN: s.lsn, WALBytes: s.wal.Size()}
}

// Checkpoint flushes the tree stamped with the last logged sequence number
// and truncates the log.
func (s *Store) Checkpoint(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	return s.checkpoint(ctx)
}

func (s *Store) checkpoint(ctx context.Context) error {
	start := time.Now()
	s.tree.SetCheckpoint(s.lsn)
	if err := s.tree.FlushContext(ctx); err != nil {
		return fmt.Errorf("store: checkpoint: %w", err)
	}
	if err := s.wal.Truncate(); err != nil {
		return fmt.Errorf("store: checkpoint: %w", err)
	}
	s.logger.DebugContext(ctx, "checkpoint completed", "lsn", s.lsn, "duration", time.Since(start))
	return nil
}

func (s *Store) runCheckpointLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			s.maintain()
		}
	}
}

func (s *Store) maintain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usable() != nil {
		return
	}
	ctx := context.Background()
	if err := s.checkpoint(ctx); err != nil {
		s.logger.ErrorContext(ctx, "background checkpoint failed", "error", err)
		return
	}
	if _, err := s.tree.EvictContext(ctx); err != nil {
		s.logger.ErrorContext(ctx, "background eviction failed", "error", err)
	}
}

// Close stops the background loop, checkpoints, and closes the files. A
// failed store is closed without a checkpoint; reopening replays its log.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	close(s.closeCh)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.err == nil {
		errs = append(errs, s.checkpoint(context.Background()))
	}
	errs = append(errs, s.wal.Close(), s.tree.Close())
	return errors.Join(errs...)
}
