// Package wal implements the write-ahead log that makes tree mutations
// durable between checkpoints.
//
// A log is a 12-byte header (magic, version) followed by records. Opening a
// log scans it and cuts off a torn or corrupt tail, so appends always follow
// the last intact record.
package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/segtree/internal/fs"
)

// Durability controls when Append returns.
type Durability int

const (
	// DurabilityAsync returns once the record reached the OS.
	DurabilityAsync Durability = iota
	// DurabilitySync returns once the record is fsync'd. Concurrent
	// appenders share one fsync.
	DurabilitySync
)

const (
	walMagic      = "SEGTRWAL"
	walVersion    = 1
	walHeaderSize = 12
)

var (
	ErrIncompatibleVersion = errors.New("incompatible WAL version")
	ErrInvalidHeader       = errors.New("invalid WAL header")
)

// Options configures a WAL.
type Options struct {
	Durability Durability
}

// DefaultOptions returns synchronous durability.
func DefaultOptions() Options {
	return Options{Durability: DurabilitySync}
}

// WAL is an append-only record log. It is safe for concurrent use.
type WAL struct {
	mu      sync.Mutex
	file    fs.File
	opts    Options
	buf     bytes.Buffer
	end     int64
	synced  int64
	lastLSN uint64
	gen     uint64 // bumped by Truncate
	err     error
	closed  bool

	kick    chan struct{}
	flushed *sync.Cond
	done    chan struct{}
}

// Open opens or creates the log at path. An existing log is scanned and a
// torn tail is truncated away.
func Open(fsys fs.FileSystem, path string, opts Options) (*WAL, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	w := &WAL{file: f, opts: opts}
	if err := w.init(); err != nil {
		_ = f.Close()
		return nil, err
	}
	w.synced = w.end
	w.flushed = sync.NewCond(&w.mu)

	if opts.Durability == DurabilitySync {
		w.kick = make(chan struct{}, 1)
		w.done = make(chan struct{})
		go w.syncLoop()
	}
	return w, nil
}

func (w *WAL) init() error {
	size, err := fs.Size(w.file)
	if err != nil {
		return err
	}
	if size == 0 {
		header := make([]byte, walHeaderSize)
		copy(header, walMagic)
		binary.LittleEndian.PutUint32(header[8:], walVersion)
		if _, err := w.file.Write(header); err != nil {
			return err
		}
		w.end = walHeaderSize
		return w.file.Sync()
	}

	if size < walHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidHeader, size)
	}
	header := make([]byte, walHeaderSize)
	if _, err := w.file.ReadAt(header, 0); err != nil {
		return err
	}
	if string(header[:8]) != walMagic {
		return fmt.Errorf("%w: magic %q", ErrInvalidHeader, header[:8])
	}
	if v := binary.LittleEndian.Uint32(header[8:]); v != walVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrIncompatibleVersion, v, walVersion)
	}

	end, err := scan(w.file, size, func(rec *Record) error {
		w.lastLSN = max(w.lastLSN, rec.LSN)
		return nil
	})
	if err != nil {
		return err
	}
	if end < size {
		if err := w.file.Truncate(end); err != nil {
			return fmt.Errorf("wal: truncate torn tail: %w", err)
		}
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: truncate torn tail: %w", err)
		}
	}
	w.end = end
	return nil
}

// scan decodes the records of f up to size and returns the offset after the
// last intact one. A torn or corrupt record ends the scan without error.
func scan(f fs.File, size int64, fn func(*Record) error) (int64, error) {
	r := bufio.NewReader(io.NewSectionReader(f, walHeaderSize, size-walHeaderSize))
	off := int64(walHeaderSize)
	for {
		rec, n, err := Decode(r)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
			errors.Is(err, ErrInvalidCRC), errors.Is(err, ErrRecordTooLarge):
			return off, nil
		case err != nil:
			return off, err
		}
		if err := fn(rec); err != nil {
			return off, err
		}
		off += n
	}
}

// Size returns the log size in bytes, header included.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.end
}

// Empty reports whether the log holds no records.
func (w *WAL) Empty() bool { return w.Size() <= walHeaderSize }

// LastLSN returns the highest LSN written to or found in the log.
func (w *WAL) LastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLSN
}

func (w *WAL) usable() error {
	if w.closed {
		return os.ErrClosed
	}
	return w.err
}

// Append writes rec and, in sync mode, waits until it is durable.
func (w *WAL) Append(rec *Record) error {
	end, err := w.AppendAsync(rec)
	if err != nil {
		return err
	}
	if w.opts.Durability == DurabilitySync {
		return w.WaitFor(end)
	}
	return nil
}

// AppendAsync writes rec without waiting for fsync and returns the log
// offset after it.
func (w *WAL) AppendAsync(rec *Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.usable(); err != nil {
		return 0, err
	}

	w.buf.Reset()
	if err := rec.Encode(&w.buf); err != nil {
		return 0, err
	}
	n, err := w.file.Write(w.buf.Bytes())
	w.end += int64(n)
	if err != nil {
		// A partial record would be cut off at the next open.
		w.err = fmt.Errorf("wal write: %w", err)
		return 0, w.err
	}
	w.lastLSN = max(w.lastLSN, rec.LSN)

	if w.kick != nil {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return w.end, nil
}

func (w *WAL) syncLoop() {
	defer close(w.done)
	for range w.kick {
		w.mu.Lock()
		target, gen := w.end, w.gen
		if target <= w.synced || w.err != nil {
			w.mu.Unlock()
			continue
		}
		w.mu.Unlock()

		err := w.file.Sync()

		w.mu.Lock()
		if err != nil {
			w.err = fmt.Errorf("wal sync: %w", err)
		} else if gen == w.gen && target > w.synced {
			w.synced = target
		}
		w.flushed.Broadcast()
		w.mu.Unlock()
	}
}

// WaitFor blocks until the log is durable up to offset.
func (w *WAL) WaitFor(offset int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.synced < offset && w.err == nil && !w.closed {
		w.flushed.Wait()
	}
	if w.err != nil {
		return w.err
	}
	if w.synced < offset {
		return os.ErrClosed
	}
	return nil
}

// Sync makes every written record durable.
func (w *WAL) Sync() error {
	w.mu.Lock()
	if err := w.usable(); err != nil {
		w.mu.Unlock()
		return err
	}
	if w.kick == nil {
		defer w.mu.Unlock()
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal sync: %w", err)
		}
		w.synced = w.end
		return nil
	}
	end := w.end
	select {
	case w.kick <- struct{}{}:
	default:
	}
	w.mu.Unlock()
	return w.WaitFor(end)
}

// Truncate drops every record. It is called once the tree has durably
// absorbed them at a checkpoint.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.usable(); err != nil {
		return err
	}
	if err := w.file.Truncate(walHeaderSize); err != nil {
		return fmt.Errorf("wal truncate: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal truncate: %w", err)
	}
	w.end = walHeaderSize
	w.synced = walHeaderSize
	w.gen++
	return nil
}

// Close stops the syncer and closes the file. Records not yet fsync'd in
// async mode are left to the OS.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return os.ErrClosed
	}
	w.closed = true
	w.flushed.Broadcast()
	w.mu.Unlock()

	var err error
	if w.kick != nil {
		close(w.kick)
		<-w.done
		if w.err == nil && w.synced < w.end {
			err = w.file.Sync()
		}
	}
	return errors.Join(err, w.file.Close())
}

// Replay calls fn for every record with an LSN above after, in log order.
func (w *WAL) Replay(after uint64, fn func(*Record) error) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.usable(); err != nil {
		return 0, err
	}

	n := 0
	_, err := scan(w.file, w.end, func(rec *Record) error {
		if rec.LSN <= after {
			return nil
		}
		if err := fn(rec); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
