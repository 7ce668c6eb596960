package segtree

import (
	"errors"
	"fmt"

	"github.com/hupe1980/segtree/internal/directory"
)

var (
	// ErrNotLoaded is returned when an existing file has not been loaded yet.
	ErrNotLoaded = errors.New("segment tree not loaded")
	// ErrUnflushedChanges is returned by a reload while dirty blocks are resident.
	ErrUnflushedChanges = errors.New("segment tree has unflushed changes")
	// ErrBalancePrecondition is returned when BalanceWith is called with a smaller peer.
	ErrBalancePrecondition = errors.New("balance requires a peer with more entries")
	// ErrOverlappingRanges is returned when two trees' id ranges interleave.
	ErrOverlappingRanges = errors.New("segment trees have overlapping id ranges")
	// ErrDirectoryFull is returned when the header cannot describe more blocks.
	ErrDirectoryFull = errors.New("segment tree directory is full")
	// ErrInconsistentDirectory is returned when a block disagrees with its descriptor.
	ErrInconsistentDirectory = errors.New("inconsistent directory")
	// ErrCorruptHeader is returned when the header region cannot be decoded.
	ErrCorruptHeader = errors.New("corrupt segment tree header")
	// ErrSameTree is returned when a tree is balanced or merged with itself.
	ErrSameTree = errors.New("segment tree operation on itself")
	// ErrFileNotEmpty is returned when a split target already holds data.
	ErrFileNotEmpty = errors.New("target file is not empty")
	// ErrInvalidID is returned when appending the reserved InvalidID.
	ErrInvalidID = errors.New("id is reserved")
	// ErrInvalidBlockSize is returned for block sizes the header cannot hold.
	ErrInvalidBlockSize = errors.New("invalid block size")
)

// InconsistentBlockError reports a block whose contents disagree with its
// directory descriptor.
//
// It satisfies errors.Is(err, ErrInconsistentDirectory).
type InconsistentBlockError struct {
	Index      int
	Descriptor directory.Descriptor
	MinID      uint64
	MaxID      uint64
	Entries    int
}

func (e *InconsistentBlockError) Error() string {
	return fmt.Sprintf("block %d: descriptor ids [%d,%d], block holds %d entries with ids [%d,%d]",
		e.Index, e.Descriptor.MinID, e.Descriptor.MaxID, e.Entries, e.MinID, e.MaxID)
}

func (e *InconsistentBlockError) Unwrap() error { return ErrInconsistentDirectory }

// BalanceError reports a BalanceWith call whose peer is not larger.
//
// It satisfies errors.Is(err, ErrBalancePrecondition).
type BalanceError struct {
	Count      int
	OtherCount int
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("balance: other tree has %d entries, this tree %d", e.OtherCount, e.Count)
}

func (e *BalanceError) Unwrap() error { return ErrBalancePrecondition }

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, directory.ErrFull) {
		return fmt.Errorf("%w: %w", ErrDirectoryFull, err)
	}
	for _, e := range []error{
		directory.ErrBadMagic, directory.ErrBadVersion, directory.ErrChecksum,
		directory.ErrBadBounds, directory.ErrShortHeader, directory.ErrUnordered,
	} {
		if errors.Is(err, e) {
			return fmt.Errorf("%w: %w", ErrCorruptHeader, err)
		}
	}
	return err
}
