// Package fs provides the file handle abstraction the segment tree is stored on.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with positional reads and writes, append and sync
//   - [FileSystem]: filesystem operations (open, remove, rename, stat)
//
// # Implementations
//
//   - [LocalFS]: production implementation using the standard os package
//   - [FaultyFS]: test utility for fault injection (simulate read and write errors)
//
// # Usage
//
// Production code should use fs.Default (which is [LocalFS]):
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests can inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.SetLimit(1024) // Fail after 1KB written
//
// A segment tree file must not be opened with os.O_APPEND: blocks and the
// header are rewritten in place with WriteAt, which the os package rejects on
// append-only handles.
//
// # Design Notes
//
// This package does NOT include context.Context parameters. Local file
// operations are not interruptible at the syscall level.
package fs
