package fs

import (
	"io"
	"os"
)

// File represents an open file.
//
// Write appends at the current offset; ReadAt and WriteAt address absolute
// byte ranges and are what the segment tree uses for blocks and the header.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// FileSystem abstracts file system operations for testability.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
}

// LocalFS implements FileSystem using the local os package.
type LocalFS struct{}

func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (LocalFS) Remove(name string) error              { return os.Remove(name) }
func (LocalFS) Rename(oldpath, newpath string) error  { return os.Rename(oldpath, newpath) }
func (LocalFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (LocalFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Default is the default local file system.
var Default FileSystem = LocalFS{}

// Size returns the current length of f.
func Size(f File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
