package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault error")

// Fault defines specific failure behavior for files matching a rule.
type Fault struct {
	FailAfterBytes int64 // Fail writes after this many bytes written to this file. -1 disables.
	FailAfterReads int64 // Fail ReadAt after this many successful calls. -1 disables.
	FailOnSync     bool
	FailOnClose    bool
	Err            error
}

// FaultyFS is a FileSystem wrapper that can inject errors.
type FaultyFS struct {
	FS      FileSystem
	mu      sync.Mutex
	rules   map[string]Fault // filename pattern -> fault
	Default Fault

	written     int64
	globalLimit int64
}

// NewFaultyFS creates a new FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}
	return &FaultyFS{
		FS:    fs,
		rules: make(map[string]Fault),
		Default: Fault{
			FailAfterBytes: -1,
			FailAfterReads: -1,
		},
		globalLimit: -1,
	}
}

// Written returns the total bytes written through this FaultyFS.
func (f *FaultyFS) Written() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

// SetLimit makes every write fail once the total written across all files
// would exceed limit. A negative limit disables the check.
func (f *FaultyFS) SetLimit(limit int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.globalLimit = limit
}

// AddRule adds a fault injection rule for file names containing pattern.
// Rules apply to files opened after the call.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	fault := f.Default
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			fault = rule
		}
	}
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.mu.Unlock()

	return &faultyFile{File: file, fs: f, fault: fault}, nil
}

func (f *FaultyFS) Remove(name string) error              { return f.FS.Remove(name) }
func (f *FaultyFS) Rename(oldpath, newpath string) error  { return f.FS.Rename(oldpath, newpath) }
func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

type faultyFile struct {
	File
	fs      *FaultyFS
	fault   Fault
	mu      sync.Mutex
	written int64
	reads   int64
}

// admitWrite charges n bytes against the per-file and global limits.
func (ff *faultyFile) admitWrite(n int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.fault.FailAfterBytes >= 0 && ff.written+int64(n) > ff.fault.FailAfterBytes {
		return ff.fault.Err
	}

	ff.fs.mu.Lock()
	exceeded := ff.fs.globalLimit >= 0 && ff.fs.written+int64(n) > ff.fs.globalLimit
	if !exceeded {
		ff.fs.written += int64(n)
	}
	ff.fs.mu.Unlock()

	if exceeded {
		return ff.fault.Err
	}
	ff.written += int64(n)
	return nil
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if err := ff.admitWrite(len(p)); err != nil {
		return 0, err
	}
	return ff.File.Write(p)
}

func (ff *faultyFile) WriteAt(p []byte, off int64) (int, error) {
	if err := ff.admitWrite(len(p)); err != nil {
		return 0, err
	}
	return ff.File.WriteAt(p, off)
}

func (ff *faultyFile) ReadAt(p []byte, off int64) (int, error) {
	ff.mu.Lock()
	if ff.fault.FailAfterReads >= 0 && ff.reads >= ff.fault.FailAfterReads {
		ff.mu.Unlock()
		return 0, ff.fault.Err
	}
	ff.reads++
	ff.mu.Unlock()
	return ff.File.ReadAt(p, off)
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailOnSync {
		return ff.fault.Err
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	if ff.fault.FailOnClose {
		_ = ff.File.Close()
		return ff.fault.Err
	}
	return ff.File.Close()
}
