// Package resource limits what segment trees may consume.
//
// A Controller may be shared by many trees, each owned by its own goroutine:
//
//   - Memory: raw bytes of resident blocks (non-blocking, fail-fast)
//   - IO: a token bucket throttling flush writes
//
// Memory tracking uses a weighted semaphore for the hard limit and an atomic
// counter for usage:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 256 << 20,
//	    IOLimitBytesPerSec: 64 << 20,
//	})
//
//	if err := rc.AcquireMemory(n); err != nil {
//	    // ErrMemoryLimitExceeded - evict and retry, or give up
//	}
//	defer rc.ReleaseMemory(n)
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource
