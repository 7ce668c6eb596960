package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when memory limit would be exceeded.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for resident block bytes.
	// If 0, usage is only tracked.
	MemoryLimitBytes int64

	// IOLimitBytesPerSec throttles flush writes. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages memory and IO shared by segment trees.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64
	memPeak atomic.Int64
	denied  atomic.Int64

	ioLimiter *rate.Limiter
	ioBytes   atomic.Int64
	ioWait    atomic.Int64 // nanoseconds
}

// Stats is a snapshot of a Controller's accounting.
type Stats struct {
	MemoryUsed  int64
	MemoryLimit int64
	MemoryPeak  int64
	Denied      int64 // AcquireMemory calls refused
	IOBytes     int64
	IOThrottled time.Duration
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireMemory reserves bytes without blocking.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		c.denied.Add(1)
		return ErrMemoryLimitExceeded
	}
	used := c.memUsed.Add(bytes)
	for {
		peak := c.memPeak.Load()
		if used <= peak || c.memPeak.CompareAndSwap(peak, used) {
			return nil
		}
	}
}

// ReleaseMemory returns bytes reserved by AcquireMemory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the current memory usage in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireIO waits until the IO limit allows writing bytes. Requests larger
// than the bucket are split into bucket-sized waits.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil {
		return ctx.Err()
	}
	c.ioBytes.Add(int64(bytes))
	if c.ioLimiter == nil {
		return ctx.Err()
	}
	start := time.Now()
	defer func() { c.ioWait.Add(int64(time.Since(start))) }()

	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// Stats returns the controller's counters. A nil Controller reports zeros.
func (c *Controller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		MemoryUsed:  c.memUsed.Load(),
		MemoryLimit: c.cfg.MemoryLimitBytes,
		MemoryPeak:  c.memPeak.Load(),
		Denied:      c.denied.Load(),
		IOBytes:     c.ioBytes.Load(),
		IOThrottled: time.Duration(c.ioWait.Load()),
	}
}
