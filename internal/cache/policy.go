package cache

import (
	"slices"
	"time"
)

// Candidate describes one resident block.
type Candidate struct {
	Index    int       // directory position
	LastUsed time.Time // last access
	Bytes    int       // raw size of the block
	Dirty    bool      // must be flushed before eviction
}

// Policy selects blocks to evict.
type Policy interface {
	// Victims returns the directory indexes to evict, given the resident set.
	Victims(now time.Time, resident []Candidate) []int
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(now time.Time, resident []Candidate) []int

// Victims implements Policy.
func (f PolicyFunc) Victims(now time.Time, resident []Candidate) []int {
	return f(now, resident)
}

// Never keeps every block resident.
type Never struct{}

// Victims implements Policy.
func (Never) Victims(time.Time, []Candidate) []int { return nil }

// IdlePolicy evicts blocks not used for longer than MaxIdle.
type IdlePolicy struct {
	MaxIdle time.Duration
	// SkipDirty leaves dirty blocks resident, so eviction never writes.
	SkipDirty bool
}

// Victims implements Policy.
func (p IdlePolicy) Victims(now time.Time, resident []Candidate) []int {
	var out []int
	for _, c := range resident {
		if p.SkipDirty && c.Dirty {
			continue
		}
		if now.Sub(c.LastUsed) > p.MaxIdle {
			out = append(out, c.Index)
		}
	}
	return out
}

// LRUPolicy keeps at most MaxResident blocks.
type LRUPolicy struct {
	MaxResident int
	SkipDirty   bool
}

// Victims implements Policy.
func (p LRUPolicy) Victims(_ time.Time, resident []Candidate) []int {
	excess := len(resident) - p.MaxResident
	if excess <= 0 {
		return nil
	}
	var out []int
	for _, c := range byAge(resident) {
		if excess == 0 {
			break
		}
		if p.SkipDirty && c.Dirty {
			continue
		}
		out = append(out, c.Index)
		excess--
	}
	return out
}

// BytesPolicy keeps the raw size of resident blocks at or below MaxBytes.
type BytesPolicy struct {
	MaxBytes  int
	SkipDirty bool
}

// Victims implements Policy.
func (p BytesPolicy) Victims(_ time.Time, resident []Candidate) []int {
	total := 0
	for _, c := range resident {
		total += c.Bytes
	}
	var out []int
	for _, c := range byAge(resident) {
		if total <= p.MaxBytes {
			break
		}
		if p.SkipDirty && c.Dirty {
			continue
		}
		out = append(out, c.Index)
		total -= c.Bytes
	}
	return out
}

// Combine evicts the union of what each policy selects.
func Combine(policies ...Policy) Policy {
	return PolicyFunc(func(now time.Time, resident []Candidate) []int {
		seen := make(map[int]struct{})
		var out []int
		for _, p := range policies {
			for _, idx := range p.Victims(now, resident) {
				if _, ok := seen[idx]; ok {
					continue
				}
				seen[idx] = struct{}{}
				out = append(out, idx)
			}
		}
		slices.Sort(out)
		return out
	})
}

// byAge returns the candidates ordered from least to most recently used.
func byAge(resident []Candidate) []Candidate {
	sorted := slices.Clone(resident)
	slices.SortStableFunc(sorted, func(a, b Candidate) int {
		return a.LastUsed.Compare(b.LastUsed)
	})
	return sorted
}
