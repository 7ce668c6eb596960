package block

// SplitIndex returns the entry index at which the block should be cut so the
// lower part holds about target raw bytes. Cuts only happen between entries
// with different ids, so all entries of an id stay together. It returns 0
// when no such boundary exists.
func (b *Block) SplitIndex(target int) int {
	if len(b.entries) < 2 {
		return 0
	}

	best, bestDist := 0, -1
	acc := uvarintLen(uint64(len(b.entries)))
	for i := 1; i < len(b.entries); i++ {
		acc += entrySize(b.entries[i-1])
		if b.entries[i-1].ID == b.entries[i].ID {
			continue
		}
		dist := acc - target
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
		if acc >= target {
			break
		}
	}
	return best
}

// TakeTail removes entries [i, Len) and returns them as a new block.
func (b *Block) TakeTail(i int) *Block {
	tail := make([]Entry, len(b.entries)-i)
	copy(tail, b.entries[i:])
	clear(b.entries[i:])
	b.entries = b.entries[:i]
	b.recount()
	return FromEntries(tail)
}

// Concat joins two blocks where every id of lower is below every id of upper.
func Concat(lower, upper *Block) *Block {
	entries := make([]Entry, 0, lower.Len()+upper.Len())
	entries = append(entries, lower.entries...)
	entries = append(entries, upper.entries...)
	return FromEntries(entries)
}
