// Package store pairs a segment tree with a write-ahead log.
//
// Every mutation is logged before it is applied to the tree. A checkpoint
// stamps the tree header with the last logged sequence number, flushes the
// tree and truncates the log; on open, records above the tree's checkpoint
// are replayed. A background loop checkpoints and evicts on an interval.
//
//	s, err := store.Open("data/ids", store.WithCheckpointInterval(time.Minute))
//	if err != nil { ... }
//	defer s.Close()
//
//	_ = s.Append(42, []byte("doc-42"))
//	items, _ := s.GetItems(42)
package store
