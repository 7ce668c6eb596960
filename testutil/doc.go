// Package testutil provides testing utilities for segment trees.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded random source for ids and payloads, and a
// reference multimap to check tree contents against.
//
// # Random Input
//
//	rng := testutil.NewRNG(seed)
//	ids := rng.IDs(1000, 1<<20)
//	payload := rng.Payload(64)
//
// # Reference Model
//
//	m := testutil.NewModel()
//	m.Append(7, []byte("a"))
//	want := m.Entries() // ascending ids, insertion order within an id
package testutil
