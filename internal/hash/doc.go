// Package hash provides the CRC32-Castagnoli checksum shared by block frames,
// the tree header and WAL records.
//
//	sum := hash.CRC32C(frame)
//
//	h := hash.NewCRC32C()
//	h.Write(fixed)
//	h.Write(directory)
//	sum := h.Sum32()
package hash
