package bep

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// HashHex renders a block hash the way the protocol compares them: uppercase
// base16. All hash bookkeeping in this engine uses this one encoding.
func HashHex(hash []byte) string {
	return fmt.Sprintf("%X", hash)
}

// NextVector builds the version vector for a new record: the previous
// counters verbatim, in order, with one counter appended for the local device.
// The new counter is always appended, never merged into an earlier counter of
// the same device; receivers treat the vector as an ordered history.
func NextVector(prev []Counter, localID uint64, seq uint64) []Counter {
	counters := make([]Counter, 0, len(prev)+1)
	counters = append(counters, prev...)
	counters = append(counters, Counter{ID: localID, Value: seq})
	return counters
}

// HashBlocks digests an ordered block list into the content hash used as the
// equality key between a local source and a remote index echo: the uppercase
// hex SHA-256 of the comma-joined per-block hex hashes.
func HashBlocks(blocks []BlockInfo) string {
	hashes := make([]string, len(blocks))
	for i, b := range blocks {
		hashes[i] = HashHex(b.Hash)
	}
	sum := sha256.Sum256([]byte(strings.Join(hashes, ",")))
	return HashHex(sum[:])
}
