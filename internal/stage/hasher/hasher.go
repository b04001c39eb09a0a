// Package hasher computes the content digest chunk-locker uses for
// deduplication and store keying. This is an identification digest, not a
// cryptographic one — the rolling gear-hash the chunker uses to find cut
// points is explicitly out of scope for cryptographic strength, and this
// stage's digest inherits the same non-goal: xxhash is fast and
// collision-resistant enough to key a content-addressed store, not to resist
// a deliberate preimage attack. Cryptographic integrity of a completed
// snapshot is the signer stage's job.
package hasher

import (
	"github.com/cespare/xxhash/v2"

	"github.com/mattiekat/chunk-locker/internal/memory"
)

// Digest computes the content hash of a handle's current bytes.
func Digest(h *memory.Handle) uint64 {
	return xxhash.Sum64(h.Bytes())
}

// DigestBytes computes the content hash of an arbitrary byte slice, for
// callers that don't hold a pool handle (e.g. hashing a manifest summary).
func DigestBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// Hex renders a digest as a fixed-width hex string suitable for use as a
// store key component.
func Hex(digest uint64) string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hextable[digest&0xf]
		digest >>= 4
	}
	return string(buf)
}
