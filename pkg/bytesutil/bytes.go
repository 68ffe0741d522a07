// Package bytesutil generates the byte sequences a benchmark run is built on:
// reproducible pseudo-random topics, zero-filled payloads, and the counter
// increment that derives each successive payload from the previous one.
package bytesutil

const (
	lehmerMultiplier = 48271
	lehmerMask       = 1<<31 - 1
	lehmerDivisor    = 1 << 31
)

// RandomByteArray returns length pseudo-random bytes derived from seed.
//
// The same (length, seed) pair always yields the same bytes, across processes
// and runs, so independently configured writers and readers address the same
// feed. The generator is a Lehmer (minstd) sequence: fast, badly distributed
// and NOT suitable for anything security related.
func RandomByteArray(length int, seed int32) []byte {
	next := lehmer(seed)
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = byte(next() * 0xff)
	}
	return buf
}

// lehmer returns a generator of uniform values in [0, 1). The state update
// multiplies in 32-bit two's complement arithmetic, wrapping on overflow.
func lehmer(seed int32) func() float64 {
	state := uint32(seed)
	return func() float64 {
		state *= lehmerMultiplier
		return float64(state&lehmerMask) / lehmerDivisor
	}
}

// MakeBytes returns a zero-filled byte slice of the given length.
func MakeBytes(length int) []byte {
	return make([]byte, length)
}

// IncrementBytes increments b in place as a big-endian counter.
//
// The least-significant byte below 0xff is incremented and the saturated
// bytes after it are cleared. When every byte is 0xff, b is left unchanged;
// the overflow is silent.
func IncrementBytes(b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			for j := i + 1; j < len(b); j++ {
				b[j] = 0
			}
			return
		}
	}
}
