package bytesutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomByteArrayIsDeterministic(t *testing.T) {
	a := RandomByteArray(32, 10)
	b := RandomByteArray(32, 10)

	require.Len(t, a, 32)
	require.Equal(t, a, b)
}

func TestRandomByteArrayKnownPrefix(t *testing.T) {
	// seed 10: 48271*10 = 482710 -> 0; 48271*482710 mod 2^32 = 1826057930 -> 216.
	b := RandomByteArray(2, 10)
	require.Equal(t, []byte{0, 216}, b)
}

func TestRandomByteArraySeedsDiffer(t *testing.T) {
	seen := make(map[string]int32)
	for seed := int32(1); seed <= 64; seed++ {
		k := string(RandomByteArray(32, seed))
		if other, ok := seen[k]; ok {
			t.Fatalf("seeds %d and %d produced the same topic", other, seed)
		}
		seen[k] = seed
	}
}

func TestRandomByteArrayNegativeSeed(t *testing.T) {
	require.Equal(t, RandomByteArray(32, -7), RandomByteArray(32, -7))
	require.NotEqual(t, RandomByteArray(32, -7), RandomByteArray(32, 7))
}

func TestMakeBytes(t *testing.T) {
	b := MakeBytes(32)
	require.Len(t, b, 32)
	require.True(t, bytes.Equal(b, make([]byte, 32)))
}

func TestIncrementBytes(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		out  []byte
	}{
		{"zero", []byte{0, 0, 0}, []byte{0, 0, 1}},
		{"no carry", []byte{0, 1, 7}, []byte{0, 1, 8}},
		{"carry", []byte{0, 0x01, 0xff}, []byte{0, 0x02, 0x00}},
		{"double carry", []byte{0x03, 0xff, 0xff}, []byte{0x04, 0x00, 0x00}},
		{"saturated", []byte{0xff, 0xff, 0xff}, []byte{0xff, 0xff, 0xff}},
		{"empty", []byte{}, []byte{}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := make([]byte, len(c.in))
			copy(b, c.in)
			IncrementBytes(b)
			require.Equal(t, c.out, b)
		})
	}
}

func TestIncrementBytesFromZero(t *testing.T) {
	b := MakeBytes(32)
	IncrementBytes(b)

	want := make([]byte, 32)
	want[31] = 1
	require.Equal(t, want, b)

	for i := 0; i < 255; i++ {
		IncrementBytes(b)
	}
	want[30], want[31] = 1, 0
	require.Equal(t, want, b)
}
