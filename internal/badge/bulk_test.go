package badge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func xorOf(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}

func TestSplitBulkChunksAndChecksums(t *testing.T) {
	body := make([]byte, 300)
	for i := range body {
		body[i] = byte(i)
	}

	chunks := splitBulk(body)
	require.Len(t, chunks, 3)

	wantLens := []int{128, 128, 44}
	total := 0
	for i, c := range chunks {
		require.Equal(t, i, c.index)
		piece := c.wrapped[:len(c.wrapped)-1]
		require.Equal(t, byte(0), piece[0])
		require.Equal(t, byte(0), xorOf(c.wrapped), "checksum must make the whole wrapped body XOR to zero")
		chunkLen := int(piece[5])
		require.Equal(t, wantLens[i], chunkLen)
		total += chunkLen
		require.Len(t, c.wantAck, 4)
		require.Equal(t, byte(0), c.wantAck[0])
		require.Equal(t, byte(0), c.wantAck[3])
	}
	require.Equal(t, len(body), total)
}

func TestSplitBulkSingleShortChunk(t *testing.T) {
	body := []byte{1, 2, 3}
	chunks := splitBulk(body)
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].index)
}

func TestZeroSlotMismatchAcceptsOneOrTwoCorruptedZeroBytes(t *testing.T) {
	want := []byte{0x00, 0x00, 0x05, 0x00}
	got1 := []byte{0x07, 0x00, 0x05, 0x00}
	require.True(t, zeroSlotMismatch(want, got1))

	got2 := []byte{0x07, 0x00, 0x05, 0x09}
	require.True(t, zeroSlotMismatch(want, got2))
}

func TestZeroSlotMismatchRejectsIndexByteCorruption(t *testing.T) {
	want := []byte{0x00, 0x00, 0x05, 0x00}
	got := []byte{0x00, 0x00, 0x06, 0x00}
	require.False(t, zeroSlotMismatch(want, got))
}

func TestZeroSlotMismatchRejectsExactMatch(t *testing.T) {
	want := []byte{0x00, 0x00, 0x05, 0x00}
	require.False(t, zeroSlotMismatch(want, append([]byte(nil), want...)))
}

func TestZeroSlotMismatchRejectsWrongLength(t *testing.T) {
	require.False(t, zeroSlotMismatch([]byte{0, 0, 0, 0}, []byte{0, 0, 0}))
}
