package badge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscape123RoundTrip(t *testing.T) {
	in := []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x02, 0x02}
	escaped := escape123(in)
	require.Equal(t, []byte{0x00, 0x02, 0x05, 0x02, 0x06, 0x02, 0x07, 0x04, 0x02, 0x06, 0x02, 0x06}, escaped)

	back, err := unescape123(escaped)
	require.NoError(t, err)
	require.Equal(t, in, back)
}

func TestEscape123SinglePassDoesNotReescapeInsertedBytes(t *testing.T) {
	// A sequential-replace port that handles 0x01 before 0x02 would turn
	// the 0x02 it inserts for 0x01 into 0x02 0x06, giving 02 06 05.
	in := []byte{0x01}
	escaped := escape123(in)
	require.Equal(t, []byte{0x02, 0x05}, escaped)

	in = []byte{0x02}
	escaped = escape123(in)
	require.Equal(t, []byte{0x02, 0x06}, escaped)
	// The inserted 0x02 is not escaped a second time either (that would
	// give 02 06 06).
}

func TestUnescape123RejectsBadEscape(t *testing.T) {
	_, err := unescape123([]byte{0x02, 0x99})
	require.Error(t, err)

	_, err = unescape123([]byte{0x02})
	require.Error(t, err)
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	data := []byte{0xAA, 0xBB, 0x01, 0x02, 0x03}
	frame := encodeFrame(6, data)
	require.Equal(t, byte(0x01), frame[0])
	require.Equal(t, byte(0x03), frame[len(frame)-1])

	tag, got, err := decodeFrame(frame)
	require.NoError(t, err)
	require.Equal(t, byte(6), tag)
	require.Equal(t, data, got)
}

func TestDecodeFrameRejectsMissingMarkers(t *testing.T) {
	_, _, err := decodeFrame([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}

func TestChunkPiecesSplitsAtTwentyBytes(t *testing.T) {
	frame := make([]byte, 45)
	pieces := chunkPieces(frame)
	require.Len(t, pieces, 3)
	require.Len(t, pieces[0], 20)
	require.Len(t, pieces[1], 20)
	require.Len(t, pieces[2], 5)
}
