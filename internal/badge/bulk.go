package badge

import "encoding/binary"

// maxBulkChunk is the body size a single wrapped bulk chunk carries.
const maxBulkChunk = 128

// maxChunkRetries bounds the corrupted-zero-slot retry loop; a chunk that
// still hasn't ACKed cleanly after this many attempts is a protocol error
// rather than a transient glitch.
const maxChunkRetries = 3

// bulkChunk is one 128-byte slice of a bulk body, already wrapped with
// its header and XOR checksum, along with the ack payload (unframed) the
// device is expected to echo back.
type bulkChunk struct {
	index   int
	wrapped []byte
	wantAck []byte
}

// splitBulk wraps data into the sequence of chunk bodies the bulk
// transfer sends under tag: each chunk is {reserved=0, total_len_be16,
// index_be16, chunk_len_u8, chunk_bytes..., xor_checksum}. The XOR runs
// over the whole wrapped body, header included, before the checksum byte
// is appended.
func splitBulk(data []byte) []bulkChunk {
	total := len(data)
	count := (total + maxBulkChunk - 1) / maxBulkChunk
	if count == 0 {
		count = 1
	}

	chunks := make([]bulkChunk, 0, count)
	for index := 0; index < count; index++ {
		start := index * maxBulkChunk
		end := start + maxBulkChunk
		if end > total {
			end = total
		}
		piece := data[start:end]

		body := make([]byte, 6+len(piece))
		binary.BigEndian.PutUint16(body[1:3], uint16(total))
		binary.BigEndian.PutUint16(body[3:5], uint16(index))
		body[5] = byte(len(piece))
		copy(body[6:], piece)

		var xor byte
		for _, b := range body {
			xor ^= b
		}
		wrapped := append(body, xor)

		ack := make([]byte, 4)
		binary.BigEndian.PutUint16(ack[1:3], uint16(index))

		chunks = append(chunks, bulkChunk{index: index, wrapped: wrapped, wantAck: ack})
	}
	return chunks
}

// zeroSlotMismatch reports whether got differs from want only in the
// reserved leading and trailing zero bytes of a 4-byte ack payload
// ({reserved, index_hi, index_lo, reserved}), and by no more than two
// bytes: a known quirk where the device echoes the chunk index correctly
// but garbles the padding around it.
func zeroSlotMismatch(want, got []byte) bool {
	if len(want) != len(got) || len(want) != 4 {
		return false
	}
	mismatches := 0
	for i := range want {
		if want[i] == got[i] {
			continue
		}
		if i == 1 || i == 2 {
			return false // index bytes must match exactly
		}
		mismatches++
	}
	return mismatches >= 1 && mismatches <= 2
}
