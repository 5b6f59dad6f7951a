// Package game implements the pure word-chain puzzle that drives what a
// badge displays at each station: given a station id, the badge's static
// assignment, and its last known stash payload, decide the next display
// program and the state to write back.
package game

import "encoding/binary"

// Phase tags a game state's stash payload.
type Phase string

const (
	PhaseGame  Phase = "GAM"
	PhaseWin   Phase = "WIN"
	PhaseReset Phase = "RST"
)

// maxPhaseBytes is the number of ASCII bytes a phase tag may carry; the
// wire format is a one-byte length prefix followed by up to three data
// bytes, zero-padded, for a fixed 4-byte field.
const maxPhaseBytes = 3

// State is the decoded payload of a badge's stash: a phase tag, a
// station number, and an optional word.
type State struct {
	Phase  Phase
	Number int16
	String string
}

// Encode renders s as the stash payload: a 4-byte phase field (length
// byte + up to 3 ASCII bytes, zero-padded), a little-endian int16
// station number, then the word bytes verbatim.
func Encode(s State) []byte {
	phase := []byte(s.Phase)
	if len(phase) > maxPhaseBytes {
		phase = phase[:maxPhaseBytes]
	}

	out := make([]byte, 4+2+len(s.String))
	out[0] = byte(len(phase))
	copy(out[1:4], phase)
	binary.LittleEndian.PutUint16(out[4:6], uint16(s.Number))
	copy(out[6:], s.String)
	return out
}

// Decode parses a stash payload produced by Encode. It returns ok=false
// if data is too short to hold the fixed header.
func Decode(data []byte) (State, bool) {
	if len(data) < 6 {
		return State{}, false
	}
	n := int(data[0])
	if n > maxPhaseBytes {
		n = maxPhaseBytes
	}
	phase := Phase(data[1 : 1+n])
	number := int16(binary.LittleEndian.Uint16(data[4:6]))
	return State{Phase: phase, Number: number, String: string(data[6:])}, true
}
