package badge

import "encoding/binary"

// columnBytes is the byte count of one packed column of a 12-pixel-tall,
// 1-bit-per-pixel bitmap: 12 bits rounded up to a byte boundary, rows
// byte-aligned the way the device's own bitmap format does.
const columnBytes = 2

// frameHeight is the fixed height every glyph and animation frame uses.
const frameHeight = 12

// maxGlyphsPerStrip is bounded by the fixed 80-byte width table in the
// glyph strip header.
const maxGlyphsPerStrip = 80

// Glyph is one character cell: Width columns wide, frameHeight pixels
// tall, packed column-major 1-bit-per-pixel with each column padded to
// columnBytes.
type Glyph struct {
	Width  int
	Bitmap []byte
}

func (g Glyph) validate() error {
	if g.Width < 1 || g.Width > 48 {
		return newProtocolError("display", "glyph width %d outside 1..48", g.Width)
	}
	if len(g.Bitmap) != g.Width*columnBytes {
		return newProtocolError("display", "glyph bitmap length %d != width %d * %d", len(g.Bitmap), g.Width, columnBytes)
	}
	return nil
}

// Frame is one animation frame: fixed 48x12, same column-major packing
// as Glyph.
type Frame struct {
	Bitmap []byte
}

func (f Frame) validate() error {
	const wantLen = 48 * columnBytes
	if len(f.Bitmap) != wantLen {
		return newProtocolError("display", "frame bitmap length %d != %d (48x12)", len(f.Bitmap), wantLen)
	}
	return nil
}

// buildGlyphStrip assembles the tag-2 bulk body: 24 zero bytes, glyph
// count, the zero-padded per-glyph width table, the total bitmap length,
// then the glyphs' bitmaps concatenated in order.
func buildGlyphStrip(glyphs []Glyph) ([]byte, error) {
	if len(glyphs) == 0 {
		return nil, newProtocolError("display", "no glyphs to show")
	}
	if len(glyphs) > maxGlyphsPerStrip {
		return nil, newProtocolError("display", "%d glyphs exceeds the %d-glyph strip limit", len(glyphs), maxGlyphsPerStrip)
	}
	for i, g := range glyphs {
		if err := g.validate(); err != nil {
			return nil, newProtocolError("display", "glyph %d: %s", i, err)
		}
	}

	total := 0
	for _, g := range glyphs {
		total += len(g.Bitmap)
	}

	header := make([]byte, 24+1+maxGlyphsPerStrip+2)
	header[24] = byte(len(glyphs))
	for i, g := range glyphs {
		header[25+i] = byte(g.Width)
	}
	binary.BigEndian.PutUint16(header[25+maxGlyphsPerStrip:], uint16(total))

	body := make([]byte, 0, len(header)+total)
	body = append(body, header...)
	for _, g := range glyphs {
		body = append(body, g.Bitmap...)
	}
	return body, nil
}

// buildAnimation assembles the tag-4 bulk body: 24 zero bytes, frame
// count, frame duration in milliseconds, then the frames' bitmaps
// concatenated in order.
func buildAnimation(frames []Frame, msec uint16) ([]byte, error) {
	if len(frames) == 0 {
		return nil, newProtocolError("display", "no frames to show")
	}
	if len(frames) > 255 {
		return nil, newProtocolError("display", "%d frames exceeds the 255-frame limit", len(frames))
	}
	for i, f := range frames {
		if err := f.validate(); err != nil {
			return nil, newProtocolError("display", "frame %d: %s", i, err)
		}
	}

	header := make([]byte, 24+1+2)
	header[24] = byte(len(frames))
	binary.BigEndian.PutUint16(header[25:], msec)

	body := make([]byte, 0, len(header)+len(frames)*48*columnBytes)
	body = append(body, header...)
	for _, f := range frames {
		body = append(body, f.Bitmap...)
	}
	return body, nil
}
