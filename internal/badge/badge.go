package badge

import (
	"bytes"
	"context"
	"time"

	"github.com/eastside-lobby/nametag-fleet/internal/adapter"
)

const (
	// attrData is the characteristic both commands and the bulk-transfer
	// ACK notification ride on, and the one the stash register is read
	// and written through.
	attrData = 3
	// attrSubscribe is the CCCD a fresh connection must write 00 01 to
	// before the device will emit notifications on attrData.
	attrSubscribe = 4

	// preBulkSettle is how long to wait before a bulk upload so the
	// device's receive buffer has settled.
	preBulkSettle = 500 * time.Millisecond
	// ackTimeout bounds how long a bulk chunk waits for its ACK.
	ackTimeout = 3 * time.Second
)

// Badge wraps one connected device with the badge protocol: mode, speed
// and brightness commands, glyph strip and animation uploads, and stash
// read/write with backup fallback. One Badge is scoped to one connection;
// its subscription state does not survive a reconnect.
type Badge struct {
	adapter    *adapter.Adapter
	addr       string
	badgeID    string
	backup     *BackupCache
	subscribed bool
}

// New wraps a connected device at addr, identified by badgeID, for the
// life of one connection.
func New(a *adapter.Adapter, addr, badgeID string, backup *BackupCache) *Badge {
	return &Badge{adapter: a, addr: addr, badgeID: badgeID, backup: backup}
}

// BadgeID returns the badge identity this connection was established
// for, as derived from its advertisement by the adapter.
func (b *Badge) BadgeID() string { return b.badgeID }

func (b *Badge) ensureSubscribed(ctx context.Context) error {
	if b.subscribed {
		return nil
	}
	if err := b.adapter.Write(ctx, b.addr, attrSubscribe, []byte{0x00, 0x01}); err != nil {
		return err
	}
	b.subscribed = true
	return nil
}

func (b *Badge) sendPieces(ctx context.Context, pieces [][]byte) error {
	for _, p := range pieces {
		if err := b.adapter.Write(ctx, b.addr, attrData, p); err != nil {
			return err
		}
	}
	return nil
}

// sendShort sends a one-shot, unacknowledged command: mode, speed, or
// brightness.
func (b *Badge) sendShort(ctx context.Context, tag byte, data []byte) error {
	b.backup.MarkDisplaced(b.badgeID)
	frame := encodeFrame(tag, data)
	return b.sendPieces(ctx, chunkPieces(frame))
}

// SetMode sets the display mode.
func (b *Badge) SetMode(ctx context.Context, mode byte) error {
	return b.sendShort(ctx, tagSetMode, []byte{mode})
}

// SetSpeed sets the scroll/animation speed.
func (b *Badge) SetSpeed(ctx context.Context, speed byte) error {
	return b.sendShort(ctx, tagSetSpeed, []byte{speed})
}

// SetBrightness sets the LED brightness.
func (b *Badge) SetBrightness(ctx context.Context, brightness byte) error {
	return b.sendShort(ctx, tagBrightness, []byte{brightness})
}

// UploadGlyphs uploads a glyph strip as the bulk tag-2 message.
func (b *Badge) UploadGlyphs(ctx context.Context, glyphs []Glyph) error {
	body, err := buildGlyphStrip(glyphs)
	if err != nil {
		return err
	}
	return b.uploadBulk(ctx, tagGlyphs, body)
}

// UploadFrames uploads an animation as the bulk tag-4 message, with each
// frame held for msec milliseconds.
func (b *Badge) UploadFrames(ctx context.Context, frames []Frame, msec uint16) error {
	body, err := buildAnimation(frames, msec)
	if err != nil {
		return err
	}
	return b.uploadBulk(ctx, tagFrames, body)
}

func (b *Badge) uploadBulk(ctx context.Context, tag byte, body []byte) error {
	if err := b.ensureSubscribed(ctx); err != nil {
		return err
	}

	select {
	case <-time.After(preBulkSettle):
	case <-ctx.Done():
		return ctx.Err()
	}

	b.backup.MarkDisplaced(b.badgeID)

	for _, chunk := range splitBulk(body) {
		if err := b.sendChunkWithRetry(ctx, tag, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (b *Badge) sendChunkWithRetry(ctx context.Context, tag byte, chunk bulkChunk) error {
	frame := encodeFrame(tag, chunk.wrapped)
	pieces := chunkPieces(frame)

	for attempt := 0; attempt < maxChunkRetries; attempt++ {
		fut, err := b.adapter.PrepareNotify(b.addr, attrData)
		if err != nil {
			return err
		}
		if err := b.sendPieces(ctx, pieces); err != nil {
			return err
		}

		ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
		data, err := fut.Wait(ackCtx)
		cancel()
		if err != nil {
			return newProtocolError("bulk", "chunk %d ack: %s", chunk.index, err)
		}

		gotTag, gotData, err := decodeFrame(data)
		if err != nil {
			return newProtocolError("bulk", "chunk %d ack: %s", chunk.index, err)
		}
		if gotTag != tag {
			return newProtocolError("bulk", "chunk %d ack: tag %d != %d", chunk.index, gotTag, tag)
		}
		if bytes.Equal(gotData, chunk.wantAck) {
			return nil
		}
		if zeroSlotMismatch(chunk.wantAck, gotData) {
			continue // corrupted zero slot; resend the chunk
		}
		return newProtocolError("bulk", "chunk %d ack mismatch: want % x got % x", chunk.index, chunk.wantAck, gotData)
	}
	return newProtocolError("bulk", "chunk %d: no clean ack after %d attempts", chunk.index, maxChunkRetries)
}

// WriteStash writes data (up to 18 bytes) as the bare, unframed stash
// packet, flushes, then reads attribute 3 back and confirms the
// device echoed exactly what was written.
func (b *Badge) WriteStash(ctx context.Context, data []byte) error {
	packet, err := encodeStash(data)
	if err != nil {
		return err
	}
	if err := b.adapter.Write(ctx, b.addr, attrData, packet); err != nil {
		return err
	}
	if err := b.adapter.Flush(ctx, b.addr); err != nil {
		return err
	}

	readback, err := b.adapter.Read(ctx, b.addr, attrData)
	if err != nil {
		return err
	}
	if len(readback) < len(packet) || !bytes.Equal(readback[:len(packet)], packet) {
		return newProtocolError("stash", "write read-back mismatch: wrote % x got % x", packet, readback)
	}

	b.backup.Record(b.badgeID, data, time.Now())
	return nil
}

// ReadStash reads the stash register. If the on-device register holds no
// valid stash, it falls back to this badge's backup entry, reporting
// fromBackup. ok is false if neither the device nor the backup has
// anything for this badge.
func (b *Badge) ReadStash(ctx context.Context) (data []byte, fromBackup bool, ok bool, err error) {
	raw, err := b.adapter.Read(ctx, b.addr, attrData)
	if err != nil {
		return nil, false, false, err
	}

	if payload, valid := decodeStash(raw); valid {
		b.backup.Record(b.badgeID, payload, time.Now())
		return payload, false, true, nil
	}

	entry, found := b.backup.Lookup(b.badgeID)
	if !found {
		return nil, false, false, nil
	}
	return entry.Data, true, true, nil
}
