package badge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/eastside-lobby/nametag-fleet/internal/adapter"
	"github.com/eastside-lobby/nametag-fleet/internal/serialport"
)

// fakePort is a minimal in-memory serialport.Port, local to this
// package's tests: it records outbound writes and lets a test push
// inbound lines on a timer of its choosing.
type fakePort struct {
	mu     sync.Mutex
	in     chan []byte
	writes [][]byte
}

func newFakePort() *fakePort { return &fakePort{in: make(chan []byte, 64)} }

func (p *fakePort) Read(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-p.in:
		if !ok {
			return nil, &serialport.PortError{Op: "read", Err: errors.New("closed")}
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *fakePort) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, append([]byte(nil), data...))
	return nil
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

func feed(t *testing.T, p *fakePort, lines ...string) {
	t.Helper()
	data := strings.Join(lines, "\n") + "\n"
	select {
	case p.in <- []byte(data):
	case <-time.After(time.Second):
		t.Fatal("fake port send blocked")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func percentEncode(data []byte) string {
	var b strings.Builder
	for _, c := range data {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == '.', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// creditWrites waits until port has issued exactly n more writes than
// already credited, crediting each one individually: Adapter.Write
// blocks on its own "write" credit before the next one is issued, so
// these arrive one at a time.
func creditWrites(t *testing.T, port *fakePort, handle, n, alreadyCredited int) {
	t.Helper()
	for i := 0; i < n; i++ {
		want := alreadyCredited + i + 1
		waitFor(t, time.Second, func() bool { return port.writeCount() >= want })
		feed(t, port, fmt.Sprintf("write=%d count=1", handle))
	}
}

// connectedBadge brings up an adapter, connects one device, and returns
// a Badge wrapping it plus the handle and port for driving further
// events.
func connectedBadge(t *testing.T, addr string, handle int) (*Badge, *adapter.Adapter, *fakePort) {
	t.Helper()
	port := newFakePort()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	a := adapter.New(port, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)

	feed(t, port, "boot") // discarded first line
	feed(t, port, fmt.Sprintf("scan=%s s=-40 u=fff0 m=%%01%%02", addr))
	waitFor(t, time.Second, func() bool { return len(a.Devices()) > 0 })

	connDone := make(chan error, 1)
	go func() { connDone <- a.Connect(context.Background(), addr) }()
	waitFor(t, time.Second, func() bool { return port.writeCount() > 0 })
	feed(t, port, fmt.Sprintf("conn=%s handle=%d", addr, handle))
	require.NoError(t, <-connDone)

	b := New(a, addr, "ABCD", NewBackupCache())
	return b, a, port
}

func TestUploadGlyphsSingleChunkRoundTrip(t *testing.T) {
	b, _, port := connectedBadge(t, "AA:BB:CC:DD:EE:10", 1)

	glyphs := []Glyph{{Width: 1, Bitmap: []byte{0xFF, 0x0F}}}
	body, err := buildGlyphStrip(glyphs)
	require.NoError(t, err)
	chunks := splitBulk(body)
	require.Len(t, chunks, 1)

	ackFrame := encodeFrame(tagGlyphs, chunks[0].wantAck)
	dataFrame := encodeFrame(tagGlyphs, chunks[0].wrapped)
	dataPieces := chunkPieces(dataFrame)

	uploadDone := make(chan error, 1)
	go func() { uploadDone <- b.UploadGlyphs(context.Background(), glyphs) }()

	// port write 1 is the conn command; next comes the attr-4 subscribe
	creditWrites(t, port, 1, 1, 1)
	// then one write per 20-byte piece of the chunk's frame
	creditWrites(t, port, 1, len(dataPieces), 2)

	feed(t, port, fmt.Sprintf("notify=1 attr=3 data=%s", percentEncode(ackFrame)))

	select {
	case err := <-uploadDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("UploadGlyphs never returned")
	}
}

func TestUploadGlyphsRetriesOnCorruptedZeroSlot(t *testing.T) {
	b, _, port := connectedBadge(t, "AA:BB:CC:DD:EE:11", 2)

	glyphs := []Glyph{{Width: 1, Bitmap: []byte{0xFF, 0x0F}}}
	body, err := buildGlyphStrip(glyphs)
	require.NoError(t, err)
	chunks := splitBulk(body)
	require.Len(t, chunks, 1)

	corruptedAck := append([]byte(nil), chunks[0].wantAck...)
	corruptedAck[0] ^= 0x07 // zero-slot byte corrupted, index bytes intact
	corruptedFrame := encodeFrame(tagGlyphs, corruptedAck)
	cleanFrame := encodeFrame(tagGlyphs, chunks[0].wantAck)

	dataFrame := encodeFrame(tagGlyphs, chunks[0].wrapped)
	dataPieces := chunkPieces(dataFrame)

	uploadDone := make(chan error, 1)
	go func() { uploadDone <- b.UploadGlyphs(context.Background(), glyphs) }()

	credited := 1 // the conn command
	creditWrites(t, port, 2, 1, credited)
	credited++
	creditWrites(t, port, 2, len(dataPieces), credited)
	credited += len(dataPieces)

	feed(t, port, fmt.Sprintf("notify=2 attr=3 data=%s", percentEncode(corruptedFrame)))

	// the chunk must be resent in full after the corrupted ack
	creditWrites(t, port, 2, len(dataPieces), credited)
	feed(t, port, fmt.Sprintf("notify=2 attr=3 data=%s", percentEncode(cleanFrame)))

	select {
	case err := <-uploadDone:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("UploadGlyphs never returned")
	}
}

func TestWriteStashVerifiesReadback(t *testing.T) {
	b, _, port := connectedBadge(t, "AA:BB:CC:DD:EE:12", 3)

	data := []byte{0x47, 0x41, 0x4D, 0x00, 0x00}
	packet, err := encodeStash(data)
	require.NoError(t, err)

	writeDone := make(chan error, 1)
	go func() { writeDone <- b.WriteStash(context.Background(), data) }()

	creditWrites(t, port, 3, 1, 1) // port write 1 is the conn command

	readDone := make(chan struct{})
	go func() {
		select {
		case err := <-writeDone:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("WriteStash never returned")
		}
		close(readDone)
	}()

	waitFor(t, time.Second, func() bool { return strings.HasPrefix(lastWriteCommand(port), "read 3 3") })
	feed(t, port, fmt.Sprintf("read=3 attr=3 data=%s", percentEncode(packet)))
	<-readDone
}

func lastWriteCommand(port *fakePort) string {
	port.mu.Lock()
	defer port.mu.Unlock()
	if len(port.writes) == 0 {
		return ""
	}
	return strings.TrimRight(string(port.writes[len(port.writes)-1]), "\n")
}

func TestReadStashFallsBackToBackupCache(t *testing.T) {
	b, _, port := connectedBadge(t, "AA:BB:CC:DD:EE:13", 4)
	b.backup.Record("ABCD", []byte{9, 9, 9}, time.Now())

	readDone := make(chan error, 1)
	var data []byte
	var fromBackup, ok bool
	go func() {
		var err error
		data, fromBackup, ok, err = b.ReadStash(context.Background())
		readDone <- err
	}()

	waitFor(t, time.Second, func() bool { return strings.HasPrefix(lastWriteCommand(port), "read 4 3") })
	feed(t, port, "read=4 attr=3 data=")

	select {
	case err := <-readDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadStash never returned")
	}
	require.True(t, ok)
	require.True(t, fromBackup)
	require.Equal(t, []byte{9, 9, 9}, data)
}
