// Package adapter drives the line-oriented serial bridge to the BLE
// bridge hardware: it owns the serial channel, parses inbound
// logfmt-style records, maintains the observed-device table, and
// resolves per-device futures for connect/disconnect/read/write/notify.
package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/eastside-lobby/nametag-fleet/internal/serialport"
)

const (
	// MaxConnections is the adapter's simultaneous-connection ceiling.
	MaxConnections = 5
	// MaxWrites is the per-device outstanding-write backpressure limit.
	MaxWrites = 5
	// DefaultMaxScanAge is how long an unseen, fully disconnected device
	// survives before eviction on a "time" tick.
	DefaultMaxScanAge = 60 * time.Second
	// readerIdleTimeout is how long the reader will wait for the next
	// chunk of serial data before declaring the session dead.
	readerIdleTimeout = 1500 * time.Millisecond
)

// Adapter is the single-threaded-cooperative owner of one serial session
// to the BLE bridge. Its exported operations are safe to call from
// multiple badge-task goroutines concurrently; all of them are ultimately
// serialized through per-device mutexes and the adapter's own dispatch
// loop (see DESIGN.md).
type Adapter struct {
	logger *logrus.Logger
	port   serialport.Port

	devices *hashmap.Map[string, *DeviceRecord]
	handles *hashmap.Map[int, *DeviceRecord]

	connectPending int32 // atomic bool: a connect/disconnect handshake is in flight
	maxScanAge     time.Duration

	scanningSince atomic.Value // time.Time; zero value means "not yet scanning"
}

// New wraps port with an Adapter. Run must be called to start processing
// inbound records.
func New(port serialport.Port, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger:     logger,
		port:       port,
		devices:    hashmap.New[string, *DeviceRecord](),
		handles:    hashmap.New[int, *DeviceRecord](),
		maxScanAge: DefaultMaxScanAge,
	}
}

// SetMaxScanAge overrides the default 60s eviction age (for tests or
// operators who know their venue's badge density).
func (a *Adapter) SetMaxScanAge(d time.Duration) {
	a.maxScanAge = d
}

// Run reads and dispatches inbound records until ctx is cancelled or a
// *serialport.PortError occurs (including the reader-silence timeout).
// On any terminating error, every pending operation on every known
// device is failed and the device table is left intact for the caller to
// inspect before discarding the Adapter.
func (a *Adapter) Run(ctx context.Context) error {
	var buf []byte
	firstLine := true

	for {
		readCtx, cancel := context.WithTimeout(ctx, readerIdleTimeout)
		data, err := a.port.Read(readCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				a.failSession(ctx.Err())
				return ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				perr := &serialport.PortError{Op: "idle", Err: fmt.Errorf("no data for %s", readerIdleTimeout)}
				a.failSession(perr)
				return perr
			}
			a.failSession(err)
			return err
		}

		buf = append(buf, data...)
		lines := bytes.Split(buf, []byte("\n"))
		buf = lines[len(lines)-1]
		lines = lines[:len(lines)-1]

		for _, line := range lines {
			if firstLine {
				firstLine = false
				continue // discard the first, possibly truncated, line
			}
			a.handleLine(line)
		}
	}
}

func (a *Adapter) handleLine(line []byte) {
	r := parseRecord(line)
	key := r.firstKey()
	if key == "" {
		return
	}

	switch key {
	case "scan":
		a.onScan(r)
	case "time":
		a.onTime(r)
	case "conn":
		a.onConn(r)
	case "conn_fail":
		a.onConnFail(r)
	case "disconn":
		a.onDisconn(r)
	case "disconn_fail":
		a.onDisconnFail(r)
	case "read":
		a.onRead(r)
	case "read_fail":
		a.onReadFail(r)
	case "notify":
		a.onNotify(r)
	case "write":
		a.onWrite(r)
	case "write_fail":
		a.onWriteFail(r)
	case "ERR":
		a.logger.WithField("line", string(line)).Error("adapter reported error")
	default:
		a.logger.WithField("line", string(line)).Debug("unrecognized adapter record")
	}
}

func (a *Adapter) onScan(r *record) {
	addr, _ := r.get("scan")
	if addr == "" {
		return
	}
	if a.scanningSince.Load() == nil {
		a.scanningSince.Store(time.Now())
	}

	dev, _ := a.devices.GetOrInsert(addr, newDeviceRecord(addr, time.Now()))

	rssi, _ := r.getInt("s")
	uuidStrs := parseUUIDList(valueOr(r, "u"))
	mdata := percentDecode(valueOr(r, "m"))

	dev.mu.Lock()
	dev.LastSeenMonotonic = time.Now()
	dev.RSSI = rssi
	for _, u := range uuidStrs {
		parsed := parseUUID16(u)
		dev.ServiceUUIDs[parsed.String()] = parsed
	}
	dev.ManufacturerData = mdata
	dev.mu.Unlock()
}

func valueOr(r *record, key string) string {
	v, _ := r.get(key)
	return v
}

func (a *Adapter) onTime(r *record) {
	if a.scanningSince.Load() == nil {
		return // only age out once scanning has actually started
	}
	now := time.Now()
	a.devices.Range(func(addr string, dev *DeviceRecord) bool {
		dev.mu.Lock()
		age := now.Sub(dev.LastSeenMonotonic)
		disconnected := dev.Handle.State() == HandleDisconnected
		dev.mu.Unlock()
		if disconnected && age > a.maxScanAge {
			a.devices.Del(addr)
		}
		return true
	})
}

func (a *Adapter) onConn(r *record) {
	addr, _ := r.get("conn")
	handle, ok := r.getInt("handle")
	dev, found := a.devices.Get(addr)
	if addr == "" || !found || !ok {
		a.logger.WithField("record", addr).Warn("unmatched conn event")
		return
	}

	dev.mu.Lock()
	dev.Handle = connectedHandle(handle)
	dev.LastSeenMonotonic = time.Now()
	transition := dev.transition
	dev.transition = nil
	dev.mu.Unlock()

	a.handles.Insert(handle, dev)
	if transition != nil {
		transition.Resolve(dev.Handle)
	}
}

func (a *Adapter) onConnFail(r *record) {
	addr, hasAddr := r.get("conn_fail")
	err := newConnectionError(ConnFailed, addr, "connect failed")

	fail := func(dev *DeviceRecord) {
		dev.mu.Lock()
		if dev.transition != nil {
			dev.Handle = disconnectedHandle()
			t := dev.transition
			dev.transition = nil
			dev.mu.Unlock()
			t.Fail(err)
			return
		}
		dev.mu.Unlock()
	}

	if hasAddr && addr != "" {
		if dev, found := a.devices.Get(addr); found {
			fail(dev)
			return
		}
		a.logger.WithField("addr", addr).Warn("unmatched conn_fail event")
		return
	}

	a.devices.Range(func(_ string, dev *DeviceRecord) bool {
		fail(dev)
		return true
	})
}

func (a *Adapter) onDisconn(r *record) {
	handle, ok := r.getInt("disconn")
	if !ok {
		return
	}
	dev, found := a.handles.Get(handle)
	if !found {
		a.logger.WithField("handle", handle).Warn("unmatched disconn event")
		return
	}
	a.handles.Del(handle)

	err := newConnectionError(UnexpectedDisconn, dev.Address, "")
	dev.mu.Lock()
	dev.Handle = disconnectedHandle()
	dev.LastSeenMonotonic = time.Now()
	dev.failAllPendingLocked(err)
	transition := dev.transition
	dev.transition = nil
	h := dev.Handle
	dev.mu.Unlock()

	if transition != nil {
		transition.Resolve(h)
	}
}

func (a *Adapter) onDisconnFail(r *record) {
	handle, ok := r.getInt("disconn_fail")
	if !ok {
		return
	}
	dev, found := a.handles.Get(handle)
	if !found {
		a.logger.WithField("handle", handle).Warn("unmatched disconn_fail event")
		return
	}

	err := newConnectionError(DisconnFailed, dev.Address, "")
	dev.mu.Lock()
	dev.Handle = connectedHandle(handle) // still connected; the disconnect didn't take
	dev.LastSeenMonotonic = time.Now()
	transition := dev.transition
	dev.transition = nil
	dev.mu.Unlock()

	if transition != nil {
		transition.Fail(err)
	}
}

func (a *Adapter) onRead(r *record) {
	handle, ok := r.getInt("read")
	attr, okAttr := r.getInt("attr")
	if !ok || !okAttr {
		return
	}
	dev, found := a.handles.Get(handle)
	if !found {
		a.logger.WithFields(logrus.Fields{"handle": handle, "attr": attr}).Warn("unmatched read event")
		return
	}
	data := percentDecode(valueOr(r, "data"))

	dev.mu.Lock()
	dev.LastSeenMonotonic = time.Now()
	fut, exists := dev.PendingReads.Get(attr)
	if exists {
		dev.PendingReads.Delete(attr)
	}
	dev.mu.Unlock()

	if !exists {
		a.logger.WithFields(logrus.Fields{"handle": handle, "attr": attr}).Warn("unmatched read event")
		return
	}
	fut.Resolve(data)
}

func (a *Adapter) onReadFail(r *record) {
	handle, ok := r.getInt("read_fail")
	attr, okAttr := r.getInt("attr")
	if !ok || !okAttr {
		return
	}
	dev, found := a.handles.Get(handle)
	if !found {
		return
	}

	dev.mu.Lock()
	fut, exists := dev.PendingReads.Get(attr)
	if exists {
		dev.PendingReads.Delete(attr)
	}
	dev.mu.Unlock()

	if exists {
		fut.Fail(newConnectionError(ReadFailed, dev.Address, fmt.Sprintf("attr %d", attr)))
	}
}

func (a *Adapter) onNotify(r *record) {
	handle, ok := r.getInt("notify")
	attr, okAttr := r.getInt("attr")
	if !ok || !okAttr {
		return
	}
	dev, found := a.handles.Get(handle)
	if !found {
		return
	}
	data := percentDecode(valueOr(r, "data"))

	dev.mu.Lock()
	fut, exists := dev.PendingNotify.Get(attr)
	if exists {
		dev.PendingNotify.Delete(attr)
	}
	dev.mu.Unlock()

	if exists {
		fut.Resolve(data)
	}
}

func (a *Adapter) onWrite(r *record) {
	handle, ok := r.getInt("write")
	count, okCount := r.getInt("count")
	if !ok || !okCount {
		return
	}
	dev, found := a.handles.Get(handle)
	if !found {
		return
	}

	dev.mu.Lock()
	n := count
	if n > len(dev.PendingWrites) {
		a.logger.WithFields(logrus.Fields{"handle": handle, "count": count, "pending": len(dev.PendingWrites)}).
			Warn("write count exceeds pending writes")
		n = len(dev.PendingWrites)
	}
	done := dev.PendingWrites[:n]
	dev.PendingWrites = dev.PendingWrites[n:]
	dev.cond.Broadcast()
	dev.mu.Unlock()

	for _, w := range done {
		w.Resolve(true)
	}
}

func (a *Adapter) onWriteFail(r *record) {
	handle, ok := r.getInt("write_fail")
	if !ok {
		return
	}
	dev, found := a.handles.Get(handle)
	if !found {
		return
	}

	dev.mu.Lock()
	pending := dev.PendingWrites
	dev.PendingWrites = nil
	dev.cond.Broadcast()
	dev.mu.Unlock()

	err := newConnectionError(WriteFailed, dev.Address, "")
	for _, w := range pending {
		w.Fail(err)
	}
}

// failSession fails every pending operation on every known device, as
// happens when the adapter session itself dies.
func (a *Adapter) failSession(cause error) {
	err := fmt.Errorf("adapter session ended: %w", cause)
	a.devices.Range(func(_ string, dev *DeviceRecord) bool {
		dev.mu.Lock()
		dev.Handle = disconnectedHandle()
		dev.failAllPendingLocked(err)
		transition := dev.transition
		dev.transition = nil
		dev.mu.Unlock()
		if transition != nil {
			transition.Fail(err)
		}
		return true
	})
}

// send writes one newline-terminated outbound command, enforcing
// MaxCommandSize.
func (a *Adapter) send(cmd string) error {
	if len(cmd) >= MaxCommandSize {
		err := newAdapterError("command too long (%d >= %d bytes): %.16s...", len(cmd), MaxCommandSize, cmd)
		a.logger.WithField("len", len(cmd)).Error(err.Error())
		return err
	}
	a.logger.WithField("cmd", cmd).Debug("=> adapter")
	return a.port.Write([]byte(cmd + "\n"))
}

// device returns the known record for addr, or false if the adapter has
// never seen an advertisement from it.
func (a *Adapter) device(addr string) (*DeviceRecord, bool) {
	return a.devices.Get(addr)
}

// Connect requests a connection to addr: the device must be fully
// disconnected and no other connect may be pending anywhere on the
// adapter. It blocks until a matching "conn" or "conn_fail" event
// resolves it, or ctx is cancelled.
func (a *Adapter) Connect(ctx context.Context, addr string) error {
	dev, found := a.device(addr)
	if !found {
		return newAdapterError("connect: unknown device %s", addr)
	}

	dev.mu.Lock()
	if dev.Handle.State() != HandleDisconnected {
		dev.mu.Unlock()
		return ErrNotFullyDisconnected
	}
	if !atomic.CompareAndSwapInt32(&a.connectPending, 0, 1) {
		dev.mu.Unlock()
		return ErrNoPendingConnect
	}
	dev.Handle = pendingHandle()
	fut := NewFuture[ConnHandle]()
	dev.transition = fut
	dev.mu.Unlock()

	if err := a.send(cmdConn(addr)); err != nil {
		dev.mu.Lock()
		dev.Handle = disconnectedHandle()
		dev.transition = nil
		dev.mu.Unlock()
		atomic.StoreInt32(&a.connectPending, 0)
		return err
	}

	_, err := fut.Wait(ctx)
	atomic.StoreInt32(&a.connectPending, 0)
	return err
}

// Disconnect requests a disconnect from addr if it is currently connected.
// It does not block for the "disconn" event; pending operations on the
// device are released when that event arrives.
func (a *Adapter) Disconnect(addr string) error {
	dev, found := a.device(addr)
	if !found {
		return nil
	}

	dev.mu.Lock()
	if dev.Handle.State() != HandleConnected {
		dev.mu.Unlock()
		return nil
	}
	handle := dev.Handle.Value()
	dev.Handle = pendingHandle()
	dev.mu.Unlock()

	return a.send(cmdDisconn(handle))
}

// Write enqueues a GATT write to addr's given attribute, blocking until
// fewer than MaxWrites writes are outstanding on that device, then
// resolves on the matching "write" credit or fails on "write_fail".
func (a *Adapter) Write(ctx context.Context, addr string, attr int, data []byte) error {
	dev, found := a.device(addr)
	if !found {
		return newAdapterError("write: unknown device %s", addr)
	}

	var handle int
	var fut *Future[bool]
	var stateErr error
	err := dev.waitUntil(ctx,
		func() bool { return len(dev.PendingWrites) < MaxWrites },
		func() {
			if dev.Handle.State() != HandleConnected {
				stateErr = newConnectionError(WriteFailed, addr, "not connected")
				return
			}
			handle = dev.Handle.Value()
			fut = NewFuture[bool]()
			dev.PendingWrites = append(dev.PendingWrites, fut)
		},
	)
	if err != nil {
		return err
	}
	if stateErr != nil {
		return stateErr
	}

	if err := a.send(cmdWrite(handle, attr, data)); err != nil {
		return err
	}
	_, err = fut.Wait(ctx)
	return err
}

// Flush awaits the most recently enqueued write on addr, if any.
func (a *Adapter) Flush(ctx context.Context, addr string) error {
	dev, found := a.device(addr)
	if !found {
		return nil
	}

	dev.mu.Lock()
	var last *Future[bool]
	if n := len(dev.PendingWrites); n > 0 {
		last = dev.PendingWrites[n-1]
	}
	dev.mu.Unlock()

	if last == nil {
		return nil
	}
	_, err := last.Wait(ctx)
	return err
}

// Read issues a GATT read of attr on addr, resolving with the payload on
// a matching "read" event or failing on "read_fail".
func (a *Adapter) Read(ctx context.Context, addr string, attr int) ([]byte, error) {
	dev, found := a.device(addr)
	if !found {
		return nil, newAdapterError("read: unknown device %s", addr)
	}

	dev.mu.Lock()
	if dev.Handle.State() != HandleConnected {
		dev.mu.Unlock()
		return nil, newConnectionError(ReadFailed, addr, "not connected")
	}
	handle := dev.Handle.Value()
	fut := NewFuture[[]byte]()
	dev.PendingReads.Set(attr, fut)
	dev.mu.Unlock()

	if err := a.send(cmdRead(handle, attr)); err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// PrepareNotify returns a future that resolves with the next "notify"
// payload for attr on addr. Call it again after each resolution to
// re-arm for the following notification.
func (a *Adapter) PrepareNotify(addr string, attr int) (*Future[[]byte], error) {
	dev, found := a.device(addr)
	if !found {
		return nil, newAdapterError("prepare_notify: unknown device %s", addr)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	fut := NewFuture[[]byte]()
	dev.PendingNotify.Set(attr, fut)
	return fut, nil
}

// ReadyToConnect reports whether addr may be connected right now: active
// connections below MaxConnections, the device fully disconnected, and no
// connect pending anywhere on the adapter.
func (a *Adapter) ReadyToConnect(addr string) bool {
	dev, found := a.device(addr)
	if !found {
		return false
	}
	if atomic.LoadInt32(&a.connectPending) != 0 {
		return false
	}
	if !dev.FullyDisconnected() {
		return false
	}
	return a.ActiveConnections() < MaxConnections
}

// ActiveConnections returns the number of devices currently holding a
// concrete adapter handle.
func (a *Adapter) ActiveConnections() int {
	return a.handles.Len()
}

// Devices returns a snapshot of every currently known device record.
func (a *Adapter) Devices() []Snapshot {
	out := make([]Snapshot, 0, a.devices.Len())
	a.devices.Range(func(_ string, dev *DeviceRecord) bool {
		out = append(out, dev.snapshot())
		return true
	})
	return out
}
