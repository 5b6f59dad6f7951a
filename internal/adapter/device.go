package adapter

import (
	"context"
	"strconv"
	"sync"
	"time"

	blelib "github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// HandleState is the tri-state connection handle: unset (disconnected),
// pending (connect/disconnect in flight), or a concrete adapter handle.
type HandleState int

const (
	HandleDisconnected HandleState = iota
	HandlePending
	HandleConnected
)

// ConnHandle models the device record's tri-state connection_handle:
// disconnected -> pending (on connect request) -> connected (on "conn")
// or disconnected (on "conn_fail"); connected -> pending (on disconnect
// request) -> disconnected (on "disconn").
type ConnHandle struct {
	state HandleState
	value int
}

func (h ConnHandle) State() HandleState { return h.state }

// Value returns the adapter handle; only meaningful when State() is
// HandleConnected.
func (h ConnHandle) Value() int { return h.value }

func disconnectedHandle() ConnHandle { return ConnHandle{state: HandleDisconnected} }
func pendingHandle() ConnHandle      { return ConnHandle{state: HandlePending} }
func connectedHandle(v int) ConnHandle {
	return ConnHandle{state: HandleConnected, value: v}
}

// badgeServiceUUID is the 16-bit service UUID (0xFFF0) badges advertise.
var badgeServiceUUID = blelib.UUID16(0xFFF0)

// parseUUID16 parses a hex-encoded 16-bit UUID string ("fff0") as reported
// by the adapter's "u=" scan field into a blelib.UUID. Malformed input
// yields the zero UUID rather than an error; a garbled advertisement
// should not be fatal to the scan.
func parseUUID16(hexStr string) blelib.UUID {
	v, err := strconv.ParseUint(hexStr, 16, 16)
	if err != nil {
		return blelib.UUID{}
	}
	return blelib.UUID16(uint16(v))
}

// DeviceRecord is the per-observed-remote-address state. mu guards every
// field below it: the adapter's reader goroutine and each badge task
// goroutine touch the same record concurrently (one resolving events, the
// others issuing reads/writes and awaiting futures).
type DeviceRecord struct {
	Address string

	mu                sync.Mutex
	cond              *sync.Cond
	ServiceUUIDs      map[string]blelib.UUID
	LastSeenMonotonic time.Time
	RSSI              int
	ManufacturerData  []byte
	Handle            ConnHandle
	transition        *Future[ConnHandle]
	PendingWrites     []*Future[bool]
	PendingReads      *orderedmap.OrderedMap[int, *Future[[]byte]]
	PendingNotify     *orderedmap.OrderedMap[int, *Future[[]byte]]
}

// newDeviceRecord creates a fresh record for addr, first observed now.
func newDeviceRecord(addr string, now time.Time) *DeviceRecord {
	d := &DeviceRecord{
		Address:           addr,
		LastSeenMonotonic: now,
		Handle:            disconnectedHandle(),
		ServiceUUIDs:      make(map[string]blelib.UUID),
		PendingReads:      orderedmap.New[int, *Future[[]byte]](),
		PendingNotify:     orderedmap.New[int, *Future[[]byte]](),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// FullyConnected reports the device's handle as a concrete, non-negative
// adapter handle.
func (d *DeviceRecord) FullyConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Handle.State() == HandleConnected
}

// FullyDisconnected reports the device as neither connected nor pending.
func (d *DeviceRecord) FullyDisconnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Handle.State() == HandleDisconnected
}

// IsBadge reports whether the advertisement identifying this device marks
// it as a nametag badge: service UUID 0xFFF0 present and manufacturer data
// bytes 6..7 equal to FF FF.
func (d *DeviceRecord) IsBadge() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isBadgeLocked()
}

func (d *DeviceRecord) isBadgeLocked() bool {
	if _, ok := d.ServiceUUIDs[badgeServiceUUID.String()]; !ok {
		return false
	}
	return len(d.ManufacturerData) >= 8 &&
		d.ManufacturerData[6] == 0xFF && d.ManufacturerData[7] == 0xFF
}

// BadgeID derives the badge's stable identity from the first two bytes of
// manufacturer data, little-endian, rendered as uppercase hex.
// Returns "" if the device is not a badge.
func (d *DeviceRecord) BadgeID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.badgeIDLocked()
}

func (d *DeviceRecord) badgeIDLocked() string {
	if !d.isBadgeLocked() || len(d.ManufacturerData) < 2 {
		return ""
	}
	b0, b1 := d.ManufacturerData[0], d.ManufacturerData[1]
	return hexUpper(b1) + hexUpper(b0)
}

func hexUpper(b byte) string {
	const digits = "0123456789ABCDEF"
	return string([]byte{digits[b>>4], digits[b&0xf]})
}

// failAllPendingLocked fails every pending write, read, and notification with
// err, then clears the pending writes and reads (notify futures are
// re-armed separately by PrepareNotify, so they are left for the next
// caller to observe the failure on Wait). Caller must hold d.mu.
func (d *DeviceRecord) failAllPendingLocked(err error) {
	for _, w := range d.PendingWrites {
		w.Fail(err)
	}
	d.PendingWrites = nil
	d.cond.Broadcast()

	for pair := d.PendingReads.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.Fail(err)
	}
	d.PendingReads = orderedmap.New[int, *Future[[]byte]]()

	for pair := d.PendingNotify.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.Fail(err)
	}
}

// waitUntil blocks until pred reports true or ctx is done, then (still
// holding d.mu, in the same critical section that observed pred) runs
// commit before releasing the lock. Folding the mutation into the same
// lock hold as the check is what keeps PendingWrites from ever exceeding
// MaxWrites: a separate lock/unlock pair between check and append would
// let two waiters both observe room and both append. A background
// goroutine wakes the wait on ctx cancellation since sync.Cond has no
// native context support.
func (d *DeviceRecord) waitUntil(ctx context.Context, pred func() bool, commit func()) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.cond.Broadcast()
			d.mu.Unlock()
		case <-stop:
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()
	for !pred() {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.cond.Wait()
	}
	if commit != nil {
		commit()
	}
	return nil
}

// Snapshot is an immutable copy of the fields callers outside the adapter
// goroutine are allowed to observe (the scanner/scheduler borrows devices
// through this view rather than touching DeviceRecord directly).
type Snapshot struct {
	Address           string
	LastSeenMonotonic time.Time
	RSSI              int
	ManufacturerData  []byte
	IsBadge           bool
	BadgeID           string
	HandleState       HandleState
}

func (d *DeviceRecord) snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Address:           d.Address,
		LastSeenMonotonic: d.LastSeenMonotonic,
		RSSI:              d.RSSI,
		ManufacturerData:  append([]byte(nil), d.ManufacturerData...),
		IsBadge:           d.isBadgeLocked(),
		BadgeID:           d.badgeIDLocked(),
		HandleState:       d.Handle.State(),
	}
}
