package adapter

import (
	"errors"
	"fmt"
)

// AdapterError marks a protocol mismatch with the adapter itself: an
// unmatched event line, or an outbound command that would exceed
// MaxCommandSize. The specific pending operation, if any, fails; the
// session continues.
type AdapterError struct {
	Msg string
}

func (e *AdapterError) Error() string { return "adapter: " + e.Msg }

func newAdapterError(format string, args ...any) *AdapterError {
	return &AdapterError{Msg: fmt.Sprintf(format, args...)}
}

// ConnectionKind enumerates the causes a ConnectionError can report.
type ConnectionKind string

const (
	ConnFailed        ConnectionKind = "conn_fail"
	UnexpectedDisconn ConnectionKind = "disconn"
	WriteFailed       ConnectionKind = "write_fail"
	ReadFailed        ConnectionKind = "read_fail"
	DisconnFailed     ConnectionKind = "disconn_fail"
	AdapterStopped    ConnectionKind = "stopped"
)

// ConnectionError reports a device-scoped connection failure: conn_fail,
// an unexpected disconn, write_fail, read_fail, or disconn_fail. The
// scheduler treats these as expected and merely warns.
type ConnectionError struct {
	Kind    ConnectionKind
	Address string
	Detail  string
}

func (e *ConnectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("connection %s: %s", e.Kind, e.Address)
	}
	return fmt.Sprintf("connection %s: %s: %s", e.Kind, e.Address, e.Detail)
}

// Is allows errors.Is to match ConnectionError values by Kind alone,
// so callers can write
// errors.Is(err, &ConnectionError{Kind: ConnFailed}) without caring about
// the address or detail.
func (e *ConnectionError) Is(target error) bool {
	var t *ConnectionError
	if !errors.As(target, &t) {
		return false
	}
	if t.Kind == "" {
		return true
	}
	return e.Kind == t.Kind
}

func newConnectionError(kind ConnectionKind, addr, detail string) *ConnectionError {
	return &ConnectionError{Kind: kind, Address: addr, Detail: detail}
}

// ErrNoPendingConnect is returned by Connect when another connect attempt
// is already pending adapter-wide, violating the single-pending-connect
// invariant.
var ErrNoPendingConnect = errors.New("adapter: a connect is already pending")

// ErrNotFullyDisconnected is returned by Connect when the target device is
// not fully disconnected.
var ErrNotFullyDisconnected = errors.New("adapter: device is not fully disconnected")
