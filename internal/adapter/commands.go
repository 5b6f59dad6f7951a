package adapter

import "fmt"

// MaxCommandSize is the hard limit on outbound command length, in bytes,
// counting the trailing newline: a command whose text is MaxCommandSize
// bytes or longer is refused. The adapter firmware's documented limit of
// 64 bytes undercounts what it actually accepts; 80 matches observed
// behavior. Reaching it fails the command with an error rather than
// panicking, since a command's length depends on caller-supplied data (a
// write payload's hex encoding).
const MaxCommandSize = 80

func cmdConn(addr string) string {
	return fmt.Sprintf("conn %s", addr)
}

func cmdDisconn(handle int) string {
	return fmt.Sprintf("disconn %d", handle)
}

func cmdRead(handle, attr int) string {
	return fmt.Sprintf("read %d %d", handle, attr)
}

func cmdWrite(handle, attr int, data []byte) string {
	return fmt.Sprintf("write %d %d %s", handle, attr, percentEncode(data))
}

func cmdEcho(data []byte) string {
	return fmt.Sprintf("echo %s", percentEncode(data))
}

func cmdNoop(data []byte) string {
	return fmt.Sprintf("noop %s", percentEncode(data))
}
