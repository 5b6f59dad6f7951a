package serialport

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
)

const ioctlSetTermios = unix.TCSETS

// baud115200 8N1, no flow control, raw (non-canonical) mode.
func rawTermios() unix.Termios {
	var t unix.Termios
	t.Iflag = 0
	t.Oflag = 0
	t.Cflag = unix.CREAD | unix.CLOCAL | unix.CS8
	t.Lflag = 0
	for i := range t.Cc {
		t.Cc[i] = 0
	}
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	unix.CfSetispeed(&t, unix.B115200)
	unix.CfSetospeed(&t, unix.B115200)
	return t
}

// linePort is the Linux termios/poll implementation of Port.
type linePort struct {
	fd     int
	logger *logrus.Logger

	wakeR, wakeW int // self-pipe used to interrupt the poll loop on Write/Close

	mu       sync.Mutex
	readBuf  *ringbuffer.RingBuffer
	writeBuf []byte
	err      error
	notify   chan struct{} // signaled (non-blocking) whenever new data or an error lands
	closed   bool
}

// Open acquires the serial device at path, configures it for 115200 8N1
// non-blocking operation, and starts the background poll loop. The
// returned Port must be Closed on every exit path, including error paths.
func Open(path string, logger *logrus.Logger) (Port, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, wrapErr("open", err)
	}

	t := rawTermios()
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &t); err != nil {
		_ = unix.Close(fd)
		return nil, wrapErr("configure", err)
	}

	return newPortFromFD(fd, logger)
}

// newPortFromFD wires up the wake pipe and poll loop around an already
// opened, already configured file descriptor. Split out from Open so tests
// can drive a socketpair fd without touching termios (which rejects
// non-tty descriptors).
func newPortFromFD(fd int, logger *logrus.Logger) (Port, error) {
	if logger == nil {
		logger = logrus.New()
	}

	wakeR, wakeW, err := pipe2NonBlock()
	if err != nil {
		_ = unix.Close(fd)
		return nil, wrapErr("wake-pipe", err)
	}

	p := &linePort{
		fd:      fd,
		logger:  logger,
		wakeR:   wakeR,
		wakeW:   wakeW,
		readBuf: ringbuffer.New(4096),
		notify:  make(chan struct{}, 1),
	}

	go p.pollLoop()
	return p, nil
}

func pipe2NonBlock() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

func (p *linePort) pollLoop() {
	readBuf := make([]byte, 4096)
	for {
		p.mu.Lock()
		wantWrite := len(p.writeBuf) > 0
		p.mu.Unlock()

		events := int16(unix.POLLIN)
		if wantWrite {
			events |= unix.POLLOUT
		}
		fds := []unix.PollFd{
			{Fd: int32(p.fd), Events: events},
			{Fd: int32(p.wakeR), Events: unix.POLLIN},
		}

		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			p.fail(wrapErr("poll", err))
			return
		}
		if n == 0 {
			continue
		}

		if fds[1].Revents&unix.POLLIN != 0 {
			drain := make([]byte, 64)
			_, _ = unix.Read(p.wakeR, drain)
		}

		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			p.fail(wrapErr("poll", unix.EIO))
			return
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			n, err := unix.Read(p.fd, readBuf)
			if err != nil && err != unix.EAGAIN {
				p.fail(wrapErr("read", err))
				return
			}
			if n > 0 {
				p.mu.Lock()
				_, _ = p.readBuf.Write(readBuf[:n])
				p.mu.Unlock()
				p.signal()
			}
		}

		if fds[0].Revents&unix.POLLOUT != 0 {
			p.mu.Lock()
			pending := p.writeBuf
			p.mu.Unlock()
			if len(pending) > 0 {
				written, err := unix.Write(p.fd, pending)
				if err != nil && err != unix.EAGAIN {
					p.fail(wrapErr("write", err))
					return
				}
				if written > 0 {
					p.mu.Lock()
					p.writeBuf = p.writeBuf[written:]
					p.mu.Unlock()
				}
			}
		}

		p.mu.Lock()
		done := p.closed
		p.mu.Unlock()
		if done {
			return
		}
	}
}

func (p *linePort) fail(err error) {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
		p.logger.WithError(err).Error("serial port failed")
	}
	p.mu.Unlock()
	p.signal()
}

func (p *linePort) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *linePort) Read(ctx context.Context) ([]byte, error) {
	for {
		p.mu.Lock()
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return nil, err
		}
		if p.readBuf.Length() > 0 {
			data := make([]byte, p.readBuf.Length())
			_, _ = p.readBuf.Read(data)
			p.mu.Unlock()
			return data, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.notify:
		}
	}
}

func (p *linePort) Write(data []byte) error {
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return err
	}
	p.writeBuf = append(p.writeBuf, data...)
	p.mu.Unlock()

	_, _ = unix.Write(p.wakeW, []byte{0})
	return nil
}

func (p *linePort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	_, _ = unix.Write(p.wakeW, []byte{0})
	err := unix.Close(p.fd)
	_ = unix.Close(p.wakeR)
	_ = unix.Close(p.wakeW)
	return wrapErr("close", err)
}
