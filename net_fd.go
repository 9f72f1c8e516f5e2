package zsel

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

// FDConn is a net.Conn backed by a socket descriptor.
type FDConn interface {
	net.Conn
	Fd() int
}

type netFD struct {
	// file descriptor, non-blocking
	fd int
	// closed marks whether fd has expired
	closed uint32
	// syscall.SOCK_STREAM or syscall.SOCK_DGRAM
	sotype     int
	network    string
	localAddr  net.Addr
	remoteAddr net.Addr
}

var _ FDConn = (*netFD)(nil)

func (c *netFD) Fd() (fd int) {
	return c.fd
}

// Read implements FDConn.
func (c *netFD) Read(b []byte) (n int, err error) {
	return readFD(c.fd, c.sotype, b)
}

// Write implements FDConn.
func (c *netFD) Write(b []byte) (n int, err error) {
	return writeFD(c.fd, b)
}

// writeFD writes b to a non-blocking fd. Zero bytes with a nil error means
// the send buffer is full.
func writeFD(fd int, b []byte) (n int, err error) {
	n, err = unix.Write(fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// sendtoFD sends one datagram, which is accepted whole or not at all.
func sendtoFD(fd int, b []byte, dst net.Addr) (n int, err error) {
	if dst == nil {
		return writeFD(fd, b)
	}
	sa, err := addrToSockaddr(dst)
	if err != nil {
		return 0, err
	}
	if err = unix.Sendto(fd, b, 0, sa); err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	return len(b), nil
}

// readFD reads from a non-blocking fd. Zero bytes with a nil error means
// there is nothing to read right now; an orderly shutdown of a stream is io.EOF.
func readFD(fd, sotype int, b []byte) (n int, err error) {
	n, err = unix.Read(fd, b)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 && len(b) > 0 && sotype == unix.SOCK_STREAM {
		return 0, io.EOF
	}
	return n, nil
}

// recvfromFD receives one datagram and its source.
func recvfromFD(fd int, network string, b []byte) (n int, src net.Addr, err error) {
	n, sa, err := unix.Recvfrom(fd, b, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	if sa != nil {
		src = sockaddrToAddr(sa, network)
	}
	return n, src, nil
}

// Close will be executed only once.
func (c *netFD) Close() (err error) {
	if atomic.AddUint32(&c.closed, 1) != 1 {
		return nil
	}
	if c.fd > 0 {
		err = unix.Close(c.fd)
		if err != nil {
			zlog.Errorf("netFD[%d] close error: %s", c.fd, err.Error())
		}
	}
	return err
}

func (c *netFD) isClosed() bool {
	return atomic.LoadUint32(&c.closed) != 0
}

// LocalAddr implements FDConn.
func (c *netFD) LocalAddr() (addr net.Addr) {
	return c.localAddr
}

// RemoteAddr implements FDConn.
func (c *netFD) RemoteAddr() (addr net.Addr) {
	return c.remoteAddr
}

// Deadlines are replaced by the per-call timeouts of Reader and Writer.
func (c *netFD) SetDeadline(t time.Time) error {
	return errors.New("unsupported SetDeadline")
}

func (c *netFD) SetReadDeadline(t time.Time) error {
	return errors.New("unsupported SetReadDeadline")
}

func (c *netFD) SetWriteDeadline(t time.Time) error {
	return errors.New("unsupported SetWriteDeadline")
}
