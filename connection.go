package zsel

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhihanii/zlog"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Connection is a channel that a temporary selector can drive.
// Only selectable sockets implement it; see Transport.Wrap.
type Connection interface {
	Fd() int
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	// WriteTimeout is the default timeout of a blocking write.
	WriteTimeout() time.Duration
	// ReadTimeout is the default timeout of a blocking read.
	ReadTimeout() time.Duration
	// WriteLocker serializes writers for the whole write loop.
	WriteLocker() sync.Locker
	// ReadLocker serializes readers for the whole read loop.
	ReadLocker() sync.Locker
}

// Conn is a Connection owned by a Transport.
type Conn interface {
	Connection
	Readable[*Buffer, net.Addr]

	// Write writes msg to the connected peer and blocks until it is fully
	// written or fails. The outcome is reported to h.
	Write(msg WritableMessage, h CompletionHandler[*WriteResult], opts ...CallOption)
	// WriteTo is Write with an explicit destination, for datagram sockets.
	WriteTo(dst net.Addr, msg WritableMessage, h CompletionHandler[*WriteResult], opts ...CallOption)

	IsActive() bool
	SetWriteTimeout(timeout time.Duration) error
	SetReadTimeout(timeout time.Duration) error
	SetIdleTimeout(timeout time.Duration) error
	AddCloseCallback(callback CloseCallback) error
	LoadValue() any
	StoreValue(v any)
	Close() error
}

type connection struct {
	netFD
	locker

	transport      *Transport
	writeMu        sync.Mutex
	readMu         sync.Mutex
	writeTimeout   int64 // time.Duration
	readTimeout    int64 // time.Duration
	readBufferSize int
	closeCallbacks atomic.Value
	finalized      int32

	// origin is the wrapped net.Conn, file the duplicated descriptor.
	origin net.Conn
	file   *os.File

	value atomic.Value
}

var _ Conn = (*connection)(nil)

func (c *connection) WriteTimeout() time.Duration {
	return time.Duration(atomic.LoadInt64(&c.writeTimeout))
}

func (c *connection) ReadTimeout() time.Duration {
	return time.Duration(atomic.LoadInt64(&c.readTimeout))
}

func (c *connection) WriteLocker() sync.Locker {
	return &c.writeMu
}

func (c *connection) ReadLocker() sync.Locker {
	return &c.readMu
}

// SetWriteTimeout implements Conn.
func (c *connection) SetWriteTimeout(timeout time.Duration) error {
	if timeout >= 0 {
		atomic.StoreInt64(&c.writeTimeout, int64(timeout))
	}
	return nil
}

// SetReadTimeout implements Conn.
func (c *connection) SetReadTimeout(timeout time.Duration) error {
	if timeout >= 0 {
		atomic.StoreInt64(&c.readTimeout, int64(timeout))
	}
	return nil
}

// SetIdleTimeout implements Conn. Only tcp connections are affected.
func (c *connection) SetIdleTimeout(timeout time.Duration) error {
	if timeout > 0 && c.sotype == unix.SOCK_STREAM && isTCP(c.network) {
		return SetKeepAlive(c.fd, int(timeout.Seconds()))
	}
	return nil
}

func (c *connection) LoadValue() any {
	return c.value.Load()
}

func (c *connection) StoreValue(v any) {
	c.value.Store(v)
}

// IsActive implements Conn.
func (c *connection) IsActive() bool {
	return c.isCloseBy(none)
}

// Write implements Conn.
func (c *connection) Write(msg WritableMessage, h CompletionHandler[*WriteResult], opts ...CallOption) {
	c.WriteTo(nil, msg, h, opts...)
}

// WriteTo implements Conn.
func (c *connection) WriteTo(dst net.Addr, msg WritableMessage, h CompletionHandler[*WriteResult], opts ...CallOption) {
	if !c.IsActive() {
		if h != nil {
			h.Failed(ErrConnClosed)
		}
		return
	}
	c.writer().Write(c, dst, msg, hupHandler[*WriteResult]{c: c, h: h}, opts...)
}

// ReadFuture implements Readable. The read runs on the task pool.
func (c *connection) ReadFuture() *Future[*ReadResult[*Buffer, net.Addr]] {
	var f = NewFuture[*ReadResult[*Buffer, net.Addr]]()
	c.transport.submit(func() {
		c.ReadWith(f)
	})
	return f
}

// ReadWith implements Readable.
func (c *connection) ReadWith(h CompletionHandler[*ReadResult[*Buffer, net.Addr]]) {
	if !c.IsActive() {
		if h != nil {
			h.Failed(ErrConnClosed)
		}
		return
	}
	var buf = NewBuffer(c.readBufferSize)
	c.transport.reader.Read(c, buf, hupHandler[*ReadResult[*Buffer, net.Addr]]{c: c, h: h})
}

// Close implements Conn.
func (c *connection) Close() error {
	if c.closeBy(user) || c.isCloseBy(peer) {
		return c.closeCallback()
	}
	return nil
}

func (c *connection) writer() *Writer {
	if c.sotype == unix.SOCK_DGRAM {
		return c.transport.datagramWriter
	}
	return c.transport.streamWriter
}

// initNetFD takes ownership of the descriptor behind conn.
func (c *connection) initNetFD(conn net.Conn) (err error) {
	switch conn := conn.(type) {
	case *netFD:
		c.netFD = netFD{
			fd:         conn.fd,
			sotype:     conn.sotype,
			network:    conn.network,
			localAddr:  conn.localAddr,
			remoteAddr: conn.remoteAddr,
		}
	case FDConn:
		c.netFD = netFD{fd: conn.Fd(), localAddr: conn.LocalAddr(), remoteAddr: conn.RemoteAddr()}
		c.origin = conn
	case *net.TCPConn:
		c.file, err = conn.File()
	case *net.UDPConn:
		c.file, err = conn.File()
	case *net.UnixConn:
		c.file, err = conn.File()
	default:
		return invalidArgument("connection should expose a socket descriptor")
	}
	if err != nil {
		return err
	}
	if c.file != nil {
		c.origin = conn
		c.netFD = netFD{fd: int(c.file.Fd()), localAddr: conn.LocalAddr(), remoteAddr: conn.RemoteAddr()}
	}
	if c.network == "" && c.localAddr != nil {
		c.network = c.localAddr.Network()
	}
	if c.sotype, err = socketType(c.fd); err != nil {
		return invalidArgument("not a socket: " + err.Error())
	}
	if c.sotype != unix.SOCK_STREAM && c.sotype != unix.SOCK_DGRAM {
		return invalidArgument("socket type should be stream or datagram")
	}
	return unix.SetNonblock(c.fd, true)
}

func (c *connection) initFinalizer() {
	c.AddCloseCallback(func(c *connection) (err error) {
		switch {
		case c.file != nil:
			// the duplicated file owns the descriptor
			atomic.StoreUint32(&c.netFD.closed, 1)
			err = multierr.Append(c.file.Close(), c.origin.Close())
		case c.origin != nil:
			atomic.StoreUint32(&c.netFD.closed, 1)
			err = c.origin.Close()
		default:
			err = c.netFD.Close()
		}
		return err
	})
}

type CloseCallback func(c *connection) error

type closeCallbackNode struct {
	cb  CloseCallback
	pre *closeCallbackNode
}

func (c *connection) AddCloseCallback(callback CloseCallback) error {
	if callback == nil {
		return nil
	}
	var node = &closeCallbackNode{
		cb: callback,
	}
	if pre := c.closeCallbacks.Load(); pre != nil {
		node.pre = pre.(*closeCallbackNode)
	}
	c.closeCallbacks.Store(node)
	return nil
}

// closeCallback runs the callbacks once, newest first.
func (c *connection) closeCallback() (err error) {
	if !atomic.CompareAndSwapInt32(&c.finalized, 0, 1) {
		return nil
	}
	var latest = c.closeCallbacks.Load()
	if latest == nil {
		return nil
	}
	for node := latest.(*closeCallbackNode); node != nil; node = node.pre {
		err = multierr.Append(err, node.cb(c))
	}
	return err
}

// onHup marks the connection closed by peer. The descriptor is released
// when the user calls Close.
func (c *connection) onHup(cause error) {
	if c.closeBy(peer) {
		zlog.Infof("connection[fd=%d] closed by peer: %v", c.fd, cause)
	}
}

func isHangup(err error) bool {
	return errors.Is(err, ErrPeerDisconnected) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.ECONNRESET)
}

// hupHandler forwards to h and records peer hangups on the connection.
type hupHandler[R any] struct {
	c *connection
	h CompletionHandler[R]
}

func (h hupHandler[R]) Completed(result R) {
	if h.h != nil {
		h.h.Completed(result)
	}
}

func (h hupHandler[R]) Failed(err error) {
	if isHangup(err) {
		h.c.onHup(err)
	}
	if h.h != nil {
		h.h.Failed(err)
	}
}

func isTCP(network string) bool {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return true
	}
	return false
}
