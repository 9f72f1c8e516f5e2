package zsel

import (
	"context"
	"net"

	"github.com/zhihanii/taskpool"
	"github.com/zhihanii/zlog"
	"golang.org/x/sys/unix"
)

// Transport owns the temporary selector pool and the blocking reader and
// writers that share it.
type Transport struct {
	o              *options
	ctx            context.Context
	pool           SelectorPool
	ownPool        *TemporarySelectorPool
	streamWriter   *Writer
	datagramWriter *Writer
	reader         *Reader
}

func NewTransport(opts ...Option) *Transport {
	var t = &Transport{
		o:   newOptions(opts),
		ctx: context.Background(),
	}
	t.pool = t.o.pool
	if t.pool == nil {
		t.ownPool = NewTemporarySelectorPool(t.o.maxSelectors)
		t.pool = t.ownPool
	}
	t.streamWriter = NewStreamWriter(t.pool)
	t.datagramWriter = NewDatagramWriter(t.pool)
	t.reader = NewReader(t.pool)
	return t
}

// Wrap takes ownership of conn. conn must expose a stream or datagram socket
// descriptor, otherwise ErrInvalidArgument is returned and conn is left untouched.
func (t *Transport) Wrap(conn net.Conn) (Conn, error) {
	if conn == nil {
		return nil, invalidArgument("connection cannot be nil")
	}
	var c = &connection{
		transport:      t,
		writeTimeout:   int64(t.o.writeTimeout),
		readTimeout:    int64(t.o.readTimeout),
		readBufferSize: t.o.readBufferSize,
	}
	if err := c.initNetFD(conn); err != nil {
		if c.file != nil {
			c.file.Close()
		}
		return nil, err
	}
	c.initFinalizer()

	if c.sotype == unix.SOCK_STREAM && isTCP(c.network) {
		if err := setTCPNoDelay(c.fd, t.o.noDelay); err != nil {
			zlog.Errorf("connection[fd=%d] set TCP_NODELAY failed: %v", c.fd, err)
		}
		if err := c.SetIdleTimeout(t.o.keepAlive); err != nil {
			zlog.Errorf("connection[fd=%d] set keep-alive failed: %v", c.fd, err)
		}
	}
	return c, nil
}

func (t *Transport) StreamWriter() *Writer {
	return t.streamWriter
}

func (t *Transport) DatagramWriter() *Writer {
	return t.datagramWriter
}

func (t *Transport) Reader() *Reader {
	return t.reader
}

func (t *Transport) SelectorPool() SelectorPool {
	return t.pool
}

// Close closes the selector pool if the transport created it.
// Wrapped connections stay open.
func (t *Transport) Close() error {
	if t.ownPool != nil {
		return t.ownPool.Close()
	}
	return nil
}

func (t *Transport) submit(task func()) {
	taskpool.Submit(t.ctx, task)
}
