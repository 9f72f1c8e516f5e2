package zsel

import (
	"net"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// Readable is the read side of a connection. M is the payload type and L the
// address type of the peer.
type Readable[M any, L any] interface {
	// ReadFuture starts a read and returns a handle to its result.
	ReadFuture() *Future[*ReadResult[M, L]]
	// ReadWith reads and reports the result to h.
	ReadWith(h CompletionHandler[*ReadResult[M, L]])
}

// Reader is the read counterpart of Writer: a direct read, and when nothing
// is available, one wait for readability on a borrowed selector.
type Reader struct {
	pool SelectorPool
}

func NewReader(pool SelectorPool) *Reader {
	return &Reader{pool: pool}
}

// Read fills the free space of buf with whatever the connection has, waiting
// at most the read timeout for data to arrive. A stream closed by the peer
// fails with io.EOF.
func (r *Reader) Read(conn Connection, buf *Buffer, h CompletionHandler[*ReadResult[*Buffer, net.Addr]], opts ...CallOption) {
	if buf == nil {
		failure(invalidArgument("buffer cannot be nil"), h)
		return
	}
	if isNilConnection(conn) {
		failure(invalidArgument("connection should be selectable and cannot be nil"), h)
		return
	}

	var o = newCallOptions(opts)
	var timeout = o.timeout
	if !o.hasTimeout {
		timeout = conn.ReadTimeout().Milliseconds()
	}

	var result = &ReadResult[*Buffer, net.Addr]{Conn: conn, Message: buf}
	if err := r.read0(conn, buf, result, timeout); err != nil {
		failure(err, h)
		return
	}
	if h != nil {
		h.Completed(result)
	}
}

func (r *Reader) read0(conn Connection, buf *Buffer, result *ReadResult[*Buffer, net.Addr], timeoutMs int64) (err error) {
	var tmp = tmpArtifacts{pool: r.pool}
	defer tmp.release()

	var mu = conn.ReadLocker()
	mu.Lock()
	defer mu.Unlock()

	if len(buf.tail()) == 0 {
		buf.grow(pageSize)
	}

	// An exhausted pool is retried without a selector, so the timeout is
	// enforced against a deadline as well.
	var deadline time.Time
	if timeoutMs > 0 {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}

	var sotype = socketTypeOf(conn)
	var n, ready int
	for {
		if n, err = readNow(conn, sotype, buf, result); err != nil || n > 0 {
			return err
		}
		if !tmp.held() {
			var ok bool
			if ok, err = tmp.acquire(conn.Fd(), OpRead); err != nil {
				return err
			}
			if !ok {
				if !deadline.IsZero() && !time.Now().Before(deadline) {
					return ErrReadTimeout
				}
				runtime.Gosched()
				continue
			}
		} else {
			tmp.sel.ClearSelected()
		}
		if ready, err = tmp.sel.Select(timeoutMs); err != nil {
			return err
		}
		if ready == 0 {
			return ErrReadTimeout
		}
	}
}

// socketTypeOf returns the socket type cached by connection, asking the
// kernel only for other Connection implementations.
func socketTypeOf(conn Connection) int {
	if c, ok := conn.(*connection); ok {
		return c.sotype
	}
	sotype, _ := socketType(conn.Fd())
	return sotype
}

func readNow(conn Connection, sotype int, buf *Buffer, result *ReadResult[*Buffer, net.Addr]) (n int, err error) {
	var network string
	if la := conn.LocalAddr(); la != nil {
		network = la.Network()
	}
	if sotype == unix.SOCK_DGRAM {
		var src net.Addr
		n, src, err = recvfromFD(conn.Fd(), network, buf.tail())
		if n > 0 {
			result.Src = src
		}
	} else {
		n, err = readFD(conn.Fd(), unix.SOCK_STREAM, buf.tail())
		if n > 0 {
			result.Src = conn.RemoteAddr()
		}
	}
	if n > 0 {
		buf.ack(n)
		result.Read += n
	}
	return n, err
}
