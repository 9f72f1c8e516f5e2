package zsel

import (
	"net"
	"reflect"

	"github.com/zhihanii/zlog"
)

// maxStallAttempts is the number of consecutive zero-progress writes, each
// followed by a selector wait with nothing ready, tolerated before the peer
// is assumed gone.
//
// TODO: whether this should be configurable is still an open question; keep
// it fixed until that is settled.
const maxStallAttempts = 2

// writeNowFunc makes one non-blocking write attempt and returns the number of
// bytes the channel accepted. It advances msg and result.
type writeNowFunc func(conn Connection, dst net.Addr, msg WritableMessage, result *WriteResult) (int, error)

// Writer completes a write within the calling goroutine. When the channel
// stops accepting data it waits for writability on a selector borrowed from
// the pool instead of going through a poller.
type Writer struct {
	pool     SelectorPool
	writeNow writeNowFunc
}

// NewStreamWriter returns a Writer for stream sockets.
func NewStreamWriter(pool SelectorPool) *Writer {
	return &Writer{pool: pool, writeNow: writeStream}
}

// NewDatagramWriter returns a Writer for datagram sockets. Each message is
// sent as one datagram to the destination, or to the connected peer when the
// destination is nil.
func NewDatagramWriter(pool SelectorPool) *Writer {
	return &Writer{pool: pool, writeNow: writeDatagram}
}

func (w *Writer) SelectorPool() SelectorPool {
	return w.pool
}

// Write writes msg to conn and reports the outcome to h exactly once.
//
// Without WithTimeout each wait for writability is bounded by
// conn.WriteTimeout(). On success the push-back hook (if any) is told first,
// then h.Completed runs, then msg is released. On failure h.Failed runs and
// msg is left to the caller, possibly partially written.
func (w *Writer) Write(conn Connection, dst net.Addr, msg WritableMessage, h CompletionHandler[*WriteResult], opts ...CallOption) {
	if msg == nil {
		failure(invalidArgument("message cannot be nil"), h)
		return
	}
	if isNilConnection(conn) {
		failure(invalidArgument("connection should be selectable and cannot be nil"), h)
		return
	}

	var o = newCallOptions(opts)
	var timeout = o.timeout
	if !o.hasTimeout {
		timeout = conn.WriteTimeout().Milliseconds()
	}

	var result = &WriteResult{Conn: conn, Message: msg, Dst: dst}
	if _, err := w.write0(conn, dst, msg, result, timeout); err != nil {
		failure(err, h)
		return
	}

	// The write has already completed, so there is nothing to throttle;
	// acceptance is reported afterwards.
	if o.pushBack != nil {
		o.pushBack.OnAccept(conn, msg)
	}
	if h != nil {
		h.Completed(result)
	}
	if err := msg.Release(); err != nil {
		zlog.Errorf("message release failed: %v", err)
	}
}

// write0 loops until msg is empty. timeoutMs bounds every single wait, it is
// not a deadline for the whole call.
func (w *Writer) write0(conn Connection, dst net.Addr, msg WritableMessage, result *WriteResult, timeoutMs int64) (written int64, err error) {
	var tmp = tmpArtifacts{pool: w.pool}
	defer tmp.release()

	var mu = conn.WriteLocker()
	mu.Lock()
	defer mu.Unlock()

	var n, ready, attempts int
	for msg.HasRemaining() {
		n, err = w.writeNow(conn, dst, msg, result)
		if err != nil {
			return written, err
		}
		if n > 0 {
			attempts = 0
			written += int64(n)
			continue
		}

		attempts++
		if !tmp.held() {
			var ok bool
			if ok, err = tmp.acquire(conn.Fd(), OpWrite); err != nil {
				return written, err
			}
			if !ok {
				// pool exhausted, retry the direct write
				continue
			}
		} else {
			tmp.sel.ClearSelected()
		}

		if ready, err = tmp.sel.Select(timeoutMs); err != nil {
			return written, err
		}
		if ready == 0 && attempts > maxStallAttempts {
			zlog.Infof("write to fd[%d] stalled %d times, assume peer disconnected", conn.Fd(), attempts)
			return written, &IOError{Op: "write", Err: ErrPeerDisconnected}
		}
	}
	return written, nil
}

// CanWrite always reports true: the write blocks until it completes.
func (w *Writer) CanWrite(conn Connection) bool {
	return true
}

// NotifyWritePossible calls h.OnWritePossible at once. A returned error or a
// panic is handed to h.OnError.
func (w *Writer) NotifyWritePossible(conn Connection, h WriteHandler) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r}
			}
		}()
		err = h.OnWritePossible()
	}()
	if err != nil {
		h.OnError(err)
	}
}

func writeStream(conn Connection, dst net.Addr, msg WritableMessage, result *WriteResult) (int, error) {
	n, err := writeFD(conn.Fd(), msg.Bytes())
	if err != nil || n == 0 {
		return 0, err
	}
	if err = msg.Skip(n); err != nil {
		return 0, err
	}
	result.Written += int64(n)
	return n, nil
}

func writeDatagram(conn Connection, dst net.Addr, msg WritableMessage, result *WriteResult) (int, error) {
	n, err := sendtoFD(conn.Fd(), msg.Bytes(), dst)
	if err != nil || n == 0 {
		return 0, err
	}
	if err = msg.Skip(n); err != nil {
		return 0, err
	}
	result.Written += int64(n)
	return n, nil
}

func failure[R any](err error, h CompletionHandler[R]) {
	if h != nil {
		h.Failed(err)
	}
}

// isNilConnection also catches a typed nil of any Connection implementation.
func isNilConnection(conn Connection) bool {
	if conn == nil {
		return true
	}
	switch v := reflect.ValueOf(conn); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
