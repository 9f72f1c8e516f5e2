package zsel

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type readRecorder struct {
	completed []*ReadResult[*Buffer, net.Addr]
	failed    []error
}

func (r *readRecorder) Completed(result *ReadResult[*Buffer, net.Addr]) {
	r.completed = append(r.completed, result)
}

func (r *readRecorder) Failed(err error) {
	r.failed = append(r.failed, err)
}

func TestConnReadWith(t *testing.T) {
	var tr = NewTransport(WithReadTimeout(time.Second))
	defer tr.Close()
	conn, peer := wrapPair(t, tr, unix.SOCK_STREAM)

	go func() {
		time.Sleep(10 * time.Millisecond)
		writeFD(peer, []byte("hello"))
	}()

	var rec = &readRecorder{}
	conn.ReadWith(rec)

	require.Empty(t, rec.failed)
	require.Len(t, rec.completed, 1)
	assert.Equal(t, 5, rec.completed[0].Read)
	assert.Equal(t, "hello", string(rec.completed[0].Message.Bytes()))
	assert.Same(t, conn, rec.completed[0].Conn)

	var pool = tr.SelectorPool().(*TemporarySelectorPool)
	assert.Equal(t, 1, pool.Idle())
}

func TestConnReadFuture(t *testing.T) {
	var tr = NewTransport(WithReadTimeout(time.Second))
	defer tr.Close()
	conn, peer := wrapPair(t, tr, unix.SOCK_STREAM)

	_, err := writeFD(peer, []byte("future"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := conn.ReadFuture().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "future", string(result.Message.Bytes()))
}

func TestConnReadTimeout(t *testing.T) {
	var tr = NewTransport()
	defer tr.Close()
	conn, _ := wrapPair(t, tr, unix.SOCK_STREAM)
	require.NoError(t, conn.SetReadTimeout(20*time.Millisecond))

	var rec = &readRecorder{}
	var start = time.Now()
	conn.ReadWith(rec)

	require.Len(t, rec.failed, 1)
	assert.ErrorIs(t, rec.failed[0], ErrReadTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.True(t, conn.IsActive())
}

func TestConnReadEOF(t *testing.T) {
	var tr = NewTransport(WithReadTimeout(time.Second))
	defer tr.Close()
	conn, peer := wrapPair(t, tr, unix.SOCK_STREAM)
	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))

	var rec = &readRecorder{}
	conn.ReadWith(rec)

	require.Len(t, rec.failed, 1)
	assert.ErrorIs(t, rec.failed[0], io.EOF)
	assert.False(t, conn.IsActive())
}

func TestReaderExplicitTimeoutAndDatagramSource(t *testing.T) {
	var tr = NewTransport()
	defer tr.Close()

	src, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer src.Close()
	dst, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	conn, err := tr.Wrap(dst)
	require.NoError(t, err)
	defer conn.Close()

	var rec = &readRecorder{}
	tr.Reader().Read(conn, NewBuffer(64), rec, WithTimeout(10*time.Millisecond))
	require.Len(t, rec.failed, 1)
	assert.ErrorIs(t, rec.failed[0], ErrReadTimeout)

	_, err = src.WriteTo([]byte("dgram"), conn.LocalAddr())
	require.NoError(t, err)

	rec = &readRecorder{}
	tr.Reader().Read(conn, NewBuffer(64), rec, WithTimeout(time.Second))
	require.Len(t, rec.completed, 1)
	assert.Equal(t, "dgram", string(rec.completed[0].Message.Bytes()))
	from, ok := rec.completed[0].Src.(*net.UDPAddr)
	require.True(t, ok)
	assert.Equal(t, src.LocalAddr().(*net.UDPAddr).Port, from.Port)
}

func TestReaderInvalidArguments(t *testing.T) {
	var r = NewReader(&fakePool{})
	var rec = &readRecorder{}

	r.Read(nil, NewBuffer(8), rec)
	r.Read(&fakeConn{}, nil, rec)
	assert.NotPanics(t, func() {
		r.Read((*fakeConn)(nil), NewBuffer(8), rec)
	})

	require.Len(t, rec.failed, 3)
	assert.ErrorIs(t, rec.failed[0], ErrInvalidArgument)
	assert.ErrorIs(t, rec.failed[1], ErrInvalidArgument)
	assert.ErrorIs(t, rec.failed[2], ErrInvalidArgument)
}

func TestReaderClosedPoolFails(t *testing.T) {
	var tr = NewTransport(WithReadTimeout(time.Second))
	conn, _ := wrapPair(t, tr, unix.SOCK_STREAM)
	require.NoError(t, tr.Close())

	var rec = &readRecorder{}
	var done = make(chan struct{})
	go func() {
		defer close(done)
		conn.ReadWith(rec)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after the pool was closed")
	}

	require.Len(t, rec.failed, 1)
	assert.ErrorIs(t, rec.failed[0], ErrSelectorClosed)
}

func TestReaderPoolExhaustedHonoursTimeout(t *testing.T) {
	var tr = NewTransport(WithMaxSelectors(1), WithReadTimeout(20*time.Millisecond))
	defer tr.Close()
	conn, _ := wrapPair(t, tr, unix.SOCK_STREAM)

	var pool = tr.SelectorPool().(*TemporarySelectorPool)
	var sel = pool.Poll()
	require.NotNil(t, sel)
	defer pool.Recycle(sel, nil)
	require.Nil(t, pool.Poll())

	var rec = &readRecorder{}
	var done = make(chan struct{})
	var start = time.Now()
	go func() {
		defer close(done)
		conn.ReadWith(rec)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read ignored its timeout while the pool was exhausted")
	}

	require.Len(t, rec.failed, 1)
	assert.ErrorIs(t, rec.failed[0], ErrReadTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSocketTypeOfUsesCachedType(t *testing.T) {
	// fd -1 would fail a getsockopt, the cached type must be used instead
	var c = &connection{netFD: netFD{fd: -1, sotype: unix.SOCK_DGRAM}}
	assert.Equal(t, unix.SOCK_DGRAM, socketTypeOf(c))

	a, _ := socketPair(t, unix.SOCK_DGRAM)
	var other = &fdConn{fd: a}
	assert.Equal(t, unix.SOCK_DGRAM, socketTypeOf(other))
}

// fdConn is a Connection that is not a *connection.
type fdConn struct {
	fakeConn
	fd int
}

func (c *fdConn) Fd() int { return c.fd }
