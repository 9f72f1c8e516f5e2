package zsel

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketPair returns a connected non-blocking unix socket pair, closed when the test ends.
func socketPair(t *testing.T, typ int) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// fillSendBuffer writes into fd until the kernel refuses more.
func fillSendBuffer(t *testing.T, fd int) {
	t.Helper()
	require.NoError(t, unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, block4k))
	var chunk = make([]byte, block1k)
	for {
		n, err := writeFD(fd, chunk)
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
}

func TestSelectorWritable(t *testing.T) {
	a, _ := socketPair(t, unix.SOCK_STREAM)
	sel, err := openSelector()
	require.NoError(t, err)
	defer sel.Close()

	key, err := sel.Register(a, OpWrite)
	require.NoError(t, err)
	assert.Equal(t, a, key.Fd())
	assert.Equal(t, OpWrite, key.Interest())

	n, err := sel.Select(100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotZero(t, key.ReadyOps()&OpWrite)

	sel.ClearSelected()
	assert.Zero(t, key.ReadyOps())
}

func TestEpollTimeout(t *testing.T) {
	assert.Equal(t, -1, epollTimeout(0))
	assert.Equal(t, -1, epollTimeout(-5))
	assert.Equal(t, 250, epollTimeout(250))
	assert.Equal(t, math.MaxInt32, epollTimeout(math.MaxInt32))
	// would wrap negative, and so unbounded, if truncated to 32 bits
	assert.Equal(t, math.MaxInt32, epollTimeout(1<<32-1))
	assert.Equal(t, math.MaxInt32, epollTimeout(math.MaxInt64))
}

func TestSelectorTimeoutWhenSendBufferFull(t *testing.T) {
	a, _ := socketPair(t, unix.SOCK_STREAM)
	fillSendBuffer(t, a)

	sel, err := openSelector()
	require.NoError(t, err)
	defer sel.Close()
	_, err = sel.Register(a, OpWrite)
	require.NoError(t, err)

	var start = time.Now()
	n, err := sel.Select(30)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSelectorReadable(t *testing.T) {
	a, b := socketPair(t, unix.SOCK_STREAM)
	sel, err := openSelector()
	require.NoError(t, err)
	defer sel.Close()

	key, err := sel.Register(a, OpRead)
	require.NoError(t, err)

	n, err := sel.SelectNow()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = writeFD(b, []byte("ping"))
	require.NoError(t, err)

	n, err = sel.Select(100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, OpRead, key.ReadyOps())
}

func TestSelectorReportsHangupAsReady(t *testing.T) {
	a, b := socketPair(t, unix.SOCK_STREAM)
	fillSendBuffer(t, a)

	sel, err := openSelector()
	require.NoError(t, err)
	defer sel.Close()
	key, err := sel.Register(a, OpWrite)
	require.NoError(t, err)

	require.NoError(t, unix.Shutdown(b, unix.SHUT_RDWR))

	n, err := sel.Select(100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotZero(t, key.ReadyOps()&OpWrite)
}

func TestSelectionKeyCancel(t *testing.T) {
	a, _ := socketPair(t, unix.SOCK_STREAM)
	sel, err := openSelector()
	require.NoError(t, err)
	defer sel.Close()

	key, err := sel.Register(a, OpWrite)
	require.NoError(t, err)
	assert.Equal(t, 1, sel.registered())

	require.NoError(t, key.Cancel())
	assert.Zero(t, sel.registered())
	require.NoError(t, key.Cancel())

	n, err := sel.Select(10)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the fd can be registered again after cancel
	_, err = sel.Register(a, OpWrite)
	require.NoError(t, err)
}

func TestSelectorClose(t *testing.T) {
	a, _ := socketPair(t, unix.SOCK_STREAM)
	sel, err := openSelector()
	require.NoError(t, err)
	key, err := sel.Register(a, OpWrite)
	require.NoError(t, err)

	require.NoError(t, sel.Close())
	assert.False(t, sel.IsOpen())
	require.NoError(t, sel.Close())
	require.NoError(t, key.Cancel())

	_, err = sel.Select(10)
	assert.ErrorIs(t, err, ErrSelectorClosed)
	_, err = sel.Register(a, OpWrite)
	assert.ErrorIs(t, err, ErrSelectorClosed)
}

func TestSelectorRegisterBadFd(t *testing.T) {
	sel, err := openSelector()
	require.NoError(t, err)
	defer sel.Close()

	_, err = sel.Register(-1, OpWrite)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, err, unix.EBADF)
}
