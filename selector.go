package zsel

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type Interest uint32

const (
	OpRead  Interest = 0x1
	OpWrite Interest = 0x2
)

// Selector is a short-lived multiplexor for a single channel.
type Selector interface {
	// Register binds fd to the selector for the given interest.
	Register(fd int, interest Interest) (SelectionKey, error)
	// Select waits up to timeoutMs milliseconds for readiness and returns the
	// number of ready keys. timeoutMs <= 0 waits without bound.
	Select(timeoutMs int64) (int, error)
	// SelectNow polls without waiting.
	SelectNow() (int, error)
	// ClearSelected forgets the ready set observed by the last Select.
	ClearSelected()
	IsOpen() bool
	Close() error
}

// SelectionKey is the registration of a channel with a Selector.
type SelectionKey interface {
	Fd() int
	Interest() Interest
	ReadyOps() Interest
	Cancel() error
}

const selectorEvents = 4

// epollSelector is a level-triggered epoll instance.
type epollSelector struct {
	mu     sync.Mutex
	epfd   int
	events [selectorEvents]unix.EpollEvent
	keys   map[int]*epollKey
	closed int32
}

func openSelector() (*epollSelector, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &IOError{Op: "epoll_create1", Err: err}
	}
	return &epollSelector{epfd: epfd, keys: make(map[int]*epollKey, 1)}, nil
}

func (s *epollSelector) Register(fd int, interest Interest) (SelectionKey, error) {
	if !s.IsOpen() {
		return nil, ErrSelectorClosed
	}
	var evt = unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &evt); err != nil {
		return nil, &IOError{Op: "epoll_ctl", Err: err}
	}
	var k = &epollKey{sel: s, fd: fd, interest: interest}
	s.mu.Lock()
	s.keys[fd] = k
	s.mu.Unlock()
	return k, nil
}

func (s *epollSelector) Select(timeoutMs int64) (int, error) {
	return s.wait(epollTimeout(timeoutMs))
}

// epollTimeout converts a timeout to the C int epoll_wait takes. Values that
// do not fit are clamped, never wrapped into an unbounded wait.
func epollTimeout(timeoutMs int64) int {
	switch {
	case timeoutMs <= 0:
		return -1
	case timeoutMs > math.MaxInt32:
		return math.MaxInt32
	}
	return int(timeoutMs)
}

func (s *epollSelector) SelectNow() (int, error) {
	return s.wait(0)
}

func (s *epollSelector) wait(msec int) (n int, err error) {
	if !s.IsOpen() {
		return 0, ErrSelectorClosed
	}
	for {
		n, err = unix.EpollWait(s.epfd, s.events[:], msec)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return 0, &IOError{Op: "epoll_wait", Err: err}
	}
	s.mu.Lock()
	for i := 0; i < n; i++ {
		if k, ok := s.keys[int(s.events[i].Fd)]; ok {
			k.ready |= epollToInterest(s.events[i].Events)
		}
	}
	s.mu.Unlock()
	return n, nil
}

func (s *epollSelector) ClearSelected() {
	s.mu.Lock()
	for _, k := range s.keys {
		k.ready = 0
	}
	s.mu.Unlock()
}

func (s *epollSelector) IsOpen() bool {
	return atomic.LoadInt32(&s.closed) == 0
}

// Close will be executed only once.
func (s *epollSelector) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.mu.Lock()
	s.keys = nil
	s.mu.Unlock()
	return unix.Close(s.epfd)
}

// registered reports how many keys are still bound.
func (s *epollSelector) registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

type epollKey struct {
	sel      *epollSelector
	fd       int
	interest Interest
	ready    Interest
}

func (k *epollKey) Fd() int {
	return k.fd
}

func (k *epollKey) Interest() Interest {
	return k.interest
}

func (k *epollKey) ReadyOps() Interest {
	k.sel.mu.Lock()
	defer k.sel.mu.Unlock()
	return k.ready
}

// Cancel removes the registration. A descriptor that was already closed
// has left the epoll set on its own and is not an error.
func (k *epollKey) Cancel() error {
	var s = k.sel
	s.mu.Lock()
	if s.keys == nil || s.keys[k.fd] != k {
		s.mu.Unlock()
		return nil
	}
	delete(s.keys, k.fd)
	s.mu.Unlock()

	err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, k.fd, nil)
	if err != nil && !errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		return &IOError{Op: "epoll_ctl", Err: err}
	}
	return nil
}

func interestToEpoll(interest Interest) uint32 {
	var events uint32 = unix.EPOLLERR | unix.EPOLLHUP
	if interest&OpRead != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&OpWrite != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

// epollToInterest maps error and hangup events onto every interest, so the
// following direct operation observes the failure.
func epollToInterest(events uint32) (ready Interest) {
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		return OpRead | OpWrite
	}
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		ready |= OpRead
	}
	if events&unix.EPOLLOUT != 0 {
		ready |= OpWrite
	}
	return ready
}
