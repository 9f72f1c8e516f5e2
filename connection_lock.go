package zsel

import "sync/atomic"

type who int32

const (
	none who = iota
	user
	peer
)

type key int32

/* State Diagram
+--------------+   user Close    +--------------+
|    active    |---------------->|  closed by   |
|   (none)     |---------------->|  user / peer |
+--------------+  write/read     +--------------+
                  sees hangup

- "closing" is set once; the first closer wins and runs the close callbacks.
- the write and read monitors are plain mutexes held by Writer and Reader.
*/

const (
	closing key = iota
	// total must be at the bottom.
	total
)

type locker struct {
	// keychain records who closed the connection, 0 while active.
	keychain [total]int32
}

func (l *locker) closeBy(w who) (success bool) {
	return atomic.CompareAndSwapInt32(&l.keychain[closing], 0, int32(w))
}

func (l *locker) isCloseBy(w who) (yes bool) {
	return atomic.LoadInt32(&l.keychain[closing]) == int32(w)
}
