package zsel

import (
	"runtime"
	"sync/atomic"

	"github.com/zhihanii/zlog"
	"go.uber.org/multierr"
)

const defaultMaxSelectors = 32

// SelectorPool lends and reclaims temporary selectors.
type SelectorPool interface {
	// Poll returns an idle selector, or nil when none is available.
	// A nil result is a normal outcome under load.
	Poll() Selector
	// Recycle cancels key and returns sel to the pool. Either may be nil.
	Recycle(sel Selector, key SelectionKey)
	// IsOpen reports false once the pool is closed. A closed pool never
	// lends again.
	IsOpen() bool
}

// TemporarySelectorPool is a bounded SelectorPool backed by epoll instances.
// Selectors are created lazily up to the limit.
type TemporarySelectorPool struct {
	locked  int32
	first   *selectorNode
	spare   *selectorNode // unused nodes
	max     int32
	live    int32 // selectors created and not yet closed
	idle    int32
	closed  int32
	misses  uint64
	openSel func() (Selector, error)
}

type selectorNode struct {
	sel  Selector
	next *selectorNode
}

var _ SelectorPool = (*TemporarySelectorPool)(nil)

// NewTemporarySelectorPool returns a pool holding at most max live selectors.
func NewTemporarySelectorPool(max int) *TemporarySelectorPool {
	if max < 1 {
		max = defaultMaxSelectors
	}
	return &TemporarySelectorPool{
		max: int32(max),
		openSel: func() (Selector, error) {
			return openSelector()
		},
	}
}

func (p *TemporarySelectorPool) Poll() Selector {
	if p.isClosed() {
		return nil
	}
	p.lock()
	if n := p.first; n != nil {
		p.first = n.next
		sel := n.sel
		n.sel, n.next, p.spare = nil, p.spare, n
		p.unlock()
		atomic.AddInt32(&p.idle, -1)
		return sel
	}
	p.unlock()

	// reserve a slot before creating
	for {
		live := atomic.LoadInt32(&p.live)
		if live >= p.max {
			atomic.AddUint64(&p.misses, 1)
			return nil
		}
		if atomic.CompareAndSwapInt32(&p.live, live, live+1) {
			break
		}
	}
	sel, err := p.openSel()
	if err != nil {
		atomic.AddInt32(&p.live, -1)
		zlog.Errorf("temporary selector create failed: %v", err)
		return nil
	}
	return sel
}

// Recycle implements SelectorPool.
func (p *TemporarySelectorPool) Recycle(sel Selector, key SelectionKey) {
	if key != nil {
		if err := key.Cancel(); err != nil {
			zlog.Errorf("selection key[fd=%d] cancel failed: %v", key.Fd(), err)
		}
	}
	if sel == nil {
		return
	}
	if sel.IsOpen() {
		// flush readiness left over from the cancelled key
		if _, err := sel.SelectNow(); err != nil {
			zlog.Errorf("temporary selector flush failed: %v", err)
			p.discard(sel)
			return
		}
		sel.ClearSelected()
	}
	p.offer(sel)
}

func (p *TemporarySelectorPool) offer(sel Selector) {
	if p.isClosed() || !sel.IsOpen() {
		p.discard(sel)
		return
	}
	p.lock()
	n := p.spare
	if n != nil {
		p.spare = n.next
	} else {
		n = &selectorNode{}
	}
	n.sel, n.next = sel, p.first
	p.first = n
	p.unlock()
	atomic.AddInt32(&p.idle, 1)

	// Close raced with us, drain what is left.
	if p.isClosed() {
		p.drain()
	}
}

func (p *TemporarySelectorPool) discard(sel Selector) {
	atomic.AddInt32(&p.live, -1)
	if err := sel.Close(); err != nil {
		zlog.Errorf("temporary selector close failed: %v", err)
	}
}

// Close closes every idle selector. Selectors on loan are closed when recycled.
func (p *TemporarySelectorPool) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}
	return p.drain()
}

func (p *TemporarySelectorPool) drain() (err error) {
	p.lock()
	n := p.first
	p.first = nil
	p.unlock()
	for ; n != nil; n = n.next {
		atomic.AddInt32(&p.idle, -1)
		atomic.AddInt32(&p.live, -1)
		err = multierr.Append(err, n.sel.Close())
	}
	return err
}

// IsOpen implements SelectorPool.
func (p *TemporarySelectorPool) IsOpen() bool {
	return !p.isClosed()
}

// Size returns the number of live selectors, idle or on loan.
func (p *TemporarySelectorPool) Size() int {
	return int(atomic.LoadInt32(&p.live))
}

// Idle returns the number of selectors waiting in the pool.
func (p *TemporarySelectorPool) Idle() int {
	return int(atomic.LoadInt32(&p.idle))
}

// Misses returns how many times Poll found the pool exhausted.
func (p *TemporarySelectorPool) Misses() uint64 {
	return atomic.LoadUint64(&p.misses)
}

func (p *TemporarySelectorPool) isClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}

func (p *TemporarySelectorPool) lock() {
	for !atomic.CompareAndSwapInt32(&p.locked, 0, 1) {
		runtime.Gosched()
	}
}

func (p *TemporarySelectorPool) unlock() {
	atomic.StoreInt32(&p.locked, 0)
}
