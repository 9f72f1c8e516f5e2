package zsel

import "time"

const (
	defaultWriteTimeout = 30 * time.Second
	defaultReadTimeout  = 30 * time.Second
)

type options struct {
	maxSelectors   int
	writeTimeout   time.Duration
	readTimeout    time.Duration
	readBufferSize int
	keepAlive      time.Duration
	noDelay        bool
	pool           SelectorPool
}

// Option configures a Transport.
type Option func(o *options)

func newOptions(opts []Option) *options {
	var o = &options{
		maxSelectors:   defaultMaxSelectors,
		writeTimeout:   defaultWriteTimeout,
		readTimeout:    defaultReadTimeout,
		readBufferSize: pageSize,
		noDelay:        true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMaxSelectors bounds the number of live temporary selectors.
func WithMaxSelectors(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSelectors = n
		}
	}
}

// WithSelectorPool replaces the built-in selector pool. The transport does
// not close a pool it did not create.
func WithSelectorPool(pool SelectorPool) Option {
	return func(o *options) {
		o.pool = pool
	}
}

// WithWriteTimeout sets the default write timeout of wrapped connections.
// Zero waits without bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.writeTimeout = d
		}
	}
}

// WithReadTimeout sets the default read timeout of wrapped connections.
// Zero waits without bound.
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.readTimeout = d
		}
	}
}

// WithReadBufferSize sets the buffer size allocated per read.
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBufferSize = n
		}
	}
}

// WithKeepAlive enables tcp keep-alive on wrapped connections.
func WithKeepAlive(d time.Duration) Option {
	return func(o *options) {
		o.keepAlive = d
	}
}

// WithNoDelay toggles TCP_NODELAY on wrapped tcp connections. Enabled by default.
func WithNoDelay(noDelay bool) Option {
	return func(o *options) {
		o.noDelay = noDelay
	}
}
