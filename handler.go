package zsel

import "time"

// PushBackHandler is told when a message has been accepted by the channel.
//
// Writers in this package invoke OnAccept only after the whole message is
// written. A panic from OnAccept is not recovered: it unwinds through Write
// and the completion handler is not called. This differs from
// NotifyWritePossible, which captures failures of its handler; the two are
// kept as they are until the intended behavior is confirmed.
type PushBackHandler interface {
	OnAccept(conn Connection, msg WritableMessage)
}

// PushBackFunc adapts a function to PushBackHandler.
type PushBackFunc func(conn Connection, msg WritableMessage)

func (f PushBackFunc) OnAccept(conn Connection, msg WritableMessage) {
	f(conn, msg)
}

// WriteHandler is notified when a connection can accept more data.
type WriteHandler interface {
	OnWritePossible() error
	OnError(err error)
}

// MessageCloner copies a message before it is queued. Writers that complete
// within the call never queue and ignore it.
type MessageCloner func(conn Connection, msg WritableMessage) WritableMessage

type callOptions struct {
	timeout    int64 // milliseconds, valid when hasTimeout
	hasTimeout bool
	pushBack   PushBackHandler
	cloner     MessageCloner
}

// CallOption configures a single read or write call.
type CallOption func(o *callOptions)

// WithTimeout overrides the connection's timeout for one call.
// The value is truncated to milliseconds.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout, o.hasTimeout = d.Milliseconds(), true
	}
}

// WithPushBack sets the post-write acceptance hook.
func WithPushBack(h PushBackHandler) CallOption {
	return func(o *callOptions) {
		o.pushBack = h
	}
}

// WithMessageCloner is accepted for parity with queueing writers.
func WithMessageCloner(c MessageCloner) CallOption {
	return func(o *callOptions) {
		o.cloner = c
	}
}

func newCallOptions(opts []CallOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
