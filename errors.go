package zsel

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument  = errors.New("zsel: invalid argument")
	ErrPeerDisconnected = errors.New("zsel: peer disconnected")
	ErrReadTimeout      = errors.New("zsel: read timeout")
	ErrSelectorClosed   = errors.New("zsel: selector closed")
	ErrConnClosed       = errors.New("zsel: connection closed")
)

// IOError marks a failure of the channel itself.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("zsel: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// PanicError carries a value recovered from a handler callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("zsel: handler panic: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func invalidArgument(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}
