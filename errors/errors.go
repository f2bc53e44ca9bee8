package errors

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrServerShutdown occurs when the server is closing.
	ErrServerShutdown = errors.New("server is going to be shutdown")
	// ErrLoopShutdown is returned by the task that asks an event-loop to exit.
	ErrLoopShutdown = errors.New("event-loop is going to be shutdown")
	// ErrLoopClosed occurs when a task is posted to an event-loop that has already stopped.
	ErrLoopClosed = errors.New("event-loop has been closed")
	// ErrAcceptSocket occurs when acceptor does not accept the new connection properly.
	ErrAcceptSocket = errors.New("accept a new connection error")

	// ErrIndexOutOfRange occurs when a buffer is accessed outside of its bounds.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrBufferReleased occurs when a buffer is used after its last reference was released.
	ErrBufferReleased = errors.New("buffer has been released")

	// ErrBind marks a failed bind operation, see OpError.
	ErrBind = errors.New("bind failed")
	// ErrConnect marks a failed connect operation, see OpError.
	ErrConnect = errors.New("connect failed")
	// ErrClose marks a failed close operation, see OpError.
	ErrClose = errors.New("close failed")
	// ErrConnectTimeout occurs when a connect does not complete within the configured timeout.
	ErrConnectTimeout = errors.New("connection timed out")
	// ErrChannelClosed occurs when an operation is requested on a closed channel.
	ErrChannelClosed = errors.New("channel is closed")
	// ErrAlreadyConnected occurs when connect is requested on a connected channel.
	ErrAlreadyConnected = errors.New("channel is already connected")
	// ErrAlreadyBound occurs when bind is requested on a channel that already has a socket.
	ErrAlreadyBound = errors.New("channel is already bound")

	// ErrUnsupportedOperation occurs when an operation does not fit the channel's role.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrInvalidArgument occurs when an option value has the wrong type or range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDuplicateName occurs when a handler name is already present in a pipeline.
	ErrDuplicateName = errors.New("duplicate handler name")
	// ErrNotFound occurs when a handler name is not present in a pipeline.
	ErrNotFound = errors.New("handler not found")
	// ErrHandlerNotShareable occurs when a non-sharable handler instance is added twice.
	ErrHandlerNotShareable = errors.New("handler is not sharable")
	// ErrHandlerPanic wraps a value recovered from a panicking handler.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrInterrupted occurs when a blocking await is interrupted by its context.
	ErrInterrupted = errors.New("await interrupted")
	// ErrCancelled is the cause of a cancelled future.
	ErrCancelled = errors.New("future cancelled")
	// ErrVoidFuture occurs when a void future is asked for notification.
	ErrVoidFuture = errors.New("void future does not support notification")

	// ErrTooLongFrame occurs when a decoded frame exceeds the configured maximum length.
	ErrTooLongFrame = errors.New("frame length exceeds maximum")
	// ErrCorruptedFrame occurs when a frame header cannot be decoded.
	ErrCorruptedFrame = errors.New("corrupted frame")
)

// OpError is the error carried by a failed bind, connect or close future.
type OpError struct {
	Op   string
	Addr net.Addr
	Err  error
}

// NewOpError wraps err as the failure of op on addr.
func NewOpError(op string, addr net.Addr, err error) *OpError {
	return &OpError{Op: op, Addr: addr, Err: err}
}

func (e *OpError) Error() string {
	if e.Addr != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of this operation kind.
func (e *OpError) Is(target error) bool {
	switch e.Op {
	case "bind":
		return target == ErrBind
	case "connect":
		return target == ErrConnect
	case "close":
		return target == ErrClose
	}
	return false
}

// OutOfRange builds an ErrIndexOutOfRange describing the rejected access.
func OutOfRange(index, length, capacity int) error {
	return fmt.Errorf("%w: index %d, length %d, capacity %d", ErrIndexOutOfRange, index, length, capacity)
}

// Is is errors.Is re-exported so callers need a single errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As re-exported so callers need a single errors import.
func As(err error, target any) bool { return errors.As(err, target) }

// New is errors.New re-exported so callers need a single errors import.
func New(text string) error { return errors.New(text) }
