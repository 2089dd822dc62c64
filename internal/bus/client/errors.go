package client

import (
	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/bus/protocol"
)

var (
	// ErrBusUnavailable means the bus daemon could not be reached.
	ErrBusUnavailable = errors.New("bus unavailable")
	// ErrConnectionLost means an established bus connection broke.
	ErrConnectionLost = errors.New("bus connection lost")
	// ErrStreamFault means the stream could not carry on with what the bus
	// asked of it, such as mapping the buffer pool.
	ErrStreamFault = errors.New("stream fault")
	// ErrRejected means the bus refused to register the stream.
	ErrRejected = errors.New("stream rejected by bus")
	// ErrNotDequeued is returned when queueing a buffer the caller does not hold.
	ErrNotDequeued = errors.New("buffer was not dequeued")
)

// Rejection is a handler failure that is reported back to the bus with a
// specific code.
type Rejection struct {
	Code protocol.ErrorCode
	Err  error
}

func (r *Rejection) Error() string {
	return string(r.Code) + ": " + r.Err.Error()
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Reject tags err with the code the bus should see.
func Reject(code protocol.ErrorCode, err error) error {
	return &Rejection{Code: code, Err: err}
}

func errorInfo(err error) *protocol.Error {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return &protocol.Error{Code: rejection.Code, Message: rejection.Err.Error()}
	}
	return &protocol.Error{Code: protocol.CodeProtocol, Message: err.Error()}
}
