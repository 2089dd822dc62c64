package camera

import "github.com/pkg/errors"

var (
	// ErrIncompatible means no advertised candidate satisfies a format request.
	ErrIncompatible = errors.New("no advertised format satisfies the request")
	// ErrBufferConstraintUnsatisfiable means the bus constraints leave no
	// valid pool for the negotiated format.
	ErrBufferConstraintUnsatisfiable = errors.New("buffer constraints cannot be satisfied")
	// ErrRenegotiation means the bus tried to change the format of a session
	// that already holds buffers.
	ErrRenegotiation = errors.New("format cannot change once buffers are negotiated")
	// ErrInvalidState means an operation arrived in a state that does not
	// accept it.
	ErrInvalidState = errors.New("operation not valid in current session state")
)
