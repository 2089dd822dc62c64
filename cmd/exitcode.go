package cmd

import (
	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/bus/client"
	"github.com/stillcam/stillcam/internal/camera"
	"github.com/stillcam/stillcam/internal/consumer"
	"github.com/stillcam/stillcam/internal/daemon"
	"github.com/stillcam/stillcam/internal/imagesource"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitImage   = 2 // the image could not be loaded
	ExitBus     = 3 // the bus could not be reached, the connection broke or the stream faulted
	ExitConfig  = 4 // configuration or negotiation cannot succeed
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// withExitCode pins the exit code of err.
func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var pinned *exitError
	if errors.As(err, &pinned) {
		return pinned.code
	}
	switch {
	case errors.Is(err, imagesource.ErrOpen), errors.Is(err, imagesource.ErrDecode):
		return ExitImage
	case errors.Is(err, client.ErrBusUnavailable),
		errors.Is(err, client.ErrConnectionLost),
		errors.Is(err, client.ErrStreamFault),
		errors.Is(err, daemon.ErrNotRunning):
		return ExitBus
	case errors.Is(err, client.ErrRejected),
		errors.Is(err, consumer.ErrStreamFailed),
		errors.Is(err, camera.ErrIncompatible),
		errors.Is(err, camera.ErrBufferConstraintUnsatisfiable):
		return ExitConfig
	}
	return ExitFailure
}
