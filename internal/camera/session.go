package camera

import (
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/bus/client"
	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/core"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateAdvertising State = iota
	StateNegotiating
	StateReady
	StateStreaming
	StateDraining
	StateClosed
	StateError
)

var stateNames = [...]string{
	StateAdvertising: "advertising",
	StateNegotiating: "negotiating",
	StateReady:       "ready",
	StateStreaming:   "streaming",
	StateDraining:    "draining",
	StateClosed:      "closed",
	StateError:       "error",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether a session in s can no longer be used.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}

// sessionEnv is what a session borrows from its node.
type sessionEnv struct {
	negotiator   *Negotiator
	policy       BufferPolicy
	frame        *core.PixelBuffer
	log          *slog.Logger
	onTransition func(id int, from, to State)
}

// Session is one negotiation and streaming lifetime between the camera and
// a consumer. It is only touched from the bus dispatch goroutine.
type Session struct {
	id    int
	env   sessionEnv
	log   *slog.Logger
	state State
	cause error

	format   *FormatCandidate
	buffers  *BufferDescriptor
	supplier *Supplier
}

func newSession(id int, env sessionEnv) *Session {
	return &Session{
		id:    id,
		env:   env,
		log:   env.log.With("session", id),
		state: StateAdvertising,
	}
}

// ID numbers sessions of one node from 1.
func (s *Session) ID() int { return s.id }

// State is the current lifecycle state.
func (s *Session) State() State { return s.state }

// Cause is the error that moved the session to StateError.
func (s *Session) Cause() error { return s.cause }

// Format returns the negotiated format, if any.
func (s *Session) Format() (FormatCandidate, bool) {
	if s.format == nil {
		return FormatCandidate{}, false
	}
	return *s.format, true
}

// Buffers returns the negotiated pool layout, if any.
func (s *Session) Buffers() (BufferDescriptor, bool) {
	if s.buffers == nil {
		return BufferDescriptor{}, false
	}
	return *s.buffers, true
}

// Frames is the number of frames supplied in this session.
func (s *Session) Frames() uint64 {
	if s.supplier == nil {
		return 0
	}
	return s.supplier.Frames()
}

func (s *Session) transition(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.log.Debug("Session state changed", "from", from, "to", to)
	if s.env.onTransition != nil {
		s.env.onTransition(s.id, from, to)
	}
}

// Negotiate chooses the format for req. An incompatible request returns the
// session to advertising. A request arriving after buffers were agreed is a
// renegotiation and fails the session.
func (s *Session) Negotiate(req FormatRequest) (FormatCandidate, error) {
	switch s.state {
	case StateAdvertising, StateNegotiating:
	case StateReady, StateStreaming:
		s.Fail(ErrRenegotiation)
		return FormatCandidate{}, ErrRenegotiation
	default:
		return FormatCandidate{}, errors.Wrapf(ErrInvalidState, "negotiate in %s", s.state)
	}

	s.transition(StateNegotiating)
	c, err := s.env.negotiator.Select(req)
	if err != nil {
		s.format = nil
		s.transition(StateAdvertising)
		return FormatCandidate{}, err
	}
	s.format = &c
	s.log.Info("Format negotiated", "format", c.String())
	return c, nil
}

// NegotiateBuffers agrees the pool layout. Failure is fatal to the session.
func (s *Session) NegotiateBuffers(req protocol.BufferRequest) (BufferDescriptor, error) {
	switch {
	case s.state == StateNegotiating && s.format != nil:
	case s.state == StateReady || s.state == StateStreaming:
		s.Fail(ErrRenegotiation)
		return BufferDescriptor{}, ErrRenegotiation
	default:
		return BufferDescriptor{}, errors.Wrapf(ErrInvalidState, "negotiate buffers in %s", s.state)
	}

	desc, err := NegotiateBuffers(*s.format, req, s.env.policy)
	if err != nil {
		s.Fail(err)
		return BufferDescriptor{}, err
	}
	s.buffers = &desc
	s.supplier = NewSupplier(s.env.frame, desc)
	s.log.Info("Buffers negotiated", "buffers", desc.String())
	s.transition(StateReady)
	return desc, nil
}

// Activate starts streaming.
func (s *Session) Activate() error {
	switch s.state {
	case StateStreaming:
		return nil
	case StateReady:
		s.transition(StateStreaming)
		return nil
	default:
		return errors.Wrapf(ErrInvalidState, "activate in %s", s.state)
	}
}

// Pause stops streaming and drains back to ready.
func (s *Session) Pause(q client.BufferQueue) {
	if s.state != StateStreaming {
		return
	}
	s.transition(StateDraining)
	s.drain(q)
	s.transition(StateReady)
}

// Close drains the session and ends it. Closing an ended session only
// returns outstanding slots.
func (s *Session) Close(q client.BufferQueue) {
	if s.state.Terminal() {
		s.drain(q)
		return
	}
	s.transition(StateDraining)
	s.drain(q)
	s.format = nil
	s.transition(StateClosed)
}

// Fail ends the session with err.
func (s *Session) Fail(err error) {
	if s.state.Terminal() {
		return
	}
	s.cause = err
	s.log.Warn("Session failed", "error", err)
	s.transition(StateError)
}

// Process supplies one frame while streaming and does nothing otherwise.
func (s *Session) Process(q client.BufferQueue) error {
	if s.state != StateStreaming {
		return nil
	}
	return s.supplier.Supply(q)
}

func (s *Session) drain(q client.BufferQueue) {
	if s.supplier == nil {
		return
	}
	n, err := s.supplier.ReturnAll(q)
	if n > 0 {
		s.log.Info("Returned outstanding buffers", "count", n)
	}
	if err != nil {
		s.log.Warn("Failed to return buffer", "error", err)
	}
}
