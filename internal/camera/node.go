// Package camera implements a video source node that streams one still
// frame. It advertises a fixed set of formats, negotiates one with the bus,
// agrees a buffer pool and fills a buffer on every process signal.
package camera

import (
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/bus/client"
	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/core"
	"github.com/stillcam/stillcam/internal/spa"
)

// Config describes a camera node.
type Config struct {
	Name        string
	Description string
	Candidates  []FormatCandidate
	Preferred   *FormatCandidate // defaults to the first candidate
	Buffers     BufferPolicy
	// OnTransition observes every session state change.
	OnTransition func(session int, from, to State)
}

// Node is the bus handler of the camera. Its methods are called from the
// bus dispatch goroutine only; State and Frames may be read from anywhere.
type Node struct {
	cfg        Config
	advertiser *Advertiser
	negotiator *Negotiator
	frame      *core.PixelBuffer
	log        *slog.Logger

	session  *Session
	sessions int
	closed   bool

	state  atomic.Int32
	frames atomic.Uint64
}

var _ client.StreamHandler = (*Node)(nil)

// NewNode checks that frame matches every candidate and builds the node.
func NewNode(cfg Config, frame *core.PixelBuffer, log *slog.Logger) (*Node, error) {
	if cfg.Name == "" {
		return nil, errors.New("node name is empty")
	}
	if frame == nil {
		return nil, errors.New("no frame")
	}
	advertiser, err := NewAdvertiser(cfg.Candidates)
	if err != nil {
		return nil, err
	}
	for _, c := range cfg.Candidates {
		if c.Width != frame.Width || c.Height != frame.Height || c.Layout != frame.Layout {
			return nil, errors.Errorf("candidate %s does not match %dx%d %s frame",
				c, frame.Width, frame.Height, frame.Layout)
		}
	}
	preferred := cfg.Candidates[0]
	if cfg.Preferred != nil {
		preferred = *cfg.Preferred
	}
	if cfg.Buffers == (BufferPolicy{}) {
		cfg.Buffers = DefaultBufferPolicy
	}

	n := &Node{
		cfg:        cfg,
		advertiser: advertiser,
		negotiator: NewNegotiator(advertiser, preferred),
		frame:      frame,
		log:        log.With("node", cfg.Name),
	}
	n.openSession()
	return n, nil
}

// Properties are the node properties registered with the bus.
func (n *Node) Properties() map[string]string {
	return map[string]string{
		"media.type":       "Video",
		"media.category":   "Capture",
		"media.role":       "Camera",
		"media.class":      "Video/Source",
		"node.name":        n.cfg.Name,
		"node.description": n.cfg.Description,
		"device.name":      n.cfg.Name,
		"device.icon-name": "camera-web",
	}
}

// StreamOptions describe the output stream the node registers.
func (n *Node) StreamOptions() client.Options {
	return client.Options{
		Name:      n.cfg.Name,
		Direction: protocol.DirectionOutput,
		Props:     n.Properties(),
		Params:    n.advertiser.Params(),
	}
}

// State is the state of the current session.
func (n *Node) State() State {
	return State(n.state.Load())
}

// Frames is the number of frames supplied over the node's lifetime.
func (n *Node) Frames() uint64 {
	return n.frames.Load()
}

// Closed reports whether the bus disconnected the node.
func (n *Node) Closed() bool {
	return n.closed
}

// Session is the current session.
func (n *Node) Session() *Session {
	return n.session
}

func (n *Node) openSession() {
	n.sessions++
	n.session = newSession(n.sessions, sessionEnv{
		negotiator:   n.negotiator,
		policy:       n.cfg.Buffers,
		frame:        n.frame,
		log:          n.log,
		onTransition: n.observe,
	})
	n.state.Store(int32(StateAdvertising))
}

func (n *Node) observe(id int, from, to State) {
	n.state.Store(int32(to))
	if n.cfg.OnTransition != nil {
		n.cfg.OnTransition(id, from, to)
	}
}

// current returns a usable session, replacing an ended one.
func (n *Node) current() *Session {
	if n.session.State().Terminal() && !n.closed {
		n.openSession()
	}
	return n.session
}

// EnumFormat answers the bus's format enumeration.
func (n *Node) EnumFormat(index int) (*spa.Object, bool) {
	return n.advertiser.EnumFormat(index)
}

// SetFormat negotiates the format the bus proposes.
func (n *Node) SetFormat(format *spa.Object) (*spa.Object, error) {
	s := n.current()
	c, err := s.Negotiate(RequestFromParam(format))
	switch {
	case err == nil:
	case errors.Is(err, ErrIncompatible):
		n.log.Warn("Rejecting format", "error", err)
		return nil, client.Reject(protocol.CodeFormatNotFound, err)
	case errors.Is(err, ErrRenegotiation):
		return nil, client.Reject(protocol.CodeRenegotiation, err)
	default:
		return nil, client.Reject(protocol.CodeProtocol, err)
	}

	info, err := c.VideoInfo()
	if err != nil {
		return nil, err
	}
	return spa.NewVideoFormat(spa.ParamFormat, info), nil
}

// Buffers answers the bus's pool request.
func (n *Node) Buffers(req protocol.BufferRequest) (*spa.Object, error) {
	desc, err := n.session.NegotiateBuffers(req)
	switch {
	case err == nil:
		return desc.Param(), nil
	case errors.Is(err, ErrBufferConstraintUnsatisfiable):
		return nil, client.Reject(protocol.CodeBuffersUnsatisfiable, err)
	case errors.Is(err, ErrRenegotiation):
		return nil, client.Reject(protocol.CodeRenegotiation, err)
	default:
		return nil, client.Reject(protocol.CodeProtocol, err)
	}
}

func (n *Node) AddBuffers(buffers []*client.Buffer) {
	n.log.Debug("Pool mapped", "buffers", len(buffers))
}

// RemoveBuffers returns any slot still held before the pool goes away.
func (n *Node) RemoveBuffers(q client.BufferQueue) {
	n.session.Pause(q)
}

// Param ignores parameters the node does not own.
func (n *Node) Param(id spa.ParamType, _ *spa.Object) {
	n.log.Debug("Ignoring param", "param", id.String())
}

// StateChanged follows the stream state assigned by the bus.
func (n *Node) StateChanged(q client.BufferQueue, old, state protocol.State, reason string) {
	n.log.Info("Stream state changed", "from", old, "to", state, "reason", reason)
	switch state {
	case protocol.StateStreaming:
		if err := n.session.Activate(); err != nil {
			n.log.Warn("Cannot start streaming", "error", err)
		}
	case protocol.StatePaused:
		n.session.Pause(q)
	case protocol.StateError:
		n.session.Fail(errors.Errorf("stream error: %s", reason))
	case protocol.StateUnconnected:
		n.session.Close(q)
		n.closed = true
	}
}

// Process supplies one frame.
func (n *Node) Process(q client.BufferQueue) {
	before := n.session.Frames()
	if err := n.session.Process(q); err != nil {
		n.session.Fail(errors.Wrap(err, "supply frame"))
		return
	}
	n.frames.Add(n.session.Frames() - before)
}

// Unlinked ends the session with the departed consumer and starts
// advertising for the next one. A session that agreed nothing yet is kept.
func (n *Node) Unlinked(q client.BufferQueue) {
	if n.session.State() == StateAdvertising {
		return
	}
	n.session.Close(q)
	if !n.closed {
		n.openSession()
	}
}
