// Package client connects a node to the bus daemon and dispatches bus events
// to a StreamHandler on a single goroutine.
package client

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/bus/shm"
	"github.com/stillcam/stillcam/internal/spa"
	"github.com/stillcam/stillcam/internal/util"
)

// Chunk describes the valid region of a buffer.
type Chunk struct {
	Offset    int
	Size      int
	Stride    int
	Corrupted bool
}

// Buffer is one slot of the mapped pool.
type Buffer struct {
	ID     int
	Data   []byte
	Stride int
	Chunk  Chunk
}

// BufferQueue hands out pool buffers. A buffer obtained from DequeueBuffer
// must be given back with QueueBuffer before the handler returns.
type BufferQueue interface {
	DequeueBuffer() *Buffer
	QueueBuffer(b *Buffer) error
}

// StreamHandler receives bus events. Every method is called from the
// goroutine running Stream.Run and must not block.
type StreamHandler interface {
	EnumFormat(index int) (*spa.Object, bool)
	SetFormat(format *spa.Object) (*spa.Object, error)
	Buffers(req protocol.BufferRequest) (*spa.Object, error)
	AddBuffers(buffers []*Buffer)
	RemoveBuffers(q BufferQueue)
	Param(id spa.ParamType, param *spa.Object)
	StateChanged(q BufferQueue, old, state protocol.State, reason string)
	Process(q BufferQueue)
	Unlinked(q BufferQueue)
}

// Options describe the node a stream registers.
type Options struct {
	Name       string
	Direction  protocol.Direction
	Props      map[string]string
	Params     []*spa.Object
	Target     string
	MinBuffers int
}

// Stream is a registered node port.
type Stream struct {
	conn    protocol.Conn
	opts    Options
	handler StreamHandler
	log     *slog.Logger

	id       string
	state    protocol.State
	mapping  *shm.Mapping
	buffers  []*Buffer
	ready    []int
	borrowed map[int]bool
}

// NewStream wraps an established bus connection.
func NewStream(conn protocol.Conn, opts Options, handler StreamHandler) *Stream {
	return &Stream{
		conn:     conn,
		opts:     opts,
		handler:  handler,
		log:      util.GetLogger().With("node", opts.Name),
		state:    protocol.StateUnconnected,
		borrowed: make(map[int]bool),
	}
}

// ID is the node id assigned by the bus, empty before Connect.
func (s *Stream) ID() string {
	return s.id
}

// State is the last state assigned by the bus.
func (s *Stream) State() protocol.State {
	return s.state
}

// Connect registers the node and waits for the bus to accept it.
func (s *Stream) Connect() error {
	info := &protocol.NodeInfo{
		Name:       s.opts.Name,
		Direction:  s.opts.Direction,
		Props:      s.opts.Props,
		Target:     s.opts.Target,
		MinBuffers: s.opts.MinBuffers,
	}
	for _, p := range s.opts.Params {
		b, err := protocol.EncodeParam(p)
		if err != nil {
			return err
		}
		info.Params = append(info.Params, b)
	}

	if err := s.conn.WriteJSON(protocol.Message{Type: protocol.TypeHello, Node: info}); err != nil {
		return errors.Wrapf(ErrConnectionLost, "send hello: %v", err)
	}

	var reply protocol.Message
	if err := s.conn.ReadJSON(&reply); err != nil {
		return errors.Wrapf(ErrConnectionLost, "read welcome: %v", err)
	}
	switch reply.Type {
	case protocol.TypeWelcome:
	case protocol.TypeError:
		if reply.Error != nil {
			return errors.Wrapf(ErrRejected, "%s", reply.Error.Error())
		}
		return ErrRejected
	default:
		return errors.Errorf("unexpected %s before welcome", reply.Type)
	}
	if reply.Node != nil {
		s.id = reply.Node.ID
	}

	s.log.Info("Registered on bus", "id", s.id)
	s.setState(protocol.StateConnecting, "registered")
	return nil
}

// Run dispatches bus events until the bus disconnects the node, the context
// is cancelled or the connection breaks. Cancellation is delivered to the
// handler as an orderly transition to unconnected and Run returns nil. A
// broken connection returns an error wrapping ErrConnectionLost; a message
// the stream cannot act on moves it to the error state and returns an error
// wrapping ErrStreamFault.
func (s *Stream) Run(ctx context.Context) error {
	msgs := make(chan protocol.Message)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go s.readLoop(msgs, readErr, done)

	for {
		select {
		case <-ctx.Done():
			s.disconnect("shutdown")
			return nil
		case err := <-readErr:
			s.setState(protocol.StateError, "connection lost")
			s.release()
			s.conn.Close()
			return errors.Wrapf(ErrConnectionLost, "%v", err)
		case msg := <-msgs:
			if err := s.dispatch(msg); err != nil {
				if !errors.Is(err, ErrConnectionLost) {
					err = errors.Wrapf(ErrStreamFault, "%v", err)
				}
				s.setState(protocol.StateError, err.Error())
				s.release()
				s.conn.Close()
				return err
			}
			if s.state == protocol.StateUnconnected {
				s.close()
				return nil
			}
		}
	}
}

func (s *Stream) readLoop(msgs chan<- protocol.Message, readErr chan<- error, done <-chan struct{}) {
	for {
		var msg protocol.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			readErr <- err
			return
		}
		select {
		case msgs <- msg:
		case <-done:
			return
		}
	}
}

func (s *Stream) dispatch(msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeEnumFormat:
		reply := protocol.Message{Type: protocol.TypeEnumFormatReply, Seq: msg.Seq, Index: msg.Index}
		obj, ok := s.handler.EnumFormat(msg.Index)
		if !ok {
			reply.End = true
			return s.send(reply)
		}
		b, err := protocol.EncodeParam(obj)
		if err != nil {
			reply.Error = errorInfo(err)
		}
		reply.Param = b
		return s.send(reply)

	case protocol.TypeSetFormat:
		reply := protocol.Message{Type: protocol.TypeFormatReply, Seq: msg.Seq}
		obj, err := protocol.DecodeParam(msg.Param)
		if err == nil {
			obj, err = s.handler.SetFormat(obj)
		}
		if err == nil {
			reply.Param, err = protocol.EncodeParam(obj)
		}
		if err != nil {
			reply.Error = errorInfo(err)
		}
		return s.send(reply)

	case protocol.TypeBuffersRequest:
		reply := protocol.Message{Type: protocol.TypeBuffersReply, Seq: msg.Seq}
		var req protocol.BufferRequest
		if msg.Request != nil {
			req = *msg.Request
		}
		obj, err := s.handler.Buffers(req)
		if err == nil {
			reply.Param, err = protocol.EncodeParam(obj)
		}
		if err != nil {
			reply.Error = errorInfo(err)
		}
		return s.send(reply)

	case protocol.TypeFormat:
		obj, err := protocol.DecodeParam(msg.Param)
		if err != nil {
			s.log.Warn("Ignoring undecodable format", "error", err)
			return nil
		}
		s.handler.Param(spa.ParamFormat, obj)

	case protocol.TypeParam:
		obj, err := protocol.DecodeParam(msg.Param)
		if err != nil {
			s.log.Warn("Ignoring undecodable param", "param", msg.ParamID, "error", err)
			return nil
		}
		s.handler.Param(msg.ParamID, obj)

	case protocol.TypeAddBuffers:
		if msg.Pool == nil {
			return errors.New("add_buffers without pool")
		}
		if err := s.addBuffers(*msg.Pool); err != nil {
			return err
		}
		s.handler.AddBuffers(s.buffers)

	case protocol.TypeRemoveBuffers:
		s.handler.RemoveBuffers(s)
		s.release()

	case protocol.TypeProcess:
		s.handler.Process(s)

	case protocol.TypeBufferReady:
		if b := s.lookup(msg.Buffer); b != nil {
			b.Chunk = Chunk{
				Offset:    msg.Buffer.Offset,
				Size:      msg.Buffer.Size,
				Stride:    msg.Buffer.Stride,
				Corrupted: msg.Buffer.Corrupted,
			}
			s.ready = append(s.ready, b.ID)
			s.handler.Process(s)
		}

	case protocol.TypeReuseBuffer:
		if b := s.lookup(msg.Buffer); b != nil {
			s.ready = append(s.ready, b.ID)
		}

	case protocol.TypeState:
		s.setState(msg.State, msg.Reason)

	case protocol.TypeUnlink:
		s.log.Info("Peer unlinked", "reason", msg.Reason)
		s.handler.Unlinked(s)

	case protocol.TypeError:
		reason := "unknown error"
		if msg.Error != nil {
			reason = msg.Error.Error()
		}
		s.log.Warn("Bus reported error", "error", reason)
		s.setState(protocol.StateError, reason)

	default:
		s.log.Debug("Ignoring message", "type", msg.Type)
	}
	return nil
}

func (s *Stream) setState(state protocol.State, reason string) {
	old := s.state
	if old == state {
		return
	}
	s.state = state
	s.log.Debug("Stream state changed", "from", old, "to", state, "reason", reason)
	s.handler.StateChanged(s, old, state, reason)
}

func (s *Stream) addBuffers(pool protocol.Pool) error {
	if pool.Count <= 0 || pool.Size <= 0 {
		return errors.Errorf("invalid pool of %d buffers of %d bytes", pool.Count, pool.Size)
	}
	s.release()

	writable := s.opts.Direction == protocol.DirectionOutput
	m, err := shm.Map(pool.Path, pool.Count*pool.Size, writable)
	if err != nil {
		return errors.Wrap(err, "failed to map buffer pool")
	}
	s.mapping = m

	data := m.Bytes()
	s.buffers = make([]*Buffer, pool.Count)
	for i := range s.buffers {
		s.buffers[i] = &Buffer{
			ID:     i,
			Data:   data[i*pool.Size : (i+1)*pool.Size],
			Stride: pool.Stride,
		}
		if writable {
			s.ready = append(s.ready, i)
		}
	}
	s.log.Info("Buffers added", "count", pool.Count, "size", pool.Size, "stride", pool.Stride)
	return nil
}

// release drops the current pool.
func (s *Stream) release() {
	if s.mapping == nil {
		return
	}
	if err := s.mapping.Close(); err != nil {
		s.log.Warn("Failed to unmap buffer pool", "error", err)
	}
	s.mapping = nil
	s.buffers = nil
	s.ready = nil
	s.borrowed = make(map[int]bool)
	s.log.Info("Buffers removed")
}

func (s *Stream) lookup(ref *protocol.BufferRef) *Buffer {
	if ref == nil || ref.ID < 0 || ref.ID >= len(s.buffers) {
		s.log.Debug("Ignoring reference to unknown buffer")
		return nil
	}
	return s.buffers[ref.ID]
}

// DequeueBuffer returns the next buffer available to the handler, or nil
// when none is.
func (s *Stream) DequeueBuffer() *Buffer {
	if len(s.ready) == 0 {
		return nil
	}
	id := s.ready[0]
	s.ready = s.ready[1:]
	s.borrowed[id] = true
	return s.buffers[id]
}

// QueueBuffer hands a dequeued buffer back to the bus. Output streams
// publish its chunk; input streams recycle it.
func (s *Stream) QueueBuffer(b *Buffer) error {
	if b == nil || !s.borrowed[b.ID] {
		return ErrNotDequeued
	}
	delete(s.borrowed, b.ID)

	ref := &protocol.BufferRef{ID: b.ID}
	if s.opts.Direction == protocol.DirectionOutput {
		ref.Offset = b.Chunk.Offset
		ref.Size = b.Chunk.Size
		ref.Stride = b.Chunk.Stride
		ref.Corrupted = b.Chunk.Corrupted
	}
	return s.send(protocol.Message{Type: protocol.TypeQueueBuffer, Buffer: ref})
}

func (s *Stream) send(msg protocol.Message) error {
	if err := s.conn.WriteJSON(msg); err != nil {
		return errors.Wrapf(ErrConnectionLost, "send %s: %v", msg.Type, err)
	}
	return nil
}

func (s *Stream) disconnect(reason string) {
	s.setState(protocol.StateUnconnected, reason)
	s.close()
}

func (s *Stream) close() {
	if err := s.conn.WriteJSON(protocol.Message{Type: protocol.TypeBye}); err != nil {
		s.log.Debug("Failed to send bye", "error", err)
	}
	s.release()
	s.conn.Close()
}
