package server

import (
	"time"

	"github.com/dchest/uniuri"
	"k8s.io/utils/clock"

	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/bus/shm"
	"github.com/stillcam/stillcam/internal/server/handlers"
	"github.com/stillcam/stillcam/internal/spa"
)

type linkPhase int

const (
	phaseEnumerating linkPhase = iota
	phaseFormatting
	phaseAllocating
	phaseStreaming
	phaseClosed
)

func (p linkPhase) String() string {
	switch p {
	case phaseEnumerating:
		return "enumerating"
	case phaseFormatting:
		return "formatting"
	case phaseAllocating:
		return "allocating"
	case phaseStreaming:
		return "streaming"
	default:
		return "closed"
	}
}

// link connects one producer to one consumer.
type link struct {
	id       string
	producer *nodeConn
	consumer *nodeConn
	phase    linkPhase
	seq      uint32
	created  time.Time

	formats [][]byte
	format  *spa.VideoInfo
	buffers *spa.BuffersInfo
	pool    string

	ticker clock.Ticker
	stop   chan struct{}
	frames uint64
}

func (l *link) describe() handlers.LinkDTO {
	dto := handlers.LinkDTO{
		ID:       l.id,
		Producer: l.producer.name(),
		Consumer: l.consumer.name(),
		Phase:    l.phase.String(),
		Frames:   l.frames,
		Created:  l.created,
	}
	if l.format != nil {
		dto.Format = l.format.String()
	}
	if l.buffers != nil {
		dto.Buffers = int(l.buffers.Buffers)
		dto.BufferSize = int(l.buffers.Size)
	}
	return dto
}

// request sends a negotiation step to the producer under a fresh sequence
// number. Replies carrying an older number are stale.
func (h *Hub) request(l *link, msg protocol.Message) {
	l.seq++
	msg.Seq = l.seq
	if !l.producer.send(msg) {
		h.drop(l.producer, "outbox full")
	}
}

// findProducer picks the producer for consumer c. A consumer naming a
// target gets that node; otherwise the first idle video source in
// registration order. ok is false when the consumer has to wait.
func (h *Hub) findProducer(c *nodeConn) (p *nodeConn, code protocol.ErrorCode, ok bool) {
	if target := c.reg.Info.Target; target != "" {
		id, found := h.registry.Lookup(target)
		if !found {
			return nil, "", false
		}
		p = h.conns[id]
		switch {
		case p == nil:
			return nil, "", false
		case !p.isProducer():
			return nil, protocol.CodeNoTarget, false
		case p.link != nil:
			return nil, protocol.CodeBusy, false
		}
		return p, "", true
	}

	busy := false
	for _, id := range h.order {
		n := h.conns[id]
		if !n.isProducer() || n.reg.Info.Props["media.class"] != "Video/Source" {
			continue
		}
		if n.link != nil {
			busy = true
			continue
		}
		return n, "", true
	}
	if busy {
		return nil, protocol.CodeBusy, false
	}
	return nil, "", false
}

func (h *Hub) linkConsumer(c *nodeConn) {
	p, code, ok := h.findProducer(c)
	if !ok {
		if code != "" {
			h.fail(c, 0, code, "no producer available for "+c.name())
			return
		}
		if !contains(h.waiting, c.id()) {
			h.waiting = append(h.waiting, c.id())
		}
		h.log.Info("Consumer waiting for a producer", "node", c.name(), "target", c.reg.Info.Target)
		return
	}
	h.waiting = without(h.waiting, c.id())

	l := &link{
		id:       uniuri.NewLen(8),
		producer: p,
		consumer: c,
		phase:    phaseEnumerating,
		created:  h.cfg.Clock.Now(),
	}
	p.link = l
	c.link = l
	h.links[l.id] = l
	h.log.Info("Linking nodes", "link", l.id, "producer", p.name(), "consumer", c.name())
	h.request(l, protocol.Message{Type: protocol.TypeEnumFormat, Index: 0})
}

// linkWaiting retries consumers that registered before any producer.
func (h *Hub) linkWaiting() {
	for _, id := range append([]string(nil), h.waiting...) {
		if c, ok := h.conns[id]; ok && c.link == nil {
			h.linkConsumer(c)
		}
	}
}

func (h *Hub) negotiate(l *link, msg protocol.Message) {
	if msg.Seq != l.seq {
		h.log.Debug("Ignoring stale reply", "link", l.id, "type", msg.Type, "seq", msg.Seq)
		return
	}

	switch {
	case msg.Type == protocol.TypeEnumFormatReply && l.phase == phaseEnumerating:
		if msg.Error != nil {
			h.abort(l, msg.Error.Code, msg.Error.Message)
			return
		}
		if !msg.End {
			l.formats = append(l.formats, msg.Param)
			h.request(l, protocol.Message{Type: protocol.TypeEnumFormat, Index: msg.Index + 1})
			return
		}
		h.proposeFormat(l)

	case msg.Type == protocol.TypeFormatReply && l.phase == phaseFormatting:
		if msg.Error != nil {
			h.abort(l, msg.Error.Code, msg.Error.Message)
			return
		}
		obj, err := protocol.DecodeParam(msg.Param)
		if err != nil || obj == nil {
			h.abort(l, protocol.CodeProtocol, "producer replied without a format")
			return
		}
		info, err := spa.ParseVideoFormat(obj)
		if err != nil {
			h.abort(l, protocol.CodeProtocol, err.Error())
			return
		}
		l.format = &info
		if !l.consumer.send(protocol.Message{Type: protocol.TypeFormat, ParamID: spa.ParamFormat, Param: msg.Param}) {
			h.drop(l.consumer, "outbox full")
			return
		}
		h.log.Info("Format agreed", "link", l.id, "format", info.String())

		minBuffers := l.consumer.reg.Info.MinBuffers
		if minBuffers <= 0 {
			minBuffers = h.cfg.DefaultBuffers
		}
		l.phase = phaseAllocating
		h.request(l, protocol.Message{
			Type:    protocol.TypeBuffersRequest,
			Request: &protocol.BufferRequest{MinBuffers: minBuffers, MaxSize: h.cfg.MaxBufferSize},
		})

	case msg.Type == protocol.TypeBuffersReply && l.phase == phaseAllocating:
		if msg.Error != nil {
			h.abort(l, msg.Error.Code, msg.Error.Message)
			return
		}
		h.allocate(l, msg.Param)

	default:
		h.log.Debug("Ignoring out of order reply", "link", l.id, "type", msg.Type, "phase", l.phase)
	}
}

// proposeFormat asks the producer to accept the consumer's first requested
// format, or the producer's first format when the consumer requested none.
func (h *Hub) proposeFormat(l *link) {
	var proposal []byte
	switch {
	case len(l.consumer.reg.Info.Params) > 0:
		proposal = l.consumer.reg.Info.Params[0]
	case len(l.formats) > 0:
		proposal = l.formats[0]
	default:
		h.abort(l, protocol.CodeFormatNotFound, "producer advertises no formats")
		return
	}
	l.phase = phaseFormatting
	h.request(l, protocol.Message{Type: protocol.TypeSetFormat, ParamID: spa.ParamFormat, Param: proposal})
}

func (h *Hub) allocate(l *link, param []byte) {
	obj, err := protocol.DecodeParam(param)
	if err != nil || obj == nil {
		h.abort(l, protocol.CodeProtocol, "producer replied without buffers")
		return
	}
	info, err := spa.ParseBuffers(obj)
	if err != nil {
		h.abort(l, protocol.CodeProtocol, err.Error())
		return
	}
	if h.cfg.MaxBufferSize > 0 && int(info.Size) > h.cfg.MaxBufferSize {
		h.abort(l, protocol.CodeBuffersUnsatisfiable, "buffer size exceeds the bus limit")
		return
	}

	path, err := shm.CreatePool(h.cfg.PoolDir, int(info.Buffers)*int(info.Size))
	if err != nil {
		h.log.Error("Failed to create pool", "link", l.id, "error", err)
		h.abort(l, protocol.CodeBuffersUnsatisfiable, err.Error())
		return
	}
	l.buffers = &info
	l.pool = path

	pool := &protocol.Pool{Path: path, Count: int(info.Buffers), Size: int(info.Size), Stride: int(info.Stride)}
	for _, n := range []*nodeConn{l.producer, l.consumer} {
		if !n.send(protocol.Message{Type: protocol.TypeAddBuffers, Pool: pool}) {
			h.drop(n, "outbox full")
			return
		}
	}
	h.log.Info("Pool allocated", "link", l.id, "buffers", info.Buffers, "size", info.Size, "stride", info.Stride)

	for _, state := range []protocol.State{protocol.StatePaused, protocol.StateStreaming} {
		h.setState(l.producer, state, "linked")
		h.setState(l.consumer, state, "linked")
	}
	if l.phase == phaseClosed {
		return
	}
	l.phase = phaseStreaming
	h.startTicker(l)
}

// abort ends a link that failed to negotiate. The consumer learns why; the
// producer is unlinked so that whatever it agreed to is dropped before the
// next consumer arrives.
func (h *Hub) abort(l *link, code protocol.ErrorCode, message string) {
	h.log.Warn("Link negotiation failed", "link", l.id, "code", code, "error", message)
	h.closeLink(l)
	if p := l.producer; h.conns[p.id()] == p {
		if !p.send(protocol.Message{Type: protocol.TypeUnlink, Reason: message}) {
			h.drop(p, "outbox full")
		} else {
			p.state = protocol.StateConnecting
		}
	}
	if h.conns[l.consumer.id()] == l.consumer {
		h.fail(l.consumer, 0, code, message)
	}
	h.linkWaiting()
}

func (h *Hub) startTicker(l *link) {
	interval := time.Second / 30
	if l.format != nil && l.format.Framerate.Num > 0 && l.format.Framerate.Denom > 0 {
		interval = time.Duration(int64(time.Second) * int64(l.format.Framerate.Denom) / int64(l.format.Framerate.Num))
	}
	l.ticker = h.cfg.Clock.NewTicker(interval)
	l.stop = make(chan struct{})

	go func(ticks <-chan time.Time, stop <-chan struct{}) {
		for {
			select {
			case <-ticks:
				if !h.do(func() { h.tick(l) }) {
					return
				}
			case <-stop:
				return
			}
		}
	}(l.ticker.C(), l.stop)
}

func (h *Hub) tick(l *link) {
	if l.phase != phaseStreaming {
		return
	}
	// a full outbox means the producer is behind; skip the tick
	if !l.producer.send(protocol.Message{Type: protocol.TypeProcess}) {
		h.log.Debug("Skipping tick", "link", l.id)
	}
}

func (h *Hub) queueBuffer(c *nodeConn, ref *protocol.BufferRef) {
	l := c.link
	if l == nil || l.phase != phaseStreaming || ref == nil {
		h.log.Debug("Ignoring buffer outside a stream", "node", c.name())
		return
	}
	if l.buffers == nil || ref.ID < 0 || ref.ID >= int(l.buffers.Buffers) {
		h.log.Debug("Ignoring unknown buffer", "node", c.name(), "buffer", ref.ID)
		return
	}

	if c == l.producer {
		l.frames++
		if !l.consumer.send(protocol.Message{Type: protocol.TypeBufferReady, Buffer: ref}) {
			h.drop(l.consumer, "outbox full")
		}
		return
	}
	if !l.producer.send(protocol.Message{Type: protocol.TypeReuseBuffer, Buffer: &protocol.BufferRef{ID: ref.ID}}) {
		h.drop(l.producer, "outbox full")
	}
}

// peerLeft ends l after one of its nodes went away and tells the other.
func (h *Hub) peerLeft(l *link, gone *nodeConn, reason string) {
	streaming := l.pool != ""
	h.closeLink(l)

	if gone == l.consumer {
		p := l.producer
		if h.conns[p.id()] != p {
			return
		}
		if streaming {
			h.setState(p, protocol.StatePaused, "consumer left")
			p.send(protocol.Message{Type: protocol.TypeRemoveBuffers})
		}
		p.send(protocol.Message{Type: protocol.TypeUnlink, Reason: reason})
		p.state = protocol.StateConnecting
		h.linkWaiting()
		return
	}

	c := l.consumer
	if h.conns[c.id()] != c {
		return
	}
	if streaming {
		c.send(protocol.Message{Type: protocol.TypeRemoveBuffers})
	}
	h.setState(c, protocol.StateUnconnected, "producer left")
	h.forget(c)
	h.registry.Delete(c.id(), c.reg.Token)
}

// closeLink stops the ticker, removes the pool and detaches both nodes.
func (h *Hub) closeLink(l *link) {
	if l.phase == phaseClosed {
		return
	}
	l.phase = phaseClosed
	if l.ticker != nil {
		l.ticker.Stop()
		close(l.stop)
	}
	if l.pool != "" {
		if err := shm.RemovePool(l.pool); err != nil {
			h.log.Warn("Failed to remove pool", "link", l.id, "error", err)
		}
		l.pool = ""
	}
	if l.producer.link == l {
		l.producer.link = nil
	}
	if l.consumer.link == l {
		l.consumer.link = nil
	}
	delete(h.links, l.id)
	h.log.Info("Link closed", "link", l.id, "frames", l.frames)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
