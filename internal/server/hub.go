package server

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/server/handlers"
	"github.com/stillcam/stillcam/internal/util"
)

const outboxSize = 256

var (
	ErrNodeNotFound = handlers.ErrNodeNotFound
	ErrHubStopped   = errors.New("hub stopped")
)

// HubConfig holds the bus wide settings of a hub.
type HubConfig struct {
	PoolDir string
	// MaxBufferSize caps the size of one pool buffer. Zero is unlimited.
	MaxBufferSize int
	// DefaultBuffers is requested when a consumer states no minimum.
	DefaultBuffers int
	Clock          clock.WithTicker
}

// nodeConn is one registered websocket connection. Writes go through out
// and are performed by a dedicated goroutine so that the hub never blocks
// on a slow node.
type nodeConn struct {
	reg  *Registration
	conn protocol.Conn
	out  chan protocol.Message
	done chan struct{}
	once sync.Once

	// owned by the hub goroutine
	state protocol.State
	link  *link
}

func newNodeConn(reg *Registration, conn protocol.Conn) *nodeConn {
	return &nodeConn{
		reg:   reg,
		conn:  conn,
		out:   make(chan protocol.Message, outboxSize),
		done:  make(chan struct{}),
		state: protocol.StateConnecting,
	}
}

func (c *nodeConn) id() string   { return c.reg.ID }
func (c *nodeConn) name() string { return c.reg.Info.Name }

func (c *nodeConn) isProducer() bool {
	return c.reg.Info.Direction == protocol.DirectionOutput
}

func (c *nodeConn) send(msg protocol.Message) bool {
	select {
	case c.out <- msg:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *nodeConn) writeLoop(log *slog.Logger) {
	for {
		select {
		case msg := <-c.out:
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Debug("Write failed", "node", c.name(), "error", err)
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *nodeConn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub routes messages between registered nodes. All link state is owned by
// the goroutine running Run; other goroutines submit closures to it.
type Hub struct {
	cfg      HubConfig
	registry *NodeRegistry
	log      *slog.Logger

	events   chan func()
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	conns   map[string]*nodeConn
	order   []string
	waiting []string
	links   map[string]*link
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.DefaultBuffers <= 0 {
		cfg.DefaultBuffers = 2
	}
	return &Hub{
		cfg:      cfg,
		registry: NewNodeRegistry(cfg.Clock),
		log:      util.Component("hub"),
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		conns:    map[string]*nodeConn{},
		links:    map[string]*link{},
	}
}

// Run processes hub events until Stop is called.
func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case fn := <-h.events:
			fn()
		case <-h.done:
			h.teardown()
			return
		}
	}
}

// Stop ends Run and closes every node connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
	<-h.stopped
}

func (h *Hub) teardown() {
	for _, l := range h.links {
		h.closeLink(l)
	}
	for _, c := range h.conns {
		h.registry.Delete(c.id(), c.reg.Token)
		c.shutdown()
	}
	h.conns = map[string]*nodeConn{}
	h.order = nil
	h.waiting = nil
}

// do runs fn on the hub goroutine. It reports false once the hub stopped.
func (h *Hub) do(fn func()) bool {
	select {
	case h.events <- fn:
		return true
	case <-h.done:
		return false
	}
}

// query runs fn on the hub goroutine and waits for it.
func (h *Hub) query(fn func()) bool {
	finished := make(chan struct{})
	if !h.do(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) attach(c *nodeConn) {
	h.conns[c.id()] = c
	h.order = append(h.order, c.id())

	info := c.reg.Info
	info.Params = nil
	if !c.send(protocol.Message{Type: protocol.TypeWelcome, Node: &info}) {
		h.drop(c, "outbox full")
		return
	}
	h.log.Info("Node registered", "node", c.name(), "id", c.id(), "direction", info.Direction)

	if c.isProducer() {
		h.linkWaiting()
		return
	}
	h.linkConsumer(c)
}

// detach forgets c after its connection ended.
func (h *Hub) detach(c *nodeConn, reason string) {
	if h.conns[c.id()] != c {
		return
	}
	h.forget(c)
	h.registry.Delete(c.id(), c.reg.Token)
	h.log.Info("Node left", "node", c.name(), "reason", reason)
	if l := c.link; l != nil {
		h.peerLeft(l, c, reason)
	}
}

func (h *Hub) forget(c *nodeConn) {
	delete(h.conns, c.id())
	h.order = without(h.order, c.id())
	h.waiting = without(h.waiting, c.id())
}

// drop disconnects a node the hub can no longer talk to.
func (h *Hub) drop(c *nodeConn, reason string) {
	h.log.Warn("Dropping node", "node", c.name(), "reason", reason)
	h.detach(c, reason)
	c.shutdown()
}

// evict tells a node it is no longer connected and forgets it. The node
// closes its own connection on receipt.
func (h *Hub) evict(c *nodeConn) {
	c.state = protocol.StateUnconnected
	c.send(protocol.StateMessage(protocol.StateUnconnected, "evicted"))
	h.detach(c, "evicted")
}

func (h *Hub) setState(c *nodeConn, state protocol.State, reason string) {
	if c.state == state {
		return
	}
	c.state = state
	if !c.send(protocol.StateMessage(state, reason)) {
		h.drop(c, "outbox full")
	}
}

// fail reports err to c and moves it to the error state.
func (h *Hub) fail(c *nodeConn, seq uint32, code protocol.ErrorCode, message string) {
	h.log.Warn("Node failed", "node", c.name(), "code", code, "error", message)
	if !c.send(protocol.ErrorMessage(seq, code, message)) {
		h.drop(c, "outbox full")
		return
	}
	c.state = protocol.StateError
}

func (h *Hub) handle(c *nodeConn, msg protocol.Message) {
	if h.conns[c.id()] != c {
		return
	}
	switch msg.Type {
	case protocol.TypeEnumFormatReply, protocol.TypeFormatReply, protocol.TypeBuffersReply:
		if c.link == nil || c.link.producer != c {
			h.log.Debug("Ignoring reply outside a link", "node", c.name(), "type", msg.Type)
			return
		}
		h.negotiate(c.link, msg)
	case protocol.TypeQueueBuffer:
		h.queueBuffer(c, msg.Buffer)
	default:
		h.log.Debug("Ignoring message", "node", c.name(), "type", msg.Type)
	}
}

// Nodes lists the registered nodes.
func (h *Hub) Nodes() []handlers.NodeDTO {
	var nodes []handlers.NodeDTO
	h.query(func() {
		nodes = make([]handlers.NodeDTO, 0, len(h.order))
		for _, id := range h.order {
			c := h.conns[id]
			dto := handlers.NodeDTO{
				ID:         id,
				Name:       c.name(),
				Direction:  string(c.reg.Info.Direction),
				MediaClass: c.reg.Info.Props["media.class"],
				State:      string(c.state),
				Registered: c.reg.Registered,
			}
			if c.link != nil {
				dto.Link = c.link.id
			}
			nodes = append(nodes, dto)
		}
	})
	return nodes
}

// Links lists the active links.
func (h *Hub) Links() []handlers.LinkDTO {
	var links []handlers.LinkDTO
	h.query(func() {
		links = make([]handlers.LinkDTO, 0, len(h.links))
		for _, l := range h.links {
			links = append(links, l.describe())
		}
	})
	return links
}

// Evict disconnects the node with the given id or name.
func (h *Hub) Evict(idOrName string) error {
	id := idOrName
	if byName, ok := h.registry.Lookup(idOrName); ok {
		id = byName
	} else if _, ok := h.registry.Get(idOrName); !ok {
		return errors.Wrapf(ErrNodeNotFound, "%s", idOrName)
	}
	var found bool
	if !h.query(func() {
		if c, ok := h.conns[id]; ok {
			found = true
			h.evict(c)
		}
	}) {
		return ErrHubStopped
	}
	if !found {
		return errors.Wrapf(ErrNodeNotFound, "%s", idOrName)
	}
	return nil
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
