package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/bus/protocol"
)

var nodeUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // only reachable through the local socket
	},
}

// HandleWebSocket registers the node speaking on the connection and pumps
// its messages into the hub until it says bye or the connection breaks.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := nodeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	h.serve(ws)
}

func (h *Hub) serve(conn protocol.Conn) {
	reg, err := h.register(conn)
	if err != nil {
		h.log.Warn("Registration refused", "error", err)
		conn.Close()
		return
	}

	c := newNodeConn(reg, conn)
	go c.writeLoop(h.log)
	defer c.shutdown()

	if !h.do(func() { h.attach(c) }) {
		h.registry.Delete(reg.ID, reg.Token)
		return
	}

	reason := "disconnected"
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("Node connection error", "node", reg.Info.Name, "error", err)
			}
			break
		}
		if msg.Type == protocol.TypeBye {
			reason = "bye"
			break
		}
		if !h.do(func() { h.handle(c, msg) }) {
			return
		}
	}
	h.do(func() { h.detach(c, reason) })
}

// register reads the hello and enters the node in the registry. Refusals
// are reported to the node before the connection is closed.
func (h *Hub) register(conn protocol.Conn) (*Registration, error) {
	var hello protocol.Message
	if err := conn.ReadJSON(&hello); err != nil {
		return nil, errors.Wrap(err, "read hello")
	}

	refuse := func(code protocol.ErrorCode, err error) (*Registration, error) {
		if werr := conn.WriteJSON(protocol.ErrorMessage(hello.Seq, code, err.Error())); werr != nil {
			h.log.Debug("Failed to send refusal", "error", werr)
		}
		return nil, err
	}

	if hello.Type != protocol.TypeHello || hello.Node == nil {
		return refuse(protocol.CodeProtocol, errors.Errorf("expected hello, got %s", hello.Type))
	}
	info := *hello.Node
	if info.Name == "" {
		return refuse(protocol.CodeProtocol, errors.New("node name is empty"))
	}
	if info.Direction != protocol.DirectionOutput && info.Direction != protocol.DirectionInput {
		return refuse(protocol.CodeProtocol, errors.Errorf("invalid direction %q", info.Direction))
	}

	reg, err := h.registry.Register(info)
	if errors.Is(err, ErrNameTaken) {
		return refuse(protocol.CodeNameTaken, err)
	}
	return reg, err
}
