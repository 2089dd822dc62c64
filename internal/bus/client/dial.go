package client

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const handshakeTimeout = 5 * time.Second

// Dial connects to the bus daemon. addr is either a ws:// or wss:// URL or
// the path of the daemon's unix socket.
func Dial(ctx context.Context, addr string) (*websocket.Conn, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, addr, nil)
		if err != nil {
			return nil, errors.Wrapf(ErrBusUnavailable, "dial %s: %v", addr, err)
		}
		return conn, nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", addr)
		},
	}
	conn, _, err := dialer.DialContext(ctx, "ws://stillcam/ws", nil)
	if err != nil {
		return nil, errors.Wrapf(ErrBusUnavailable, "dial %s: %v", addr, err)
	}
	return conn, nil
}
