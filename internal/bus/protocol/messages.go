// Package protocol defines the envelopes exchanged between bus nodes and the
// bus daemon over a websocket. Parameters travel as SPA POD bytes.
package protocol

import (
	"fmt"

	"github.com/stillcam/stillcam/internal/spa"
)

// Version is reported by the daemon and the CLI. It changes whenever a
// message changes shape.
const Version = 1

// Direction of a node's single port.
type Direction string

const (
	DirectionOutput Direction = "output" // produces frames
	DirectionInput  Direction = "input"  // consumes frames
)

// MessageType names an envelope.
type MessageType string

const (
	// node -> bus
	TypeHello           MessageType = "hello"
	TypeEnumFormatReply MessageType = "enum_format_reply"
	TypeFormatReply     MessageType = "format_reply"
	TypeBuffersReply    MessageType = "buffers_reply"
	TypeQueueBuffer     MessageType = "queue_buffer"
	TypeBye             MessageType = "bye"

	// bus -> node
	TypeWelcome        MessageType = "welcome"
	TypeEnumFormat     MessageType = "enum_format"
	TypeSetFormat      MessageType = "set_format"
	TypeFormat         MessageType = "format"
	TypeBuffersRequest MessageType = "buffers_request"
	TypeAddBuffers     MessageType = "add_buffers"
	TypeRemoveBuffers  MessageType = "remove_buffers"
	TypeProcess        MessageType = "process"
	TypeBufferReady    MessageType = "buffer_ready"
	TypeReuseBuffer    MessageType = "reuse_buffer"
	TypeState          MessageType = "state"
	TypeParam          MessageType = "param"
	TypeUnlink         MessageType = "unlink"
	TypeError          MessageType = "error"
)

// State is the stream state the bus assigns to a node.
type State string

const (
	StateUnconnected State = "unconnected"
	StateConnecting  State = "connecting"
	StatePaused      State = "paused"
	StateStreaming   State = "streaming"
	StateError       State = "error"
)

// ErrorCode classifies a failure reported across the bus.
type ErrorCode string

const (
	CodeProtocol             ErrorCode = "protocol"
	CodeFormatNotFound       ErrorCode = "format_not_found"
	CodeBuffersUnsatisfiable ErrorCode = "buffers_unsatisfiable"
	CodeRenegotiation        ErrorCode = "renegotiation"
	CodeBusy                 ErrorCode = "busy"
	CodeNameTaken            ErrorCode = "name_taken"
	CodeNoTarget             ErrorCode = "no_target"
)

// Message is the single envelope type. Which fields are set depends on Type.
type Message struct {
	Type    MessageType    `json:"type"`
	Seq     uint32         `json:"seq,omitempty"`
	Index   int            `json:"index,omitempty"`
	ParamID spa.ParamType  `json:"param_id,omitempty"`
	Param   []byte         `json:"param,omitempty"`
	End     bool           `json:"end,omitempty"`
	State   State          `json:"state,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Node    *NodeInfo      `json:"node,omitempty"`
	Request *BufferRequest `json:"request,omitempty"`
	Pool    *Pool          `json:"pool,omitempty"`
	Buffer  *BufferRef     `json:"buffer,omitempty"`
	Error   *Error         `json:"error,omitempty"`
}

// NodeInfo is sent in hello and echoed, with ID filled in, in welcome.
type NodeInfo struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	Direction  Direction         `json:"direction"`
	Props      map[string]string `json:"props,omitempty"`
	Params     [][]byte          `json:"params,omitempty"`
	Target     string            `json:"target,omitempty"`
	MinBuffers int               `json:"min_buffers,omitempty"`
}

// BufferRequest carries the bus side constraints for a pool. Zero fields are
// unconstrained.
type BufferRequest struct {
	MinBuffers int `json:"min_buffers,omitempty"`
	MinSize    int `json:"min_size,omitempty"`
	MaxSize    int `json:"max_size,omitempty"`
}

// Pool describes a shared memory file holding Count buffers of Size bytes
// laid out back to back.
type Pool struct {
	Path   string `json:"path"`
	Count  int    `json:"count"`
	Size   int    `json:"size"`
	Stride int    `json:"stride"`
}

// BufferRef points at one buffer of the current pool and describes the
// valid region written into it.
type BufferRef struct {
	ID        int  `json:"id"`
	Offset    int  `json:"offset,omitempty"`
	Size      int  `json:"size,omitempty"`
	Stride    int  `json:"stride,omitempty"`
	Corrupted bool `json:"corrupted,omitempty"`
}

// Error is a failure reported by either side.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Conn is the part of a websocket connection the bus uses.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}
