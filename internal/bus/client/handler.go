package client

import (
	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/spa"
)

// BaseHandler implements StreamHandler with no-ops. Sinks embed it and
// override what they need.
type BaseHandler struct{}

func (BaseHandler) EnumFormat(int) (*spa.Object, bool) { return nil, false }

func (BaseHandler) SetFormat(*spa.Object) (*spa.Object, error) {
	return nil, Reject(protocol.CodeProtocol, errors.New("stream does not accept formats"))
}

func (BaseHandler) Buffers(protocol.BufferRequest) (*spa.Object, error) {
	return nil, Reject(protocol.CodeProtocol, errors.New("stream does not negotiate buffers"))
}

func (BaseHandler) AddBuffers([]*Buffer) {}

func (BaseHandler) RemoveBuffers(BufferQueue) {}

func (BaseHandler) Param(spa.ParamType, *spa.Object) {}

func (BaseHandler) StateChanged(BufferQueue, protocol.State, protocol.State, string) {}

func (BaseHandler) Process(BufferQueue) {}

func (BaseHandler) Unlinked(BufferQueue) {}
