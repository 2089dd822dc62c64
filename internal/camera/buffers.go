package camera

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/spa"
)

// BufferPolicy bounds the pools the camera accepts.
type BufferPolicy struct {
	MinCount int
	MaxCount int
	Align    int
}

// DefaultBufferPolicy allows two to eight buffers aligned to 16 bytes.
var DefaultBufferPolicy = BufferPolicy{MinCount: 2, MaxCount: 8, Align: 16}

// BufferDescriptor is the pool layout agreed for a session.
type BufferDescriptor struct {
	Count  int
	Size   int
	Stride int
	Align  int
}

func (d BufferDescriptor) String() string {
	return fmt.Sprintf("count=%d size=%d stride=%d align=%d", d.Count, d.Size, d.Stride, d.Align)
}

// Param encodes the descriptor as a ParamBuffers object.
func (d BufferDescriptor) Param() *spa.Object {
	return spa.NewBuffers(spa.BuffersInfo{
		Buffers:  int32(d.Count),
		Blocks:   1,
		Size:     int32(d.Size),
		Stride:   int32(d.Stride),
		Align:    int32(d.Align),
		DataType: spa.DataMemFd,
	})
}

// NegotiateBuffers derives the pool layout for format under the bus
// constraints in req. Each buffer holds at least one full frame, rounded up
// to the policy alignment, and the count is the larger of the bus minimum
// and the policy minimum.
func NegotiateBuffers(format FormatCandidate, req protocol.BufferRequest, policy BufferPolicy) (BufferDescriptor, error) {
	align := policy.Align
	if align <= 0 {
		align = 1
	}

	size := format.FrameSize()
	if req.MinSize > size {
		size = req.MinSize
	}
	size = alignUp(size, align)

	if req.MaxSize > 0 && size > req.MaxSize {
		return BufferDescriptor{}, errors.Wrapf(ErrBufferConstraintUnsatisfiable,
			"buffer of %d bytes exceeds bus limit of %d", size, req.MaxSize)
	}

	count := policy.MinCount
	if req.MinBuffers > count {
		count = req.MinBuffers
	}
	if count < 1 {
		count = 1
	}
	if policy.MaxCount > 0 && count > policy.MaxCount {
		return BufferDescriptor{}, errors.Wrapf(ErrBufferConstraintUnsatisfiable,
			"bus wants %d buffers, at most %d allowed", count, policy.MaxCount)
	}

	return BufferDescriptor{
		Count:  count,
		Size:   size,
		Stride: format.Stride(),
		Align:  align,
	}, nil
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}
