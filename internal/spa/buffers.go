package spa

import "github.com/pkg/errors"

// ParamBuffers object keys.
const (
	BuffersBuffers  uint32 = 1
	BuffersBlocks   uint32 = 2
	BuffersSize     uint32 = 3
	BuffersStride   uint32 = 4
	BuffersAlign    uint32 = 5
	BuffersDataType uint32 = 6
)

// Data types a buffer block may be backed by, as a bitmask in BuffersDataType.
const (
	DataMemPtr = 1 << 1
	DataMemFd  = 1 << 2
)

// BuffersInfo describes the pool a node needs.
type BuffersInfo struct {
	Buffers  int32
	Blocks   int32
	Size     int32
	Stride   int32
	Align    int32
	DataType int32
}

// NewBuffers builds a ParamBuffers object.
func NewBuffers(info BuffersInfo) *Object {
	o := NewObject(ObjectParamBuffers, ParamBuffers).
		Set(BuffersBuffers, Int(info.Buffers)).
		Set(BuffersBlocks, Int(info.Blocks)).
		Set(BuffersSize, Int(info.Size)).
		Set(BuffersStride, Int(info.Stride)).
		Set(BuffersAlign, Int(info.Align))
	if info.DataType != 0 {
		o.Set(BuffersDataType, Int(info.DataType))
	}
	return o
}

// ParseBuffers reads a ParamBuffers object. Buffers, size and stride are
// required; blocks defaults to 1.
func ParseBuffers(o *Object) (BuffersInfo, error) {
	info := BuffersInfo{Blocks: 1}
	if o.ObjectType != ObjectParamBuffers {
		return info, errors.Errorf("object type 0x%x is not a buffers param", uint32(o.ObjectType))
	}
	fields := []struct {
		key      uint32
		dst      *int32
		required bool
	}{
		{BuffersBuffers, &info.Buffers, true},
		{BuffersBlocks, &info.Blocks, false},
		{BuffersSize, &info.Size, true},
		{BuffersStride, &info.Stride, true},
		{BuffersAlign, &info.Align, false},
		{BuffersDataType, &info.DataType, false},
	}
	for _, f := range fields {
		v, ok := o.Prop(f.key)
		if !ok {
			if f.required {
				return info, errors.Errorf("buffers param has no key %d", f.key)
			}
			continue
		}
		n, ok := Fixed(v).(Int)
		if !ok {
			return info, errors.Errorf("buffers key %d has type %T", f.key, Fixed(v))
		}
		*f.dst = int32(n)
	}
	return info, nil
}
