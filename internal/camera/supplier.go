package camera

import (
	"github.com/stillcam/stillcam/internal/bus/client"
	"github.com/stillcam/stillcam/internal/core"
)

// Slot is a pool buffer borrowed for a single fill. Its bytes are only
// reachable until it is released.
type Slot struct {
	buf      *client.Buffer
	released bool
}

// ID is the pool index of the slot.
func (s *Slot) ID() int {
	return s.buf.ID
}

// Bytes returns the writable region, or nil once the slot was released.
func (s *Slot) Bytes() []byte {
	if s.released {
		return nil
	}
	return s.buf.Data
}

// Stride is the row stride the pool declared for the slot, or 0 when the
// pool left it to the producer.
func (s *Slot) Stride() int {
	return s.buf.Stride
}

func (s *Slot) setChunk(size, stride int, corrupted bool) {
	if s.released {
		return
	}
	s.buf.Chunk = client.Chunk{Size: size, Stride: stride, Corrupted: corrupted}
}

// Supplier copies the still frame into pool buffers on demand.
type Supplier struct {
	frame    *core.PixelBuffer
	desc     BufferDescriptor
	borrowed map[int]*Slot

	frames uint64
	misses uint64
}

// NewSupplier serves frame into buffers laid out as desc.
func NewSupplier(frame *core.PixelBuffer, desc BufferDescriptor) *Supplier {
	return &Supplier{
		frame:    frame,
		desc:     desc,
		borrowed: make(map[int]*Slot),
	}
}

// Supply fills one buffer from q and queues it back. Without a free buffer
// it does nothing.
func (s *Supplier) Supply(q client.BufferQueue) error {
	return s.withSlot(q, func(slot *Slot) error {
		s.fill(slot)
		s.frames++
		return nil
	})
}

// Frames is the number of frames supplied so far.
func (s *Supplier) Frames() uint64 {
	return s.frames
}

// Misses counts process signals that found no free buffer.
func (s *Supplier) Misses() uint64 {
	return s.misses
}

// Outstanding is the number of slots currently borrowed.
func (s *Supplier) Outstanding() int {
	return len(s.borrowed)
}

// withSlot borrows one slot for the duration of fn. The slot is queued back
// whatever fn returns.
func (s *Supplier) withSlot(q client.BufferQueue, fn func(*Slot) error) (err error) {
	slot := s.borrow(q)
	if slot == nil {
		s.misses++
		return nil
	}
	defer func() {
		if qerr := s.release(q, slot); err == nil {
			err = qerr
		}
	}()
	if err := fn(slot); err != nil {
		slot.setChunk(0, 0, true)
		return err
	}
	return nil
}

func (s *Supplier) borrow(q client.BufferQueue) *Slot {
	b := q.DequeueBuffer()
	if b == nil {
		return nil
	}
	slot := &Slot{buf: b}
	s.borrowed[b.ID] = slot
	return slot
}

func (s *Supplier) release(q client.BufferQueue, slot *Slot) error {
	delete(s.borrowed, slot.ID())
	slot.released = true
	return q.QueueBuffer(slot.buf)
}

// ReturnAll queues back every slot still borrowed, marked as carrying no
// data, and reports how many there were.
func (s *Supplier) ReturnAll(q client.BufferQueue) (int, error) {
	var firstErr error
	n := 0
	for _, slot := range s.borrowed {
		slot.setChunk(0, 0, true)
		if err := s.release(q, slot); err != nil && firstErr == nil {
			firstErr = err
		}
		n++
	}
	return n, firstErr
}

// fill copies the frame into slot. Rows are copied one by one when the slot
// stride differs from the frame stride. The chunk covers the frame only;
// slot bytes past it up to the descriptor size are zeroed. Nothing is
// written past the descriptor size or the end of the slot.
func (s *Supplier) fill(slot *Slot) {
	dst := slot.Bytes()
	limit := min(s.desc.Size, len(dst))
	stride := slot.Stride()
	if stride == 0 {
		stride = s.desc.Stride
	}

	src := s.frame
	payload := len(src.Data)
	if stride != src.Stride {
		payload = src.Height * stride
	}
	payload = min(payload, limit)

	if stride == src.Stride {
		copy(dst[:payload], src.Data)
	} else {
		row := min(src.RowBytes(), stride)
		for y := 0; y < src.Height; y++ {
			off := y * stride
			if off >= payload {
				break
			}
			end := min(off+row, payload)
			copy(dst[off:end], src.Row(y))
			clear(dst[end:min(off+stride, payload)])
		}
	}
	clear(dst[payload:limit])
	slot.setChunk(payload, stride, false)
}
