// Package consumer implements a video sink node used to check a camera end
// to end: it requests a format, logs every frame it receives and can save
// the first one as a PNG.
package consumer

import (
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/bus/client"
	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/spa"
)

// ErrStreamFailed is returned by Run when the bus moved the stream to the
// error state, for example because no format could be agreed.
var ErrStreamFailed = errors.New("stream failed")

// Options configure a sink.
type Options struct {
	Name       string
	Target     string
	Format     spa.VideoInfo
	MinBuffers int
	// Frames stops the sink after this many frames. Zero runs until the
	// context is cancelled.
	Frames   uint64
	SavePath string
	OnFrame  func(Frame)
}

// Frame summarises one received buffer.
type Frame struct {
	Seq    uint64
	Buffer int
	Size   int
	CRC    uint32
}

// Sink is the handler of a consumer stream.
type Sink struct {
	client.BaseHandler

	opts Options
	log  *slog.Logger
	stop context.CancelFunc

	format *spa.VideoInfo
	saved  bool
	err    error
	frames atomic.Uint64
}

var _ client.StreamHandler = (*Sink)(nil)

func NewSink(opts Options, log *slog.Logger) *Sink {
	return &Sink{
		opts: opts,
		log:  log.With("node", opts.Name),
		stop: func() {},
	}
}

// StreamOptions describe the input stream the sink registers.
func (s *Sink) StreamOptions() client.Options {
	return client.Options{
		Name:      s.opts.Name,
		Direction: protocol.DirectionInput,
		Props: map[string]string{
			"media.type":     "Video",
			"media.category": "Capture",
			"media.role":     "Camera",
			"media.class":    "Stream/Input/Video",
			"node.name":      s.opts.Name,
		},
		Params:     []*spa.Object{spa.NewVideoFormat(spa.ParamEnumFormat, s.opts.Format)},
		Target:     s.opts.Target,
		MinBuffers: s.opts.MinBuffers,
	}
}

// Run dispatches stream until the frame limit is reached, the context is
// cancelled or the stream fails.
func (s *Sink) Run(ctx context.Context, stream *client.Stream) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.stop = cancel

	if err := stream.Run(ctx); err != nil {
		return err
	}
	return s.err
}

// Frames is the number of frames received so far.
func (s *Sink) Frames() uint64 {
	return s.frames.Load()
}

// Format is the negotiated format, if any.
func (s *Sink) Format() (spa.VideoInfo, bool) {
	if s.format == nil {
		return spa.VideoInfo{}, false
	}
	return *s.format, true
}

func (s *Sink) Param(id spa.ParamType, param *spa.Object) {
	if id != spa.ParamFormat || param == nil {
		s.log.Debug("Ignoring param", "param", id.String())
		return
	}
	info, err := spa.ParseVideoFormat(param)
	if err != nil {
		s.log.Warn("Ignoring unparsable format", "error", err)
		return
	}
	s.format = &info
	s.log.Info("Format negotiated", "format", info.String())
}

func (s *Sink) AddBuffers(buffers []*client.Buffer) {
	s.log.Info("Buffers added", "count", len(buffers))
}

func (s *Sink) RemoveBuffers(client.BufferQueue) {
	s.log.Info("Buffers removed")
}

func (s *Sink) StateChanged(_ client.BufferQueue, old, state protocol.State, reason string) {
	s.log.Info("Stream state changed", "from", old, "to", state, "reason", reason)
	if state == protocol.StateError {
		s.err = errors.Wrapf(ErrStreamFailed, "%s", reason)
		s.stop()
	}
}

func (s *Sink) Unlinked(client.BufferQueue) {
	s.log.Info("Producer unlinked")
}

// Process consumes every buffer the producer has made ready.
func (s *Sink) Process(q client.BufferQueue) {
	for b := q.DequeueBuffer(); b != nil; b = q.DequeueBuffer() {
		s.consume(b)
		if err := q.QueueBuffer(b); err != nil {
			s.log.Warn("Failed to recycle buffer", "buffer", b.ID, "error", err)
		}
	}
}

func (s *Sink) consume(b *client.Buffer) {
	data, ok := region(b)
	if !ok {
		s.log.Debug("Skipping empty buffer", "buffer", b.ID, "corrupted", b.Chunk.Corrupted)
		return
	}

	f := Frame{
		Seq:    s.frames.Add(1),
		Buffer: b.ID,
		Size:   len(data),
		CRC:    crc32.ChecksumIEEE(data),
	}
	s.log.Info("Frame received", "seq", f.Seq, "buffer", f.Buffer, "size", f.Size, "crc32", fmt.Sprintf("%08x", f.CRC))

	if s.opts.SavePath != "" && !s.saved {
		s.saved = true
		stride := b.Chunk.Stride
		if stride == 0 {
			stride = b.Stride
		}
		if err := s.save(data, stride); err != nil {
			s.log.Warn("Failed to save frame", "path", s.opts.SavePath, "error", err)
		} else {
			s.log.Info("Frame saved", "path", s.opts.SavePath)
		}
	}
	if s.opts.OnFrame != nil {
		s.opts.OnFrame(f)
	}
	if s.opts.Frames > 0 && f.Seq >= s.opts.Frames {
		s.log.Info("Frame limit reached", "frames", f.Seq)
		s.stop()
	}
}

// region is the valid part of b, false when there is none.
func region(b *client.Buffer) ([]byte, bool) {
	off, size := b.Chunk.Offset, b.Chunk.Size
	if b.Chunk.Corrupted || size <= 0 || off < 0 || off+size > len(b.Data) {
		return nil, false
	}
	return b.Data[off : off+size], true
}

func (s *Sink) save(data []byte, stride int) error {
	info := s.opts.Format
	if s.format != nil {
		info = *s.format
	}
	return SavePNG(s.opts.SavePath, data, info, stride)
}
