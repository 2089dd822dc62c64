package camera

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillcam/stillcam/internal/bus/client"
	"github.com/stillcam/stillcam/internal/bus/protocol"
	"github.com/stillcam/stillcam/internal/core"
	"github.com/stillcam/stillcam/internal/spa"
)

type nodeFixture struct {
	node   *Node
	frame  *core.PixelBuffer
	events []string
}

func newNodeFixture(t *testing.T) *nodeFixture {
	t.Helper()
	f := &nodeFixture{frame: testFrame(t, 640, 480)}
	node, err := NewNode(Config{
		Name:        "virtual-camera",
		Description: "Still image camera",
		Candidates:  []FormatCandidate{DefaultFormat},
		OnTransition: func(session int, from, to State) {
			f.events = append(f.events, fmt.Sprintf("session %d %s", session, to))
		},
	}, f.frame, discardLogger())
	require.NoError(t, err)
	f.node = node
	return f
}

func defaultFormatParam() *spa.Object {
	return spa.NewVideoFormat(spa.ParamEnumFormat, spa.VideoInfo{
		Format:    spa.VideoFormatBGRA,
		Size:      spa.Rectangle{Width: 640, Height: 480},
		Framerate: spa.Fraction{Num: 30, Denom: 1},
	})
}

func rejectionCode(t *testing.T, err error) protocol.ErrorCode {
	t.Helper()
	var rejection *client.Rejection
	require.True(t, errors.As(err, &rejection), "error %v is not a rejection", err)
	return rejection.Code
}

// stream drives the node from advertising to streaming over q.
func (f *nodeFixture) stream(t *testing.T, q *fakeQueue) {
	t.Helper()
	_, err := f.node.SetFormat(defaultFormatParam())
	require.NoError(t, err)
	_, err = f.node.Buffers(protocol.BufferRequest{MinBuffers: 2})
	require.NoError(t, err)
	f.node.StateChanged(q, protocol.StateConnecting, protocol.StatePaused, "")
	f.node.StateChanged(q, protocol.StatePaused, protocol.StateStreaming, "")
	require.Equal(t, StateStreaming, f.node.State())
}

func TestNodeProperties(t *testing.T) {
	f := newNodeFixture(t)
	props := f.node.Properties()

	assert.Equal(t, "Video", props["media.type"])
	assert.Equal(t, "Capture", props["media.category"])
	assert.Equal(t, "Camera", props["media.role"])
	assert.Equal(t, "Video/Source", props["media.class"])
	assert.Equal(t, "virtual-camera", props["node.name"])
	assert.Equal(t, "Still image camera", props["node.description"])
	assert.Equal(t, "camera-web", props["device.icon-name"])

	opts := f.node.StreamOptions()
	assert.Equal(t, protocol.DirectionOutput, opts.Direction)
	assert.Len(t, opts.Params, 1)
}

func TestNewNodeRejectsMismatchedFrame(t *testing.T) {
	_, err := NewNode(Config{
		Name:       "virtual-camera",
		Candidates: []FormatCandidate{DefaultFormat},
	}, testFrame(t, 320, 240), discardLogger())
	assert.Error(t, err)
}

func TestHappyPathNegotiationAndStreaming(t *testing.T) {
	f := newNodeFixture(t)

	obj, ok := f.node.EnumFormat(0)
	require.True(t, ok)
	assert.Equal(t, defaultFormatParam(), obj)
	_, ok = f.node.EnumFormat(1)
	assert.False(t, ok)

	format, err := f.node.SetFormat(defaultFormatParam())
	require.NoError(t, err)
	assert.Equal(t, spa.ParamFormat, format.ID)
	assert.Equal(t, StateNegotiating, f.node.State())

	param, err := f.node.Buffers(protocol.BufferRequest{MinBuffers: 2})
	require.NoError(t, err)
	info, err := spa.ParseBuffers(param)
	require.NoError(t, err)
	assert.Equal(t, int32(2), info.Buffers)
	assert.Equal(t, int32(1228800), info.Size)
	assert.Equal(t, int32(2560), info.Stride)
	assert.Equal(t, StateReady, f.node.State())

	q := newFakeQueue(int(info.Buffers), int(info.Size), int(info.Stride), nil)
	f.node.StateChanged(q, protocol.StateConnecting, protocol.StatePaused, "")
	f.node.StateChanged(q, protocol.StatePaused, protocol.StateStreaming, "")
	assert.Equal(t, StateStreaming, f.node.State())

	for i := 0; i < 3; i++ {
		f.node.Process(q)
		require.Len(t, q.queued, i+1)
		chunk := q.queued[i]
		assert.Equal(t, 1228800, chunk.Size)
		assert.False(t, chunk.Corrupted)
		assert.Equal(t, f.frame.Data, q.buffers[q.queuedIDs[len(q.queuedIDs)-1]].Data)
		q.recycle()
	}
	assert.Equal(t, uint64(3), f.node.Frames())
}

func TestIncompatibleFormatKeepsAdvertising(t *testing.T) {
	f := newNodeFixture(t)

	rgba := spa.NewVideoFormat(spa.ParamEnumFormat, spa.VideoInfo{
		Format:    spa.VideoFormatRGBA,
		Size:      spa.Rectangle{Width: 640, Height: 480},
		Framerate: spa.Fraction{Num: 30, Denom: 1},
	})
	_, err := f.node.SetFormat(rgba)
	require.Error(t, err)
	assert.Equal(t, protocol.CodeFormatNotFound, rejectionCode(t, err))
	assert.True(t, errors.Is(err, ErrIncompatible))
	assert.Equal(t, StateAdvertising, f.node.State())
	assert.Equal(t, 1, f.node.Session().ID())

	_, ok := f.node.EnumFormat(0)
	assert.True(t, ok)

	_, err = f.node.SetFormat(defaultFormatParam())
	require.NoError(t, err)
	assert.Equal(t, StateNegotiating, f.node.State())
	assert.Equal(t, []string{
		"session 1 negotiating",
		"session 1 advertising",
		"session 1 negotiating",
	}, f.events)
}

func TestDisconnectWhileSlotBorrowed(t *testing.T) {
	f := newNodeFixture(t)
	q := newFakeQueue(2, 1228800, 2560, &f.events)
	f.stream(t, q)
	f.events = nil

	slot := f.node.Session().supplier.borrow(q)
	require.NotNil(t, slot)

	f.node.StateChanged(q, protocol.StateStreaming, protocol.StateUnconnected, "shutdown")

	assert.Equal(t, []string{
		"dequeue 0",
		"session 1 draining",
		"queue 0",
		"session 1 closed",
	}, f.events)
	assert.Equal(t, StateClosed, f.node.State())
	assert.True(t, f.node.Closed())
	assert.True(t, q.queued[0].Corrupted)
	assert.Zero(t, f.node.Session().supplier.Outstanding())
}

func TestPauseDrainsToReady(t *testing.T) {
	f := newNodeFixture(t)
	q := newFakeQueue(2, 1228800, 2560, nil)
	f.stream(t, q)
	f.events = nil

	f.node.StateChanged(q, protocol.StateStreaming, protocol.StatePaused, "")
	assert.Equal(t, []string{"session 1 draining", "session 1 ready"}, f.events)

	f.node.Process(q)
	assert.Empty(t, q.queued)

	f.node.StateChanged(q, protocol.StatePaused, protocol.StateStreaming, "")
	f.node.Process(q)
	assert.Len(t, q.queued, 1)
}

func TestRenegotiationFailsSession(t *testing.T) {
	f := newNodeFixture(t)
	q := newFakeQueue(2, 1228800, 2560, nil)
	f.stream(t, q)

	_, err := f.node.SetFormat(defaultFormatParam())
	require.Error(t, err)
	assert.Equal(t, protocol.CodeRenegotiation, rejectionCode(t, err))
	assert.Equal(t, StateError, f.node.State())
	assert.ErrorIs(t, f.node.Session().Cause(), ErrRenegotiation)

	f.node.Process(q)
	assert.Empty(t, q.queued)

	// the node stays advertised and the next request starts over
	_, err = f.node.SetFormat(defaultFormatParam())
	require.NoError(t, err)
	assert.Equal(t, 2, f.node.Session().ID())
	assert.Equal(t, StateNegotiating, f.node.State())
}

func TestUnsatisfiableBuffersFailSession(t *testing.T) {
	f := newNodeFixture(t)
	_, err := f.node.SetFormat(defaultFormatParam())
	require.NoError(t, err)

	_, err = f.node.Buffers(protocol.BufferRequest{MaxSize: 1000})
	require.Error(t, err)
	assert.Equal(t, protocol.CodeBuffersUnsatisfiable, rejectionCode(t, err))
	assert.Equal(t, StateError, f.node.State())
	assert.ErrorIs(t, f.node.Session().Cause(), ErrBufferConstraintUnsatisfiable)

	obj, ok := f.node.EnumFormat(0)
	require.True(t, ok)
	assert.NotNil(t, obj)
}

func TestBuffersBeforeFormatIsRejected(t *testing.T) {
	f := newNodeFixture(t)

	_, err := f.node.Buffers(protocol.BufferRequest{})
	require.Error(t, err)
	assert.Equal(t, protocol.CodeProtocol, rejectionCode(t, err))
	assert.Equal(t, StateAdvertising, f.node.State())
}

func TestUnlinkStartsFreshSession(t *testing.T) {
	f := newNodeFixture(t)
	q := newFakeQueue(2, 1228800, 2560, nil)
	f.stream(t, q)

	f.node.Unlinked(q)
	assert.False(t, f.node.Closed())
	assert.Equal(t, 2, f.node.Session().ID())
	assert.Equal(t, StateAdvertising, f.node.State())

	f.stream(t, q)
	assert.Equal(t, 2, f.node.Session().ID())
}

func TestUnlinkAfterBuffersAllowsNextConsumer(t *testing.T) {
	f := newNodeFixture(t)
	q := newFakeQueue(2, 1228800, 2560, nil)
	_, err := f.node.SetFormat(defaultFormatParam())
	require.NoError(t, err)
	_, err = f.node.Buffers(protocol.BufferRequest{MinBuffers: 2})
	require.NoError(t, err)
	require.Equal(t, StateReady, f.node.State())

	// the bus could not set up the pool and dropped the link
	f.node.Unlinked(q)
	assert.Equal(t, 2, f.node.Session().ID())
	assert.Equal(t, StateAdvertising, f.node.State())

	f.stream(t, q)
	assert.Equal(t, 2, f.node.Session().ID())
}

func TestUnlinkWhileAdvertisingKeepsSession(t *testing.T) {
	f := newNodeFixture(t)
	q := newFakeQueue(2, 1228800, 2560, nil)

	f.node.Unlinked(q)
	assert.Equal(t, 1, f.node.Session().ID())
	assert.Equal(t, StateAdvertising, f.node.State())
	assert.Empty(t, f.events)
}

func TestUnknownParamsAreIgnored(t *testing.T) {
	f := newNodeFixture(t)
	q := newFakeQueue(2, 1228800, 2560, nil)
	f.stream(t, q)
	f.events = nil

	f.node.Param(spa.ParamLatency, spa.NewObject(spa.ObjectParamLatency, spa.ParamLatency))
	f.node.Param(spa.ParamIO, nil)

	assert.Empty(t, f.events)
	assert.Equal(t, StateStreaming, f.node.State())
}

func TestBusErrorFailsSession(t *testing.T) {
	f := newNodeFixture(t)
	q := newFakeQueue(2, 1228800, 2560, nil)
	f.stream(t, q)

	f.node.StateChanged(q, protocol.StateStreaming, protocol.StateError, "connection lost")
	assert.Equal(t, StateError, f.node.State())
	assert.EqualError(t, f.node.Session().Cause(), "stream error: connection lost")
}
