package camera

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stillcam/stillcam/internal/bus/client"
	"github.com/stillcam/stillcam/internal/core"
)

// fakeQueue is an in-memory pool standing in for a bus stream.
type fakeQueue struct {
	buffers   []*client.Buffer
	free      []int
	queued    []client.Chunk
	queuedIDs []int
	events    *[]string
}

func newFakeQueue(count, size, stride int, events *[]string) *fakeQueue {
	q := &fakeQueue{events: events}
	for i := 0; i < count; i++ {
		q.buffers = append(q.buffers, &client.Buffer{ID: i, Data: make([]byte, size), Stride: stride})
		q.free = append(q.free, i)
	}
	return q
}

func (q *fakeQueue) DequeueBuffer() *client.Buffer {
	if len(q.free) == 0 {
		return nil
	}
	id := q.free[0]
	q.free = q.free[1:]
	q.record(fmt.Sprintf("dequeue %d", id))
	return q.buffers[id]
}

func (q *fakeQueue) QueueBuffer(b *client.Buffer) error {
	q.queued = append(q.queued, b.Chunk)
	q.queuedIDs = append(q.queuedIDs, b.ID)
	q.record(fmt.Sprintf("queue %d", b.ID))
	return nil
}

// recycle makes every queued buffer available again, as a consumer would.
func (q *fakeQueue) recycle() {
	q.free = append(q.free, q.queuedIDs...)
	q.queuedIDs = nil
}

func (q *fakeQueue) record(event string) {
	if q.events != nil {
		*q.events = append(*q.events, event)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFrame returns a frame whose bytes differ from row to row.
func testFrame(t *testing.T, width, height int) *core.PixelBuffer {
	t.Helper()
	stride := width * 4
	data := make([]byte, stride*height)
	for i := range data {
		data[i] = byte(i % 251)
	}
	frame, err := core.NewPixelBuffer(data, width, height, stride, core.LayoutBGRA)
	require.NoError(t, err)
	return frame
}
