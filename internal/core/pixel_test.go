package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPixelBuffer(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		width   int
		height  int
		stride  int
		wantErr bool
	}{
		{name: "tight rows", size: 4 * 3 * 2, width: 3, height: 2, stride: 12},
		{name: "padded rows", size: 16 * 2, width: 3, height: 2, stride: 16},
		{name: "short stride", size: 8 * 2, width: 3, height: 2, stride: 8, wantErr: true},
		{name: "length mismatch", size: 10, width: 3, height: 2, stride: 12, wantErr: true},
		{name: "zero width", size: 0, width: 0, height: 2, stride: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := NewPixelBuffer(make([]byte, tt.size), tt.width, tt.height, tt.stride, LayoutBGRA)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, buf.Size())
			assert.Equal(t, tt.width*4, buf.RowBytes())
		})
	}
}

func TestPixelBufferRow(t *testing.T) {
	data := []byte{
		1, 2, 3, 4, 0, 0,
		5, 6, 7, 8, 0, 0,
	}
	buf, err := NewPixelBuffer(data, 1, 2, 6, LayoutBGRA)
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 2, 3, 4}, buf.Row(0))
	assert.Equal(t, []byte{5, 6, 7, 8}, buf.Row(1))
}

func TestParseLayout(t *testing.T) {
	layout, err := ParseLayout("bgra")
	require.NoError(t, err)
	assert.Equal(t, LayoutBGRA, layout)
	assert.Equal(t, "BGRA", layout.String())

	layout, err = ParseLayout("RGBx")
	require.NoError(t, err)
	assert.Equal(t, LayoutRGBx, layout)

	_, err = ParseLayout("YUY2")
	assert.Error(t, err)
}
