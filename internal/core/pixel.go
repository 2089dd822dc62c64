package core

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// PixelLayout identifies the byte order of one packed pixel.
type PixelLayout int

const (
	LayoutBGRA PixelLayout = iota // B, G, R, A
	LayoutRGBA                    // R, G, B, A
	LayoutBGRx                    // B, G, R, padding
	LayoutRGBx                    // R, G, B, padding
)

var layoutNames = map[PixelLayout]string{
	LayoutBGRA: "BGRA",
	LayoutRGBA: "RGBA",
	LayoutBGRx: "BGRx",
	LayoutRGBx: "RGBx",
}

func (l PixelLayout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return fmt.Sprintf("PixelLayout(%d)", int(l))
}

// BytesPerPixel returns the packed size of one pixel. Every supported layout
// is four bytes wide.
func (l PixelLayout) BytesPerPixel() int {
	return 4
}

// ParseLayout maps a layout name such as "BGRA" to its value, ignoring case.
func ParseLayout(name string) (PixelLayout, error) {
	for layout, n := range layoutNames {
		if strings.EqualFold(n, name) {
			return layout, nil
		}
	}
	return 0, errors.Errorf("unknown pixel layout %q", name)
}

// PixelBuffer is a decoded still frame. It is built once and never written to
// afterwards, so it can be read by any number of fills.
type PixelBuffer struct {
	Data   []byte
	Width  int
	Height int
	Stride int
	Layout PixelLayout
}

// NewPixelBuffer wraps data as a frame after checking that the geometry is
// consistent: len(data) == stride*height and stride covers a full row.
func NewPixelBuffer(data []byte, width, height, stride int, layout PixelLayout) (*PixelBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", width, height)
	}
	if stride < width*layout.BytesPerPixel() {
		return nil, errors.Errorf("stride %d shorter than row of %d pixels", stride, width)
	}
	if len(data) != stride*height {
		return nil, errors.Errorf("frame holds %d bytes, want %d", len(data), stride*height)
	}
	return &PixelBuffer{
		Data:   data,
		Width:  width,
		Height: height,
		Stride: stride,
		Layout: layout,
	}, nil
}

// RowBytes is the number of meaningful bytes in one row.
func (p *PixelBuffer) RowBytes() int {
	return p.Width * p.Layout.BytesPerPixel()
}

// Row returns the meaningful bytes of row y.
func (p *PixelBuffer) Row(y int) []byte {
	off := y * p.Stride
	return p.Data[off : off+p.RowBytes()]
}

// Size is the total byte length of the frame.
func (p *PixelBuffer) Size() int {
	return len(p.Data)
}
