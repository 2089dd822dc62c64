package camera

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/core"
	"github.com/stillcam/stillcam/internal/spa"
)

// Rate is a frame rate expressed as a fraction of frames per second.
type Rate struct {
	Num   uint32
	Denom uint32
}

func (r Rate) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Denom)
}

func (r Rate) fraction() spa.Fraction {
	return spa.Fraction{Num: r.Num, Denom: r.Denom}
}

// FormatCandidate is one format the camera can produce.
type FormatCandidate struct {
	Layout core.PixelLayout
	Width  int
	Height int
	Rate   Rate
}

func (c FormatCandidate) String() string {
	return fmt.Sprintf("%s %dx%d@%s", c.Layout, c.Width, c.Height, c.Rate)
}

// Stride is the tightly packed row length in bytes.
func (c FormatCandidate) Stride() int {
	return c.Width * c.Layout.BytesPerPixel()
}

// FrameSize is the byte size of one tightly packed frame.
func (c FormatCandidate) FrameSize() int {
	return c.Stride() * c.Height
}

// VideoInfo converts the candidate to its SPA description.
func (c FormatCandidate) VideoInfo() (spa.VideoInfo, error) {
	id, ok := spaFormats[c.Layout]
	if !ok {
		return spa.VideoInfo{}, errors.Errorf("layout %s has no video format id", c.Layout)
	}
	return spa.VideoInfo{
		Format:    id,
		Size:      spa.Rectangle{Width: uint32(c.Width), Height: uint32(c.Height)},
		Framerate: c.Rate.fraction(),
	}, nil
}

func (c FormatCandidate) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("invalid size %dx%d", c.Width, c.Height)
	}
	if c.Rate.Num == 0 || c.Rate.Denom == 0 {
		return errors.Errorf("invalid frame rate %s", c.Rate)
	}
	if _, ok := spaFormats[c.Layout]; !ok {
		return errors.Errorf("unsupported layout %s", c.Layout)
	}
	return nil
}

var spaFormats = map[core.PixelLayout]spa.Id{
	core.LayoutBGRA: spa.VideoFormatBGRA,
	core.LayoutRGBA: spa.VideoFormatRGBA,
	core.LayoutBGRx: spa.VideoFormatBGRx,
	core.LayoutRGBx: spa.VideoFormatRGBx,
}

// DefaultFormat is the format the camera advertises unless configured
// otherwise.
var DefaultFormat = FormatCandidate{
	Layout: core.LayoutBGRA,
	Width:  640,
	Height: 480,
	Rate:   Rate{Num: 30, Denom: 1},
}
