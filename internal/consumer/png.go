package consumer

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/spa"
)

// Decode turns a raw video frame back into an image.
func Decode(data []byte, info spa.VideoInfo, stride int) (*image.NRGBA, error) {
	w, h := int(info.Size.Width), int(info.Size.Height)
	if w <= 0 || h <= 0 {
		return nil, errors.Errorf("invalid frame size %s", info.Size)
	}
	if stride < w*4 {
		stride = w * 4
	}
	if len(data) < stride*(h-1)+w*4 {
		return nil, errors.Errorf("frame of %d bytes is too short for %s with stride %d", len(data), info.Size, stride)
	}

	var r, b int
	opaque := false
	switch info.Format {
	case spa.VideoFormatBGRA:
		r, b = 2, 0
	case spa.VideoFormatBGRx:
		r, b, opaque = 2, 0, true
	case spa.VideoFormatRGBA:
		r, b = 0, 2
	case spa.VideoFormatRGBx:
		r, b, opaque = 0, 2, true
	default:
		return nil, errors.Errorf("unsupported video format %d", info.Format)
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := data[y*stride : y*stride+w*4]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			a := p[3]
			if opaque {
				a = 0xff
			}
			img.SetNRGBA(x, y, color.NRGBA{R: p[r], G: p[1], B: p[b], A: a})
		}
	}
	return img, nil
}

// SavePNG writes a raw video frame to path as a PNG.
func SavePNG(path string, data []byte, info spa.VideoInfo, stride int) error {
	img, err := Decode(data, info, stride)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	return errors.Wrapf(f.Close(), "failed to write %s", path)
}
