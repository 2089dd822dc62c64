// Package imagesource turns a still image file into the raw frame a camera
// streams.
package imagesource

import (
	"image"
	"image/color"
	stddraw "image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/stillcam/stillcam/internal/core"
)

var (
	// ErrOpen means the image file could not be read.
	ErrOpen = errors.New("cannot open image")
	// ErrDecode means the file is not an image in a supported encoding.
	ErrDecode = errors.New("cannot decode image")
)

// Fit controls how an image whose aspect ratio differs from the frame is
// placed.
type Fit string

const (
	FitContain Fit = "contain" // scale to fit inside, letterbox with black
	FitCover   Fit = "cover"   // scale to fill, crop the overflow
	FitStretch Fit = "stretch" // scale each axis independently
)

// ParseFit validates a fit mode name.
func ParseFit(name string) (Fit, error) {
	switch f := Fit(strings.ToLower(name)); f {
	case FitContain, FitCover, FitStretch:
		return f, nil
	}
	return "", errors.Errorf("unknown fit mode %q", name)
}

// Load reads the image at path and converts it to a width x height frame in
// layout.
func Load(path string, width, height int, layout core.PixelLayout, fit Fit) (*core.PixelBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrOpen, "%v", err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return Convert(img, width, height, layout, fit)
}

// Decode decodes any registered image format.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%v", err)
	}
	return img, nil
}

// Convert scales img onto an opaque black canvas of width x height and packs
// it in layout.
func Convert(img image.Image, width, height int, layout core.PixelLayout, fit Fit) (*core.PixelBuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", width, height)
	}
	src := img.Bounds()
	if src.Empty() {
		return nil, errors.Wrap(ErrDecode, "image is empty")
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	stddraw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, stddraw.Src)
	draw.CatmullRom.Scale(canvas, placement(src, width, height, fit), img, src, draw.Over, nil)

	return pack(canvas, layout)
}

// placement returns where the scaled image lands on the canvas. With cover
// the rectangle extends past the canvas and is clipped while drawing.
func placement(src image.Rectangle, width, height int, fit Fit) image.Rectangle {
	if fit == FitStretch {
		return image.Rect(0, 0, width, height)
	}

	srcAspect := float64(src.Dx()) / float64(src.Dy())
	dstAspect := float64(width) / float64(height)
	wide := srcAspect > dstAspect
	if fit == FitCover {
		wide = !wide
	}

	w, h := width, height
	if wide {
		h = int(float64(width)/srcAspect + 0.5)
	} else {
		w = int(float64(height)*srcAspect + 0.5)
	}
	x := (width - w) / 2
	y := (height - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// pack reorders the canvas bytes into layout.
func pack(canvas *image.RGBA, layout core.PixelLayout) (*core.PixelBuffer, error) {
	b := canvas.Bounds()
	width, height := b.Dx(), b.Dy()
	bpp := layout.BytesPerPixel()
	stride := width * bpp
	data := make([]byte, stride*height)

	for y := 0; y < height; y++ {
		in := canvas.Pix[y*canvas.Stride : y*canvas.Stride+width*4]
		out := data[y*stride : (y+1)*stride]
		for x := 0; x < width; x++ {
			r, g, bl, a := in[x*4], in[x*4+1], in[x*4+2], in[x*4+3]
			p := out[x*bpp : x*bpp+4]
			switch layout {
			case core.LayoutBGRA:
				p[0], p[1], p[2], p[3] = bl, g, r, a
			case core.LayoutRGBA:
				p[0], p[1], p[2], p[3] = r, g, bl, a
			case core.LayoutBGRx:
				p[0], p[1], p[2], p[3] = bl, g, r, 0xff
			case core.LayoutRGBx:
				p[0], p[1], p[2], p[3] = r, g, bl, 0xff
			default:
				return nil, errors.Errorf("unsupported layout %s", layout)
			}
		}
	}
	return core.NewPixelBuffer(data, width, height, stride, layout)
}
