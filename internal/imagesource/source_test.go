package imagesource

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillcam/stillcam/internal/core"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// solid draws a w x h image in c, painting columns left of split in left.
func solid(w, h int, c color.RGBA, split int, left color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < split {
				img.SetRGBA(x, y, left)
			} else {
				img.SetRGBA(x, y, c)
			}
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "still.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func pixel(buf *core.PixelBuffer, x, y int) []byte {
	off := y*buf.Stride + x*4
	return buf.Data[off : off+4]
}

func TestLoadPNG(t *testing.T) {
	path := writePNG(t, solid(640, 480, red, 0, red))

	buf, err := Load(path, 640, 480, core.LayoutBGRA, FitContain)
	require.NoError(t, err)

	assert.Equal(t, 640, buf.Width)
	assert.Equal(t, 480, buf.Height)
	assert.Equal(t, 2560, buf.Stride)
	assert.Equal(t, 1228800, buf.Size())
	for _, p := range [][2]int{{0, 0}, {320, 240}, {639, 479}} {
		assert.Equal(t, []byte{0, 0, 255, 255}, pixel(buf, p[0], p[1]), "pixel %v", p)
	}
}

func TestLoadJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "still.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, solid(64, 48, white, 0, white), nil))
	require.NoError(t, f.Close())

	buf, err := Load(path, 64, 48, core.LayoutBGRA, FitStretch)
	require.NoError(t, err)
	assert.Equal(t, 64*48*4, buf.Size())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.png"), 640, 480, core.LayoutBGRA, FitContain)
	assert.ErrorIs(t, err, ErrOpen)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o600))
	_, err = Load(path, 640, 480, core.LayoutBGRA, FitContain)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestFitModes(t *testing.T) {
	// 640x240 white with a green band on the left quarter
	img := solid(640, 240, white, 160, green)

	tests := []struct {
		name   string
		fit    Fit
		pixels map[[2]int][]byte
	}{
		{
			name: "contain letterboxes",
			fit:  FitContain,
			pixels: map[[2]int][]byte{
				{320, 10}:  {0, 0, 0, 255},
				{320, 470}: {0, 0, 0, 255},
				{40, 240}:  {0, 255, 0, 255},
				{400, 240}: {255, 255, 255, 255},
			},
		},
		{
			name: "cover crops the sides",
			fit:  FitCover,
			pixels: map[[2]int][]byte{
				{40, 10}:   {255, 255, 255, 255},
				{40, 240}:  {255, 255, 255, 255},
				{600, 470}: {255, 255, 255, 255},
			},
		},
		{
			name: "stretch fills both axes",
			fit:  FitStretch,
			pixels: map[[2]int][]byte{
				{40, 10}:   {0, 255, 0, 255},
				{400, 470}: {255, 255, 255, 255},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := Convert(img, 640, 480, core.LayoutBGRA, tt.fit)
			require.NoError(t, err)
			for p, want := range tt.pixels {
				assert.Equal(t, want, pixel(buf, p[0], p[1]), "pixel %v", p)
			}
		})
	}
}

func TestLayouts(t *testing.T) {
	img := solid(4, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255}, 0, red)

	tests := []struct {
		layout core.PixelLayout
		want   []byte
	}{
		{core.LayoutBGRA, []byte{30, 20, 10, 255}},
		{core.LayoutRGBA, []byte{10, 20, 30, 255}},
		{core.LayoutBGRx, []byte{30, 20, 10, 255}},
		{core.LayoutRGBx, []byte{10, 20, 30, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.layout.String(), func(t *testing.T) {
			buf, err := Convert(img, 4, 4, tt.layout, FitStretch)
			require.NoError(t, err)
			assert.Equal(t, tt.layout, buf.Layout)
			assert.Equal(t, tt.want, pixel(buf, 1, 1))
		})
	}
}

func TestParseFit(t *testing.T) {
	fit, err := ParseFit("Cover")
	require.NoError(t, err)
	assert.Equal(t, FitCover, fit)

	_, err = ParseFit("zoom")
	assert.Error(t, err)
}
