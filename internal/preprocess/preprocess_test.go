package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / (w - 1)), G: uint8(y * 255 / (h - 1)), B: 255, A: 255})
		}
	}
	return img
}

func TestImageShapeAndRange(t *testing.T) {
	img := gradient(37, 23)

	for _, mode := range []Mode{ModeRaw, ModeTF} {
		tensor := Image(img, 16, 12, mode)
		assert.Equal(t, []int64{1, 12, 16, 3}, tensor.Shape())
		require.Len(t, tensor.Data, 12*16*3)

		lo, hi := mode.Range()
		for _, v := range tensor.Data {
			require.GreaterOrEqual(t, v, lo, "mode %s", mode)
			require.LessOrEqual(t, v, hi, "mode %s", mode)
		}
	}
}

func TestImageIsDeterministic(t *testing.T) {
	img := gradient(40, 40)
	a := Image(img, 20, 20, ModeTF)
	b := Image(img, 20, 20, ModeTF)
	assert.Equal(t, a.Data, b.Data)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, float32(-1), ModeTF.normalize(0))
	assert.Equal(t, float32(1), ModeTF.normalize(255))
	assert.Equal(t, float32(0), ModeRaw.normalize(0))
	assert.Equal(t, float32(255), ModeRaw.normalize(255))
}

func TestDecodeDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 10, 20, 30, 0
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := Decode(&buf)
	require.NoError(t, err)

	tensor := Image(img, 4, 4, ModeRaw)
	assert.Equal(t, []float32{10, 20, 30}, tensor.Data[:3])
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(strings.NewReader("not an image"))
	assert.Error(t, err)
}

func TestImagesBatch(t *testing.T) {
	a := Resize(gradient(10, 10), 8, 8)
	b := Resize(gradient(30, 12), 8, 8)

	tensor := Images([]*image.NRGBA{a, b}, 8, 8, ModeRaw)
	assert.Equal(t, 2, tensor.N)
	assert.Len(t, tensor.Sample(1), 8*8*3)
}

func TestModeValidate(t *testing.T) {
	assert.NoError(t, ModeRaw.Validate())
	assert.NoError(t, ModeTF.Validate())
	assert.Error(t, Mode("caffe").Validate())
}
