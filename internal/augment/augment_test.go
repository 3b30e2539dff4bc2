package augment

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func halves(w, h int) *image.NRGBA {
	img := solid(w, h, color.NRGBA{A: 255})
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	return img
}

func TestIdentityKeepsPixels(t *testing.T) {
	img := halves(16, 16)
	out := Transform(img, Identity())
	assert.Equal(t, img.Pix, out.Pix)
}

func TestFlip(t *testing.T) {
	img := halves(16, 8)
	p := Identity()
	p.Flip = true

	out := Transform(img, p)
	assert.Equal(t, uint8(255), out.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(0), out.NRGBAAt(15, 0).R)
}

func TestNearestFillHasNoBorders(t *testing.T) {
	c := color.NRGBA{R: 120, G: 40, B: 200, A: 255}
	img := solid(32, 32, c)

	p := Params{Theta: 15 * math.Pi / 180, Dx: 5, Dy: -5, Zx: 1.15, Zy: 0.85}
	out := Transform(img, p)

	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			got := out.NRGBAAt(x, y)
			require.InDelta(t, int(c.R), int(got.R), 1, "(%d,%d)", x, y)
			require.InDelta(t, int(c.B), int(got.B), 1, "(%d,%d)", x, y)
		}
	}
}

func TestShiftMovesContent(t *testing.T) {
	img := halves(20, 4)
	p := Identity()
	// 입력 좌표 = 출력 좌표 + 5 이므로 경계가 왼쪽으로 이동
	p.Dx = 5

	out := Transform(img, p)
	assert.Equal(t, uint8(255), out.NRGBAAt(6, 2).R)
	assert.Equal(t, uint8(0), out.NRGBAAt(3, 2).R)
}

func TestBrightnessClips(t *testing.T) {
	img := solid(4, 4, color.NRGBA{R: 100, G: 250, B: 0, A: 255})
	p := Identity()
	p.Brightness = 1.15

	out := Transform(img, p)
	got := out.NRGBAAt(1, 1)
	assert.Equal(t, uint8(115), got.R)
	assert.Equal(t, uint8(255), got.G)
	assert.Equal(t, uint8(0), got.B)
}

func TestRandomWithinRange(t *testing.T) {
	a := New(Default())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		p := a.Random(rng, 100, 50)
		require.LessOrEqual(t, math.Abs(p.Theta), 15*math.Pi/180)
		require.LessOrEqual(t, math.Abs(p.Dx), 15.0)
		require.LessOrEqual(t, math.Abs(p.Dy), 7.5)
		require.InDelta(t, 1, p.Zx, 0.15)
		require.InDelta(t, 1, p.Zy, 0.15)
		require.GreaterOrEqual(t, p.Brightness, 0.85)
		require.LessOrEqual(t, p.Brightness, 1.15)
	}
}

func TestRandomIsSeeded(t *testing.T) {
	a := New(Default())
	p1 := a.Random(rand.New(rand.NewSource(3)), 64, 64)
	p2 := a.Random(rand.New(rand.NewSource(3)), 64, 64)
	assert.Equal(t, p1, p2)
}

func TestDisabled(t *testing.T) {
	a := New(Config{})
	assert.False(t, a.Config().Enabled())

	img := halves(8, 8)
	assert.Same(t, img, a.Apply(img, rand.New(rand.NewSource(1))))
}

func TestInvert(t *testing.T) {
	m := inverseMatrix(Params{Theta: 0.3, Dx: 2, Dy: -1, Zx: 1.1, Zy: 0.9}, 10, 10)
	inv := invert(m)

	x, y := 3.0, 7.0
	sx := m[0]*x + m[1]*y + m[2]
	sy := m[3]*x + m[4]*y + m[5]
	bx := inv[0]*sx + inv[1]*sy + inv[2]
	by := inv[3]*sx + inv[4]*sy + inv[5]

	assert.InDelta(t, x, bx, 1e-9)
	assert.InDelta(t, y, by, 1e-9)
}
