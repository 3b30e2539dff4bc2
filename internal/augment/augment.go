// Package augment 학습 이미지 증강 (회전, 이동, 확대/축소, 좌우 반전, 밝기)
package augment

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Config 증강 범위 설정
type Config struct {
	// 회전 범위 (degree, ±)
	RotationRange float64 `yaml:"rotationRange"`
	// 이동 범위 (이미지 크기 대비 비율, ±)
	WidthShiftRange  float64 `yaml:"widthShiftRange"`
	HeightShiftRange float64 `yaml:"heightShiftRange"`
	// 확대/축소 범위: [1-z, 1+z], 축마다 독립적으로 선택
	ZoomRange      float64 `yaml:"zoomRange"`
	HorizontalFlip bool    `yaml:"horizontalFlip"`
	// 밝기 배율 범위, [0, 0]이면 사용하지 않음
	BrightnessRange [2]float64 `yaml:"brightnessRange"`
}

// Default 학습용 기본 증강 설정
func Default() Config {
	return Config{
		RotationRange:    15,
		WidthShiftRange:  0.15,
		HeightShiftRange: 0.15,
		ZoomRange:        0.15,
		HorizontalFlip:   true,
		BrightnessRange:  [2]float64{0.85, 1.15},
	}
}

// Enabled 적용할 증강이 하나라도 있는지 여부
func (c Config) Enabled() bool {
	return c.RotationRange != 0 ||
		c.WidthShiftRange != 0 ||
		c.HeightShiftRange != 0 ||
		c.ZoomRange != 0 ||
		c.HorizontalFlip ||
		c.hasBrightness()
}

func (c Config) hasBrightness() bool {
	return c.BrightnessRange[0] != 0 || c.BrightnessRange[1] != 0
}

// Params 한 이미지에 적용할 변환 값
type Params struct {
	Theta      float64 // radian
	Dx, Dy     float64 // pixel
	Zx, Zy     float64
	Flip       bool
	Brightness float64 // 0이면 적용하지 않음
}

// Identity 아무 변환도 하지 않는 값
func Identity() Params {
	return Params{Zx: 1, Zy: 1}
}

// Augmenter 이미지 증강기
type Augmenter struct {
	cfg Config
}

// New 증강기 생성
func New(cfg Config) *Augmenter {
	return &Augmenter{cfg: cfg}
}

// Config 증강 설정 반환
func (a *Augmenter) Config() Config {
	return a.cfg
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// Random w x h 이미지에 적용할 무작위 변환 값 생성
func (a *Augmenter) Random(rng *rand.Rand, w, h int) Params {
	p := Identity()
	c := a.cfg

	if c.RotationRange != 0 {
		p.Theta = uniform(rng, -c.RotationRange, c.RotationRange) * math.Pi / 180
	}
	if c.HeightShiftRange != 0 {
		p.Dy = uniform(rng, -c.HeightShiftRange, c.HeightShiftRange) * float64(h)
	}
	if c.WidthShiftRange != 0 {
		p.Dx = uniform(rng, -c.WidthShiftRange, c.WidthShiftRange) * float64(w)
	}
	if c.ZoomRange != 0 {
		p.Zx = uniform(rng, 1-c.ZoomRange, 1+c.ZoomRange)
		p.Zy = uniform(rng, 1-c.ZoomRange, 1+c.ZoomRange)
	}
	if c.HorizontalFlip {
		p.Flip = rng.Intn(2) == 1
	}
	if c.hasBrightness() {
		p.Brightness = uniform(rng, c.BrightnessRange[0], c.BrightnessRange[1])
	}

	return p
}

// Apply 무작위 증강 적용
func (a *Augmenter) Apply(img *image.NRGBA, rng *rand.Rand) *image.NRGBA {
	if !a.cfg.Enabled() {
		return img
	}
	b := img.Bounds()
	return Transform(img, a.Random(rng, b.Dx(), b.Dy()))
}

// Transform affine 변환 -> 좌우 반전 -> 밝기 순서로 적용
func Transform(img *image.NRGBA, p Params) *image.NRGBA {
	out := img
	if p.Theta != 0 || p.Dx != 0 || p.Dy != 0 || p.Zx != 1 || p.Zy != 1 {
		out = affine(out, p)
	}
	if p.Flip {
		out = imaging.FlipH(out)
	}
	if p.Brightness != 0 && p.Brightness != 1 {
		out = brightness(out, p.Brightness)
	}
	return out
}

// 출력 좌표 -> 입력 좌표 변환 행렬 (이미지 중심 기준):
// rotation * shift * zoom
func inverseMatrix(p Params, w, h int) f64.Aff3 {
	cos, sin := math.Cos(p.Theta), math.Sin(p.Theta)
	cx, cy := float64(w)/2, float64(h)/2

	a, b := cos*p.Zx, -sin*p.Zy
	d, e := sin*p.Zx, cos*p.Zy
	tx := cos*p.Dx - sin*p.Dy
	ty := sin*p.Dx + cos*p.Dy

	// 중심 이동 보정: L*(-c) + t + c
	c := -(a*cx + b*cy) + tx + cx
	f := -(d*cx + e*cy) + ty + cy

	return f64.Aff3{a, b, c, d, e, f}
}

func invert(m f64.Aff3) f64.Aff3 {
	det := m[0]*m[4] - m[1]*m[3]
	a := m[4] / det
	b := -m[1] / det
	d := -m[3] / det
	e := m[0] / det
	return f64.Aff3{
		a, b, -(a*m[2] + b*m[5]),
		d, e, -(d*m[2] + e*m[5]),
	}
}

func affine(img *image.NRGBA, p Params) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	src := edgeExtended{img: img}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	s2d := invert(inverseMatrix(p, w, h))
	draw.BiLinear.Transform(dst, s2d, src, src.Bounds(), draw.Src, nil)

	return dst
}

// edgeExtended 이미지 밖의 좌표는 가장 가까운 가장자리 픽셀 값으로 채움
type edgeExtended struct {
	img *image.NRGBA
}

func (e edgeExtended) ColorModel() color.Model {
	return color.NRGBAModel
}

func (e edgeExtended) Bounds() image.Rectangle {
	b := e.img.Bounds()
	return image.Rect(b.Min.X-b.Dx(), b.Min.Y-b.Dy(), b.Max.X+b.Dx(), b.Max.Y+b.Dy())
}

func (e edgeExtended) At(x, y int) color.Color {
	b := e.img.Bounds()
	x = clampInt(x, b.Min.X, b.Max.X-1)
	y = clampInt(y, b.Min.Y, b.Max.Y-1)
	return e.img.NRGBAAt(x, y)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func brightness(img *image.NRGBA, factor float64) *image.NRGBA {
	scale := func(v uint8) uint8 {
		return uint8(math.Min(255, math.Round(float64(v)*factor)))
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
	})
}
