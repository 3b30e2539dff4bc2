// Package preprocess 임의의 이미지를 백본 네트워크 입력 텐서로 변환
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	// imaging 이 등록하지 않는 포맷
	_ "golang.org/x/image/webp"
)

// Mode 백본별 입력값 정규화 방식
type Mode string

const (
	// ModeRaw [0, 255] 범위 그대로 사용 (EfficientNet 계열은 내부에 rescaling 포함)
	ModeRaw Mode = "raw"
	// ModeTF [0, 255]의 이미지값을 [-1, 1]로 조정: (image / 127.5) - 1
	ModeTF Mode = "tf"
)

// ErrEmptyImage 크기가 0인 이미지
var ErrEmptyImage = errors.New("Empty image")

// Validate 알려진 정규화 방식인지 확인
func (m Mode) Validate() error {
	switch m {
	case ModeRaw, ModeTF:
		return nil
	}
	return fmt.Errorf("Unknown preprocessing mode: %q", string(m))
}

// Range 정규화 후 값의 범위
func (m Mode) Range() (lo, hi float32) {
	if m == ModeTF {
		return -1, 1
	}
	return 0, 255
}

func (m Mode) normalize(v uint8) float32 {
	if m == ModeTF {
		return float32(v)/127.5 - 1
	}
	return float32(v)
}

// Tensor NHWC 배치 텐서
type Tensor struct {
	N, H, W, C int
	Data       []float32
}

// NewTensor n개 (h, w, 3) 이미지를 담을 텐서 생성
func NewTensor(n, h, w int) Tensor {
	return Tensor{
		N:    n,
		H:    h,
		W:    w,
		C:    3,
		Data: make([]float32, n*h*w*3),
	}
}

// Shape ONNX 입력에 사용할 shape
func (t Tensor) Shape() []int64 {
	return []int64{int64(t.N), int64(t.H), int64(t.W), int64(t.C)}
}

// Sample i번째 이미지 영역
func (t Tensor) Sample(i int) []float32 {
	size := t.H * t.W * t.C
	return t.Data[i*size : (i+1)*size]
}

// Decode 이미지 디코딩 (jpeg, png, gif, bmp, tiff, webp), EXIF 회전 적용
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("Fail to decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return img, nil
}

// Open 파일에서 이미지 로드
func Open(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Resize 임의의 크기(height, width) 이미지를 입력 크기로 조정.
// 결과는 alpha 채널을 무시하는 RGB 이미지로 취급
func Resize(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, w, h, imaging.Linear)
}

// Fill 이미지를 정규화해서 dst (h*w*3)에 기록
func Fill(dst []float32, img *image.NRGBA, mode Mode) {
	b := img.Bounds()
	i := 0
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for x := 0; x < b.Dx(); x++ {
			px := row[x*4 : x*4+3]
			dst[i] = mode.normalize(px[0])
			dst[i+1] = mode.normalize(px[1])
			dst[i+2] = mode.normalize(px[2])
			i += 3
		}
	}
}

// Image 단일 이미지를 (1, h, w, 3) 텐서로 변환
func Image(img image.Image, w, h int, mode Mode) Tensor {
	t := NewTensor(1, h, w)
	Fill(t.Data, Resize(img, w, h), mode)
	return t
}

// Images 이미 입력 크기로 조정된 이미지들을 배치 텐서로 변환
func Images(imgs []*image.NRGBA, w, h int, mode Mode) Tensor {
	t := NewTensor(len(imgs), h, w)
	for i, img := range imgs {
		if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
			img = Resize(img, w, h)
		}
		Fill(t.Sample(i), img, mode)
	}
	return t
}
