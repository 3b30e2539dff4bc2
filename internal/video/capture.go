package video

import (
	"fmt"
	"image"
	"io"

	"gocv.io/x/gocv"
)

// Capture OpenCV 동영상 파일 reader
type Capture struct {
	vc    *gocv.VideoCapture
	frame gocv.Mat
	total int
	fps   float64
}

// Open 동영상 파일 열기
func Open(path string) (*Capture, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		if vc != nil {
			vc.Close()
		}
		return nil, fmt.Errorf("Error opening video file: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("Error opening video file: %s", path)
	}

	return &Capture{
		vc:    vc,
		frame: gocv.NewMat(),
		total: int(vc.Get(gocv.VideoCaptureFrameCount)),
		fps:   vc.Get(gocv.VideoCaptureFPS),
	}, nil
}

// Read 다음 프레임 (BGR을 RGB로 변환한 이미지)
func (c *Capture) Read() (image.Image, error) {
	if ok := c.vc.Read(&c.frame); !ok || c.frame.Empty() {
		return nil, io.EOF
	}
	return c.frame.ToImage()
}

// Skip 다음 프레임을 읽기만 하고 변환하지 않음
func (c *Capture) Skip() error {
	if ok := c.vc.Read(&c.frame); !ok || c.frame.Empty() {
		return io.EOF
	}
	return nil
}

// FrameCount 전체 프레임 수
func (c *Capture) FrameCount() int {
	return c.total
}

// FPS 초당 프레임 수
func (c *Capture) FPS() float64 {
	return c.fps
}

// Close 자원 해제
func (c *Capture) Close() error {
	c.frame.Close()
	return c.vc.Close()
}
