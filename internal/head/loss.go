package head

import (
	"fmt"
	"math"
)

// Loss 이진 분류 손실 함수
type Loss string

const (
	LossBCE   Loss = "binary_crossentropy"
	LossFocal Loss = "binary_focal_crossentropy"

	// 확률값 clipping 범위
	probEpsilon = 1e-7
	// focal loss gamma
	focalGamma = 2.0
)

// Validate 알려진 손실 함수인지 확인
func (l Loss) Validate() error {
	switch l {
	case LossBCE, LossFocal:
		return nil
	}
	return fmt.Errorf("Unknown loss: %q", string(l))
}

func clip(p float64) float64 {
	return math.Min(math.Max(p, probEpsilon), 1-probEpsilon)
}

// 정답 클래스에 대한 확률
func pt(p, y float64) float64 {
	return y*p + (1-y)*(1-p)
}

// value 샘플 하나의 손실
func (l Loss) value(p, y float64) float64 {
	p = clip(p)
	bce := -(y*math.Log(p) + (1-y)*math.Log(1-p))
	if l == LossFocal {
		return math.Pow(1-pt(p, y), focalGamma) * bce
	}
	return bce
}

// grad sigmoid 입력(logit)에 대한 손실의 기울기
func (l Loss) grad(p, y float64) float64 {
	if l != LossFocal {
		return p - y
	}

	q := clip(pt(p, y))
	dq := (2*y - 1) * p * (1 - p)
	dl := focalGamma*math.Pow(1-q, focalGamma-1)*math.Log(q) - math.Pow(1-q, focalGamma)/q
	return dl * dq
}
