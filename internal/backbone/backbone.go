// Package backbone 사전학습된 합성곱 네트워크를 고정된 특징 추출기로 사용
package backbone

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/preprocess"
)

// DefaultType 기본 백본
const DefaultType = "EfficientNetB0"

// Spec 백본 네트워크 정보
type Spec struct {
	Name          string
	Width, Height int
	Mode          preprocess.Mode
	// global average pooling 후 특징 벡터 크기
	FeatureDim int
}

var catalogue = map[string]Spec{
	"EfficientNetB0":   {Name: "EfficientNetB0", Width: 224, Height: 224, Mode: preprocess.ModeRaw, FeatureDim: 1280},
	"EfficientNetB4":   {Name: "EfficientNetB4", Width: 380, Height: 380, Mode: preprocess.ModeRaw, FeatureDim: 1792},
	"MobileNetV2":      {Name: "MobileNetV2", Width: 224, Height: 224, Mode: preprocess.ModeTF, FeatureDim: 1280},
	"MobileNetV3Large": {Name: "MobileNetV3Large", Width: 224, Height: 224, Mode: preprocess.ModeRaw, FeatureDim: 960},
}

// Lookup 이름으로 백본 정보 조회
func Lookup(name string) (Spec, error) {
	if spec, ok := catalogue[name]; ok {
		return spec, nil
	}
	return Spec{}, fmt.Errorf("Unknown model type: %s (available: %s)", name, strings.Join(Names(), ", "))
}

// Names 지원하는 백본 이름
func Names() []string {
	names := make([]string, 0, len(catalogue))
	for name := range catalogue {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extractor 이미지 배치에서 특징 벡터 추출
type Extractor interface {
	Extract(ctx context.Context, t preprocess.Tensor) ([][]float32, error)
	FeatureDim() int
	Close() error
}
