package backbone

import (
	"context"
	"math"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/preprocess"
)

// StatsType 외부 모델 없이 사용하는 색상 통계 특징 추출기.
// 학습 파이프라인 점검(trial)과 테스트에 사용
const StatsType = "ColorStats"

func init() {
	catalogue[StatsType] = Spec{Name: StatsType, Width: 64, Height: 64, Mode: preprocess.ModeRaw, FeatureDim: 6}
}

// StatsExtractor 채널별 평균, 표준편차 ([0, 1]로 조정)
type StatsExtractor struct{}

// NewStatsExtractor 색상 통계 특징 추출기 생성
func NewStatsExtractor() *StatsExtractor {
	return &StatsExtractor{}
}

// FeatureDim 특징 벡터 크기
func (s *StatsExtractor) FeatureDim() int {
	return 6
}

// Extract 배치의 특징 벡터 추출
func (s *StatsExtractor) Extract(ctx context.Context, t preprocess.Tensor) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	features := make([][]float32, t.N)
	pixels := float64(t.H * t.W)
	for i := range features {
		var sum, sq [3]float64
		data := t.Sample(i)
		for p := 0; p < len(data); p += 3 {
			for c := 0; c < 3; c++ {
				v := float64(data[p+c]) / 255
				sum[c] += v
				sq[c] += v * v
			}
		}

		f := make([]float32, 6)
		for c := 0; c < 3; c++ {
			mean := sum[c] / pixels
			f[c] = float32(mean)
			f[3+c] = float32(math.Sqrt(math.Max(0, sq[c]/pixels-mean*mean)))
		}
		features[i] = f
	}

	return features, nil
}

// Close 해제할 자원 없음
func (s *StatsExtractor) Close() error {
	return nil
}
