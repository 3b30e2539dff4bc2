package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/classifier"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/preprocess"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/video"
)

// PredictImages 저장된 모델로 이미지 파일들을 판정해서 w에 출력
func PredictImages(ctx context.Context, w io.Writer, model *classifier.Model, paths []string) error {
	for _, path := range paths {
		img, err := preprocess.Open(path)
		if err != nil {
			return err
		}
		p, err := model.PredictImage(ctx, img)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(w, "%s: %s (%.2f%%, raw %.4f)\n", path, p.Class, p.Confidence, p.RawScore)
	}
	return nil
}

// PredictVideo 저장된 모델로 동영상을 판정해서 w에 출력
func PredictVideo(ctx context.Context, w io.Writer, model *classifier.Model, path string, interval int) (*video.Result, error) {
	if interval <= 0 {
		interval = video.CLIInterval
	}

	r, err := video.Analyze(ctx, path, model, video.Options{
		Interval: interval,
		Labels:   model.Labels,
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(w, "Video: %s\n%s\n", path, r)
	return r, nil
}
