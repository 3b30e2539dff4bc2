// Package video 동영상 프레임을 샘플링해서 Real/Fake 판정
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
)

const (
	// DefaultInterval 웹 요청의 기본 프레임 간격
	DefaultInterval = 5
	// CLIInterval 명령행 도구의 기본 프레임 간격
	CLIInterval = 10
	// DefaultBatchSize 한 번에 판정하는 프레임 수
	DefaultBatchSize = 8

	fakeThreshold = 0.5
)

// ErrNoFrames 처리된 프레임이 없음
var ErrNoFrames = errors.New("No frames could be processed")

// Scorer 이미지들의 sigmoid 출력 (Real일 확률)
type Scorer interface {
	Scores(ctx context.Context, imgs []image.Image) ([]float64, error)
}

// Source 프레임 공급자. 끝에 도달하면 io.EOF
type Source interface {
	Read() (image.Image, error)
	// Skip 이미지 변환 없이 다음 프레임으로 이동
	Skip() error
	FrameCount() int
	FPS() float64
	Close() error
}

// Result 동영상 판정 결과
type Result struct {
	Prediction      string  `json:"class"`
	Confidence      float64 `json:"confidence"`
	AvgFakeProb     float64 `json:"avg_fake_prob"`
	MaxFakeProb     float64 `json:"max_fake_prob"`
	FramesProcessed int     `json:"frames_processed"`
	TotalFrames     int     `json:"total_frames"`
	FPS             float64 `json:"fps"`
	Duration        float64 `json:"duration"`
}

// Options 판정 옵션
type Options struct {
	// N번째 프레임마다 판정
	Interval int
	// 0이면 DefaultBatchSize
	BatchSize int
	// [Fake, Real] 순서의 클래스 이름
	Labels []string
}

func (o Options) labels() (fakeLabel, realLabel string) {
	if len(o.Labels) == 2 {
		return o.Labels[0], o.Labels[1]
	}
	return "Fake", "Real"
}

// Analyze 동영상 파일 판정
func Analyze(ctx context.Context, path string, scorer Scorer, opts Options) (*Result, error) {
	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return Run(ctx, src, scorer, opts)
}

// Run 프레임 공급자에서 N번째 프레임마다 모아서 판정하고 결과 집계.
// 개별 프레임 오류는 기록 후 건너뜀
func Run(ctx context.Context, src Source, scorer Scorer, opts Options) (*Result, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var (
		fakeProbs []float64
		frames    []image.Image
		indexes   []int
	)
	flush := func() error {
		if len(frames) == 0 {
			return nil
		}
		scores, err := score(ctx, scorer, frames, indexes)
		if err != nil {
			return err
		}
		for _, s := range scores {
			fakeProbs = append(fakeProbs, 1-s)
		}
		frames, indexes = frames[:0], indexes[:0]
		return nil
	}

	for count := 1; ; count++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if count%interval != 0 {
			if err := src.Skip(); err == io.EOF {
				break
			} else if err != nil {
				slog.Warn("Error skipping frame", "frame", count, "err", err)
			}
			continue
		}

		frame, err := src.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("Error processing frame", "frame", count, "err", err)
			continue
		}

		frames = append(frames, frame)
		indexes = append(indexes, count)
		if len(frames) == batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	result, err := Aggregate(fakeProbs, opts)
	if err != nil {
		return nil, err
	}

	result.TotalFrames = src.FrameCount()
	result.FPS = src.FPS()
	if result.FPS > 0 {
		result.Duration = float64(result.TotalFrames) / result.FPS
	}
	return result, nil
}

// 배치 판정이 실패하면 프레임마다 다시 판정해서 실패한 프레임만 제외
func score(ctx context.Context, scorer Scorer, frames []image.Image, indexes []int) ([]float64, error) {
	scores, err := scorer.Scores(ctx, frames)
	if err == nil {
		return scores, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(frames) == 1 {
		slog.Warn("Error processing frame", "frame", indexes[0], "err", err)
		return nil, nil
	}

	scores = make([]float64, 0, len(frames))
	for k, frame := range frames {
		s, err := scorer.Scores(ctx, []image.Image{frame})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("Error processing frame", "frame", indexes[k], "err", err)
			continue
		}
		scores = append(scores, s[0])
	}
	return scores, nil
}

// Aggregate 프레임별 Fake 확률 평균이 0.5보다 크면 Fake
func Aggregate(fakeProbs []float64, opts Options) (*Result, error) {
	if len(fakeProbs) == 0 {
		return nil, ErrNoFrames
	}

	var sum float64
	maxProb := math.Inf(-1)
	for _, p := range fakeProbs {
		sum += p
		maxProb = math.Max(maxProb, p)
	}
	avg := sum / float64(len(fakeProbs))

	fakeLabel, realLabel := opts.labels()
	r := &Result{
		AvgFakeProb:     avg,
		MaxFakeProb:     maxProb,
		FramesProcessed: len(fakeProbs),
	}
	if avg > fakeThreshold {
		r.Prediction, r.Confidence = fakeLabel, avg
	} else {
		r.Prediction, r.Confidence = realLabel, 1-avg
	}
	return r, nil
}

// String 결과 요약
func (r *Result) String() string {
	return fmt.Sprintf("Prediction: %s\nConfidence: %.2f%%\nAverage Fake Probability: %.4f\nFrames Analyzed: %d",
		r.Prediction, r.Confidence*100, r.AvgFakeProb, r.FramesProcessed)
}
