// Package generator 데이터셋 이미지를 배치 단위로 읽어서 전달
package generator

import (
	"context"
	"errors"
	"image"
	"math/rand"
	"runtime"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/augment"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/dataset"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/preprocess"
)

// Config 배치 생성 설정
type Config struct {
	Width, Height int
	BatchSize     int
	Shuffle       bool
	Seed          int64
	// nil이면 증강하지 않음
	Augmenter *augment.Augmenter
	Mode      preprocess.Mode
	// 동시에 읽는 배치 수
	Workers int
}

// Batch 전처리가 끝난 이미지 배치
type Batch struct {
	Index  int
	Tensor preprocess.Tensor
	Labels []float64
	Paths  []string
	Err    error
}

// Len 배치 크기 (마지막 배치는 작을 수 있음)
func (b Batch) Len() int {
	return len(b.Labels)
}

// Generator 이미지 배치 생성기
type Generator struct {
	split *dataset.Split
	cfg   Config
	rng   *rand.Rand
}

// New 배치 생성기 생성
func New(split *dataset.Split, cfg Config) (*Generator, error) {
	if split == nil {
		return nil, errors.New("Empty split")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("Invalid target size")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("Invalid batch size")
	}
	if cfg.Mode == "" {
		cfg.Mode = preprocess.ModeRaw
	}
	if err := cfg.Mode.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	return &Generator{
		split: split,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Samples 이미지 수
func (g *Generator) Samples() int {
	return g.split.Len()
}

// BatchSize 배치 크기
func (g *Generator) BatchSize() int {
	return g.cfg.BatchSize
}

// Steps 한 epoch의 배치 수, 최소 1
func (g *Generator) Steps() int {
	steps := (g.Samples() + g.cfg.BatchSize - 1) / g.cfg.BatchSize
	if steps < 1 {
		return 1
	}
	return steps
}

// Classes 데이터셋 순서의 클래스 번호
func (g *Generator) Classes() []int {
	return g.split.Classes()
}

// ClassNames 클래스 이름
func (g *Generator) ClassNames() []string {
	return g.split.ClassNames
}

// Size 입력 이미지 크기
func (g *Generator) Size() (w, h int) {
	return g.cfg.Width, g.cfg.Height
}

// Epoch 한 epoch 동안의 배치를 순서대로 전달.
// 에러가 있는 배치를 전달한 후에는 채널을 닫음.
// 호출자는 채널을 끝까지 읽거나 ctx를 취소해야 함
func (g *Generator) Epoch(ctx context.Context) <-chan Batch {
	n := g.Samples()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if g.cfg.Shuffle {
		g.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	steps := 0
	if n > 0 {
		steps = g.Steps()
	}
	seeds := make([]int64, steps)
	for i := range seeds {
		seeds[i] = g.rng.Int63()
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Batch)
	pending := make(chan chan Batch, g.cfg.Workers)

	go func() {
		defer close(pending)
		for b := 0; b < steps; b++ {
			start := b * g.cfg.BatchSize
			end := start + g.cfg.BatchSize
			if end > n {
				end = n
			}

			res := make(chan Batch, 1)
			select {
			case pending <- res:
			case <-ctx.Done():
				return
			}
			go func(b int, idx []int, seed int64) {
				res <- g.load(ctx, b, idx, seed)
			}(b, order[start:end], seeds[b])
		}
	}()

	go func() {
		defer close(out)
		defer cancel()
		for res := range pending {
			var batch Batch
			select {
			case batch = <-res:
			case <-ctx.Done():
				return
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return
			}
			if batch.Err != nil {
				return
			}
		}
	}()

	return out
}

func (g *Generator) load(ctx context.Context, index int, idx []int, seed int64) Batch {
	batch := Batch{
		Index:  index,
		Labels: make([]float64, len(idx)),
		Paths:  make([]string, len(idx)),
	}

	var rng *rand.Rand
	if g.cfg.Augmenter != nil {
		rng = rand.New(rand.NewSource(seed))
	}

	imgs := make([]*image.NRGBA, len(idx))
	for i, j := range idx {
		if err := ctx.Err(); err != nil {
			batch.Err = err
			return batch
		}

		sample := g.split.Samples[j]
		img, err := preprocess.Open(sample.Path)
		if err != nil {
			batch.Err = err
			return batch
		}

		resized := preprocess.Resize(img, g.cfg.Width, g.cfg.Height)
		if rng != nil {
			resized = g.cfg.Augmenter.Apply(resized, rng)
		}

		imgs[i] = resized
		batch.Labels[i] = float64(sample.Label)
		batch.Paths[i] = sample.Path
	}

	batch.Tensor = preprocess.Images(imgs, g.cfg.Width, g.cfg.Height, g.cfg.Mode)

	return batch
}
