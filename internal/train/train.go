// Package train 백본 특징 위에서 분류 헤드 학습
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/classifier"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/evaluate"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/generator"
)

// 모니터링 지표 이름
const (
	MetricLoss        = "loss"
	MetricAccuracy    = "accuracy"
	MetricValLoss     = "val_loss"
	MetricValAccuracy = "val_accuracy"
	MetricLR          = "lr"
)

// FineTuneLearningRate 미세 조정 단계의 학습률
const FineTuneLearningRate = 1e-4

// Logs epoch 종료시 지표
type Logs map[string]float64

// Get 지표 조회, 없으면 ok=false
func (l Logs) Get(name string) (float64, bool) {
	v, ok := l[name]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Run 학습 진행 상태. 콜백이 StopTraining을 설정하면 현재 epoch 후 종료
type Run struct {
	Model        *classifier.Model
	Epochs       int
	Steps        int
	StopTraining bool
}

// Callback 학습 단계별 훅
type Callback interface {
	OnTrainBegin(r *Run) error
	OnEpochEnd(r *Run, epoch int, logs Logs) error
	OnTrainEnd(r *Run) error
}

// BatchCallback 배치 단위 훅, 필요한 콜백만 구현
type BatchCallback interface {
	OnEpochBegin(r *Run, epoch int) error
	// step은 1부터, logs는 현재 epoch의 누적 평균
	OnBatchEnd(r *Run, step int, logs Logs) error
}

// FitConfig 학습 설정
type FitConfig struct {
	Epochs int
	// 클래스별 손실 가중치, nil이면 모두 1
	ClassWeights []float64
	Callbacks    []Callback
}

// ClassWeights 클래스 불균형 보정 가중치 ("balanced"): n / (k * count)
func ClassWeights(classes []int, k int) ([]float64, error) {
	if len(classes) == 0 || k <= 0 {
		return nil, errors.New("No samples for class weights")
	}

	counts := make([]int, k)
	for _, c := range classes {
		if c < 0 || c >= k {
			return nil, fmt.Errorf("Invalid class index: %d", c)
		}
		counts[c]++
	}

	weights := make([]float64, k)
	for c, count := range counts {
		if count == 0 {
			return nil, fmt.Errorf("No samples for class %d", c)
		}
		weights[c] = float64(len(classes)) / (float64(k) * float64(count))
	}
	return weights, nil
}

// Fit 학습 데이터로 헤드를 학습하고 epoch별 기록 반환.
// val이 nil이면 검증 지표 없이 진행
func Fit(ctx context.Context, m *classifier.Model, train, val *generator.Generator, cfg FitConfig) (*History, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("Invalid epochs: %d", cfg.Epochs)
	}
	if train.Samples() == 0 {
		return nil, errors.New("No training samples")
	}

	run := &Run{Model: m, Epochs: cfg.Epochs, Steps: train.Steps()}
	history := &History{}

	for _, cb := range cfg.Callbacks {
		if err := cb.OnTrainBegin(run); err != nil {
			return nil, err
		}
	}

	var batchCallbacks []BatchCallback
	for _, cb := range cfg.Callbacks {
		if bc, ok := cb.(BatchCallback); ok {
			batchCallbacks = append(batchCallbacks, bc)
		}
	}
	onBatch := func(step int, logs Logs) error {
		for _, bc := range batchCallbacks {
			if err := bc.OnBatchEnd(run, step, logs); err != nil {
				return err
			}
		}
		return nil
	}

	for epoch := 0; epoch < cfg.Epochs && !run.StopTraining; epoch++ {
		for _, bc := range batchCallbacks {
			if err := bc.OnEpochBegin(run, epoch); err != nil {
				return history, err
			}
		}

		logs, err := fitEpoch(ctx, m, train, cfg.ClassWeights, onBatch)
		if err != nil {
			return history, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}

		if val != nil && val.Samples() > 0 {
			scores, labels, err := evaluate.Collect(ctx, m, val)
			if err != nil {
				return history, fmt.Errorf("epoch %d validation: %w", epoch+1, err)
			}
			logs[MetricValLoss] = m.Head.LossValue(scores, labels)
			logs[MetricValAccuracy] = accuracy(scores, labels)
		}
		logs[MetricLR] = m.Head.LearningRate()

		history.append(epoch, logs)
		for _, cb := range cfg.Callbacks {
			if err := cb.OnEpochEnd(run, epoch, logs); err != nil {
				return history, err
			}
		}
	}

	for _, cb := range cfg.Callbacks {
		if err := cb.OnTrainEnd(run); err != nil {
			return history, err
		}
	}

	return history, nil
}

func fitEpoch(ctx context.Context, m *classifier.Model, train *generator.Generator, classWeights []float64, onBatch func(int, Logs) error) (Logs, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var loss, acc float64
	seen, step := 0, 0
	for batch := range train.Epoch(ctx) {
		if batch.Err != nil {
			return nil, batch.Err
		}

		features, err := m.Features(ctx, batch.Tensor)
		if err != nil {
			return nil, err
		}

		var weights []float64
		if classWeights != nil {
			weights = make([]float64, batch.Len())
			for i, y := range batch.Labels {
				weights[i] = classWeights[int(y)]
			}
		}

		metrics, err := m.Head.TrainStep(features, batch.Labels, weights)
		if err != nil {
			return nil, err
		}

		n := float64(batch.Len())
		loss += metrics.Loss * n
		acc += metrics.Accuracy * n
		seen += batch.Len()
		step++

		if err := onBatch(step, Logs{
			MetricLoss:     loss / float64(seen),
			MetricAccuracy: acc / float64(seen),
		}); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if seen == 0 {
		return nil, errors.New("No batches")
	}

	return Logs{
		MetricLoss:     loss / float64(seen),
		MetricAccuracy: acc / float64(seen),
	}, nil
}

func accuracy(scores, labels []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	correct := 0
	for i, s := range scores {
		if (s > 0.5) == (labels[i] > 0.5) {
			correct++
		}
	}
	return float64(correct) / float64(len(scores))
}

// History epoch별 지표 기록
type History struct {
	Epochs      []int
	Loss        []float64
	Accuracy    []float64
	ValLoss     []float64
	ValAccuracy []float64
	LR          []float64
}

func (h *History) append(epoch int, logs Logs) {
	h.Epochs = append(h.Epochs, epoch)
	h.Loss = append(h.Loss, logs[MetricLoss])
	h.Accuracy = append(h.Accuracy, logs[MetricAccuracy])
	if v, ok := logs.Get(MetricValLoss); ok {
		h.ValLoss = append(h.ValLoss, v)
		h.ValAccuracy = append(h.ValAccuracy, logs[MetricValAccuracy])
	}
	h.LR = append(h.LR, logs[MetricLR])
}

// Len 기록된 epoch 수
func (h *History) Len() int {
	return len(h.Epochs)
}

// Extend 미세 조정 단계 기록을 이어 붙임
func (h *History) Extend(o *History) {
	offset := 0
	if n := len(h.Epochs); n > 0 {
		offset = h.Epochs[n-1] + 1
	}
	for _, e := range o.Epochs {
		h.Epochs = append(h.Epochs, e+offset)
	}
	h.Loss = append(h.Loss, o.Loss...)
	h.Accuracy = append(h.Accuracy, o.Accuracy...)
	h.ValLoss = append(h.ValLoss, o.ValLoss...)
	h.ValAccuracy = append(h.ValAccuracy, o.ValAccuracy...)
	h.LR = append(h.LR, o.LR...)
}

// Curves 그래프용 곡선
func (h *History) Curves() evaluate.Curves {
	return evaluate.Curves{
		Accuracy:    h.Accuracy,
		ValAccuracy: h.ValAccuracy,
		Loss:        h.Loss,
		ValLoss:     h.ValLoss,
	}
}

// Record 모델 설정에 남길 학습 결과
func (h *History) Record(bestEpoch int) classifier.TrainingResult {
	r := classifier.TrainingResult{
		Epochs:             h.Len(),
		BestEpoch:          bestEpoch,
		TrainLoss:          h.Loss,
		TrainAccuracy:      h.Accuracy,
		ValidationLoss:     h.ValLoss,
		ValidationAccuracy: h.ValAccuracy,
		LearningRate:       h.LR,
	}
	if h.Len() > 0 {
		r.InitLoss = h.Loss[0]
		r.InitAccuracy = h.Accuracy[0]
	}
	return r
}

func logSkip(callback, monitor string) {
	slog.Warn("metric is not available, skipping", "callback", callback, "monitor", monitor)
}
