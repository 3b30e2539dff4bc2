package train

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/backbone"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/classifier"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/dataset"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/generator"
)

func newModel(t *testing.T) *classifier.Model {
	spec, err := backbone.Lookup(backbone.StatsType)
	require.NoError(t, err)
	m, err := classifier.Create(spec, backbone.NewStatsExtractor(), classifier.Options{Name: "train", Seed: 1, LearningRate: 0.01})
	require.NoError(t, err)
	return m
}

func writePNG(t *testing.T, path string, c color.Color) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestClassWeights(t *testing.T) {
	w, err := ClassWeights([]int{0, 0, 0, 1}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 4.0/6, w[0], 1e-12)
	assert.InDelta(t, 2.0, w[1], 1e-12)

	w, err = ClassWeights([]int{0, 1, 0, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1}, w)

	_, err = ClassWeights([]int{0, 0}, 2)
	assert.Error(t, err)
	_, err = ClassWeights(nil, 2)
	assert.Error(t, err)
	_, err = ClassWeights([]int{3}, 2)
	assert.Error(t, err)
}

func valLoss(v float64) Logs {
	return Logs{MetricValLoss: v}
}

func TestEarlyStopping(t *testing.T) {
	m := newModel(t)
	run := &Run{Model: m, Epochs: 20}
	es := NewEarlyStopping()
	es.Patience = 2
	require.NoError(t, es.OnTrainBegin(run))

	best := m.Head.Snapshot()
	require.NoError(t, es.OnEpochEnd(run, 0, valLoss(0.5)))
	assert.False(t, run.StopTraining)

	// 가중치를 바꾸고 개선되지 않는 epoch
	m.Head.Compile(m.Head.Loss(), 0.5)
	x := [][]float32{{0.1, 0.2, 0.3, 0.1, 0.1, 0.1}, {0.9, 0.8, 0.7, 0.1, 0.1, 0.1}}
	_, err := m.Head.TrainStep(x, []float64{0, 1}, nil)
	require.NoError(t, err)

	// min delta 보다 작은 개선은 무시
	require.NoError(t, es.OnEpochEnd(run, 1, valLoss(0.49995)))
	assert.False(t, run.StopTraining)
	require.NoError(t, es.OnEpochEnd(run, 2, valLoss(0.6)))
	assert.True(t, run.StopTraining)
	assert.Equal(t, 2, es.StoppedEpoch)
	assert.Equal(t, 0, es.BestEpoch)

	// 최고 가중치 복원
	assert.Equal(t, best.Params, m.Head.Snapshot().Params)
}

func TestEarlyStoppingWithoutMetric(t *testing.T) {
	run := &Run{Model: newModel(t), Epochs: 3}
	es := NewEarlyStopping()
	es.Patience = 1
	require.NoError(t, es.OnTrainBegin(run))
	for i := 0; i < 3; i++ {
		require.NoError(t, es.OnEpochEnd(run, i, Logs{MetricLoss: 1}))
	}
	assert.False(t, run.StopTraining)
}

func TestReduceLROnPlateau(t *testing.T) {
	m := newModel(t)
	m.Head.SetLearningRate(1e-3)
	run := &Run{Model: m, Epochs: 20}
	p := NewReduceLROnPlateau()
	require.NoError(t, p.OnTrainBegin(run))

	losses := []float64{1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0}
	var lrs []float64
	for epoch, l := range losses {
		require.NoError(t, p.OnEpochEnd(run, epoch, valLoss(l)))
		lrs = append(lrs, m.Head.LearningRate())
	}

	// epoch 0 개선, 1-3 정체 후 감소, cooldown 이 끝난 epoch 부터 다시 정체 누적
	assert.InDelta(t, 1e-3, lrs[2], 1e-15)
	assert.InDelta(t, 3e-4, lrs[3], 1e-15)
	assert.InDelta(t, 3e-4, lrs[5], 1e-15)
	assert.InDelta(t, 9e-5, lrs[6], 1e-15)
	assert.InDelta(t, 9e-5, lrs[7], 1e-15)
}

func TestReduceLROnPlateauMinLR(t *testing.T) {
	m := newModel(t)
	m.Head.SetLearningRate(2e-7)
	run := &Run{Model: m}
	p := NewReduceLROnPlateau()
	p.Patience = 1
	p.Cooldown = 0
	require.NoError(t, p.OnTrainBegin(run))

	for epoch := 0; epoch < 5; epoch++ {
		require.NoError(t, p.OnEpochEnd(run, epoch, valLoss(1)))
	}
	assert.Equal(t, 1e-7, m.Head.LearningRate())
}

func TestModelCheckpoint(t *testing.T) {
	m := newModel(t)
	run := &Run{Model: m}
	dir := filepath.Join(t.TempDir(), "best")
	c := NewModelCheckpoint(dir)
	require.NoError(t, c.OnTrainBegin(run))

	for epoch, acc := range []float64{0.6, 0.7, 0.7, 0.65, 0.8} {
		require.NoError(t, c.OnEpochEnd(run, epoch, Logs{MetricValAccuracy: acc}))
	}
	assert.Equal(t, 3, c.Saved)
	assert.Equal(t, 4, c.BestEpoch)

	saved, err := classifier.ReadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, saved.TrainingResult.BestEpoch)
}

func TestLogsGet(t *testing.T) {
	logs := Logs{MetricLoss: 1, MetricValLoss: math.NaN()}
	_, ok := logs.Get(MetricValLoss)
	assert.False(t, ok)
	_, ok = logs.Get(MetricValAccuracy)
	assert.False(t, ok)
	v, ok := logs.Get(MetricLoss)
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestFit(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		writePNG(t, filepath.Join(root, "Fake", name+".png"), color.Black)
	}
	for _, name := range []string{"a", "b", "c"} {
		writePNG(t, filepath.Join(root, "Real", name+".png"), color.White)
	}

	ds, err := dataset.Load(context.Background(), root, dataset.Options{})
	require.NoError(t, err)

	train, err := generator.New(ds.Train, generator.Config{Width: 8, Height: 8, BatchSize: 4, Shuffle: true, Seed: 1})
	require.NoError(t, err)
	val, err := generator.New(ds.Validation, generator.Config{Width: 8, Height: 8, BatchSize: 4})
	require.NoError(t, err)

	weights, err := ClassWeights(train.Classes(), 2)
	require.NoError(t, err)

	m := newModel(t)
	es := NewEarlyStopping()
	history, err := Fit(context.Background(), m, train, val, FitConfig{
		Epochs:       30,
		ClassWeights: weights,
		Callbacks:    []Callback{&ProgressLogger{}, es, NewReduceLROnPlateau()},
	})
	require.NoError(t, err)

	require.Greater(t, history.Len(), 0)
	assert.Len(t, history.ValLoss, history.Len())
	assert.Len(t, history.LR, history.Len())
	assert.Less(t, history.Loss[history.Len()-1], history.Loss[0])

	record := history.Record(es.BestEpoch + 1)
	assert.Equal(t, history.Len(), record.Epochs)
	assert.Equal(t, history.Loss[0], record.InitLoss)
}

func TestFitWithoutValidation(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "Fake", "a.png"), color.Black)
	writePNG(t, filepath.Join(root, "Real", "a.png"), color.White)

	split, err := dataset.Scan(context.Background(), root, "train", nil, 1)
	require.NoError(t, err)
	gen, err := generator.New(split, generator.Config{Width: 8, Height: 8, BatchSize: 48})
	require.NoError(t, err)
	assert.Equal(t, 1, gen.Steps())

	history, err := Fit(context.Background(), newModel(t), gen, nil, FitConfig{
		Epochs:    2,
		Callbacks: []Callback{NewEarlyStopping(), NewModelCheckpoint(filepath.Join(root, "ckpt"))},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, history.Len())
	assert.Empty(t, history.ValLoss)
	assert.NoDirExists(t, filepath.Join(root, "ckpt"))
}

// epoch별 배치 콜백 호출 기록
type batchRecorder struct {
	epochs []int
	steps  [][]int
	// epoch 마지막 배치의 누적 손실과 epoch 손실
	lastLoss, epochLoss []float64
	loss                float64
}

func (b *batchRecorder) OnTrainBegin(r *Run) error { return nil }
func (b *batchRecorder) OnTrainEnd(r *Run) error   { return nil }

func (b *batchRecorder) OnEpochBegin(r *Run, epoch int) error {
	b.epochs = append(b.epochs, epoch)
	b.steps = append(b.steps, nil)
	return nil
}

func (b *batchRecorder) OnBatchEnd(r *Run, step int, logs Logs) error {
	b.steps[len(b.steps)-1] = append(b.steps[len(b.steps)-1], step)
	b.loss = logs[MetricLoss]
	return nil
}

func (b *batchRecorder) OnEpochEnd(r *Run, epoch int, logs Logs) error {
	b.lastLoss = append(b.lastLoss, b.loss)
	b.epochLoss = append(b.epochLoss, logs[MetricLoss])
	return nil
}

func TestFitBatchCallbacks(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		writePNG(t, filepath.Join(root, "Fake", name+".png"), color.Black)
		writePNG(t, filepath.Join(root, "Real", name+".png"), color.White)
	}

	split, err := dataset.Scan(context.Background(), root, "train", nil, 1)
	require.NoError(t, err)
	gen, err := generator.New(split, generator.Config{Width: 8, Height: 8, BatchSize: 4})
	require.NoError(t, err)
	require.Equal(t, 2, gen.Steps())

	var out bytes.Buffer
	rec := &batchRecorder{}
	history, err := Fit(context.Background(), newModel(t), gen, nil, FitConfig{
		Epochs:    3,
		Callbacks: []Callback{&ProgressLogger{Bar: true, Writer: &out}, rec},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, history.Len())
	assert.Equal(t, []int{0, 1, 2}, rec.epochs)
	assert.Equal(t, [][]int{{1, 2}, {1, 2}, {1, 2}}, rec.steps)
	assert.InDeltaSlice(t, rec.epochLoss, rec.lastLoss, 1e-12)
	assert.Contains(t, out.String(), "Epoch 3/3")
}

func TestFitCancelled(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "Fake", "a.png"), color.Black)
	writePNG(t, filepath.Join(root, "Real", "a.png"), color.White)

	split, err := dataset.Scan(context.Background(), root, "train", nil, 1)
	require.NoError(t, err)
	gen, err := generator.New(split, generator.Config{Width: 8, Height: 8, BatchSize: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Fit(ctx, newModel(t), gen, nil, FitConfig{Epochs: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHistoryExtend(t *testing.T) {
	h := &History{}
	h.append(0, Logs{MetricLoss: 1, MetricAccuracy: 0.5, MetricLR: 1e-3})
	h.append(1, Logs{MetricLoss: 0.8, MetricAccuracy: 0.6, MetricLR: 1e-3})

	fine := &History{}
	fine.append(0, Logs{MetricLoss: 0.5, MetricAccuracy: 0.7, MetricLR: 1e-4})
	h.Extend(fine)

	assert.Equal(t, []int{0, 1, 2}, h.Epochs)
	assert.Equal(t, []float64{1, 0.8, 0.5}, h.Loss)
	assert.Equal(t, []float64{1e-3, 1e-3, 1e-4}, h.LR)
	assert.Equal(t, []float64{0.5, 0.6, 0.7}, h.Curves().Accuracy)
}
