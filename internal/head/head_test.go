package head

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 첫 번째 특징의 부호로 구분되는 데이터
func separable(n int, seed int64) ([][]float32, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := make([][]float32, n)
	y := make([]float64, n)
	for i := range x {
		label := float64(i % 2)
		center := float32(-1)
		if label == 1 {
			center = 1
		}
		x[i] = []float32{center + float32(rng.NormFloat64()*0.2), float32(rng.NormFloat64()), float32(rng.NormFloat64())}
		y[i] = label
	}
	return x, y
}

func TestNewInvalid(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInput)
}

func TestTrainSeparable(t *testing.T) {
	n, err := New(Config{InputDim: 3, Hidden: 16, Dropout: 0.1, Seed: 1})
	require.NoError(t, err)
	require.NoError(t, n.Compile(LossBCE, 0.01))

	x, y := separable(64, 2)
	first, err := n.Evaluate(x, y)
	require.NoError(t, err)

	for epoch := 0; epoch < 100; epoch++ {
		for start := 0; start < len(x); start += 16 {
			_, err := n.TrainStep(x[start:start+16], y[start:start+16], nil)
			require.NoError(t, err)
		}
	}

	last, err := n.Evaluate(x, y)
	require.NoError(t, err)
	assert.Less(t, last.Loss, first.Loss)
	assert.GreaterOrEqual(t, last.Accuracy, 0.95)

	p, err := n.Predict([][]float32{{1, 0, 0}, {-1, 0, 0}})
	require.NoError(t, err)
	assert.Greater(t, p[0], 0.5)
	assert.Less(t, p[1], 0.5)
}

func TestGradient(t *testing.T) {
	for _, loss := range []Loss{LossBCE, LossFocal} {
		t.Run(string(loss), func(t *testing.T) {
			n, err := New(Config{InputDim: 3, Hidden: 4, Dropout: 0, Seed: 3})
			require.NoError(t, err)
			require.NoError(t, n.Compile(loss, 0.01))

			x, y := separable(6, 4)
			w := []float64{1, 2, 1, 0.5, 1, 1}
			xm, err := n.matrix(x)
			require.NoError(t, err)

			lossAt := func() float64 {
				c := n.forward(xm, true)
				return n.metrics(c.p, y, w).Loss
			}

			n.backward(n.forward(xm, true), y, w)
			for _, idx := range []int{pW1, pB1, pGamma, pBeta, pW2, pB2} {
				value := n.params[idx].value.RawMatrix().Data
				grad := n.params[idx].grad.RawMatrix().Data
				for i := range value {
					const h = 1e-5
					orig := value[i]
					value[i] = orig + h
					up := lossAt()
					value[i] = orig - h
					down := lossAt()
					value[i] = orig

					numeric := (up - down) / (2 * h)
					assert.InDelta(t, numeric, grad[i], 1e-4, "param %d[%d]", idx, i)
				}
			}
		})
	}
}

func TestFocalLoss(t *testing.T) {
	// 잘 맞힌 샘플일수록 BCE보다 손실이 크게 줄어듦
	assert.Less(t, LossFocal.value(0.9, 1), LossBCE.value(0.9, 1)*0.02)
	assert.InDelta(t, LossBCE.value(0.5, 1)*0.25, LossFocal.value(0.5, 1), 1e-12)
	assert.False(t, math.IsInf(LossBCE.value(0, 1), 0))
	assert.Error(t, Loss("mse").Validate())
}

func TestSnapshotRestore(t *testing.T) {
	n, err := New(Config{InputDim: 3, Hidden: 8, Seed: 5})
	require.NoError(t, err)

	x, y := separable(16, 6)
	before, err := n.Predict(x)
	require.NoError(t, err)

	snap := n.Snapshot()
	for i := 0; i < 5; i++ {
		_, err := n.TrainStep(x, y, nil)
		require.NoError(t, err)
	}
	changed, err := n.Predict(x)
	require.NoError(t, err)
	assert.NotEqual(t, before, changed)

	require.NoError(t, n.Restore(snap))
	after, err := n.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	other, err := New(Config{InputDim: 4, Hidden: 8})
	require.NoError(t, err)
	assert.ErrorIs(t, other.Restore(snap), ErrInput)
}

func TestSaveLoad(t *testing.T) {
	n, err := New(Config{InputDim: 3, Hidden: 8, Seed: 7})
	require.NoError(t, err)
	require.NoError(t, n.Compile(LossFocal, 1e-3))

	x, y := separable(16, 8)
	_, err = n.TrainStep(x, y, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, n.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, LossFocal, loaded.Loss())
	assert.Equal(t, 3, loaded.InputDim())

	want, err := n.Predict(x)
	require.NoError(t, err)
	got, err := loaded.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Load(bytes.NewReader([]byte("broken")))
	assert.Error(t, err)
}

func TestInputErrors(t *testing.T) {
	n, err := New(Config{InputDim: 3, Hidden: 4})
	require.NoError(t, err)

	_, err = n.Predict(nil)
	assert.ErrorIs(t, err, ErrInput)
	_, err = n.Predict([][]float32{{1, 2}})
	assert.ErrorIs(t, err, ErrInput)
	_, err = n.TrainStep([][]float32{{1, 2, 3}}, []float64{1, 0}, nil)
	assert.ErrorIs(t, err, ErrInput)
	assert.Error(t, n.Compile(LossBCE, 0))
}
