// Package head 백본 특징 벡터 위에서 학습하는 분류 헤드
//
//	Dense(relu) -> BatchNormalization -> Dropout -> Dense(sigmoid)
package head

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const (
	DefaultHidden   = 512
	DefaultDropout  = 0.5
	DefaultMomentum = 0.99
	DefaultEpsilon  = 1e-3
)

// Config 헤드 구조
type Config struct {
	InputDim int
	Hidden   int
	Dropout  float64
	Momentum float64
	Epsilon  float64
	Seed     int64
}

func (c *Config) setDefaults() {
	if c.Hidden <= 0 {
		c.Hidden = DefaultHidden
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		c.Dropout = DefaultDropout
	}
	if c.Momentum <= 0 || c.Momentum >= 1 {
		c.Momentum = DefaultMomentum
	}
	if c.Epsilon <= 0 {
		c.Epsilon = DefaultEpsilon
	}
}

// 학습 가능한 파라미터 순서
const (
	pW1 = iota
	pB1
	pGamma
	pBeta
	pW2
	pB2
	numParams
)

type param struct {
	value *mat.Dense
	grad  *mat.Dense
	// Adam moment
	m, v []float64
}

func newParam(r, c int) *param {
	return &param{
		value: mat.NewDense(r, c, nil),
		grad:  mat.NewDense(r, c, nil),
		m:     make([]float64, r*c),
		v:     make([]float64, r*c),
	}
}

// Network 분류 헤드. 학습(TrainStep)은 동시에 호출하면 안되며,
// Predict는 학습 중이 아닐 때 동시에 호출 가능
type Network struct {
	cfg    Config
	params [numParams]*param

	movingMean []float64
	movingVar  []float64

	loss Loss
	opt  *Adam
	rng  *rand.Rand
}

// ErrInput 입력 크기 오류
var ErrInput = errors.New("invalid input")

// New glorot uniform으로 초기화된 헤드 생성
func New(cfg Config) (*Network, error) {
	if cfg.InputDim <= 0 {
		return nil, fmt.Errorf("%w: input dimension %d", ErrInput, cfg.InputDim)
	}
	cfg.setDefaults()

	n := &Network{
		cfg:        cfg,
		movingMean: make([]float64, cfg.Hidden),
		movingVar:  make([]float64, cfg.Hidden),
		loss:       LossBCE,
		opt:        NewAdam(DefaultLearningRate),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}

	n.params[pW1] = newParam(cfg.InputDim, cfg.Hidden)
	n.params[pB1] = newParam(1, cfg.Hidden)
	n.params[pGamma] = newParam(1, cfg.Hidden)
	n.params[pBeta] = newParam(1, cfg.Hidden)
	n.params[pW2] = newParam(cfg.Hidden, 1)
	n.params[pB2] = newParam(1, 1)

	n.glorot(n.params[pW1].value)
	n.glorot(n.params[pW2].value)
	fill(n.params[pGamma].value.RawMatrix().Data, 1)
	fill(n.movingVar, 1)

	return n, nil
}

func (n *Network) glorot(w *mat.Dense) {
	r, c := w.Dims()
	limit := math.Sqrt(6 / float64(r+c))
	data := w.RawMatrix().Data
	for i := range data {
		data[i] = (n.rng.Float64()*2 - 1) * limit
	}
}

func fill(s []float64, v float64) {
	for i := range s {
		s[i] = v
	}
}

// Config 헤드 구조
func (n *Network) Config() Config {
	return n.cfg
}

// InputDim 입력 특징 벡터 크기
func (n *Network) InputDim() int {
	return n.cfg.InputDim
}

// Loss 현재 손실 함수
func (n *Network) Loss() Loss {
	return n.loss
}

// Compile 손실 함수와 학습률 지정, optimizer 상태는 초기화
func (n *Network) Compile(loss Loss, lr float64) error {
	if err := loss.Validate(); err != nil {
		return err
	}
	if lr <= 0 {
		return fmt.Errorf("invalid learning rate: %g", lr)
	}

	n.loss = loss
	n.opt = NewAdam(lr)
	for _, p := range n.params {
		fill(p.m, 0)
		fill(p.v, 0)
	}
	return nil
}

// LearningRate 현재 학습률
func (n *Network) LearningRate() float64 {
	return n.opt.LearningRate
}

// SetLearningRate 학습률 변경
func (n *Network) SetLearningRate(lr float64) {
	n.opt.LearningRate = lr
}

func (n *Network) matrix(x [][]float32) (*mat.Dense, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInput)
	}

	d := n.cfg.InputDim
	data := make([]float64, len(x)*d)
	for i, row := range x {
		if len(row) != d {
			return nil, fmt.Errorf("%w: feature size %d, expected %d", ErrInput, len(row), d)
		}
		for j, v := range row {
			data[i*d+j] = float64(v)
		}
	}
	return mat.NewDense(len(x), d, data), nil
}

type cache struct {
	x      *mat.Dense
	z1     *mat.Dense
	xhat   *mat.Dense
	invStd []float64
	mask   *mat.Dense
	out    *mat.Dense
	p      []float64
}

func (n *Network) forward(x *mat.Dense, training bool) *cache {
	rows, _ := x.Dims()
	h := n.cfg.Hidden
	c := &cache{x: x}

	// Dense + relu
	z1 := mat.NewDense(rows, h, nil)
	z1.Mul(x, n.params[pW1].value)
	b1 := n.params[pB1].value.RawMatrix().Data
	a1 := mat.NewDense(rows, h, nil)
	z1.Apply(func(_, j int, v float64) float64 { return v + b1[j] }, z1)
	a1.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z1)
	c.z1 = z1

	// BatchNormalization
	gamma := n.params[pGamma].value.RawMatrix().Data
	beta := n.params[pBeta].value.RawMatrix().Data
	mean := n.movingMean
	variance := n.movingVar
	if training {
		mean = make([]float64, h)
		variance = make([]float64, h)
		for j := 0; j < h; j++ {
			col := mat.Col(nil, j, a1)
			var sum float64
			for _, v := range col {
				sum += v
			}
			mean[j] = sum / float64(rows)
			var sq float64
			for _, v := range col {
				sq += (v - mean[j]) * (v - mean[j])
			}
			variance[j] = sq / float64(rows)
		}

		mo := n.cfg.Momentum
		for j := 0; j < h; j++ {
			n.movingMean[j] = mo*n.movingMean[j] + (1-mo)*mean[j]
			n.movingVar[j] = mo*n.movingVar[j] + (1-mo)*variance[j]
		}
	}

	c.invStd = make([]float64, h)
	for j := range c.invStd {
		c.invStd[j] = 1 / math.Sqrt(variance[j]+n.cfg.Epsilon)
	}
	xhat := mat.NewDense(rows, h, nil)
	xhat.Apply(func(_, j int, v float64) float64 { return (v - mean[j]) * c.invStd[j] }, a1)
	c.xhat = xhat

	out := mat.NewDense(rows, h, nil)
	out.Apply(func(_, j int, v float64) float64 { return gamma[j]*v + beta[j] }, xhat)

	// Dropout (inverted)
	if training && n.cfg.Dropout > 0 {
		keep := 1 - n.cfg.Dropout
		mask := mat.NewDense(rows, h, nil)
		md := mask.RawMatrix().Data
		for i := range md {
			if n.rng.Float64() < keep {
				md[i] = 1 / keep
			}
		}
		out.MulElem(out, mask)
		c.mask = mask
	}
	c.out = out

	// Dense + sigmoid
	z2 := mat.NewDense(rows, 1, nil)
	z2.Mul(out, n.params[pW2].value)
	b2 := n.params[pB2].value.At(0, 0)
	c.p = make([]float64, rows)
	for i := range c.p {
		c.p[i] = sigmoid(z2.At(i, 0) + b2)
	}

	return c
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func (n *Network) backward(c *cache, y, w []float64) {
	rows, h := c.out.Dims()

	dz2 := mat.NewDense(rows, 1, nil)
	var db2 float64
	for i, p := range c.p {
		g := w[i] * n.loss.grad(p, y[i]) / float64(rows)
		dz2.Set(i, 0, g)
		db2 += g
	}

	n.params[pW2].grad.Mul(c.out.T(), dz2)
	n.params[pB2].grad.Set(0, 0, db2)

	dOut := mat.NewDense(rows, h, nil)
	dOut.Mul(dz2, n.params[pW2].value.T())
	if c.mask != nil {
		dOut.MulElem(dOut, c.mask)
	}

	gamma := n.params[pGamma].value.RawMatrix().Data
	dGamma := n.params[pGamma].grad.RawMatrix().Data
	dBeta := n.params[pBeta].grad.RawMatrix().Data
	sumDx := make([]float64, h)
	sumDxX := make([]float64, h)
	for j := 0; j < h; j++ {
		dGamma[j], dBeta[j] = 0, 0
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < h; j++ {
			g := dOut.At(i, j)
			xh := c.xhat.At(i, j)
			dGamma[j] += g * xh
			dBeta[j] += g
			dx := g * gamma[j]
			sumDx[j] += dx
			sumDxX[j] += dx * xh
		}
	}

	nf := float64(rows)
	dz1 := mat.NewDense(rows, h, nil)
	dz1.Apply(func(i, j int, _ float64) float64 {
		if c.z1.At(i, j) <= 0 {
			return 0
		}
		dx := dOut.At(i, j) * gamma[j]
		return c.invStd[j] / nf * (nf*dx - sumDx[j] - c.xhat.At(i, j)*sumDxX[j])
	}, dz1)

	n.params[pW1].grad.Mul(c.x.T(), dz1)
	db1 := n.params[pB1].grad.RawMatrix().Data
	fill(db1, 0)
	for i := 0; i < rows; i++ {
		for j := 0; j < h; j++ {
			db1[j] += dz1.At(i, j)
		}
	}
}

// Metrics 배치 손실과 정확도
type Metrics struct {
	Loss     float64
	Accuracy float64
}

func (n *Network) metrics(p, y, w []float64) Metrics {
	var loss, correct float64
	for i := range p {
		weight := 1.0
		if w != nil {
			weight = w[i]
		}
		loss += weight * n.loss.value(p[i], y[i])
		if (p[i] > 0.5) == (y[i] > 0.5) {
			correct++
		}
	}
	return Metrics{Loss: loss / float64(len(p)), Accuracy: correct / float64(len(p))}
}

// TrainStep 배치 하나로 파라미터 갱신, 학습 모드에서 계산한 손실 반환.
// w는 샘플별 가중치 (nil이면 모두 1)
func (n *Network) TrainStep(x [][]float32, y, w []float64) (Metrics, error) {
	xm, err := n.matrix(x)
	if err != nil {
		return Metrics{}, err
	}
	if len(y) != len(x) || (w != nil && len(w) != len(x)) {
		return Metrics{}, fmt.Errorf("%w: %d samples, %d labels", ErrInput, len(x), len(y))
	}
	if w == nil {
		w = make([]float64, len(x))
		fill(w, 1)
	}

	c := n.forward(xm, true)
	m := n.metrics(c.p, y, w)
	n.backward(c, y, w)
	n.opt.Step(n.params[:])

	return m, nil
}

// Evaluate 추론 모드로 손실과 정확도 계산
func (n *Network) Evaluate(x [][]float32, y []float64) (Metrics, error) {
	p, err := n.Predict(x)
	if err != nil {
		return Metrics{}, err
	}
	if len(y) != len(p) {
		return Metrics{}, fmt.Errorf("%w: %d samples, %d labels", ErrInput, len(p), len(y))
	}
	return n.metrics(p, y, nil), nil
}

// Predict 추론 모드로 sigmoid 출력 계산
func (n *Network) Predict(x [][]float32) ([]float64, error) {
	return n.Forward(x, false)
}

// Forward sigmoid 출력 계산. training이면 batch 통계와 dropout 사용
// (moving 통계도 갱신됨)
func (n *Network) Forward(x [][]float32, training bool) ([]float64, error) {
	xm, err := n.matrix(x)
	if err != nil {
		return nil, err
	}
	return n.forward(xm, training).p, nil
}

// LossValue 샘플별 손실 평균 (평가용)
func (n *Network) LossValue(p, y []float64) float64 {
	return n.metrics(p, y, nil).Loss
}
