package head

import "math"

const (
	DefaultLearningRate = 1e-3

	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// Adam optimizer
type Adam struct {
	LearningRate float64
	step         int
}

// NewAdam Adam optimizer 생성
func NewAdam(lr float64) *Adam {
	return &Adam{LearningRate: lr}
}

// Step 기울기로 파라미터 갱신
func (a *Adam) Step(params []*param) {
	a.step++
	t := float64(a.step)
	lr := a.LearningRate * math.Sqrt(1-math.Pow(adamBeta2, t)) / (1 - math.Pow(adamBeta1, t))

	for _, p := range params {
		value := p.value.RawMatrix().Data
		grad := p.grad.RawMatrix().Data
		for i, g := range grad {
			p.m[i] = adamBeta1*p.m[i] + (1-adamBeta1)*g
			p.v[i] = adamBeta2*p.v[i] + (1-adamBeta2)*g*g
			value[i] -= lr * p.m[i] / (math.Sqrt(p.v[i]) + adamEpsilon)
		}
	}
}
