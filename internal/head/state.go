package head

import (
	"encoding/gob"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// Matrix 직렬화용 행렬
type Matrix struct {
	Rows, Cols int
	Data       []float64
}

func toMatrix(m *mat.Dense) Matrix {
	r, c := m.Dims()
	data := make([]float64, r*c)
	copy(data, m.RawMatrix().Data)
	return Matrix{Rows: r, Cols: c, Data: data}
}

// State 헤드 가중치 (optimizer 상태 제외)
type State struct {
	Config     Config
	Loss       Loss
	Params     []Matrix
	MovingMean []float64
	MovingVar  []float64
}

// Snapshot 현재 가중치 복사
func (n *Network) Snapshot() *State {
	s := &State{
		Config:     n.cfg,
		Loss:       n.loss,
		Params:     make([]Matrix, numParams),
		MovingMean: append([]float64(nil), n.movingMean...),
		MovingVar:  append([]float64(nil), n.movingVar...),
	}
	for i, p := range n.params {
		s.Params[i] = toMatrix(p.value)
	}
	return s
}

// Restore 저장된 가중치로 되돌림
func (n *Network) Restore(s *State) error {
	if err := s.check(n.cfg); err != nil {
		return err
	}
	for i, p := range n.params {
		copy(p.value.RawMatrix().Data, s.Params[i].Data)
	}
	copy(n.movingMean, s.MovingMean)
	copy(n.movingVar, s.MovingVar)
	return nil
}

func (s *State) check(cfg Config) error {
	if s.Config.InputDim != cfg.InputDim || s.Config.Hidden != cfg.Hidden {
		return fmt.Errorf("%w: state %dx%d, network %dx%d",
			ErrInput, s.Config.InputDim, s.Config.Hidden, cfg.InputDim, cfg.Hidden)
	}
	if len(s.Params) != numParams || len(s.MovingMean) != cfg.Hidden || len(s.MovingVar) != cfg.Hidden {
		return fmt.Errorf("%w: corrupted state", ErrInput)
	}

	shapes := [numParams][2]int{
		{cfg.InputDim, cfg.Hidden}, {1, cfg.Hidden}, {1, cfg.Hidden},
		{1, cfg.Hidden}, {cfg.Hidden, 1}, {1, 1},
	}
	for i, m := range s.Params {
		if m.Rows != shapes[i][0] || m.Cols != shapes[i][1] || len(m.Data) != m.Rows*m.Cols {
			return fmt.Errorf("%w: parameter %d shape %dx%d", ErrInput, i, m.Rows, m.Cols)
		}
	}
	return nil
}

// Save 가중치 저장
func (n *Network) Save(w io.Writer) error {
	return gob.NewEncoder(w).Encode(n.Snapshot())
}

// Load 저장된 가중치로 헤드 생성
func Load(r io.Reader) (*Network, error) {
	var s State
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("Fail to decode head: %w", err)
	}

	n, err := New(s.Config)
	if err != nil {
		return nil, err
	}
	if err := n.Restore(&s); err != nil {
		return nil, err
	}
	if s.Loss != "" {
		n.loss = s.Loss
	}
	return n, nil
}
