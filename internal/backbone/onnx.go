package backbone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/preprocess"
)

var (
	initOnce sync.Once
	initErr  error
)

// InitRuntime ONNX Runtime 초기화, 프로세스마다 한 번만 수행
func InitRuntime(lib string) error {
	initOnce.Do(func() {
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		initErr = ort.InitializeEnvironment()
	})
	return initErr
}

// DestroyRuntime ONNX Runtime 해제
func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// ONNXExtractor ONNX로 변환된 백본 (NHWC 입력, 마지막 축이 특징)
type ONNXExtractor struct {
	path       string
	session    *ort.DynamicAdvancedSession
	input      string
	output     string
	inputDims  ort.Shape
	featureDim int
}

// NewONNXExtractor 백본 모델 파일 로드.
// 입출력 이름과 특징 벡터 크기는 모델 정보에서 확인
func NewONNXExtractor(path string, spec Spec) (*ONNXExtractor, error) {
	if !ort.IsInitialized() {
		return nil, errors.New("ONNX Runtime is not initialized")
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("Fail to read backbone info(%s): %w", path, err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("Unexpected backbone signature: %d inputs, %d outputs", len(inputs), len(outputs))
	}

	featureDim := spec.FeatureDim
	if dims := outputs[0].Dimensions; len(dims) > 0 && dims[len(dims)-1] > 0 {
		featureDim = int(dims[len(dims)-1])
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		nil)
	if err != nil {
		return nil, fmt.Errorf("Fail to create backbone session: %w", err)
	}

	return &ONNXExtractor{
		path:       path,
		session:    session,
		input:      inputs[0].Name,
		output:     outputs[0].Name,
		inputDims:  inputs[0].Dimensions,
		featureDim: featureDim,
	}, nil
}

// InputName 입력 텐서 이름
func (e *ONNXExtractor) InputName() string {
	return e.input
}

// OutputName 출력 텐서 이름
func (e *ONNXExtractor) OutputName() string {
	return e.output
}

// InputSize 모델에 고정된 입력 크기, 가변이면 fixed=false
func (e *ONNXExtractor) InputSize() (w, h int, fixed bool) {
	if len(e.inputDims) != 4 || e.inputDims[1] <= 0 || e.inputDims[2] <= 0 {
		return 0, 0, false
	}
	return int(e.inputDims[2]), int(e.inputDims[1]), true
}

// FeatureDim 특징 벡터 크기
func (e *ONNXExtractor) FeatureDim() int {
	return e.featureDim
}

// Extract 배치의 특징 벡터 추출.
// 출력이 (N, h, w, F)이면 global average pooling 적용
func (e *ONNXExtractor) Extract(ctx context.Context, t preprocess.Tensor) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := ort.NewTensor(ort.NewShape(t.Shape()...), t.Data)
	if err != nil {
		return nil, err
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, fmt.Errorf("Backbone run error: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("Unexpected backbone output type: %T", outputs[0])
	}

	return pool(out.GetData(), out.GetShape(), t.N)
}

func pool(data []float32, shape ort.Shape, n int) ([][]float32, error) {
	if len(shape) == 0 || int(shape[0]) != n {
		return nil, fmt.Errorf("Unexpected backbone output shape: %v", shape)
	}

	dim := int(shape[len(shape)-1])
	spatial := 1
	for _, d := range shape[1 : len(shape)-1] {
		spatial *= int(d)
	}
	if len(data) != n*spatial*dim {
		return nil, fmt.Errorf("Backbone output size mismatch: %d != %v", len(data), shape)
	}

	features := make([][]float32, n)
	for i := range features {
		f := make([]float32, dim)
		base := i * spatial * dim
		for s := 0; s < spatial; s++ {
			row := data[base+s*dim : base+(s+1)*dim]
			for k, v := range row {
				f[k] += v
			}
		}
		if spatial > 1 {
			for k := range f {
				f[k] /= float32(spatial)
			}
		}
		features[i] = f
	}

	return features, nil
}

// Close 세션 해제
func (e *ONNXExtractor) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}
