// Package classifier 백본과 분류 헤드를 묶은 Real/Fake 이미지 분류 모델
package classifier

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/backbone"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/head"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/preprocess"
)

// DefaultLabels 클래스 디렉토리 정렬 순서
var DefaultLabels = []string{"Fake", "Real"}

// Model 이미지 분류 모델
type Model struct {
	Config   Config
	Labels   []string
	Backbone backbone.Extractor
	Head     *head.Network

	// 저장시 복사할 백본 파일
	backbonePath string
}

// Options 모델 생성 옵션
type Options struct {
	Name        string
	Description string
	// 0이면 백본 기본 크기
	Width, Height int
	// ONNX 백본 파일, StatsType이면 비워둠
	BackbonePath string
	Labels       []string
	LearningRate float64
	Seed         int64
}

// Opener 백본 파일 로드 함수
type Opener func(path string, spec backbone.Spec) (backbone.Extractor, error)

// OpenBackbone 백본 종류에 맞는 추출기 로드
func OpenBackbone(path string, spec backbone.Spec) (backbone.Extractor, error) {
	if spec.Name == backbone.StatsType {
		return backbone.NewStatsExtractor(), nil
	}
	return backbone.NewONNXExtractor(path, spec)
}

type signature interface {
	InputName() string
	OutputName() string
}

// Create 새로운 헤드로 모델 생성
func Create(spec backbone.Spec, ext backbone.Extractor, opts Options) (*Model, error) {
	if opts.Name == "" {
		return nil, errors.New("Empty model name")
	}
	w, h := opts.Width, opts.Height
	if w <= 0 {
		w = spec.Width
	}
	if h <= 0 {
		h = spec.Height
	}
	labels := opts.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	if len(labels) != 2 {
		return nil, fmt.Errorf("Binary classification needs 2 classes, got %d: %v", len(labels), labels)
	}
	lr := opts.LearningRate
	if lr <= 0 {
		lr = head.DefaultLearningRate
	}

	net, err := head.New(head.Config{
		InputDim: ext.FeatureDim(),
		Hidden:   head.DefaultHidden,
		Dropout:  head.DefaultDropout,
		Seed:     opts.Seed,
	})
	if err != nil {
		return nil, err
	}
	if err := net.Compile(head.LossBCE, lr); err != nil {
		return nil, err
	}

	cfg := Config{
		Name:           opts.Name,
		Type:           spec.Name,
		Classification: BinaryClass,
		InputShape:     []int{h, w, 3},
		Mode:           spec.Mode,
		LabelsFile:     LabelsFile,
		HeadFile:       HeadFile,
		Loss:           head.LossBCE,
		Description:    opts.Description,
	}
	if opts.BackbonePath != "" {
		cfg.BackboneFile = BackboneFile
	}
	if s, ok := ext.(signature); ok {
		cfg.InputOperationName = s.InputName()
		cfg.OutputOperationName = s.OutputName()
	}

	return &Model{
		Config:       cfg,
		Labels:       append([]string(nil), labels...),
		Backbone:     ext,
		Head:         net,
		backbonePath: opts.BackbonePath,
	}, nil
}

// Load 모델 디렉토리 로드, open이 nil이면 OpenBackbone 사용
func Load(dir string, open Opener) (*Model, error) {
	if open == nil {
		open = OpenBackbone
	}

	cfg, err := ReadConfig(dir)
	if err != nil {
		return nil, err
	}

	spec, err := backbone.Lookup(cfg.Type)
	if err != nil {
		return nil, err
	}
	spec.Mode = cfg.Mode

	labels, err := readLabels(filepath.Join(dir, cfg.LabelsFile))
	if err != nil {
		return nil, err
	}
	if len(labels) != 2 {
		return nil, fmt.Errorf("Binary classification needs 2 labels, got %d", len(labels))
	}

	f, err := os.Open(filepath.Join(dir, cfg.HeadFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	net, err := head.Load(f)
	if err != nil {
		return nil, err
	}

	var backbonePath string
	if cfg.BackboneFile != "" {
		backbonePath = filepath.Join(dir, cfg.BackboneFile)
	}
	ext, err := open(backbonePath, spec)
	if err != nil {
		return nil, err
	}
	if ext.FeatureDim() != net.InputDim() {
		ext.Close()
		return nil, fmt.Errorf("Backbone feature size(%d) does not match head input(%d)", ext.FeatureDim(), net.InputDim())
	}

	return &Model{
		Config:       *cfg,
		Labels:       labels,
		Backbone:     ext,
		Head:         net,
		backbonePath: backbonePath,
	}, nil
}

func readLabels(path string) ([]string, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	var labels []string
	scanner := bufio.NewScanner(fp)
	for scanner.Scan() {
		if l := scanner.Text(); l != "" {
			labels = append(labels, l)
		}
	}
	return labels, scanner.Err()
}

// Save 모델 디렉토리 저장. 임시 디렉토리에 기록 후 교체
func (m *Model) Save(dir string) error {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}

	suffix := uuid.New().String()[:8]
	tmp := fmt.Sprintf("%s.tmp-%s", dir, suffix)
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return err
	}
	if err := m.write(tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}

	old := ""
	if _, err := os.Stat(dir); err == nil {
		old = fmt.Sprintf("%s.old-%s", dir, suffix)
		if err := os.Rename(dir, old); err != nil {
			os.RemoveAll(tmp)
			return err
		}
	}
	if err := os.Rename(tmp, dir); err != nil {
		if old != "" {
			os.Rename(old, dir)
		}
		os.RemoveAll(tmp)
		return err
	}
	if old != "" {
		os.RemoveAll(old)
	}

	if m.Config.BackboneFile != "" {
		m.backbonePath = filepath.Join(dir, m.Config.BackboneFile)
	}
	return nil
}

func (m *Model) write(dir string) error {
	m.Config.Loss = m.Head.Loss()
	if err := writeConfig(dir, &m.Config); err != nil {
		return err
	}

	labels, err := os.Create(filepath.Join(dir, m.Config.LabelsFile))
	if err != nil {
		return err
	}
	for _, l := range m.Labels {
		fmt.Fprintln(labels, l)
	}
	if err := labels.Close(); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, m.Config.HeadFile))
	if err != nil {
		return err
	}
	if err := m.Head.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if m.Config.BackboneFile == "" {
		return nil
	}
	if m.backbonePath == "" {
		return errors.New("No backbone file to copy")
	}
	return copyFile(m.backbonePath, filepath.Join(dir, m.Config.BackboneFile))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Size 입력 이미지 크기
func (m *Model) Size() (w, h int) {
	return m.Config.Size()
}

// Features 전처리된 배치의 특징 벡터
func (m *Model) Features(ctx context.Context, t preprocess.Tensor) ([][]float32, error) {
	return m.Backbone.Extract(ctx, t)
}

// Scores 이미지들의 sigmoid 출력 (Real일 확률)
func (m *Model) Scores(ctx context.Context, imgs []image.Image) ([]float64, error) {
	if len(imgs) == 0 {
		return nil, nil
	}

	w, h := m.Size()
	t := preprocess.NewTensor(len(imgs), h, w)
	for i, img := range imgs {
		preprocess.Fill(t.Sample(i), preprocess.Resize(img, w, h), m.Config.Mode)
	}

	features, err := m.Features(ctx, t)
	if err != nil {
		return nil, err
	}
	return m.Head.Predict(features)
}

// PredictImage 단일 이미지 분류
func (m *Model) PredictImage(ctx context.Context, img image.Image) (Prediction, error) {
	scores, err := m.Scores(ctx, []image.Image{img})
	if err != nil {
		return Prediction{}, err
	}
	return Label(scores[0], m.Labels), nil
}

// Close 백본 자원 해제
func (m *Model) Close() error {
	if m.Backbone == nil {
		return nil
	}
	return m.Backbone.Close()
}

// Prediction 분류 결과
type Prediction struct {
	Class      string  `json:"class"`
	Index      int     `json:"-"`
	Confidence float64 `json:"confidence"`
	RawScore   float64 `json:"raw_score"`
}

// Label sigmoid 출력을 클래스로 변환, 0.5보다 크면 두번째 클래스(Real)
func Label(raw float64, labels []string) Prediction {
	idx, conf := 0, (1-raw)*100
	if raw > 0.5 {
		idx, conf = 1, raw*100
	}

	class := ""
	if idx < len(labels) {
		class = labels[idx]
	}

	return Prediction{
		Class:      class,
		Index:      idx,
		Confidence: round(conf, 2),
		RawScore:   round(raw, 4),
	}
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
