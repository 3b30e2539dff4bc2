package classifier

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/head"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/preprocess"
)

// 모델 디렉토리 구성 파일
const (
	ConfigFile   = "config.yaml"
	LabelsFile   = "labels.txt"
	HeadFile     = "head.gob"
	BackboneFile = "backbone.onnx"
)

// BinaryClass 이진 분류
const BinaryClass = "binary"

// TrainingResult 학습 결과 기록
type TrainingResult struct {
	Epochs             int       `yaml:"epochs" json:"epochs"`
	BestEpoch          int       `yaml:"bestEpoch" json:"bestEpoch"`
	InitLoss           float64   `yaml:"initLoss" json:"initLoss"`
	InitAccuracy       float64   `yaml:"initAccuracy" json:"initAccuracy"`
	TrainLoss          []float64 `yaml:"trainLoss" json:"trainLoss"`
	TrainAccuracy      []float64 `yaml:"trainAccuracy" json:"trainAccuracy"`
	ValidationLoss     []float64 `yaml:"validationLoss" json:"validationLoss"`
	ValidationAccuracy []float64 `yaml:"validationAccuracy" json:"validationAccuracy"`
	LearningRate       []float64 `yaml:"learningRate" json:"learningRate"`
	TestLoss           float64   `yaml:"testLoss,omitempty" json:"testLoss,omitempty"`
	TestAccuracy       float64   `yaml:"testAccuracy,omitempty" json:"testAccuracy,omitempty"`
	TestAUC            float64   `yaml:"testAUC,omitempty" json:"testAUC,omitempty"`
}

// Config 모델 설정 (config.yaml)
type Config struct {
	Name                string          `yaml:"name"`
	Type                string          `yaml:"type"`
	Classification      string          `yaml:"classification"`
	InputShape          []int           `yaml:"inputShape"`
	InputOperationName  string          `yaml:"inputOperationName"`
	OutputOperationName string          `yaml:"outputOperationName"`
	Mode                preprocess.Mode `yaml:"mode"`
	LabelsFile          string          `yaml:"labelsFile"`
	BackboneFile        string          `yaml:"backboneFile,omitempty"`
	HeadFile            string          `yaml:"headFile"`
	Loss                head.Loss       `yaml:"loss"`
	Description         string          `yaml:"description"`
	TrainingResult      TrainingResult  `yaml:"trainingResult"`
}

// Size 입력 이미지 크기
func (c *Config) Size() (w, h int) {
	if len(c.InputShape) < 2 {
		return 0, 0
	}
	return c.InputShape[1], c.InputShape[0]
}

func (c *Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("Empty model name")
	}
	if c.Classification != BinaryClass {
		return fmt.Errorf("Unknown classification: %s", c.Classification)
	}
	if w, h := c.Size(); w <= 0 || h <= 0 {
		return fmt.Errorf("Invalid input shape: %v", c.InputShape)
	}
	if err := c.Mode.Validate(); err != nil {
		return err
	}
	if c.HeadFile == "" || c.LabelsFile == "" {
		return fmt.Errorf("Missing head or labels file in configuration")
	}
	return nil
}

// ReadConfig 모델 디렉토리의 설정 로드
func ReadConfig(dir string) (*Config, error) {
	b, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("Fail to parse %s: %w", ConfigFile, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func writeConfig(dir string, cfg *Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ConfigFile), b, 0o644)
}
