// Package pipeline 데이터셋 준비부터 학습, 평가, 저장까지의 학습 절차
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/augment"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/backbone"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/classifier"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/dataset"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/evaluate"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/generator"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/head"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/train"
)

// 기본 학습 설정
const (
	DefaultEpochs         = 20
	DefaultBatchSize      = 48
	DefaultFineTuneEpochs = 10
	DefaultCheckpointDir  = "checkpoints"
	DefaultModelName      = "deepfake_detector"

	bestModelDir = "best_model"
)

// Options 학습 절차 설정
type Options struct {
	DatasetPath string
	// 0이면 백본 기본 크기
	Width, Height int
	BatchSize     int
	Epochs        int
	LearningRate  float64

	ModelType    string
	BackbonePath string
	ModelName    string
	Description  string

	CheckpointDir string
	// 최종 모델 디렉토리, 비어있으면 CheckpointDir/ModelName
	OutputDir string

	FineTune       bool
	FineTuneEpochs int

	LoadModel      string
	SkipTraining   bool
	SkipEvaluation bool
	SaveModel      bool
	PlotsDir       string

	Seed        int64
	Workers     int
	ProgressBar bool

	// nil이면 classifier.OpenBackbone
	Open classifier.Opener
}

func (o Options) withDefaults() Options {
	if o.Epochs <= 0 {
		o.Epochs = DefaultEpochs
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.LearningRate <= 0 {
		o.LearningRate = head.DefaultLearningRate
	}
	if o.ModelType == "" {
		o.ModelType = backbone.DefaultType
	}
	if o.ModelName == "" {
		o.ModelName = DefaultModelName
	}
	if o.CheckpointDir == "" {
		o.CheckpointDir = DefaultCheckpointDir
	}
	if o.OutputDir == "" {
		o.OutputDir = filepath.Join(o.CheckpointDir, o.ModelName)
	}
	if o.FineTuneEpochs <= 0 {
		o.FineTuneEpochs = DefaultFineTuneEpochs
	}
	if o.Open == nil {
		o.Open = classifier.OpenBackbone
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
		slog.Info("random seed", "seed", o.Seed)
	}
	return o
}

// Result 학습 절차 결과
type Result struct {
	ModelDir   string
	History    *train.History
	Evaluation *evaluate.Result
	Report     *evaluate.Report
	AUC        float64
}

type generators struct {
	train, validation, test *generator.Generator
}

// Run 데이터셋 확인 → 배치 생성기 → 모델 생성/로드 → 학습 → 평가 → 저장 → 그래프
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	root, err := dataset.FindPath(opts.DatasetPath)
	if err != nil {
		return nil, err
	}
	report, err := dataset.Inspect(root)
	if err != nil {
		return nil, err
	}
	slog.Info("dataset found", "root", root, "layout", report.Layout)
	fmt.Print(report.String())

	ds, err := dataset.Load(ctx, root, dataset.Options{Workers: opts.Workers})
	if err != nil {
		return nil, err
	}

	model, err := buildModel(opts, ds.Train.ClassNames)
	if err != nil {
		return nil, err
	}
	defer model.Close()

	gens, err := newGenerators(ds, model, opts)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	if !opts.SkipTraining {
		if result.History, err = fit(ctx, model, gens, opts); err != nil {
			return nil, err
		}
	}

	if !opts.SkipEvaluation {
		if err := evaluateModel(ctx, model, gens.test, result); err != nil {
			return nil, err
		}
	}

	if opts.SaveModel {
		if err := model.Save(opts.OutputDir); err != nil {
			return nil, fmt.Errorf("Fail to save model: %w", err)
		}
		result.ModelDir = opts.OutputDir
		slog.Info("model saved", "dir", opts.OutputDir)
	}

	if opts.PlotsDir != "" {
		if err := plot(opts.PlotsDir, model, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// 새 모델 생성, 또는 저장된 모델을 불러와서 focal loss로 이어서 학습
func buildModel(opts Options, classNames []string) (*classifier.Model, error) {
	if opts.LoadModel != "" {
		model, err := classifier.Load(opts.LoadModel, opts.Open)
		if err != nil {
			return nil, fmt.Errorf("Fail to load model(%s): %w", opts.LoadModel, err)
		}
		if err := model.Head.Compile(head.LossFocal, opts.LearningRate); err != nil {
			model.Close()
			return nil, err
		}
		model.Config.Name = opts.ModelName
		if opts.Description != "" {
			model.Config.Description = opts.Description
		}
		slog.Info("model loaded", "dir", opts.LoadModel, "type", model.Config.Type, "loss", head.LossFocal)
		return model, nil
	}

	spec, err := backbone.Lookup(opts.ModelType)
	if err != nil {
		return nil, err
	}
	if spec.Name != backbone.StatsType && opts.BackbonePath == "" {
		return nil, fmt.Errorf("Backbone file is required for %s", spec.Name)
	}

	ext, err := opts.Open(opts.BackbonePath, spec)
	if err != nil {
		return nil, err
	}

	w, h := opts.Width, opts.Height
	if s, ok := ext.(interface{ InputSize() (int, int, bool) }); ok {
		if fw, fh, fixed := s.InputSize(); fixed && (w != fw || h != fh) {
			if w > 0 || h > 0 {
				slog.Warn("backbone has fixed input size", "requested", fmt.Sprintf("%dx%d", w, h), "using", fmt.Sprintf("%dx%d", fw, fh))
			}
			w, h = fw, fh
		}
	}

	model, err := classifier.Create(spec, ext, classifier.Options{
		Name:         opts.ModelName,
		Description:  opts.Description,
		Width:        w,
		Height:       h,
		BackbonePath: opts.BackbonePath,
		Labels:       classNames,
		LearningRate: opts.LearningRate,
		Seed:         opts.Seed,
	})
	if err != nil {
		ext.Close()
		return nil, err
	}
	w, h = model.Size()
	slog.Info("model created", "type", spec.Name, "input", fmt.Sprintf("%dx%d", w, h), "features", ext.FeatureDim())
	return model, nil
}

func newGenerators(ds *dataset.Dataset, model *classifier.Model, opts Options) (*generators, error) {
	w, h := model.Size()
	cfg := generator.Config{
		Width:     w,
		Height:    h,
		BatchSize: opts.BatchSize,
		Seed:      opts.Seed,
		Mode:      model.Config.Mode,
		Workers:   opts.Workers,
	}

	trainCfg := cfg
	trainCfg.Shuffle = true
	trainCfg.Augmenter = augment.New(augment.Default())

	var (
		gens generators
		err  error
	)
	if gens.train, err = generator.New(ds.Train, trainCfg); err != nil {
		return nil, err
	}
	if ds.Validation != nil && ds.Validation.Len() > 0 {
		if gens.validation, err = generator.New(ds.Validation, cfg); err != nil {
			return nil, err
		}
	}
	if ds.Test != nil && ds.Test.Len() > 0 {
		if gens.test, err = generator.New(ds.Test, cfg); err != nil {
			return nil, err
		}
	}

	slog.Info("generators ready",
		"train", gens.train.Samples(),
		"validation", samples(gens.validation),
		"test", samples(gens.test),
		"batch_size", opts.BatchSize)
	return &gens, nil
}

func samples(g *generator.Generator) int {
	if g == nil {
		return 0
	}
	return g.Samples()
}

func callbacks(checkpointDir string, bar bool) (*train.ModelCheckpoint, []train.Callback) {
	ckpt := train.NewModelCheckpoint(checkpointDir)
	return ckpt, []train.Callback{
		ckpt,
		train.NewEarlyStopping(),
		train.NewReduceLROnPlateau(),
		&train.ProgressLogger{Bar: bar},
	}
}

func fit(ctx context.Context, model *classifier.Model, gens *generators, opts Options) (*train.History, error) {
	weights, err := train.ClassWeights(gens.train.Classes(), len(gens.train.ClassNames()))
	if err != nil {
		return nil, err
	}
	slog.Info("class weights", "weights", weights)

	if err := os.MkdirAll(opts.CheckpointDir, 0o755); err != nil {
		return nil, err
	}
	ckptDir := filepath.Join(opts.CheckpointDir, bestModelDir)

	ckpt, cbs := callbacks(ckptDir, opts.ProgressBar)
	history, err := train.Fit(ctx, model, gens.train, gens.validation, train.FitConfig{
		Epochs:       opts.Epochs,
		ClassWeights: weights,
		Callbacks:    cbs,
	})
	if err != nil {
		return nil, err
	}
	bestEpoch := ckpt.BestEpoch + 1

	if opts.FineTune {
		slog.Info("fine-tuning", "epochs", opts.FineTuneEpochs, "learning_rate", train.FineTuneLearningRate)
		if err := model.Head.Compile(model.Head.Loss(), train.FineTuneLearningRate); err != nil {
			return nil, err
		}

		ftCkpt, ftCbs := callbacks(ckptDir, opts.ProgressBar)
		ft, err := train.Fit(ctx, model, gens.train, gens.validation, train.FitConfig{
			Epochs:       opts.FineTuneEpochs,
			ClassWeights: weights,
			Callbacks:    ftCbs,
		})
		if err != nil {
			return nil, err
		}
		if ftCkpt.BestEpoch >= 0 {
			bestEpoch = history.Len() + ftCkpt.BestEpoch + 1
		}
		history.Extend(ft)
	}

	model.Config.TrainingResult = history.Record(bestEpoch)
	return history, nil
}

func evaluateModel(ctx context.Context, model *classifier.Model, gen *generator.Generator, result *Result) error {
	if gen == nil {
		slog.Warn("no test data, skipping evaluation")
		return nil
	}

	res, err := evaluate.Evaluate(ctx, model, gen)
	if err != nil {
		return err
	}
	result.Evaluation = res
	result.Report = evaluate.ClassificationReport(res.Labels, res.Predicted, res.ClassNames)
	slog.Info("test results", "loss", res.Loss, "accuracy", res.Accuracy)
	fmt.Print(result.Report.String())

	fpr, tpr, _, err := evaluate.ROC(res.Labels, res.Scores)
	switch {
	case errors.Is(err, evaluate.ErrSingleClass):
		slog.Warn("skipping ROC", "err", err)
	case err != nil:
		return err
	default:
		result.AUC = evaluate.AUC(fpr, tpr)
		slog.Info("ROC", "auc", result.AUC)
	}

	tr := &model.Config.TrainingResult
	tr.TestLoss = res.Loss
	tr.TestAccuracy = res.Accuracy
	tr.TestAUC = result.AUC
	return nil
}

func plot(dir string, model *classifier.Model, result *Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	if result.History != nil && result.History.Len() > 0 {
		if err := evaluate.PlotHistory(result.History.Curves(), filepath.Join(dir, evaluate.HistoryPlot)); err != nil {
			return err
		}
	}

	if res := result.Evaluation; res != nil {
		cm := evaluate.ConfusionMatrix(res.Labels, res.Predicted, len(model.Labels))
		if err := evaluate.PlotConfusionMatrix(cm, model.Labels, filepath.Join(dir, evaluate.ConfusionMatrixPlot)); err != nil {
			return err
		}

		fpr, tpr, _, err := evaluate.ROC(res.Labels, res.Scores)
		if err == nil {
			if err := evaluate.PlotROC(fpr, tpr, result.AUC, filepath.Join(dir, evaluate.ROCPlot)); err != nil {
				return err
			}
		}
	}

	slog.Info("plots saved", "dir", dir)
	return nil
}
