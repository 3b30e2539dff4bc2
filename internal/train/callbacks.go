package train

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/head"
)

type mode int

const (
	modeMin mode = iota
	modeMax
)

func (m mode) better(v, best, delta float64) bool {
	if m == modeMax {
		return v-delta > best
	}
	return v+delta < best
}

func (m mode) initial() float64 {
	if m == modeMax {
		return math.Inf(-1)
	}
	return math.Inf(1)
}

func modeOf(monitor string) mode {
	if monitor == MetricAccuracy || monitor == MetricValAccuracy {
		return modeMax
	}
	return modeMin
}

// ModelCheckpoint 지표가 좋아질 때마다 모델 저장
type ModelCheckpoint struct {
	Dir     string
	Monitor string

	mode      mode
	best      float64
	BestEpoch int
	Saved     int
}

// NewModelCheckpoint val_accuracy 기준 최고 모델만 저장
func NewModelCheckpoint(dir string) *ModelCheckpoint {
	return &ModelCheckpoint{Dir: dir, Monitor: MetricValAccuracy, BestEpoch: -1}
}

func (c *ModelCheckpoint) OnTrainBegin(r *Run) error {
	c.mode = modeOf(c.Monitor)
	c.best = c.mode.initial()
	c.BestEpoch = -1
	return nil
}

func (c *ModelCheckpoint) OnEpochEnd(r *Run, epoch int, logs Logs) error {
	v, ok := logs.Get(c.Monitor)
	if !ok {
		logSkip("ModelCheckpoint", c.Monitor)
		return nil
	}
	if !c.mode.better(v, c.best, 0) {
		return nil
	}

	slog.Info("checkpoint improved", "epoch", epoch+1, "monitor", c.Monitor,
		"from", c.best, "to", v, "dir", c.Dir)
	c.best = v
	c.BestEpoch = epoch
	r.Model.Config.TrainingResult.BestEpoch = epoch + 1
	if err := r.Model.Save(c.Dir); err != nil {
		return fmt.Errorf("Fail to save checkpoint: %w", err)
	}
	c.Saved++
	return nil
}

func (c *ModelCheckpoint) OnTrainEnd(r *Run) error {
	return nil
}

// EarlyStopping 지표 개선이 없으면 학습 중단
type EarlyStopping struct {
	Monitor            string
	Patience           int
	MinDelta           float64
	RestoreBestWeights bool

	mode         mode
	best         float64
	wait         int
	bestWeights  *head.State
	BestEpoch    int
	StoppedEpoch int
}

// NewEarlyStopping val_loss, patience 7, min delta 1e-4, 최고 가중치 복원
func NewEarlyStopping() *EarlyStopping {
	return &EarlyStopping{
		Monitor:            MetricValLoss,
		Patience:           7,
		MinDelta:           1e-4,
		RestoreBestWeights: true,
	}
}

func (e *EarlyStopping) OnTrainBegin(r *Run) error {
	e.mode = modeOf(e.Monitor)
	e.best = e.mode.initial()
	e.wait = 0
	e.bestWeights = nil
	e.BestEpoch = -1
	e.StoppedEpoch = -1
	return nil
}

func (e *EarlyStopping) OnEpochEnd(r *Run, epoch int, logs Logs) error {
	v, ok := logs.Get(e.Monitor)
	if !ok {
		logSkip("EarlyStopping", e.Monitor)
		return nil
	}

	e.wait++
	if e.mode.better(v, e.best, e.MinDelta) {
		e.best = v
		e.BestEpoch = epoch
		e.wait = 0
		if e.RestoreBestWeights {
			e.bestWeights = r.Model.Head.Snapshot()
		}
		return nil
	}

	if e.wait >= e.Patience && epoch > 0 {
		e.StoppedEpoch = epoch
		r.StopTraining = true
		if e.RestoreBestWeights && e.bestWeights != nil {
			slog.Info("restoring best weights", "epoch", e.BestEpoch+1)
			if err := r.Model.Head.Restore(e.bestWeights); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *EarlyStopping) OnTrainEnd(r *Run) error {
	if e.StoppedEpoch >= 0 {
		slog.Info("early stopping", "epoch", e.StoppedEpoch+1)
	}
	return nil
}

// ReduceLROnPlateau 지표 개선이 없으면 학습률 감소
type ReduceLROnPlateau struct {
	Monitor  string
	Factor   float64
	Patience int
	MinDelta float64
	Cooldown int
	MinLR    float64

	mode            mode
	best            float64
	wait            int
	cooldownCounter int
}

// NewReduceLROnPlateau val_loss, factor 0.3, patience 3, cooldown 1, min lr 1e-7
func NewReduceLROnPlateau() *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		Monitor:  MetricValLoss,
		Factor:   0.3,
		Patience: 3,
		MinDelta: 1e-4,
		Cooldown: 1,
		MinLR:    1e-7,
	}
}

func (p *ReduceLROnPlateau) OnTrainBegin(r *Run) error {
	p.mode = modeOf(p.Monitor)
	p.best = p.mode.initial()
	p.wait = 0
	p.cooldownCounter = 0
	return nil
}

func (p *ReduceLROnPlateau) OnEpochEnd(r *Run, epoch int, logs Logs) error {
	v, ok := logs.Get(p.Monitor)
	if !ok {
		logSkip("ReduceLROnPlateau", p.Monitor)
		return nil
	}

	if p.cooldownCounter > 0 {
		p.cooldownCounter--
		p.wait = 0
	}

	if p.mode.better(v, p.best, p.MinDelta) {
		p.best = v
		p.wait = 0
		return nil
	}
	if p.cooldownCounter > 0 {
		return nil
	}

	p.wait++
	if p.wait < p.Patience {
		return nil
	}

	old := r.Model.Head.LearningRate()
	if old > p.MinLR {
		lr := math.Max(old*p.Factor, p.MinLR)
		r.Model.Head.SetLearningRate(lr)
		slog.Info("reducing learning rate", "epoch", epoch+1, "from", old, "to", lr)
		p.cooldownCounter = p.Cooldown
		p.wait = 0
	}
	return nil
}

func (p *ReduceLROnPlateau) OnTrainEnd(r *Run) error {
	return nil
}

// ProgressLogger epoch별 진행 상황 출력, Bar면 epoch마다 배치 진행 막대 표시
type ProgressLogger struct {
	// 진행 막대 표시 여부
	Bar bool
	// nil이면 표준 에러
	Writer io.Writer

	started time.Time
	epoch   int
	bar     *progressbar.ProgressBar
}

func (l *ProgressLogger) OnTrainBegin(r *Run) error {
	l.started = time.Now()
	slog.Info("training started", "epochs", r.Epochs, "steps_per_epoch", r.Steps)
	return nil
}

func (l *ProgressLogger) OnEpochBegin(r *Run, epoch int) error {
	l.epoch = epoch
	if !l.Bar {
		return nil
	}
	w := l.Writer
	if w == nil {
		w = os.Stderr
	}
	l.bar = progressbar.NewOptions(r.Steps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(fmt.Sprintf("Epoch %d/%d", epoch+1, r.Epochs)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionClearOnFinish(),
	)
	return nil
}

func (l *ProgressLogger) OnBatchEnd(r *Run, step int, logs Logs) error {
	if l.bar == nil {
		return nil
	}
	l.bar.Describe(fmt.Sprintf("Epoch %d/%d loss %.4f acc %.4f",
		l.epoch+1, r.Epochs, logs[MetricLoss], logs[MetricAccuracy]))
	return l.bar.Add(1)
}

func (l *ProgressLogger) OnEpochEnd(r *Run, epoch int, logs Logs) error {
	if l.bar != nil {
		l.bar.Finish()
		l.bar = nil
	}

	attrs := []any{
		"epoch", fmt.Sprintf("%d/%d", epoch+1, r.Epochs),
		MetricLoss, round4(logs[MetricLoss]),
		MetricAccuracy, round4(logs[MetricAccuracy]),
	}
	if v, ok := logs.Get(MetricValLoss); ok {
		attrs = append(attrs, MetricValLoss, round4(v), MetricValAccuracy, round4(logs[MetricValAccuracy]))
	}
	attrs = append(attrs, MetricLR, logs[MetricLR])
	slog.Info("epoch finished", attrs...)
	return nil
}

func (l *ProgressLogger) OnTrainEnd(r *Run) error {
	slog.Info("training completed", "elapsed", time.Since(l.started).Round(time.Second))
	return nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
