// Package jobs 학습 요청을 순서대로 처리하는 작업 큐
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/learnapp/pipeline"
)

// Status 작업 상태
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrQueueFull 대기 중인 작업이 너무 많음
var ErrQueueFull = errors.New("Training queue is full")

// Request detectapp의 모델 생성 요청
type Request struct {
	// Image root path for training
	ImagePath string `json:"imagePath"`

	// Model meta information
	ModelPath   string `json:"modelPath" binding:"required"`
	ConfigFile  string `json:"configFile"`
	Description string `json:"desc"`

	Epochs int `json:"epochs"`

	Trial bool `json:"trial"`
}

// Job 학습 작업
type Job struct {
	ID      string  `json:"id"`
	Model   string  `json:"model"`
	Request Request `json:"request"`
	Status  Status  `json:"status"`
	Error   string  `json:"error,omitempty"`

	CreateAt time.Time `json:"createAt"`
	StartAt  time.Time `json:"startAt,omitempty"`
	EndAt    time.Time `json:"endAt,omitempty"`
}

// Runner 작업 하나를 수행
type Runner func(ctx context.Context, job Job) error

// Config 작업 큐 설정
type Config struct {
	// nil이면 Base 설정으로 pipeline.Run 수행
	Runner Runner
	Base   pipeline.Options

	// 학습 결과를 알릴 detectapp 주소, 비어있으면 알리지 않음
	DetectHost string
	// nil이면 DetectHost로 생성
	Client *resty.Client

	QueueSize int
}

// Queue 학습 작업 큐, 작업은 하나씩 순서대로 수행
type Queue struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	pending chan *Job
	run     Runner
	client  *resty.Client

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Options 요청을 학습 설정으로 변환. trial은 1 epoch만 학습하고 평가하지 않음
func Options(base pipeline.Options, model string, req Request) pipeline.Options {
	opts := base
	opts.DatasetPath = req.ImagePath
	opts.ModelName = model
	opts.Description = req.Description
	opts.OutputDir = req.ModelPath
	opts.SaveModel = true
	opts.LoadModel = ""
	opts.SkipTraining = false
	if req.Epochs > 0 {
		opts.Epochs = req.Epochs
	}
	if req.Trial {
		opts.Epochs = 1
		opts.FineTune = false
		opts.SkipEvaluation = true
		opts.PlotsDir = ""
	}
	return opts
}

// New 작업 큐 생성
func New(cfg Config) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	run := cfg.Runner
	if run == nil {
		base := cfg.Base
		run = func(ctx context.Context, job Job) error {
			_, err := pipeline.Run(ctx, Options(base, job.Model, job.Request))
			return err
		}
	}

	client := cfg.Client
	if client == nil && cfg.DetectHost != "" {
		client = resty.New().SetBaseURL("http://" + cfg.DetectHost)
	}

	return &Queue{
		jobs:    make(map[string]*Job),
		pending: make(chan *Job, cfg.QueueSize),
		run:     run,
		client:  client,
	}
}

// Start 작업 처리 시작
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-q.pending:
				q.process(ctx, job)
			}
		}
	}()
}

// Stop 진행 중인 작업을 취소하고 종료를 기다림
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Submit 작업 등록
func (q *Queue) Submit(model string, req Request) (Job, error) {
	job := &Job{
		ID:       uuid.New().String(),
		Model:    model,
		Request:  req,
		Status:   StatusQueued,
		CreateAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.pending <- job:
	default:
		return Job{}, ErrQueueFull
	}
	q.jobs[job.ID] = job
	slog.Info("training job queued", "id", job.ID, "model", model, "trial", req.Trial)

	return *job, nil
}

// Get 작업 조회
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List 등록 순서대로 작업 목록 반환
func (q *Queue) List() []Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	jobs := make([]Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreateAt.Before(jobs[j].CreateAt)
	})
	return jobs
}

func (q *Queue) update(job *Job, f func(*Job)) Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	f(job)
	return *job
}

func (q *Queue) process(ctx context.Context, job *Job) {
	snapshot := q.update(job, func(j *Job) {
		j.Status = StatusRunning
		j.StartAt = time.Now()
	})
	slog.Info("training job started", "id", job.ID, "model", job.Model)

	err := q.run(ctx, snapshot)
	if err == nil {
		err = q.notify(ctx, snapshot)
	} else {
		q.notifyFailure(ctx, snapshot)
	}

	done := q.update(job, func(j *Job) {
		j.EndAt = time.Now()
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
		} else {
			j.Status = StatusCompleted
		}
	})

	if err != nil {
		slog.Error("training job failed", "id", job.ID, "model", job.Model, "err", err)
	} else {
		slog.Info("training job completed", "id", job.ID, "model", job.Model, "elapsed", done.EndAt.Sub(done.StartAt).Round(time.Second))
	}
}

// 학습된 모델 디렉토리 등록 요청
func (q *Queue) notify(ctx context.Context, job Job) error {
	if q.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := q.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"modelPath": job.Request.ModelPath}).
		Put("/models/" + job.Model)
	if err != nil {
		return fmt.Errorf("Fail to register model: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("Fail to register model(%d): %s", res.StatusCode(), res.String())
	}
	return nil
}

// 학습에 실패한 모델 슬롯 정리
func (q *Queue) notifyFailure(ctx context.Context, job Job) {
	if q.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	res, err := q.client.R().
		SetContext(ctx).
		Delete("/models/" + job.Model)
	if err != nil {
		slog.Error("fail to release model", "model", job.Model, "err", err)
	} else if !res.IsSuccess() {
		slog.Error("fail to release model", "model", job.Model, "status_code", res.StatusCode(), "body", res.String())
	}
}
