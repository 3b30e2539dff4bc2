package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/constants"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/classifier"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/video"
)

var (
	// ErrModelNotLoaded 모델이 아직 동작 상태가 아님
	ErrModelNotLoaded = errors.New("Model not loaded. Please train the model first.")
	// ErrNoSuchModel 등록되지 않은 모델
	ErrNoSuchModel = errors.New("No such model")
	// ErrInUse 사용중인 모델
	ErrInUse = errors.New("Currently in use")
)

// Config 추론 모델 관리 설정정보
type Config struct {
	ModelsPath    string
	UserModelPath string
	LHost         string

	// 모델이 하나도 없으면 학습 요청
	CreateDefault bool

	// nil이면 classifier.OpenBackbone
	Open classifier.Opener
	// nil이면 LHost로 생성
	Client *resty.Client
}

// Inference 추론 모델 관리
type Inference struct {
	models        map[string]*iModel
	rwMutex       sync.RWMutex
	modelsPath    string
	userModelPath string

	open   classifier.Opener
	client *resty.Client
}

const (
	modelStatusReady = iota
	modelStatusBuild
	modelStatusRun
)

type iModel struct {
	name      string
	modelPath string
	status    int32
	refCount  int32

	// status가 run일 때만 접근
	model *classifier.Model
}

func statusString(status int32) string {
	switch status {
	case modelStatusReady:
		return "ready"
	case modelStatusBuild:
		return "build"
	case modelStatusRun:
		return "run"
	default:
		return "unknown"
	}
}

// 저장 중인 임시 디렉토리
func isTemporary(name string) bool {
	return strings.HasPrefix(name, ".") || strings.Contains(name, ".tmp-") || strings.Contains(name, ".old-")
}

func (i *Inference) loadModels() {
	entries, err := os.ReadDir(i.modelsPath)
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("fail to read models path", "path", i.modelsPath, "err", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || isTemporary(entry.Name()) {
			continue
		}
		modelPath := filepath.Join(i.modelsPath, entry.Name())

		m := getNewModel("", modelPath)
		if err := i.loadModel(m); err != nil {
			slog.Error("fail to load model", "path", modelPath, "err", err)
			removeModelPath(modelPath)
			continue
		}
		if err := i.addModel(m); err != nil {
			slog.Error("fail to add model", "path", modelPath, "err", err)
			m.model.Close()
		}
	}

	if i.userModelPath != "" {
		m := getNewModel("", i.userModelPath)
		if err := i.loadModel(m); err != nil {
			slog.Error("fail to load user model", "path", i.userModelPath, "err", err)
		} else if err := i.addModel(m); err != nil {
			slog.Error("fail to add user model", "path", i.userModelPath, "err", err)
			m.model.Close()
		}
	}
}

func (i *Inference) init(createDefault bool) {
	i.loadModels()
	slog.Info("models loaded", "models", i.GetModels())

	if len(i.models) == 0 && createDefault {
		// 아무런 추론 모델이 없는 경우 기본 모델을 생성
		result, err := i.CreateModel(context.Background(),
			constants.DefaultModelName,
			"",
			"Default Model",
			constants.TrainEpochs,
			false)
		if err != nil {
			// 학습 서버가 없어도 웹 요청은 처리
			slog.Warn("fail to request default model", "err", err)
			return
		}
		slog.Info("create default model", "result", result)
	}
}

func (i *Inference) loadModel(m *iModel) error {
	model, err := classifier.Load(m.modelPath, i.open)
	if err != nil {
		return err
	}

	if m.name != "" && m.name != model.Config.Name {
		model.Close()
		return fmt.Errorf("Not matched model name[%s] in configuration[%s]", m.name, model.Config.Name)
	}

	m.model = model
	m.name = model.Config.Name
	// Setting status should always be last
	atomic.StoreInt32(&m.status, modelStatusRun)

	return nil
}

func (i *Inference) addModel(newM *iModel) error {
	if newM.name == "" {
		return errors.New("Empty model name")
	}

	for model, m := range i.models {
		if model == newM.name || m.name == newM.name {
			return fmt.Errorf("Duplicated model: %s", newM.name)
		} else if m.modelPath == newM.modelPath {
			return fmt.Errorf("Duplicated model path: %s", newM.modelPath)
		}
	}

	i.models[newM.name] = newM
	return nil
}

func (i *Inference) delModel(model string) error {
	m, ok := i.models[model]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchModel, model)
	}

	// 학습 중인 모델은 생성 요청이 참조 중이어도 슬롯 해제.
	// 상태를 먼저 바꿔서 뒤늦은 OperateModel은 실패
	if atomic.CompareAndSwapInt32(&m.status, modelStatusBuild, modelStatusReady) {
		i.delModelUncond(m)
		return nil
	}

	if n := atomic.LoadInt32(&m.refCount); n > 0 {
		return fmt.Errorf("%w: %s (%d)", ErrInUse, m.name, n)
	}

	if err := os.RemoveAll(m.modelPath); err != nil {
		return err
	}

	delete(i.models, m.name)
	m.close()

	return nil
}

func (i *Inference) delModelUncond(delM *iModel) {
	removeModelPath(delM.modelPath)
	if i.models[delM.name] == delM {
		delete(i.models, delM.name)
	}
	delM.close()
}

func removeModelPath(modelPath string) {
	if err := os.RemoveAll(modelPath); err != nil {
		slog.Error("fail to remove model path", "path", modelPath, "err", err)
	}
}

func (i *Inference) getModel(model string) *iModel {
	if m, ok := i.models[model]; ok {
		atomic.AddInt32(&m.refCount, 1)
		return m
	}

	return nil
}

func (i *Inference) putModel(m *iModel) {
	atomic.AddInt32(&m.refCount, -1)
}

func (i *Inference) acquire(model string) *iModel {
	i.rwMutex.RLock()
	defer i.rwMutex.RUnlock()
	return i.getModel(model)
}

// CreateRequest 모델 생성 요청
type CreateRequest struct {
	// Image root path for training
	ImagePath string `json:"imagePath"`

	// Model meta information
	ModelPath   string `json:"modelPath"`
	ConfigFile  string `json:"configFile"`
	Description string `json:"desc"`

	Epochs int `json:"epochs"`

	Trial bool `json:"trial"`
}

// CreateResponse 모델 생성 응답
type CreateResponse struct {
	ModelPath string `json:"modelPath" binding:"required"`
}

// CreateModel 학습 서버에 추론모델 생성 요청.
// imagePath가 비어있으면 학습 서버의 기본 데이터셋 사용
func (i *Inference) CreateModel(ctx context.Context, newModel, imagePath, desc string, epochs int, trial bool) (map[string]interface{}, error) {
	modelDir := fmt.Sprintf("%s-%s", newModel, uuid.New().String()[:8])
	modelPath := filepath.Join(i.modelsPath, modelDir)

	m := getNewModel(newModel, modelPath)
	i.rwMutex.Lock()
	// 새로운 모델 생성 및 로드 전 슬롯 선점
	if err := i.addModel(m); err != nil {
		i.rwMutex.Unlock()
		return nil, err
	}
	i.getModel(newModel)
	i.rwMutex.Unlock()
	defer i.putModel(m)

	fail := func(err error) (map[string]interface{}, error) {
		i.rwMutex.Lock()
		i.delModelUncond(m)
		i.rwMutex.Unlock()
		return nil, err
	}

	req := CreateRequest{
		ImagePath:   imagePath,
		ModelPath:   modelPath,
		ConfigFile:  filepath.Join(modelPath, classifier.ConfigFile),
		Description: desc,
		Epochs:      epochs,
		Trial:       trial,
	}

	// 학습 완료 알림은 응답보다 먼저 올 수 있음
	atomic.StoreInt32(&m.status, modelStatusBuild)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := i.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/models/" + newModel)
	if err != nil {
		return fail(err)
	}
	if !res.IsSuccess() {
		slog.Error("learn host returned error", "status_code", res.StatusCode(), "body", res.String())
		return fail(fmt.Errorf("Learn host error(%d): %s", res.StatusCode(), res.String()))
	}

	var response map[string]interface{}
	if err := json.Unmarshal(res.Body(), &response); err != nil {
		return fail(err)
	}

	return response, nil
}

// OperateModel 생성 된 추론모델 로드
func (i *Inference) OperateModel(model, modelPath string) error {
	m := i.acquire(model)
	if m == nil {
		removeModelPath(modelPath)
		return fmt.Errorf("%w for register: %s", ErrNoSuchModel, model)
	}
	defer i.putModel(m)

	if m.modelPath != modelPath {
		i.rwMutex.Lock()
		i.delModelUncond(m)
		i.rwMutex.Unlock()
		return fmt.Errorf("Invalid model path: %s", model)
	}

	if !atomic.CompareAndSwapInt32(&m.status, modelStatusBuild, modelStatusReady) {
		return fmt.Errorf("Model is not being built: %s (%s)", model, statusString(atomic.LoadInt32(&m.status)))
	}

	if err := i.loadModel(m); err != nil {
		i.rwMutex.Lock()
		i.delModelUncond(m)
		i.rwMutex.Unlock()
		return err
	}
	slog.Info("model is running", "model", m.name, "path", m.modelPath)

	return nil
}

// DeleteModel 모델 삭제
func (i *Inference) DeleteModel(model string) error {
	i.rwMutex.Lock()
	defer i.rwMutex.Unlock()

	return i.delModel(model)
}

// GetModels 추론 모델 목록 반환
func (i *Inference) GetModels() []string {
	i.rwMutex.RLock()
	defer i.rwMutex.RUnlock()

	models := make([]string, 0, len(i.models))
	for model := range i.models {
		models = append(models, model)
	}
	sort.Strings(models)

	return models
}

// GetModel 추론 모델 정보 반환
func (i *Inference) GetModel(model string, verbose bool) map[string]interface{} {
	m := i.acquire(model)
	if m == nil {
		return nil
	}
	defer i.putModel(m)

	status := atomic.LoadInt32(&m.status)
	info := map[string]interface{}{
		"model":     m.name,
		"modelPath": m.modelPath,
		"refCount":  atomic.LoadInt32(&m.refCount) - 1,
		"status":    statusString(status),
	}
	if status != modelStatusRun {
		return info
	}

	cfg := m.model.Config
	info["type"] = cfg.Type
	info["classification"] = cfg.Classification
	info["inputShape"] = cfg.InputShape
	info["inputOperator"] = cfg.InputOperationName
	info["outputOperator"] = cfg.OutputOperationName
	info["loss"] = cfg.Loss
	info["description"] = cfg.Description
	info["labels"] = m.model.Labels

	if verbose {
		info["trainingResult"] = cfg.TrainingResult
	}

	return info
}

// ModelStatus 모델의 동작 여부와 저장 위치
func (i *Inference) ModelStatus(model string) (loaded bool, modelPath string, exists bool) {
	m := i.acquire(model)
	if m == nil {
		return false, "", false
	}
	defer i.putModel(m)

	loaded = atomic.LoadInt32(&m.status) == modelStatusRun
	_, err := os.Stat(filepath.Join(m.modelPath, classifier.ConfigFile))
	return loaded, m.modelPath, err == nil
}

// 동작 중인 모델에 f 적용
func (i *Inference) with(model string, f func(*classifier.Model) error) error {
	m := i.acquire(model)
	if m == nil {
		if model == constants.DefaultModelName {
			return ErrModelNotLoaded
		}
		return fmt.Errorf("%w: %s", ErrNoSuchModel, model)
	}
	defer i.putModel(m)

	if atomic.LoadInt32(&m.status) != modelStatusRun {
		return ErrModelNotLoaded
	}

	return f(m.model)
}

// Infer 이미지 판정
func (i *Inference) Infer(ctx context.Context, model string, img image.Image) (classifier.Prediction, error) {
	var p classifier.Prediction
	err := i.with(model, func(cm *classifier.Model) error {
		var err error
		p, err = cm.PredictImage(ctx, img)
		return err
	})
	return p, err
}

// InferVideo 동영상 판정
func (i *Inference) InferVideo(ctx context.Context, model, path string, interval int) (*video.Result, error) {
	var r *video.Result
	err := i.with(model, func(cm *classifier.Model) error {
		var err error
		r, err = video.Analyze(ctx, path, cm, video.Options{
			Interval: interval,
			Labels:   cm.Labels,
		})
		return err
	})
	return r, err
}

func (m *iModel) close() {
	if m.model == nil {
		return
	}
	if err := m.model.Close(); err != nil {
		slog.Error("fail to close model", "model", m.name, "err", err)
	}
}

// Destroy 모든 모델 자원 해제
func (i *Inference) Destroy() {
	i.rwMutex.Lock()
	defer i.rwMutex.Unlock()

	for name, m := range i.models {
		m.close()
		delete(i.models, name)
	}
	slog.Info("inference models closed")
}

func getNewModel(model, modelPath string) *iModel {
	return &iModel{
		name:      model,
		modelPath: modelPath,
		status:    modelStatusReady,
	}
}

// New 추론 모델 관리자 생성
func New(c Config) *Inference {
	client := c.Client
	if client == nil {
		client = resty.New().SetBaseURL("http://" + c.LHost)
	}

	i := &Inference{
		models:        make(map[string]*iModel),
		modelsPath:    c.ModelsPath,
		userModelPath: c.UserModelPath,
		open:          c.Open,
		client:        client,
	}
	i.init(c.CreateDefault)

	return i
}
