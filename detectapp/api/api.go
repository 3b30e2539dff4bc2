package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/constants"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/data"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/data/db"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/inference"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/metrics"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/preprocess"
)

// APIs api 핸들러
type APIs struct {
	I       *inference.Inference
	M       *data.Manager
	Metrics *metrics.Metrics
}

// Index 판정 페이지
func (a *APIs) Index(c *gin.Context) {
	status := "not_loaded"
	if loaded, _, _ := a.I.ModelStatus(constants.DefaultModelName); loaded {
		status = "loaded"
	}
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title":        "Analysis",
		"model_status": status,
	})
}

// Page 정적 페이지
func Page(name, title string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, name, gin.H{"title": title})
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}

// inference 에러의 http 상태
func inferStatus(err error) int {
	switch {
	case errors.Is(err, inference.ErrModelNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, inference.ErrNoSuchModel):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (a *APIs) modelLoaded(c *gin.Context) bool {
	if loaded, _, _ := a.I.ModelStatus(constants.DefaultModelName); !loaded {
		fail(c, http.StatusServiceUnavailable, inference.ErrModelNotLoaded.Error())
		return false
	}
	return true
}

func (a *APIs) upload(c *gin.Context, field string) (*data.Upload, bool) {
	header, err := c.FormFile(field)
	if err != nil {
		fail(c, http.StatusBadRequest, fmt.Sprintf("No %s file provided", field))
		return nil, false
	}
	if header.Filename == "" {
		fail(c, http.StatusBadRequest, "No file selected")
		return nil, false
	}

	u, err := a.M.SaveUpload(header, c.SaveUploadedFile)
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Error saving %s: %s", field, err))
		return nil, false
	}
	return u, true
}

// Predict 기본 모델로 이미지 판정
func (a *APIs) Predict(c *gin.Context) {
	if !a.modelLoaded(c) {
		return
	}
	u, ok := a.upload(c, "image")
	if !ok {
		return
	}

	img, err := preprocess.Open(u.FilePath)
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Sprintf("Error processing image: %s", err))
		return
	}

	t0 := time.Now()
	p, err := a.I.Infer(c.Request.Context(), constants.DefaultModelName, img)
	if err != nil {
		if status := inferStatus(err); status != http.StatusInternalServerError {
			fail(c, status, err.Error())
		} else {
			fail(c, status, fmt.Sprintf("Error processing image: %s", err))
		}
		return
	}
	a.Metrics.ObservePrediction("image", p.Class, time.Since(t0))

	a.M.Record(&db.Prediction{
		Kind:       "image",
		Model:      constants.DefaultModelName,
		Filename:   u.OrgFilename,
		FilePath:   u.FilePath,
		Class:      p.Class,
		Confidence: p.Confidence,
		RawScore:   p.RawScore,
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"prediction": gin.H{
			"class":      p.Class,
			"confidence": p.Confidence,
			"raw_score":  p.RawScore,
			"filename":   u.OrgFilename,
			"image_url":  path.Join(constants.UploadsURL, u.Filename),
		},
	})
}

// PredictVideo 기본 모델로 동영상 판정
func (a *APIs) PredictVideo(c *gin.Context) {
	if !a.modelLoaded(c) {
		return
	}

	interval := constants.DefaultVideoInterval
	if v := c.PostForm("interval"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, fmt.Sprintf("Invalid interval: %s", v))
			return
		}
		interval = n
	}

	u, ok := a.upload(c, "video")
	if !ok {
		return
	}

	t0 := time.Now()
	r, err := a.I.InferVideo(c.Request.Context(), constants.DefaultModelName, u.FilePath, interval)
	if err != nil {
		if status := inferStatus(err); status != http.StatusInternalServerError {
			fail(c, status, err.Error())
		} else {
			fail(c, status, fmt.Sprintf("Error processing video: %s", err))
		}
		return
	}
	a.Metrics.ObservePrediction("video", r.Prediction, time.Since(t0))

	a.M.Record(&db.Prediction{
		Kind:       "video",
		Model:      constants.DefaultModelName,
		Filename:   u.OrgFilename,
		FilePath:   u.FilePath,
		Class:      r.Prediction,
		Confidence: r.Confidence * 100,
		RawScore:   1 - r.AvgFakeProb,
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"prediction": gin.H{
			"class":            r.Prediction,
			"confidence":       r.Confidence,
			"avg_fake_prob":    r.AvgFakeProb,
			"max_fake_prob":    r.MaxFakeProb,
			"frames_processed": r.FramesProcessed,
			"total_frames":     r.TotalFrames,
			"duration":         r.Duration,
			"filename":         u.OrgFilename,
		},
	})
}

// ModelStatus 기본 모델 상태
func (a *APIs) ModelStatus(c *gin.Context) {
	loaded, modelPath, exists := a.I.ModelStatus(constants.DefaultModelName)
	c.JSON(http.StatusOK, gin.H{
		"loaded":     loaded,
		"model_path": modelPath,
		"exists":     exists,
	})
}

// History 최근 판정 기록
func (a *APIs) History(c *gin.Context) {
	limit := constants.DefaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, fmt.Sprintf("Invalid limit: %s", v))
			return
		}
		limit = min(n, constants.MaxHistoryLimit)
	}

	history, err := a.M.History(limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"history": history,
	})
}

// InferWithModel 지정한 모델을 이용한 판정
func (a *APIs) InferWithModel(c *gin.Context) {
	model := c.Param("model")
	if model == "" {
		model = constants.DefaultModelName
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	img, err := preprocess.Decode(file)
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	t0 := time.Now()
	p, err := a.I.Infer(c.Request.Context(), model, img)
	if err != nil {
		Error(c, inferStatus(err), err)
		return
	}
	elapsed := time.Since(t0)
	a.Metrics.ObservePrediction("image", p.Class, elapsed)

	c.JSON(http.StatusOK, gin.H{
		"file":        header.Filename,
		"bytes":       header.Size,
		"model":       model,
		"inference":   p,
		"elapsed(ms)": elapsed.Milliseconds(),
	})
}

// ListModels 추론 모델 목록 반환
func (a *APIs) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models": a.I.GetModels(),
	})
}

// ShowModel 추론 모델 정보 반환
func (a *APIs) ShowModel(c *gin.Context) {
	model := c.Param("model")
	_, verbose := c.GetQuery("verbose")

	if info := a.I.GetModel(model, verbose); info != nil {
		c.JSON(http.StatusOK, info)
	} else {
		Error(c, http.StatusBadRequest, fmt.Errorf("Cannot find model info: %s", model))
	}
}

// CreateModel 학습 서버에 모델 생성 요청
func (a *APIs) CreateModel(c *gin.Context) {
	model := c.Param("model")
	if model == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty model name"))
		return
	}

	imagePath := ""
	if subject, ok := c.GetQuery("subject"); ok {
		var err error
		if imagePath, err = a.M.SubjectPath(subject); err != nil {
			Error(c, http.StatusBadRequest, err)
			return
		}
	}
	desc := c.Query("desc")
	_, trial := c.GetQuery("trial")
	nrEpochs, err := strconv.Atoi(c.Query("epochs"))
	if err != nil || nrEpochs <= 0 {
		nrEpochs = constants.TrainEpochs
	}

	if res, err := a.I.CreateModel(c.Request.Context(), model, imagePath, desc, nrEpochs, trial); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.JSON(http.StatusOK, res)
	}
}

// OperateModel 학습이 끝난 모델 등록
func (a *APIs) OperateModel(c *gin.Context) {
	model := c.Param("model")

	var res inference.CreateResponse
	if err := c.ShouldBindJSON(&res); err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	if err := a.I.OperateModel(model, res.ModelPath); err != nil {
		slog.Error("fail to operate model", "model", model, "path", res.ModelPath, "err", err)
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.String(http.StatusOK, "OK")
	}
}

// DeleteModel 모델 삭제
func (a *APIs) DeleteModel(c *gin.Context) {
	model := c.Param("model")
	if model == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty model name"))
		return
	}

	if err := a.I.DeleteModel(model); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, inference.ErrNoSuchModel) {
			status = http.StatusNotFound
		} else if errors.Is(err, inference.ErrInUse) {
			status = http.StatusConflict
		}
		Error(c, status, err)
	} else {
		c.String(http.StatusOK, "OK")
	}
}

// UploadImages 학습 이미지 업로드
func (a *APIs) UploadImages(c *gin.Context) {
	var (
		subject  string
		category string
	)
	if subject = c.Query("subject"); subject == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty `subject`"))
		return
	}
	if category = c.Query("category"); category == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty `category`"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}
	images := form.File["images[]"]
	_, verbose := c.GetQuery("verbose")

	if result, err := a.M.SaveImages(subject, category, images, c.SaveUploadedFile, verbose); err != nil {
		Error(c, http.StatusBadRequest, err)
	} else {
		c.JSON(http.StatusOK, result)
	}
}

// DeleteImages 학습 이미지 삭제
func (a *APIs) DeleteImages(c *gin.Context) {
	subject := c.Query("subject")
	category := c.Query("category")
	fileName := c.Query("filename")
	orgFileName := c.Query("orgfilename")
	_, verbose := c.GetQuery("verbose")

	if result, err := a.M.DeleteImages(subject, category, fileName, orgFileName, verbose); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.JSON(http.StatusOK, result)
	}
}

// ListImages 학습 이미지 목록 반환
func (a *APIs) ListImages(c *gin.Context) {
	subject := c.Query("subject")
	category := c.Query("category")

	if result, err := a.M.ListImages(subject, category); err != nil {
		Error(c, http.StatusBadRequest, err)
	} else {
		c.JSON(http.StatusOK, result)
	}
}

// HTTPError api 에러 메시지
type HTTPError struct {
	Error string `json:"error"`
}

// Error api 에러를 담은 json 응답 생성
func Error(c *gin.Context, status int, err error) {
	c.JSON(status, HTTPError{
		Error: err.Error(),
	})
}
