package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/learnapp/jobs"
)

// APIs 학습 서버 api 핸들러
type APIs struct {
	Q *jobs.Queue
}

// CreateModel 모델 학습 작업 등록
func (a *APIs) CreateModel(c *gin.Context) {
	model := c.Param("model")
	if model == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty model name"))
		return
	}

	var req jobs.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	job, err := a.Q.Submit(model, req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, jobs.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		Error(c, status, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"model":     model,
		"modelPath": req.ModelPath,
		"status":    job.Status,
		"job":       job.ID,
	})
}

// ListJobs 작업 목록 반환
func (a *APIs) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"jobs": a.Q.List(),
	})
}

// ShowJob 작업 정보 반환
func (a *APIs) ShowJob(c *gin.Context) {
	id := c.Param("id")
	if job, ok := a.Q.Get(id); ok {
		c.JSON(http.StatusOK, job)
	} else {
		Error(c, http.StatusNotFound, fmt.Errorf("No such job: %s", id))
	}
}

// Register 경로 등록
func (a *APIs) Register(r *gin.Engine) {
	r.POST("/models/:model", a.CreateModel)

	jobsGroup := r.Group("/jobs")
	{
		jobsGroup.GET("", a.ListJobs)
		jobsGroup.GET(":id", a.ShowJob)
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
