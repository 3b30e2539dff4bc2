package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/learnapp/jobs"
)

func newRouter(size int) *gin.Engine {
	gin.SetMode(gin.TestMode)

	q := jobs.New(jobs.Config{
		Runner:    func(ctx context.Context, job jobs.Job) error { return nil },
		QueueSize: size,
	})
	r := gin.New()
	(&APIs{Q: q}).Register(r)
	return r
}

func do(r *gin.Engine, method, url, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateModel(t *testing.T) {
	r := newRouter(4)

	w := do(r, http.MethodPost, "/models/faces", `{"imagePath":"/detect/images/faces","modelPath":"/detect/models/faces-1","epochs":3,"trial":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "faces", res["model"])
	assert.Equal(t, "/detect/models/faces-1", res["modelPath"])
	assert.Equal(t, "queued", res["status"])

	w = do(r, http.MethodGet, "/jobs/"+res["job"], "")
	require.Equal(t, http.StatusOK, w.Code)
	var job jobs.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.True(t, job.Request.Trial)
	assert.Equal(t, 3, job.Request.Epochs)

	w = do(r, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), res["job"])
}

func TestCreateModelInvalid(t *testing.T) {
	r := newRouter(4)

	w := do(r, http.MethodPost, "/models/faces", `{"imagePath":"/detect/images"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/models/faces", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateModelQueueFull(t *testing.T) {
	r := newRouter(1)

	w := do(r, http.MethodPost, "/models/a", `{"modelPath":"/models/a"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/models/b", `{"modelPath":"/models/b"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestShowJobMissing(t *testing.T) {
	r := newRouter(1)

	w := do(r, http.MethodGet, "/jobs/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
