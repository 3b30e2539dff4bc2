package api

import (
	"embed"
	"html/template"

	"github.com/gin-gonic/gin"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/constants"
)

//go:embed templates/*.html
var templates embed.FS

// Register 페이지와 api 경로 등록
func (a *APIs) Register(r *gin.Engine) {
	r.SetHTMLTemplate(template.Must(template.ParseFS(templates, "templates/*.html")))

	r.Use(a.Metrics.Middleware())
	r.GET("/metrics", a.Metrics.Handler())
	r.Static(constants.UploadsURL, a.M.UploadsPath())

	r.GET("/", a.Index)
	r.GET("/dashboard", Page("dashboard.html", "Dashboard"))
	r.GET("/history", Page("history.html", "History"))
	r.GET("/results", Page("results.html", "Results"))

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/predict", a.Predict)
		apiGroup.POST("/predict-video", a.PredictVideo)
		apiGroup.GET("/model-status", a.ModelStatus)
		apiGroup.GET("/history", a.History)
	}

	inferenceGroup := r.Group("/inference")
	{
		inferenceGroup.POST("", a.InferWithModel)
		inferenceGroup.POST(":model", a.InferWithModel)
	}

	modelsGroup := r.Group("/models")
	{
		modelsGroup.GET("", a.ListModels)
		modelsGroup.GET(":model", a.ShowModel)
		modelsGroup.POST(":model", a.CreateModel)
		modelsGroup.PUT(":model", a.OperateModel)
		modelsGroup.DELETE(":model", a.DeleteModel)
	}

	imagesGroup := r.Group("/images")
	{
		imagesGroup.GET("", a.ListImages)
		imagesGroup.POST("", a.UploadImages)
		imagesGroup.DELETE("", a.DeleteImages)
	}
}
