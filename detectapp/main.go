package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/api"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/config"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/data"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/inference"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/metrics"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/backbone"
)

func main() {
	envFile := flag.String("env", "", "Path to .env file")
	userModelPath := flag.String("usermodel", "", "Path for user inference model")
	learnHost := flag.String("learnhost", "", "Model learning host (overrides LEARN_HOST)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal(err)
	}
	if *userModelPath != "" {
		cfg.UserModelPath = *userModelPath
	}
	if *learnHost != "" {
		cfg.LearnHost = *learnHost
	}

	if err := backbone.InitRuntime(cfg.ONNXRuntimeLib); err != nil {
		// ColorStats 모델은 ONNX Runtime 없이 동작
		slog.Warn("ONNX Runtime is not available", "lib", cfg.ONNXRuntimeLib, "err", err)
	}

	m, err := data.New(data.Config{
		DriverName:  cfg.DBDriver,
		ConnInfo:    cfg.DBConnInfo,
		ImagesPath:  cfg.ImagesPath,
		UploadsPath: cfg.UploadsPath,
	})
	if err != nil {
		log.Fatal(err)
	}

	i := inference.New(inference.Config{
		ModelsPath:    cfg.ModelsPath,
		UserModelPath: cfg.UserModelPath,
		LHost:         cfg.LearnHost,
		CreateDefault: cfg.CreateDefaultModel,
	})

	r := gin.Default()
	r.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20

	a := api.APIs{
		I:       i,
		M:       m,
		Metrics: metrics.New(),
	}
	a.Register(r)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	idle := make(chan struct{})
	go func() {
		defer close(idle)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "err", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v", cfg.Addr, err)
	}
	<-idle

	i.Destroy()
	m.Destroy()
	if err := backbone.DestroyRuntime(); err != nil {
		slog.Error("fail to destroy ONNX Runtime", "err", err)
	}
	slog.Info("server stopped")
}
