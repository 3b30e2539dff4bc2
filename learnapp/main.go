package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/backbone"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/classifier"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/head"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/video"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/learnapp/api"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/learnapp/jobs"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/learnapp/pipeline"
)

func main() {
	var opts pipeline.Options

	flag.StringVar(&opts.DatasetPath, "dataset-path", "", "Path to dataset (searched in common locations if empty)")
	flag.IntVar(&opts.Epochs, "epochs", pipeline.DefaultEpochs, "Number of training epochs")
	flag.IntVar(&opts.BatchSize, "batch-size", pipeline.DefaultBatchSize, "Batch size")
	flag.IntVar(&opts.Width, "img-width", 0, "Image width (0: backbone default)")
	flag.IntVar(&opts.Height, "img-height", 0, "Image height (0: backbone default)")
	flag.StringVar(&opts.ModelType, "model-type", backbone.DefaultType, "Backbone type ("+strings.Join(backbone.Names(), ", ")+")")
	flag.StringVar(&opts.BackbonePath, "backbone", "", "Path to ONNX backbone file")
	flag.Float64Var(&opts.LearningRate, "learning-rate", head.DefaultLearningRate, "Learning rate")
	flag.StringVar(&opts.CheckpointDir, "checkpoint-dir", pipeline.DefaultCheckpointDir, "Directory for checkpoints and saved models")
	flag.StringVar(&opts.ModelName, "model-name", pipeline.DefaultModelName, "Model name")
	flag.StringVar(&opts.Description, "desc", "", "Model description")
	flag.BoolVar(&opts.FineTune, "fine-tune", false, "Fine-tune after the initial training")
	flag.IntVar(&opts.FineTuneEpochs, "fine-tune-epochs", pipeline.DefaultFineTuneEpochs, "Number of fine-tuning epochs")
	flag.StringVar(&opts.LoadModel, "load-model", "", "Path to a saved model to continue from")
	flag.BoolVar(&opts.SkipTraining, "skip-training", false, "Skip training (requires --load-model)")
	flag.BoolVar(&opts.SkipEvaluation, "skip-evaluation", false, "Skip evaluation on the test split")
	flag.BoolVar(&opts.SaveModel, "save-model", true, "Save the final model")
	flag.StringVar(&opts.PlotsDir, "plots-dir", "", "Directory for training plots (disabled if empty)")
	flag.Int64Var(&opts.Seed, "seed", 0, "Random seed (0: time based)")
	flag.IntVar(&opts.Workers, "workers", 0, "Number of image loading workers (0: number of CPUs)")

	onnxLib := flag.String("onnxruntime", os.Getenv("ONNXRUNTIME_LIB"), "Path to ONNX Runtime shared library")
	predictImage := flag.String("predict-image", "", "Comma separated image files to classify with the saved model")
	predictVideo := flag.String("predict-video", "", "Video file to classify with the saved model")
	frameInterval := flag.Int("frame-interval", video.CLIInterval, "Analyze every n-th frame of the video")
	serve := flag.String("serve", "", "Serve training requests on addr (e.g. :18090)")
	detectHost := flag.String("detect-host", os.Getenv("DETECT_HOST"), "Detection host notified when a model is trained")
	flag.Parse()

	opts.ProgressBar = true
	if opts.SkipTraining && opts.LoadModel == "" {
		log.Fatal("--skip-training requires --load-model")
	}

	if err := backbone.InitRuntime(*onnxLib); err != nil {
		slog.Warn("ONNX Runtime is not available", "lib", *onnxLib, "err", err)
	}
	defer func() {
		if err := backbone.DestroyRuntime(); err != nil {
			slog.Error("fail to destroy ONNX Runtime", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *serve != "":
		opts.ProgressBar = false
		runServer(*serve, *detectHost, opts)
	case *predictImage != "" || *predictVideo != "":
		if err := predict(ctx, opts, *predictImage, *predictVideo, *frameInterval); err != nil {
			log.Fatal(err)
		}
	default:
		result, err := pipeline.Run(ctx, opts)
		if err != nil {
			log.Fatal(err)
		}
		slog.Info("training finished", "model", result.ModelDir, "auc", result.AUC)
	}
}

// 저장된 모델로 이미지, 동영상 판정
func predict(ctx context.Context, opts pipeline.Options, images, videoPath string, interval int) error {
	dir := opts.LoadModel
	if dir == "" {
		dir = filepath.Join(opts.CheckpointDir, opts.ModelName)
	}

	model, err := classifier.Load(dir, nil)
	if err != nil {
		return err
	}
	defer model.Close()

	if images != "" {
		if err := pipeline.PredictImages(ctx, os.Stdout, model, strings.Split(images, ",")); err != nil {
			return err
		}
	}
	if videoPath != "" {
		if _, err := pipeline.PredictVideo(ctx, os.Stdout, model, videoPath, interval); err != nil {
			return err
		}
	}
	return nil
}

// detectapp의 학습 요청을 받아 순서대로 학습
func runServer(addr, detectHost string, base pipeline.Options) {
	q := jobs.New(jobs.Config{
		Base:       base,
		DetectHost: detectHost,
	})
	q.Start(context.Background())

	r := gin.Default()
	a := api.APIs{Q: q}
	a.Register(r)

	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	idle := make(chan struct{})
	go func() {
		defer close(idle)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "err", err)
		}
	}()

	slog.Info("server started", "addr", addr, "detect_host", detectHost)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v", addr, err)
	}
	<-idle

	q.Stop()
	slog.Info("server stopped")
}
