// Package config 환경변수 기반 설정
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config detectapp 설정
type Config struct {
	Addr string `env:"DETECT_ADDR" envDefault:":18080"`

	ModelsPath    string `env:"MODELS_PATH" envDefault:"/detect/models"`
	ImagesPath    string `env:"IMAGES_PATH" envDefault:"/detect/images"`
	UploadsPath   string `env:"UPLOADS_PATH" envDefault:"/detect/uploads"`
	UserModelPath string `env:"USER_MODEL_PATH"`

	LearnHost string `env:"LEARN_HOST" envDefault:"learnapp:18090"`
	// 기본 모델이 없을 때 생성 요청 여부
	CreateDefaultModel bool `env:"CREATE_DEFAULT_MODEL" envDefault:"true"`
	ONNXRuntimeLib     string `env:"ONNXRUNTIME_LIB"`

	DBDriver   string `env:"DB_DRIVER" envDefault:"mysql"`
	DBConnInfo string `env:"DB_CONN_INFO" envDefault:"user1:password1@tcp(db:3306)/detect_db?parseTime=true"`

	MaxUploadMB     int `env:"MAX_UPLOAD_MB" envDefault:"64"`
	ShutdownTimeout int `env:"SHUTDOWN_TIMEOUT_SEC" envDefault:"5"`
}

// Load envFile이 있으면 먼저 읽은 후 환경변수 파싱
func Load(envFile string) (Config, error) {
	if envFile != "" {
		slog.Info("loading env file", "path", envFile)
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("error loading env file '%s': %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}
