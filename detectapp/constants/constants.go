package constants

const (
	DefaultModelName string = "default"

	// 클래스 디렉토리 정렬 순서
	FakeLabel string = "Fake"
	RealLabel string = "Real"

	TrainEpochs         int = 20
	DefaultHistoryLimit int = 50
	MaxHistoryLimit     int = 500

	// 동영상은 N번째 프레임마다 판정
	DefaultVideoInterval int = 5

	UploadsURL string = "/static/uploads"
)
