package data

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/data/db"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/dataset"
)

const (
	imageTable   string = "image_tab"
	historyTable string = "prediction_tab"
)

// Config Data manager 설정
type Config struct {
	DriverName string
	ConnInfo   string
	// 학습 이미지 루트 (subject/category/파일)
	ImagesPath string
	// 판정 요청 업로드 파일
	UploadsPath string
}

// Manager 이미지 데이터를 관리
type Manager struct {
	Conn *db.DBconn

	imagesPath  string
	uploadsPath string
}

// SaveFunc 업로드 파일 저장 함수
type SaveFunc func(*multipart.FileHeader, string) error

func saveFile(file *multipart.FileHeader, dst string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ErrInvalidName 경로로 사용할 수 없는 이름
var ErrInvalidName = errors.New("Invalid name")

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func format(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

// uuid 접두어로 중복되지 않는 파일 이름 생성
func uniqueName(orgFileName string) string {
	return fmt.Sprintf("%s-%s", uuid.New().String()[:8], filepath.Base(orgFileName))
}

// ImagesPath 학습 이미지 루트
func (dm *Manager) ImagesPath() string {
	return dm.imagesPath
}

// SubjectPath 학습 데이터셋 경로
func (dm *Manager) SubjectPath(subject string) (string, error) {
	if err := checkName(subject); err != nil {
		return "", err
	}
	return filepath.Join(dm.imagesPath, subject), nil
}

// SaveImages 학습 이미지 저장 (subject: 데이터셋, category: 클래스)
func (dm *Manager) SaveImages(subject, category string, images []*multipart.FileHeader, f SaveFunc, verbose bool) (interface{}, error) {
	if err := checkName(subject); err != nil {
		return nil, err
	}
	if err := checkName(category); err != nil {
		return nil, err
	}

	fileDir := filepath.Join(dm.imagesPath, subject, category)
	if err := os.MkdirAll(fileDir, os.ModePerm); err != nil {
		return nil, err
	}

	if f == nil {
		f = saveFile
	}

	var (
		total      int64
		successful int64
		failed     int64
		items      []db.Item
		errs       []map[string]interface{}
	)
	fail := func(orgFileName, fileName string, err error) {
		if verbose {
			errs = append(errs, map[string]interface{}{
				"orgfilename": orgFileName,
				"filename":    fileName,
				"error":       err.Error(),
			})
		}
		failed++
	}

	for _, image := range images {
		total++

		orgFileName := image.Filename
		fileName := uniqueName(orgFileName)
		if !dataset.IsImage(orgFileName) {
			fail(orgFileName, fileName, fmt.Errorf("Unsupported image format: %s", format(orgFileName)))
			continue
		}
		filePath := filepath.Join(fileDir, fileName)

		item := db.Item{
			Subject:     subject,
			Category:    category,
			OrgFilename: orgFileName,
			Filename:    fileName,
			FileFormat:  format(orgFileName),
			FilePath:    filePath,
			CreateAt:    time.Now(),
		}

		if err := dm.Conn.Insert(item); err != nil {
			fail(orgFileName, fileName, err)
			continue
		}

		if err := f(image, filePath); err != nil {
			fail(orgFileName, fileName, err)
			if _, err := dm.Conn.Delete(db.Item{Filename: fileName}); err != nil {
				slog.Error("fail to rollback image item", "filename", fileName, "err", err)
			}
			continue
		}

		if verbose {
			items = append(items, item)
		}
		successful++
	}

	result := map[string]interface{}{
		"infos": map[string]int64{
			"total":      total,
			"successful": successful,
			"failed":     failed,
		},
	}
	if verbose {
		result["images"] = items
		result["errors"] = errs
	}

	return result, nil
}

// DeleteImages 학습 이미지 삭제
func (dm *Manager) DeleteImages(subject, category, fileName, orgFileName string, verbose bool) (interface{}, error) {
	param := db.Item{
		Subject:     subject,
		Category:    category,
		Filename:    fileName,
		OrgFilename: orgFileName,
	}

	infos, items, err := dm.Conn.Get(param)
	if err != nil {
		return nil, err
	}
	if infos["total"] != infos["successful"] {
		return nil, fmt.Errorf("Fail to read images %d of %d", infos["failed"], infos["total"])
	}

	errs := make([]map[string]interface{}, 0)
	// 빈 디렉토리를 삭제하기 위해, subject와 category 목록을 저장
	dirs := make(map[string]map[string]struct{})
	for _, item := range items {
		if err := os.Remove(item.FilePath); err != nil && !os.IsNotExist(err) {
			if verbose {
				errs = append(errs, map[string]interface{}{
					"orgfilename": item.OrgFilename,
					"filename":    item.Filename,
					"error":       err.Error(),
				})
			}
			continue
		}
		if _, ok := dirs[item.Subject]; !ok {
			dirs[item.Subject] = make(map[string]struct{})
		}
		dirs[item.Subject][item.Category] = struct{}{}
	}

	deleted, err := dm.Conn.Delete(param)
	if err != nil {
		return nil, err
	}

	for subject, categories := range dirs {
		for category := range categories {
			// "directory not empty" 에러는 무시
			os.Remove(filepath.Join(dm.imagesPath, subject, category))
		}
		os.Remove(filepath.Join(dm.imagesPath, subject))
	}

	result := map[string]interface{}{
		"infos": map[string]int64{
			"total":      infos["total"],
			"successful": deleted,
			"failed":     infos["total"] - deleted,
		},
	}
	if verbose {
		result["images"] = items
		result["errors"] = errs
	}

	return result, nil
}

// ListImages 학습 이미지 목록 반환
func (dm *Manager) ListImages(subject, category string) (interface{}, error) {
	infos, items, err := dm.Conn.Get(db.Item{
		Subject:  subject,
		Category: category,
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"infos":  infos,
		"images": items,
	}, nil
}

// Upload 판정 요청 파일
type Upload struct {
	OrgFilename string
	Filename    string
	FilePath    string
}

// SaveUpload 판정 요청 파일을 uuid 접두어를 붙여서 저장
func (dm *Manager) SaveUpload(file *multipart.FileHeader, f SaveFunc) (*Upload, error) {
	if file.Filename == "" {
		return nil, errors.New("No file selected")
	}
	if err := os.MkdirAll(dm.uploadsPath, os.ModePerm); err != nil {
		return nil, err
	}
	if f == nil {
		f = saveFile
	}

	u := &Upload{
		OrgFilename: file.Filename,
		Filename:    uniqueName(file.Filename),
	}
	u.FilePath = filepath.Join(dm.uploadsPath, u.Filename)
	if err := f(file, u.FilePath); err != nil {
		return nil, err
	}
	return u, nil
}

// UploadsPath 업로드 파일 경로
func (dm *Manager) UploadsPath() string {
	return dm.uploadsPath
}

// Record 판정 기록 저장, 실패해도 판정 결과에는 영향 없음
func (dm *Manager) Record(p *db.Prediction) {
	if p.CreateAt.IsZero() {
		p.CreateAt = time.Now()
	}
	if err := dm.Conn.InsertPrediction(p); err != nil {
		slog.Error("fail to record prediction", "filename", p.Filename, "err", err)
	}
}

// History 최근 판정 기록
func (dm *Manager) History(limit int) ([]db.Prediction, error) {
	return dm.Conn.ListPredictions(limit)
}

// Destroy Data manager 해제
func (dm *Manager) Destroy() {
	if err := dm.Conn.Destroy(); err != nil {
		slog.Error("DB close failed", "driver", dm.Conn.DriverName, "err", err)
	} else {
		slog.Info("DB successfully closed", "driver", dm.Conn.DriverName)
	}
}

// New 새로운 Data manager 생성
func New(cfg Config) (*Manager, error) {
	conn, err := db.New(db.Config{
		DriverName:   cfg.DriverName,
		ConnInfo:     cfg.ConnInfo,
		ImageTable:   imageTable,
		HistoryTable: historyTable,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("DB successfully initialized", "driver", cfg.DriverName, "tables", []string{imageTable, historyTable})

	return &Manager{
		Conn:        conn,
		imagesPath:  cfg.ImagesPath,
		uploadsPath: cfg.UploadsPath,
	}, nil
}
