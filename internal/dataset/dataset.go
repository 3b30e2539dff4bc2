// Package dataset 클래스별 디렉토리로 구성된 이미지 데이터셋 탐색
//
// 두 가지 구조를 지원한다.
//
//	<root>/Train/<class>/..., <root>/Validation/<class>/..., <root>/Test/<class>/...
//	<root>/<class>/...  (검증용 데이터를 자동으로 분리)
//
// 클래스 번호는 디렉토리 이름의 사전순으로 부여한다 (Fake=0, Real=1).
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// 표준 분할 디렉토리 이름
const (
	TrainDir      = "Train"
	ValidationDir = "Validation"
	TestDir       = "Test"

	// 단일 구조에서 검증용으로 분리하는 비율
	DefaultValidationSplit = 0.2
)

// Layout 데이터셋 디렉토리 구조
type Layout string

const (
	LayoutSplit Layout = "split"
	LayoutFlat  Layout = "flat"
)

// ErrNotFound 데이터셋을 찾지 못함
var ErrNotFound = errors.New("Dataset not found")

var extensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".ppm":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImage 학습에 사용하는 이미지 파일 확장자인지 확인
func IsImage(name string) bool {
	return extensions[strings.ToLower(filepath.Ext(name))]
}

// Sample 이미지 경로와 클래스 번호
type Sample struct {
	Path  string `json:"path"`
	Label int    `json:"label"`
}

// Split 하나의 데이터 분할 (train, validation, test)
type Split struct {
	Name       string
	ClassNames []string
	Samples    []Sample
}

// Len 이미지 수
func (s *Split) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Samples)
}

// Classes 이미지 순서대로의 클래스 번호
func (s *Split) Classes() []int {
	classes := make([]int, len(s.Samples))
	for i, sample := range s.Samples {
		classes[i] = sample.Label
	}
	return classes
}

// Counts 클래스별 이미지 수
func (s *Split) Counts() []int {
	counts := make([]int, len(s.ClassNames))
	for _, sample := range s.Samples {
		counts[sample.Label]++
	}
	return counts
}

// Dataset 분할된 데이터셋
type Dataset struct {
	Root       string
	Layout     Layout
	Train      *Split
	Validation *Split
	// 단일 구조이거나 Test 디렉토리가 없으면 Validation과 동일
	Test *Split
}

// Options 데이터셋 로드 설정
type Options struct {
	ValidationSplit float64
	Workers         int
}

func (o Options) withDefaults() Options {
	if o.ValidationSplit <= 0 || o.ValidationSplit >= 1 {
		o.ValidationSplit = DefaultValidationSplit
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// DetectLayout Train 디렉토리 존재 여부로 구조 판단
func DetectLayout(root string) Layout {
	if isDir(filepath.Join(root, TrainDir)) {
		return LayoutSplit
	}
	return LayoutFlat
}

// Load 데이터셋을 탐색해서 train/validation/test 분할 생성
func Load(ctx context.Context, root string, opts Options) (*Dataset, error) {
	opts = opts.withDefaults()

	if !isDir(root) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
	}

	ds := &Dataset{
		Root:   root,
		Layout: DetectLayout(root),
	}

	if ds.Layout == LayoutFlat {
		all, err := Scan(ctx, root, "all", nil, opts.Workers)
		if err != nil {
			return nil, err
		}
		ds.Train, ds.Validation = SplitFlat(all, opts.ValidationSplit)
		ds.Test = ds.Validation
		return ds, nil
	}

	train, err := Scan(ctx, filepath.Join(root, TrainDir), "train", nil, opts.Workers)
	if err != nil {
		return nil, err
	}
	ds.Train = train

	if dir := filepath.Join(root, ValidationDir); isDir(dir) {
		if ds.Validation, err = Scan(ctx, dir, "validation", train.ClassNames, opts.Workers); err != nil {
			return nil, err
		}
	}

	ds.Test = ds.Validation
	if dir := filepath.Join(root, TestDir); isDir(dir) {
		if ds.Test, err = Scan(ctx, dir, "test", train.ClassNames, opts.Workers); err != nil {
			return nil, err
		}
	}

	return ds, nil
}

// Scan dir 아래의 클래스 디렉토리를 병렬로 탐색.
// classNames가 nil이면 하위 디렉토리 이름을 정렬해서 클래스로 사용
func Scan(ctx context.Context, dir, name string, classNames []string, workers int) (*Split, error) {
	if classNames == nil {
		var err error
		if classNames, err = listClasses(dir); err != nil {
			return nil, err
		}
	}
	if len(classNames) == 0 {
		return nil, fmt.Errorf("No class directories in %s", dir)
	}
	if workers <= 0 {
		workers = 1
	}

	files := make([][]string, len(classNames))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for label, class := range classNames {
		label, classDir := label, filepath.Join(dir, class)
		g.Go(func() error {
			found, err := crawl(ctx, classDir)
			if err != nil {
				return err
			}
			files[label] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	split := &Split{
		Name:       name,
		ClassNames: classNames,
	}
	for label, paths := range files {
		for _, path := range paths {
			split.Samples = append(split.Samples, Sample{Path: path, Label: label})
		}
	}

	return split, nil
}

// SplitFlat 클래스마다 정렬된 파일의 앞쪽 fraction 만큼을 검증용으로 분리
func SplitFlat(all *Split, fraction float64) (train, validation *Split) {
	train = &Split{Name: "train", ClassNames: all.ClassNames}
	validation = &Split{Name: "validation", ClassNames: all.ClassNames}

	byClass := make([][]Sample, len(all.ClassNames))
	for _, s := range all.Samples {
		byClass[s.Label] = append(byClass[s.Label], s)
	}

	for _, samples := range byClass {
		n := int(float64(len(samples)) * fraction)
		validation.Samples = append(validation.Samples, samples[:n]...)
		train.Samples = append(train.Samples, samples[n:]...)
	}

	return train, validation
}

func listClasses(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var classes []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			classes = append(classes, entry.Name())
		}
	}
	sort.Strings(classes)

	return classes, nil
}

// 존재하지 않는 클래스 디렉토리는 빈 목록
func crawl(ctx context.Context, dir string) ([]string, error) {
	if !isDir(dir) {
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() && IsImage(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Fail to crawl %s: %w", dir, err)
	}
	sort.Strings(paths)

	return paths, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
