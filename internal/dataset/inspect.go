package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// 중첩된 데이터셋 폴더 이름
const nestedDir = "Image Dataset"

// Candidates 경로가 주어지지 않았을 때 확인하는 위치
func Candidates() []string {
	candidates := []string{"dataset", "Dataset"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".cache", "deepfake-dataset", "Dataset"))
	}
	return candidates
}

// FindPath 데이터셋 경로 결정.
// 주어진 경로가 있으면 사용하고, 없으면 기본 위치를 순서대로 확인
func FindPath(path string) (string, error) {
	candidates := Candidates()
	if path != "" {
		candidates = append([]string{path}, candidates...)
	}

	for _, c := range candidates {
		if !isDir(c) {
			continue
		}
		if nested := filepath.Join(c, nestedDir); isDir(nested) {
			c = nested
		}
		return filepath.Abs(c)
	}

	return "", fmt.Errorf(`%w in any of: %s

The dataset should have one of the following structures:
  <root>/Train/{Fake,Real}, <root>/Validation/{Fake,Real}, <root>/Test/{Fake,Real}
  <root>/{Fake,Real}`, ErrNotFound, strings.Join(candidates, ", "))
}

// ClassCount 클래스 디렉토리의 파일 수
type ClassCount struct {
	Name   string `json:"name"`
	Images int    `json:"images"`
}

// SplitReport 분할 디렉토리 정보
type SplitReport struct {
	Name    string       `json:"name"`
	Classes []ClassCount `json:"classes"`
}

// Report 데이터셋 구조 정보
type Report struct {
	Root   string        `json:"root"`
	Layout Layout        `json:"layout"`
	Splits []SplitReport `json:"splits"`
}

// Inspect 데이터셋 구조와 클래스별 파일 수 확인
func Inspect(root string) (*Report, error) {
	if !isDir(root) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
	}

	report := &Report{
		Root:   root,
		Layout: DetectLayout(root),
	}

	if report.Layout == LayoutFlat {
		s, err := inspectSplit(root, "all")
		if err != nil {
			return nil, err
		}
		report.Splits = append(report.Splits, s)
		return report, nil
	}

	for _, name := range []string{TrainDir, ValidationDir, TestDir} {
		dir := filepath.Join(root, name)
		if !isDir(dir) {
			continue
		}
		s, err := inspectSplit(dir, name)
		if err != nil {
			return nil, err
		}
		report.Splits = append(report.Splits, s)
	}

	return report, nil
}

func inspectSplit(dir, name string) (SplitReport, error) {
	classes, err := listClasses(dir)
	if err != nil {
		return SplitReport{}, err
	}

	s := SplitReport{Name: name}
	for _, class := range classes {
		entries, err := os.ReadDir(filepath.Join(dir, class))
		if err != nil {
			return SplitReport{}, err
		}
		n := 0
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				n++
			}
		}
		s.Classes = append(s.Classes, ClassCount{Name: class, Images: n})
	}

	return s, nil
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset %s (%s)\n", r.Root, r.Layout)
	for _, s := range r.Splits {
		fmt.Fprintf(&b, "  %s:\n", s.Name)
		for _, c := range s.Classes {
			fmt.Fprintf(&b, "    %s: %d images\n", c.Name, c.Images)
		}
	}
	return b.String()
}
