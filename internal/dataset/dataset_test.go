package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func makeClass(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		touch(t, filepath.Join(dir, fmt.Sprintf("img_%02d.jpg", i)))
	}
}

func TestLoadFlat(t *testing.T) {
	root := t.TempDir()
	makeClass(t, filepath.Join(root, "Real"), 5)
	makeClass(t, filepath.Join(root, "Fake"), 10)
	touch(t, filepath.Join(root, "Fake", "notes.txt"))
	touch(t, filepath.Join(root, "Fake", "nested", "deep.PNG"))

	ds, err := Load(context.Background(), root, Options{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, LayoutFlat, ds.Layout)
	assert.Equal(t, []string{"Fake", "Real"}, ds.Train.ClassNames)

	// Fake 11장(하위 디렉토리 포함), Real 5장
	assert.Equal(t, []int{2, 1}, ds.Validation.Counts())
	assert.Equal(t, []int{9, 4}, ds.Train.Counts())
	assert.Same(t, ds.Validation, ds.Test)

	for _, s := range ds.Train.Samples {
		assert.True(t, IsImage(s.Path), s.Path)
	}
}

func TestSplitFlatIsDeterministic(t *testing.T) {
	root := t.TempDir()
	makeClass(t, filepath.Join(root, "Fake"), 7)
	makeClass(t, filepath.Join(root, "Real"), 7)

	a, err := Load(context.Background(), root, Options{})
	require.NoError(t, err)
	b, err := Load(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Equal(t, a.Validation.Samples, b.Validation.Samples)
	// 정렬된 파일 앞쪽이 검증용
	assert.Equal(t, filepath.Join(root, "Fake", "img_00.jpg"), a.Validation.Samples[0].Path)
}

func TestLoadSplitLayout(t *testing.T) {
	root := t.TempDir()
	makeClass(t, filepath.Join(root, TrainDir, "Fake"), 4)
	makeClass(t, filepath.Join(root, TrainDir, "Real"), 6)
	makeClass(t, filepath.Join(root, ValidationDir, "Fake"), 2)
	makeClass(t, filepath.Join(root, ValidationDir, "Real"), 1)
	makeClass(t, filepath.Join(root, TestDir, "Real"), 3)

	ds, err := Load(context.Background(), root, Options{})
	require.NoError(t, err)

	assert.Equal(t, LayoutSplit, ds.Layout)
	assert.Equal(t, []int{4, 6}, ds.Train.Counts())
	assert.Equal(t, []int{2, 1}, ds.Validation.Counts())
	// 없는 클래스 디렉토리는 0장
	assert.Equal(t, []int{0, 3}, ds.Test.Counts())
	assert.Equal(t, ds.Train.ClassNames, ds.Test.ClassNames)
}

func TestLoadSplitWithoutValidation(t *testing.T) {
	root := t.TempDir()
	makeClass(t, filepath.Join(root, TrainDir, "Fake"), 2)
	makeClass(t, filepath.Join(root, TrainDir, "Real"), 2)

	ds, err := Load(context.Background(), root, Options{})
	require.NoError(t, err)
	assert.Nil(t, ds.Validation)
	assert.Nil(t, ds.Test)
	assert.Equal(t, 0, ds.Validation.Len())
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadNoClasses(t *testing.T) {
	_, err := Load(context.Background(), t.TempDir(), Options{})
	assert.Error(t, err)
}

func TestFindPathNested(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, nestedDir)
	makeClass(t, filepath.Join(nested, "Fake"), 1)

	path, err := FindPath(root)
	require.NoError(t, err)
	assert.Equal(t, nested, path)
}

func TestInspect(t *testing.T) {
	root := t.TempDir()
	makeClass(t, filepath.Join(root, TrainDir, "Fake"), 3)
	makeClass(t, filepath.Join(root, TrainDir, "Real"), 2)
	makeClass(t, filepath.Join(root, TestDir, "Real"), 1)

	report, err := Inspect(root)
	require.NoError(t, err)

	assert.Equal(t, LayoutSplit, report.Layout)
	require.Len(t, report.Splits, 2)
	assert.Equal(t, TrainDir, report.Splits[0].Name)
	assert.Equal(t, []ClassCount{{"Fake", 3}, {"Real", 2}}, report.Splits[0].Classes)
	assert.Contains(t, report.String(), "Real: 1 images")
}
