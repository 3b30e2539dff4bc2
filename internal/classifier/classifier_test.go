package classifier

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/backbone"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/head"
	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/internal/preprocess"
)

func solid(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 20, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func newModel(t *testing.T) *Model {
	spec, err := backbone.Lookup(backbone.StatsType)
	require.NoError(t, err)

	m, err := Create(spec, backbone.NewStatsExtractor(), Options{Name: "test", Description: "unit", Seed: 1})
	require.NoError(t, err)
	return m
}

func TestLabel(t *testing.T) {
	p := Label(0.8, DefaultLabels)
	assert.Equal(t, "Real", p.Class)
	assert.Equal(t, 1, p.Index)
	assert.Equal(t, 80.0, p.Confidence)
	assert.Equal(t, 0.8, p.RawScore)

	p = Label(0.2, DefaultLabels)
	assert.Equal(t, "Fake", p.Class)
	assert.Equal(t, 80.0, p.Confidence)

	p = Label(0.5, DefaultLabels)
	assert.Equal(t, "Fake", p.Class)
	assert.Equal(t, 50.0, p.Confidence)

	p = Label(0.123456, DefaultLabels)
	assert.Equal(t, 0.1235, p.RawScore)
	assert.Equal(t, 87.65, p.Confidence)
}

func TestCreate(t *testing.T) {
	m := newModel(t)
	assert.Equal(t, backbone.StatsType, m.Config.Type)
	assert.Equal(t, []int{64, 64, 3}, m.Config.InputShape)
	assert.Equal(t, preprocess.ModeRaw, m.Config.Mode)
	assert.Empty(t, m.Config.BackboneFile)
	assert.Equal(t, DefaultLabels, m.Labels)

	spec, _ := backbone.Lookup(backbone.StatsType)
	_, err := Create(spec, backbone.NewStatsExtractor(), Options{})
	assert.Error(t, err)
	_, err = Create(spec, backbone.NewStatsExtractor(), Options{Name: "x", Labels: []string{"a", "b", "c"}})
	assert.Error(t, err)
}

func TestPredictImage(t *testing.T) {
	m := newModel(t)

	p, err := m.PredictImage(context.Background(), solid(color.White))
	require.NoError(t, err)
	assert.Contains(t, DefaultLabels, p.Class)
	assert.GreaterOrEqual(t, p.Confidence, 50.0)
	assert.LessOrEqual(t, p.Confidence, 100.0)

	scores, err := m.Scores(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestSaveLoad(t *testing.T) {
	m := newModel(t)
	m.Config.TrainingResult.Epochs = 3
	require.NoError(t, m.Head.Compile(head.LossFocal, 1e-4))

	dir := filepath.Join(t.TempDir(), "models", "test")
	require.NoError(t, m.Save(dir))
	// 덮어쓰기
	require.NoError(t, m.Save(dir))

	for _, f := range []string{ConfigFile, LabelsFile, HeadFile} {
		assert.FileExists(t, filepath.Join(dir, f))
	}
	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	loaded, err := Load(dir, nil)
	require.NoError(t, err)
	defer loaded.Close()

	assert.Equal(t, "test", loaded.Config.Name)
	assert.Equal(t, head.LossFocal, loaded.Config.Loss)
	assert.Equal(t, 3, loaded.Config.TrainingResult.Epochs)
	assert.Equal(t, DefaultLabels, loaded.Labels)

	img := solid(color.RGBA{R: 200, G: 30, B: 90, A: 255})
	want, err := m.PredictImage(context.Background(), img)
	require.NoError(t, err)
	got, err := loaded.PredictImage(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir, nil)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("name: x\nclassification: multi\n"), 0o644))
	_, err = Load(dir, nil)
	assert.ErrorContains(t, err, "Unknown classification")
}

func TestSaveRequiresBackboneFile(t *testing.T) {
	m := newModel(t)
	m.Config.BackboneFile = BackboneFile

	dir := filepath.Join(t.TempDir(), "model")
	assert.Error(t, m.Save(dir))
	assert.NoDirExists(t, dir)
}
