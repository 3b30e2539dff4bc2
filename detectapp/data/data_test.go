package data

import (
	"errors"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison-roh/deepfake-detection-with-transfer-learning/detectapp/data/db"
)

func newManager(t *testing.T) *Manager {
	dir := t.TempDir()
	dm, err := New(Config{
		DriverName:  "sqlite3",
		ConnInfo:    filepath.Join(dir, "detect.db"),
		ImagesPath:  filepath.Join(dir, "images"),
		UploadsPath: filepath.Join(dir, "uploads"),
	})
	require.NoError(t, err)
	t.Cleanup(dm.Destroy)
	return dm
}

func writeStub(file *multipart.FileHeader, dst string) error {
	return os.WriteFile(dst, []byte(file.Filename), 0o644)
}

func headers(names ...string) []*multipart.FileHeader {
	hs := make([]*multipart.FileHeader, len(names))
	for i, name := range names {
		hs[i] = &multipart.FileHeader{Filename: name}
	}
	return hs
}

func infos(t *testing.T, result interface{}) map[string]int64 {
	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	i, ok := m["infos"].(map[string]int64)
	require.True(t, ok)
	return i
}

func TestSaveAndListImages(t *testing.T) {
	dm := newManager(t)

	result, err := dm.SaveImages("faces", "Fake", headers("a.png", "b.JPG", "notes.txt"), writeStub, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"total": 3, "successful": 2, "failed": 1}, infos(t, result))

	images := result.(map[string]interface{})["images"].([]db.Item)
	require.Len(t, images, 2)
	assert.Equal(t, "jpg", images[1].FileFormat)
	assert.FileExists(t, images[0].FilePath)
	assert.Equal(t, filepath.Join(dm.ImagesPath(), "faces", "Fake"), filepath.Dir(images[0].FilePath))

	_, err = dm.SaveImages("faces", "Real", headers("c.png"), writeStub, false)
	require.NoError(t, err)

	listed, err := dm.ListImages("faces", "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), infos(t, listed)["total"])
}

func TestSaveImagesRollback(t *testing.T) {
	dm := newManager(t)

	broken := func(*multipart.FileHeader, string) error { return errors.New("disk full") }
	result, err := dm.SaveImages("faces", "Fake", headers("a.png"), broken, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), infos(t, result)["failed"])

	listed, err := dm.ListImages("faces", "Fake")
	require.NoError(t, err)
	assert.Equal(t, int64(0), infos(t, listed)["total"])
}

func TestSaveImagesInvalidName(t *testing.T) {
	dm := newManager(t)

	_, err := dm.SaveImages("../etc", "Fake", headers("a.png"), writeStub, false)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = dm.SaveImages("faces", "", headers("a.png"), writeStub, false)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestDeleteImages(t *testing.T) {
	dm := newManager(t)

	_, err := dm.SaveImages("faces", "Fake", headers("a.png", "b.png"), writeStub, false)
	require.NoError(t, err)

	result, err := dm.DeleteImages("faces", "Fake", "", "a.png", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), infos(t, result)["successful"])
	assert.DirExists(t, filepath.Join(dm.ImagesPath(), "faces", "Fake"))

	_, err = dm.DeleteImages("faces", "", "", "", false)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dm.ImagesPath(), "faces"))
}

func TestSaveUpload(t *testing.T) {
	dm := newManager(t)

	u, err := dm.SaveUpload(&multipart.FileHeader{Filename: "face.png"}, writeStub)
	require.NoError(t, err)
	assert.Equal(t, "face.png", u.OrgFilename)
	assert.Regexp(t, `^[0-9a-f]{8}-face\.png$`, u.Filename)
	assert.FileExists(t, u.FilePath)

	_, err = dm.SaveUpload(&multipart.FileHeader{}, writeStub)
	assert.Error(t, err)
}

func TestHistory(t *testing.T) {
	dm := newManager(t)

	dm.Record(&db.Prediction{Kind: "image", Model: "default", Filename: "a.png", Class: "Real", Confidence: 80})
	dm.Record(&db.Prediction{Kind: "video", Model: "default", Filename: "b.mp4", Class: "Fake", Confidence: 65.5})

	history, err := dm.History(10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "video", history[0].Kind)
	assert.False(t, history[0].CreateAt.IsZero())
}
