package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConn(t *testing.T) *DBconn {
	conn, err := New(Config{
		DriverName:   "sqlite3",
		ConnInfo:     filepath.Join(t.TempDir(), "detect.db"),
		ImageTable:   "image_tab",
		HistoryTable: "prediction_tab",
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Destroy() })
	return conn
}

func TestImages(t *testing.T) {
	conn := newConn(t)
	now := time.Now().Truncate(time.Second)

	for i, item := range []Item{
		{Subject: "faces", Category: "Fake", OrgFilename: "a.png", Filename: "1-a.png", FileFormat: "png", FilePath: "/images/faces/Fake/1-a.png"},
		{Subject: "faces", Category: "Real", OrgFilename: "b.jpg", Filename: "2-b.jpg", FileFormat: "jpg", FilePath: "/images/faces/Real/2-b.jpg"},
		{Subject: "other", Category: "Real", OrgFilename: "c.jpg", Filename: "3-c.jpg", FileFormat: "jpg", FilePath: "/images/other/Real/3-c.jpg"},
	} {
		item.CreateAt = now.Add(time.Duration(i) * time.Second)
		require.NoError(t, conn.Insert(item))
	}

	infos, items, err := conn.Get(Item{Subject: "faces"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), infos["total"])
	assert.Equal(t, int64(2), infos["successful"])
	require.Len(t, items, 2)
	assert.Equal(t, "1-a.png", items[0].Filename)
	assert.True(t, now.Equal(items[0].CreateAt))

	_, items, err = conn.Get(Item{})
	require.NoError(t, err)
	assert.Len(t, items, 3)

	deleted, err := conn.Delete(Item{Subject: "faces", Category: "Real"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	infos, _, err = conn.Get(Item{Category: "Real"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), infos["total"])
}

func TestPredictions(t *testing.T) {
	conn := newConn(t)

	for _, class := range []string{"Fake", "Real", "Fake"} {
		p := &Prediction{
			Kind:       "image",
			Model:      "default",
			Filename:   class + ".png",
			FilePath:   "/uploads/" + class + ".png",
			Class:      class,
			Confidence: 91.25,
			RawScore:   0.0875,
			CreateAt:   time.Now(),
		}
		require.NoError(t, conn.InsertPrediction(p))
		assert.NotZero(t, p.ID)
	}

	predictions, err := conn.ListPredictions(2)
	require.NoError(t, err)
	require.Len(t, predictions, 2)
	assert.Equal(t, int64(3), predictions[0].ID)
	assert.Equal(t, "Fake", predictions[0].Class)
	assert.Equal(t, 91.25, predictions[0].Confidence)
	assert.Equal(t, int64(2), predictions[1].ID)
}

func TestWhere(t *testing.T) {
	cond, args := where(Item{Subject: "s", Filename: "f"})
	assert.Equal(t, " WHERE subject = ? AND filename = ?", cond)
	assert.Equal(t, []interface{}{"s", "f"}, args)

	cond, args = where(Item{})
	assert.Empty(t, cond)
	assert.Nil(t, args)
}
