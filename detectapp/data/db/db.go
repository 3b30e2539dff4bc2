package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Config DBconn config
type Config struct {
	DriverName string
	ConnInfo   string

	ImageTable   string
	HistoryTable string
}

// DBconn db 연결정보
type DBconn struct {
	DriverName string
	ConnInfo   string

	ImageTable   string
	HistoryTable string

	db *sql.DB
}

// Item 학습 이미지 항목
type Item struct {
	Subject     string    `json:"subject"`
	Category    string    `json:"category"`
	OrgFilename string    `json:"orgfilename"`
	Filename    string    `json:"filename"`
	FileFormat  string    `json:"format"`
	FilePath    string    `json:"path"`
	CreateAt    time.Time `json:"createAt"`
}

// Prediction 판정 기록
type Prediction struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	Model      string    `json:"model"`
	Filename   string    `json:"filename"`
	FilePath   string    `json:"path"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	RawScore   float64   `json:"raw_score"`
	CreateAt   time.Time `json:"createAt"`
}

func (conn *DBconn) createTables() error {
	if _, err := conn.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		subject VARCHAR(64) NOT NULL,
		category VARCHAR(64) NOT NULL,
		orgfilename VARCHAR(255) NOT NULL,
		filename VARCHAR(255) NOT NULL,
		format VARCHAR(10) NOT NULL,
		path VARCHAR(512) NOT NULL,
		createAt DATETIME NOT NULL);`, conn.ImageTable)); err != nil {
		return err
	}

	autoIncrement := "AUTO_INCREMENT"
	if conn.DriverName == "sqlite3" {
		autoIncrement = "AUTOINCREMENT"
	}
	if _, err := conn.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY %s,
		kind VARCHAR(10) NOT NULL,
		model VARCHAR(64) NOT NULL,
		filename VARCHAR(255) NOT NULL,
		path VARCHAR(512) NOT NULL,
		class VARCHAR(20) NOT NULL,
		confidence DOUBLE NOT NULL,
		rawScore DOUBLE NOT NULL,
		createAt DATETIME NOT NULL);`, conn.HistoryTable, autoIncrement)); err != nil {
		return err
	}

	return nil
}

// 빈 값은 조건에서 제외
func where(item Item) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	for _, c := range []struct {
		column string
		value  string
	}{
		{"subject", item.Subject},
		{"category", item.Category},
		{"filename", item.Filename},
		{"orgfilename", item.OrgFilename},
	} {
		if c.value != "" {
			conds = append(conds, c.column+" = ?")
			args = append(args, c.value)
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Insert 이미지 항목 삽입
func (conn *DBconn) Insert(item Item) error {
	_, err := conn.db.Exec(fmt.Sprintf(`INSERT INTO %s (
		subject,
		category,
		orgfilename,
		filename,
		format,
		path,
		createAt) VALUES (?, ?, ?, ?, ?, ?, ?);`, conn.ImageTable),
		item.Subject, item.Category, item.OrgFilename, item.Filename,
		item.FileFormat, item.FilePath, item.CreateAt.UTC(),
	)

	return err
}

// Get 조건에 맞는 이미지 항목 조회
func (conn *DBconn) Get(param Item) (map[string]int64, []Item, error) {
	cond, args := where(param)
	rows, err := conn.db.Query(fmt.Sprintf(
		"SELECT subject, category, orgfilename, filename, format, path, createAt FROM %s%s ORDER BY createAt;",
		conn.ImageTable, cond), args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		total, failed int64
		items         []Item
	)
	for rows.Next() {
		total++
		var item Item
		if err := rows.Scan(&item.Subject, &item.Category, &item.OrgFilename, &item.Filename,
			&item.FileFormat, &item.FilePath, &item.CreateAt); err != nil {
			slog.Warn("fail to scan image item", "table", conn.ImageTable, "err", err)
			failed++
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	infos := map[string]int64{
		"total":      total,
		"successful": total - failed,
		"failed":     failed,
	}
	return infos, items, nil
}

// Delete 조건에 맞는 이미지 항목 삭제
func (conn *DBconn) Delete(param Item) (int64, error) {
	cond, args := where(param)
	res, err := conn.db.Exec(fmt.Sprintf("DELETE FROM %s%s;", conn.ImageTable, cond), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertPrediction 판정 기록 삽입
func (conn *DBconn) InsertPrediction(p *Prediction) error {
	res, err := conn.db.Exec(fmt.Sprintf(`INSERT INTO %s (
		kind,
		model,
		filename,
		path,
		class,
		confidence,
		rawScore,
		createAt) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`, conn.HistoryTable),
		p.Kind, p.Model, p.Filename, p.FilePath, p.Class, p.Confidence, p.RawScore, p.CreateAt.UTC(),
	)
	if err != nil {
		return err
	}

	if id, err := res.LastInsertId(); err == nil {
		p.ID = id
	}
	return nil
}

// ListPredictions 최근 판정 기록 (최신 순)
func (conn *DBconn) ListPredictions(limit int) ([]Prediction, error) {
	rows, err := conn.db.Query(fmt.Sprintf(
		"SELECT id, kind, model, filename, path, class, confidence, rawScore, createAt FROM %s ORDER BY id DESC LIMIT ?;",
		conn.HistoryTable), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	predictions := make([]Prediction, 0)
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(&p.ID, &p.Kind, &p.Model, &p.Filename, &p.FilePath,
			&p.Class, &p.Confidence, &p.RawScore, &p.CreateAt); err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

// Destroy db connection 해제
func (conn *DBconn) Destroy() error {
	return conn.db.Close()
}

// New 새로운 db connection 생성
func New(cfg Config) (*DBconn, error) {
	db, err := sql.Open(cfg.DriverName, cfg.ConnInfo)
	if err != nil {
		return nil, err
	}

	conn := &DBconn{
		DriverName:   cfg.DriverName,
		ConnInfo:     cfg.ConnInfo,
		ImageTable:   cfg.ImageTable,
		HistoryTable: cfg.HistoryTable,
		db:           db,
	}

	if err := conn.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	return conn, nil
}
