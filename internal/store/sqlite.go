package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLiteCatalog implements Catalog using SQLite. Name and pin uniqueness are
// also enforced by the schema.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates a SQLite database.
func NewSQLiteCatalog(path string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteCatalog{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}
	return s, nil
}

func (s *SQLiteCatalog) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS lights (
			name TEXT PRIMARY KEY,
			pin INTEGER NOT NULL UNIQUE,
			on_time TEXT NOT NULL DEFAULT '',
			off_time TEXT NOT NULL DEFAULT '',
			schedule_enabled INTEGER NOT NULL DEFAULT 0,
			schedules TEXT NOT NULL DEFAULT '[]',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_lights_created ON lights(created_at, name);
	`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

const lightColumns = `name, pin, on_time, off_time, schedule_enabled, schedules, created_at`

func scanLight(row rowScanner) (*Light, error) {
	var (
		l         Light
		schedules string
	)
	if err := row.Scan(&l.Name, &l.Pin, &l.On, &l.Off, &l.ScheduleEnabled, &schedules, &l.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schedules), &l.Schedules); err != nil {
		return nil, fmt.Errorf("decode schedules for %s: %w", l.Name, err)
	}
	if len(l.Schedules) == 0 {
		l.Schedules = nil
	}
	return &l, nil
}

func encodeSchedules(l *Light) (string, error) {
	if len(l.Schedules) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(l.Schedules)
	return string(data), err
}

// mapConstraint translates SQLite uniqueness violations into catalog errors.
func mapConstraint(err error, l *Light) error {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.Code != sqlite3.ErrConstraint {
		return err
	}
	if strings.Contains(se.Error(), "lights.pin") {
		return fmt.Errorf("pin %d: %w", l.Pin, ErrPinInUse)
	}
	return fmt.Errorf("light %s: %w", l.Name, ErrNameExists)
}

func (s *SQLiteCatalog) Insert(l *Light) error {
	schedules, err := encodeSchedules(l)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO lights (`+lightColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.Name, l.Pin, l.On, l.Off, l.ScheduleEnabled, schedules, l.CreatedAt,
	)
	if err != nil {
		return mapConstraint(err, l)
	}
	return nil
}

func (s *SQLiteCatalog) Get(name string) (*Light, error) {
	row := s.db.QueryRow(`SELECT `+lightColumns+` FROM lights WHERE name = ?`, name)
	l, err := scanLight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("light %s: %w", name, ErrNotFound)
	}
	return l, err
}

func (s *SQLiteCatalog) Update(name string, fn func(l *Light) error) (*Light, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	l, err := scanLight(tx.QueryRow(`SELECT `+lightColumns+` FROM lights WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("light %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := fn(l); err != nil {
		return nil, err
	}
	l.Name = name

	schedules, err := encodeSchedules(l)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(
		`UPDATE lights SET pin = ?, on_time = ?, off_time = ?, schedule_enabled = ?, schedules = ? WHERE name = ?`,
		l.Pin, l.On, l.Off, l.ScheduleEnabled, schedules, name,
	)
	if err != nil {
		return nil, mapConstraint(err, l)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *SQLiteCatalog) Delete(name string) error {
	res, err := s.db.Exec(`DELETE FROM lights WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("light %s: %w", name, ErrNotFound)
	}
	return nil
}

func (s *SQLiteCatalog) List() ([]*Light, error) {
	rows, err := s.db.Query(`SELECT ` + lightColumns + ` FROM lights ORDER BY created_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lights := make([]*Light, 0)
	for rows.Next() {
		l, err := scanLight(rows)
		if err != nil {
			return nil, err
		}
		lights = append(lights, l)
	}
	return lights, rows.Err()
}

func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}
