package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dantezy/polyweather/internal/weather"
	_ "modernc.org/sqlite"
)

// Mirror is the durable copy of the store.
type Mirror interface {
	Load(ctx context.Context, key weather.Key) (*weather.DailyRecord, error)
	LoadAll(ctx context.Context) ([]*weather.DailyRecord, error)
	Save(ctx context.Context, rec *weather.DailyRecord) error
	DeleteBefore(ctx context.Context, before weather.Date) (int64, error)
	Close() error
}

// SQLiteMirror keeps one row per (city, date) with the record as JSON.
type SQLiteMirror struct {
	db *sql.DB
}

// NewSQLiteMirror opens (and creates if needed) the database at path.
func NewSQLiteMirror(path string) (*SQLiteMirror, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps the pragmas below in effect for every query.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	m := &SQLiteMirror{db: db}
	if err := m.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return m, nil
}

func (m *SQLiteMirror) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daily_records (
		city TEXT NOT NULL,
		date TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (city, date)
	);
	CREATE INDEX IF NOT EXISTS idx_daily_records_date ON daily_records(date);
	`
	_, err := m.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (m *SQLiteMirror) Close() error {
	return m.db.Close()
}

// Load returns the stored record for key, ErrNotFound or ErrCorruptRecord.
func (m *SQLiteMirror) Load(ctx context.Context, key weather.Key) (*weather.DailyRecord, error) {
	var payload string
	err := m.db.QueryRowContext(ctx,
		`SELECT payload FROM daily_records WHERE city = ? AND date = ?`,
		key.City, string(key.Date),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying record %s: %w", key, err)
	}
	return decodeRecord(key, payload)
}

// LoadAll returns every decodable record. Corrupt rows are logged and skipped.
func (m *SQLiteMirror) LoadAll(ctx context.Context) ([]*weather.DailyRecord, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT city, date, payload FROM daily_records ORDER BY city, date`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []*weather.DailyRecord
	for rows.Next() {
		var city, date, payload string
		if err := rows.Scan(&city, &date, &payload); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		key := weather.Key{City: city, Date: weather.Date(date)}
		rec, err := decodeRecord(key, payload)
		if err != nil {
			log.Printf("[store] recoverable: skipping %s: %v", key, err)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Save upserts rec.
func (m *SQLiteMirror) Save(ctx context.Context, rec *weather.DailyRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.Key(), err)
	}
	_, err = m.db.ExecContext(ctx, `
	INSERT INTO daily_records (city, date, payload, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(city, date) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, rec.City, string(rec.Date), string(payload), rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving record %s: %w", rec.Key(), err)
	}
	return nil
}

// DeleteBefore removes records dated strictly before the given date.
func (m *SQLiteMirror) DeleteBefore(ctx context.Context, before weather.Date) (int64, error) {
	res, err := m.db.ExecContext(ctx, `DELETE FROM daily_records WHERE date < ?`, string(before))
	if err != nil {
		return 0, fmt.Errorf("pruning records: %w", err)
	}
	return res.RowsAffected()
}

func decodeRecord(key weather.Key, payload string) (*weather.DailyRecord, error) {
	var rec weather.DailyRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrCorruptRecord, key, err)
	}
	if rec.City != key.City || rec.Date != key.Date {
		return nil, fmt.Errorf("%w %s: payload is keyed %s", ErrCorruptRecord, key, rec.Key())
	}
	return &rec, nil
}
