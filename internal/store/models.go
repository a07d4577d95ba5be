package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/i474232898/climate-risk-alerts/internal/climate"
	"github.com/i474232898/climate-risk-alerts/internal/forecast"
)

// SQLiteModelStore persists fitted forecast models keyed by (city, metric).
type SQLiteModelStore struct {
	db     *sql.DB
	DBPath string
}

// NewSQLiteModelStore opens (and if needed creates) the model database.
// Use ":memory:" for an ephemeral store.
func NewSQLiteModelStore(dbPath string) (*SQLiteModelStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create model directory: %w", err)
		}
	}

	slog.Info("store: opening model database", "path", dbPath)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open model database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS forecast_models (
		city TEXT NOT NULL,
		metric TEXT NOT NULL,
		artifact TEXT NOT NULL,
		trained_at DATETIME NOT NULL,
		PRIMARY KEY (city, metric)
	);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteModelStore{db: db, DBPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteModelStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save upserts the model for key.
func (s *SQLiteModelStore) Save(ctx context.Context, key forecast.Key, m *forecast.SeasonalTrend) error {
	artifact, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode model %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forecast_models (city, metric, artifact, trained_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(city, metric) DO UPDATE SET
			artifact = excluded.artifact,
			trained_at = excluded.trained_at`,
		key.City, string(key.Metric), string(artifact), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save model %s: %w", key, err)
	}
	return nil
}

// Load returns the model for key or forecast.ErrModelNotFound.
func (s *SQLiteModelStore) Load(ctx context.Context, key forecast.Key) (forecast.Model, error) {
	var artifact string
	err := s.db.QueryRowContext(ctx,
		`SELECT artifact FROM forecast_models WHERE city = ? AND metric = ?`,
		key.City, string(key.Metric)).Scan(&artifact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", forecast.ErrModelNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", key, err)
	}

	var m forecast.SeasonalTrend
	if err := json.Unmarshal([]byte(artifact), &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", key, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", key, err)
	}
	return &m, nil
}

// Exists reports whether a model is stored for key.
func (s *SQLiteModelStore) Exists(ctx context.Context, key forecast.Key) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM forecast_models WHERE city = ? AND metric = ?`,
		key.City, string(key.Metric)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check model %s: %w", key, err)
	}
	return n > 0, nil
}

// Keys lists every stored model key ordered by city then metric.
func (s *SQLiteModelStore) Keys(ctx context.Context) ([]forecast.Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT city, metric FROM forecast_models ORDER BY city, metric`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var keys []forecast.Key
	for rows.Next() {
		var city, metric string
		if err := rows.Scan(&city, &metric); err != nil {
			return nil, err
		}
		keys = append(keys, forecast.Key{City: city, Metric: climate.Metric(metric)})
	}
	return keys, rows.Err()
}
