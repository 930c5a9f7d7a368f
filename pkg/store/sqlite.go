package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/psantana5/sentiment-pulse/pkg/models"
)

// SQLiteStore is a SQLite-based history store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL with a busy timeout so a running `serve` and a CLI invocation can share the file
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		topic TEXT PRIMARY KEY,
		total_posts INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_created_at ON results(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveResult stores result under topic
func (s *SQLiteStore) SaveResult(topic string, result *models.AnalysisResult) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrEmptyTopic
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO results (topic, total_posts, payload, created_at)
		VALUES (?, ?, ?, ?)
	`, topic, result.TotalPosts, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save result for %q: %w", topic, err)
	}
	return nil
}

// GetResult retrieves the stored result of topic
func (s *SQLiteStore) GetResult(topic string) (*models.AnalysisResult, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM results WHERE topic = ?`, strings.TrimSpace(topic)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query result: %w", err)
	}

	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode stored result: %w", err)
	}
	return &result, nil
}

// ListHistory returns stored topics, newest first
func (s *SQLiteStore) ListHistory() ([]models.HistoryEntry, error) {
	rows, err := s.db.Query(`SELECT topic, total_posts, created_at FROM results ORDER BY created_at DESC, topic`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.Topic, &e.TotalPosts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteResult removes the stored result of topic
func (s *SQLiteStore) DeleteResult(topic string) error {
	res, err := s.db.Exec(`DELETE FROM results WHERE topic = ?`, strings.TrimSpace(topic))
	if err != nil {
		return fmt.Errorf("failed to delete result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrResultNotFound
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}
