package store

import (
	"errors"

	"github.com/psantana5/sentiment-pulse/pkg/models"
)

// Store keeps completed analyses so they can be reviewed without the backend.
// Both SQLite and the in-memory store implement this interface.
type Store interface {
	// SaveResult stores result under topic, replacing any earlier analysis
	SaveResult(topic string, result *models.AnalysisResult) error
	GetResult(topic string) (*models.AnalysisResult, error)
	// ListHistory returns stored topics, newest first
	ListHistory() ([]models.HistoryEntry, error)
	DeleteResult(topic string) error

	// Lifecycle
	Close() error
	HealthCheck() error
}

var (
	ErrResultNotFound      = errors.New("result not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
	ErrEmptyTopic          = errors.New("topic is required")
)

// Config holds history store configuration
type Config struct {
	Type string // "sqlite" or "memory"
	Path string // SQLite database file
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = "history.db"
		}
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}
