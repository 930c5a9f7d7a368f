package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/psantana5/sentiment-pulse/pkg/models"
)

type memoryEntry struct {
	payload    []byte
	totalPosts int
	createdAt  time.Time
}

// MemoryStore is an in-memory history store. Results are kept encoded so
// callers never share a result with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SaveResult stores result under topic
func (s *MemoryStore) SaveResult(topic string, result *models.AnalysisResult) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrEmptyTopic
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[topic] = memoryEntry{payload: payload, totalPosts: result.TotalPosts, createdAt: s.now().UTC()}
	return nil
}

// GetResult retrieves the stored result of topic
func (s *MemoryStore) GetResult(topic string) (*models.AnalysisResult, error) {
	s.mu.RLock()
	entry, ok := s.entries[strings.TrimSpace(topic)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrResultNotFound
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(entry.payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode stored result: %w", err)
	}
	return &result, nil
}

// ListHistory returns stored topics, newest first
func (s *MemoryStore) ListHistory() ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]models.HistoryEntry, 0, len(s.entries))
	for topic, e := range s.entries {
		entries = append(entries, models.HistoryEntry{Topic: topic, TotalPosts: e.totalPosts, CreatedAt: e.createdAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].Topic < entries[j].Topic
	})
	return entries, nil
}

// DeleteResult removes the stored result of topic
func (s *MemoryStore) DeleteResult(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	topic = strings.TrimSpace(topic)
	if _, ok := s.entries[topic]; !ok {
		return ErrResultNotFound
	}
	delete(s.entries, topic)
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck() error {
	return nil
}
