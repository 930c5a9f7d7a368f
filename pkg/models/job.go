package models

import (
	"time"
)

// JobState represents the lifecycle state of an analysis job
type JobState string

const (
	JobStateIdle      JobState = "idle"      // No job submitted in this session
	JobStateSubmitted JobState = "submitted" // Create request sent, waiting for acceptance
	JobStatePending   JobState = "pending"   // Accepted by the backend, polling for results
	JobStateCompleted JobState = "completed" // Result delivered
	JobStateFailed    JobState = "failed"    // Start failure or terminal poll failure
)

// DefaultLimit is the per-platform post limit used when none is given
const DefaultLimit = 10

// Job is one topic-scoped scrape-and-analyze request tracked by the poller
type Job struct {
	Token       string     `json:"token"`
	Topic       string     `json:"topic"`
	Limit       int        `json:"limit"`
	State       JobState   `json:"state"`
	SubmittedAt time.Time  `json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Ticks       int        `json:"ticks"`
	Error       string     `json:"error,omitempty"`
}

// Clone returns a copy of the job safe to hand outside a lock
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ScrapeRequest is the body of the create-job request
type ScrapeRequest struct {
	Topic string `json:"topic"`
	Limit int    `json:"limit"`
}

// ScrapeResponse is the acknowledgement returned by the backend on submit
type ScrapeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Topic   string `json:"topic"`
}
