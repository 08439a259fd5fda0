// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"
)

// RequestRecord is the history entry for one settled relay request.
type RequestRecord struct {
	ID          string
	Prompt      string
	Status      string // "ok", "partial", or an error kind
	ErrorDetail string
	ResponseLen int
	Duration    time.Duration
	CreatedAt   time.Time
}

// Repository defines the interface for persisting request history.
type Repository interface {
	// RecordRequest appends a settled request to the history.
	RecordRequest(ctx context.Context, rec *RequestRecord) error

	// RecentRequests retrieves the most recent records, newest first.
	RecentRequests(ctx context.Context, limit int) ([]*RequestRecord, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
