package db

import "time"

// JournalEntry represents a row in the service_events table.
type JournalEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	ServiceID  string    `json:"service_id"`
	Version    string    `json:"version"`
	Module     string    `json:"module"`
	Methods    []string  `json:"methods"`
	Services   int       `json:"services"`
	Host       string    `json:"host"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecentParams holds parameters for Journal.Recent.
type RecentParams struct {
	// ServiceID filters to one service when set.
	ServiceID string
	// Limit caps the number of rows; values below 1 mean 50.
	Limit int
}
