package domain

import "time"

// AuditRecord is the raw model output of one batch, kept for later review.
type AuditRecord struct {
	RunID     string
	Batch     int
	Provider  string
	ItemCount int
	RawOutput string
	CreatedAt time.Time
}
