package models

import (
	"time"
)

// ReportRecord is a machine- or crowd-verified occupancy count for one
// venue+game. At most one live record exists per pair; a newer report
// silently supersedes an older one. Reports expire untouched after a fixed
// TTL with no archival side effect.
type ReportRecord struct {
	VenueKey     VenueKey  `json:"venue_key"`
	GameID       int64     `json:"game_id"`
	CurrentCount int       `json:"current_count"`
	ReportedBy   string    `json:"reported_by"`
	ReportedAt   time.Time `json:"reported_at"`
	Comment      string    `json:"comment,omitempty"`
}

// ReportRequest is the HTTP body for submitting an occupancy report.
type ReportRequest struct {
	CurrentCount int    `json:"current_count"`
	Comment      string `json:"comment,omitempty"`
}
