package models

import (
	"time"
)

// GameEntry is one game a visitor declares simultaneous presence for.
type GameEntry struct {
	GameID            int64  `json:"game_id"`
	GameVersion       string `json:"game_version"`
	SelfReportedCount *int   `json:"self_reported_count,omitempty"`
}

// PresenceRecord is the ephemeral record of one visitor's check-in at one
// venue. At most one live record exists per (venue, visitor); a repeat
// check-in overwrites the prior one. The store's TTL bounds its lifetime;
// the logical timestamps are embedded for audit and for the reconciliation
// sweep.
type PresenceRecord struct {
	VenueKey           VenueKey    `json:"venue_key"`
	VisitorID          string      `json:"visitor_id"`
	Games              []GameEntry `json:"games"`
	CheckedInAt        time.Time   `json:"checked_in_at"`
	PlannedDepartureAt time.Time   `json:"planned_departure_at"`
}

// CheckInRequest is the HTTP body for a check-in.
type CheckInRequest struct {
	Games              []GameEntry `json:"games"`
	PlannedDepartureAt time.Time   `json:"planned_departure_at"`
}

// CheckInResponse reports the TTL the store applied.
type CheckInResponse struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}
