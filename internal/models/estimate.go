package models

import (
	"time"
)

// Contributor is one presence record's slice of an estimate. VisitorID and
// DisplayName are blanked unless the requester may see them; the numeric
// contribution always counts toward the aggregate.
type Contributor struct {
	VisitorID   string    `json:"visitor_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Games       []int64   `json:"games"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

// GameEstimate is the per-game slice of a venue estimate. Occupancy is
// rounded at the presentation boundary only; internal accumulation is
// fractional.
type GameEstimate struct {
	GameID    int64         `json:"game_id"`
	Quantity  int           `json:"quantity"`
	Occupancy int           `json:"estimated_occupancy"`
	Report    *ReportRecord `json:"report,omitempty"`
}

// VenueEstimate is the merged live-occupancy view of one venue.
type VenueEstimate struct {
	VenueKey      VenueKey       `json:"venue_key"`
	TotalEstimate int            `json:"total_estimate"`
	PerGame       []GameEstimate `json:"per_game"`
	Contributors  []Contributor  `json:"contributors,omitempty"`
}
