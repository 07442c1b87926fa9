package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	// LeaveReasonManual marks records produced by an explicit check-out.
	LeaveReasonManual = "manual"
	// LeaveReasonExpired marks records produced by TTL expiry.
	LeaveReasonExpired = "expired"
)

// ArchivedGame is the denormalized snapshot of a game entry at capture time.
type ArchivedGame struct {
	GameID      int64  `json:"game_id"`
	GameVersion string `json:"game_version"`
	GameName    string `json:"game_name,omitempty"`
}

// ArchiveRecord is the durable, append-only history of one ended presence
// instance. Immutable once written; never updated in place.
type ArchiveRecord struct {
	bun.BaseModel `bun:"table:presence_archive"`

	ID          string         `bun:"id,pk" json:"id"`
	VisitorID   string         `bun:"visitor_id,notnull" json:"visitor_id"`
	VenueSource string         `bun:"venue_source,notnull" json:"venue_source"`
	VenueID     int64          `bun:"venue_id,notnull" json:"venue_id"`
	Games       []ArchivedGame `bun:"games,type:jsonb" json:"games"`
	CheckedInAt time.Time      `bun:"checked_in_at,notnull" json:"checked_in_at"`
	LeftAt      time.Time      `bun:"left_at,notnull" json:"left_at"`
	Reason      string         `bun:"reason,notnull" json:"reason"`
}

// VenueKeyOf rebuilds the composite venue key from the flattened columns.
func (a *ArchiveRecord) VenueKeyOf() VenueKey {
	return VenueKey{Source: a.VenueSource, ID: a.VenueID}
}
