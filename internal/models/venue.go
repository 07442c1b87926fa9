package models

import (
	"fmt"
	"strconv"
	"strings"
)

// VenueKey identifies an arcade by its catalog source and numeric id,
// e.g. "bemani:1024".
type VenueKey struct {
	Source string `json:"source"`
	ID     int64  `json:"id"`
}

func (k VenueKey) String() string {
	return k.Source + ":" + strconv.FormatInt(k.ID, 10)
}

// ParseVenueKey parses a "source:id" pair as used in URLs and store keys.
func ParseVenueKey(s string) (VenueKey, error) {
	idx := strings.LastIndex(s, ":")
	if idx <= 0 || idx == len(s)-1 {
		return VenueKey{}, fmt.Errorf("invalid venue key %q", s)
	}
	id, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return VenueKey{}, fmt.Errorf("invalid venue id in %q: %w", s, err)
	}
	return VenueKey{Source: s[:idx], ID: id}, nil
}

// VenueGame is one cabinet entry in a venue's roster.
type VenueGame struct {
	ID       int64  `json:"id"`
	Version  string `json:"version"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// OpeningHoursDay holds the open/close times for one weekday as "HH:MM"
// strings in the venue's local timezone. A nil entry means closed all day.
type OpeningHoursDay struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// Venue is the catalog's view of an arcade. Claimed venues have a verified
// machine-reporting integration, which makes occupancy reports authoritative.
type Venue struct {
	Key          VenueKey                    `json:"key"`
	Name         string                      `json:"name"`
	Claimed      bool                        `json:"claimed"`
	Games        []VenueGame                 `json:"games"`
	Timezone     string                      `json:"timezone"`
	OpeningHours map[string]*OpeningHoursDay `json:"opening_hours"` // keyed "mon".."sun"
}

// HasGame reports whether the venue's roster contains the given game id.
func (v *Venue) HasGame(gameID int64) bool {
	for _, g := range v.Games {
		if g.ID == gameID {
			return true
		}
	}
	return false
}

// Game returns the roster entry for the given game id, or nil.
func (v *Venue) Game(gameID int64) *VenueGame {
	for i := range v.Games {
		if v.Games[i].ID == gameID {
			return &v.Games[i]
		}
	}
	return nil
}
