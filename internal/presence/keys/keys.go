// Package keys owns the Redis key layout for the presence subsystem.
// Presence keys are "presence:<source>:<venueID>:<visitorID>", shadow copies
// are "presence-shadow:" with the same tail, and reports are
// "report:<source>:<venueID>:<gameID>". All composite-key parsing goes
// through here rather than ad hoc string splitting at call sites.
package keys

import (
	"fmt"
	"strconv"
	"strings"

	"arcade-presence/internal/models"
)

const (
	PresencePrefix = "presence:"
	ShadowPrefix   = "presence-shadow:"
	ArchivedPrefix = "presence-archived:"
	ReportPrefix   = "report:"
)

// Presence builds the live presence key for a venue+visitor pair.
func Presence(venue models.VenueKey, visitorID string) string {
	return PresencePrefix + venue.Source + ":" + strconv.FormatInt(venue.ID, 10) + ":" + visitorID
}

// Shadow builds the shadow-copy key matching a presence key. The shadow
// outlives the live key by a grace period so the expiry reactor can still
// read the payload after Redis has evicted the original.
func Shadow(venue models.VenueKey, visitorID string) string {
	return ShadowPrefix + venue.Source + ":" + strconv.FormatInt(venue.ID, 10) + ":" + visitorID
}

// ShadowFor converts a live presence key into its shadow key.
func ShadowFor(presenceKey string) string {
	return ShadowPrefix + strings.TrimPrefix(presenceKey, PresencePrefix)
}

// LiveFor converts a shadow key back into its live presence key.
func LiveFor(shadowKey string) string {
	return PresencePrefix + strings.TrimPrefix(shadowKey, ShadowPrefix)
}

// ArchivedFor converts a live presence key into its archived-marker key.
// The marker records that an expiry was already turned into an archive
// record, so a duplicate delivery of the same expiry is a no-op.
func ArchivedFor(presenceKey string) string {
	return ArchivedPrefix + strings.TrimPrefix(presenceKey, PresencePrefix)
}

// Report builds the report key for a venue+game pair.
func Report(venue models.VenueKey, gameID int64) string {
	return ReportPrefix + venue.Source + ":" + strconv.FormatInt(venue.ID, 10) + ":" + strconv.FormatInt(gameID, 10)
}

// PresenceScanPattern matches every live presence key of one venue.
func PresenceScanPattern(venue models.VenueKey) string {
	return PresencePrefix + venue.Source + ":" + strconv.FormatInt(venue.ID, 10) + ":*"
}

// ReportScanPattern matches every report key of one venue.
func ReportScanPattern(venue models.VenueKey) string {
	return ReportPrefix + venue.Source + ":" + strconv.FormatInt(venue.ID, 10) + ":*"
}

// IsPresence reports whether the key belongs to the live presence keyspace.
func IsPresence(key string) bool {
	return strings.HasPrefix(key, PresencePrefix)
}

// ParsePresence decodes a presence key back into its venue and visitor.
// Visitor ids are opaque and may themselves contain colons, so the venue
// portion is consumed left to right and the remainder is the visitor.
func ParsePresence(key string) (models.VenueKey, string, error) {
	rest, ok := strings.CutPrefix(key, PresencePrefix)
	if !ok {
		return models.VenueKey{}, "", fmt.Errorf("not a presence key: %q", key)
	}
	return parseVenueTail(key, rest)
}

// ParseReport decodes a report key back into its venue and game id.
func ParseReport(key string) (models.VenueKey, int64, error) {
	rest, ok := strings.CutPrefix(key, ReportPrefix)
	if !ok {
		return models.VenueKey{}, 0, fmt.Errorf("not a report key: %q", key)
	}
	venue, tail, err := parseVenueTail(key, rest)
	if err != nil {
		return models.VenueKey{}, 0, err
	}
	gameID, err := strconv.ParseInt(tail, 10, 64)
	if err != nil {
		return models.VenueKey{}, 0, fmt.Errorf("invalid game id in key %q: %w", key, err)
	}
	return venue, gameID, nil
}

func parseVenueTail(key, rest string) (models.VenueKey, string, error) {
	parts := strings.SplitN(rest, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return models.VenueKey{}, "", fmt.Errorf("malformed key: %q", key)
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return models.VenueKey{}, "", fmt.Errorf("invalid venue id in key %q: %w", key, err)
	}
	return models.VenueKey{Source: parts[0], ID: id}, parts[2], nil
}
