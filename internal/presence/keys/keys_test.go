package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcade-presence/internal/models"
)

func TestPresenceKeyRoundTrip(t *testing.T) {
	venue := models.VenueKey{Source: "bemani", ID: 1024}

	key := Presence(venue, "user-42")
	assert.Equal(t, "presence:bemani:1024:user-42", key)
	assert.True(t, IsPresence(key))

	gotVenue, gotVisitor, err := ParsePresence(key)
	require.NoError(t, err)
	assert.Equal(t, venue, gotVenue)
	assert.Equal(t, "user-42", gotVisitor)
}

func TestPresenceKeyRoundTrip_VisitorWithColons(t *testing.T) {
	venue := models.VenueKey{Source: "cab", ID: 7}
	visitor := "oidc:auth0:abc123"

	gotVenue, gotVisitor, err := ParsePresence(Presence(venue, visitor))
	require.NoError(t, err)
	assert.Equal(t, venue, gotVenue)
	assert.Equal(t, visitor, gotVisitor)
}

func TestReportKeyRoundTrip(t *testing.T) {
	venue := models.VenueKey{Source: "bemani", ID: 1024}

	key := Report(venue, 555)
	assert.Equal(t, "report:bemani:1024:555", key)

	gotVenue, gameID, err := ParseReport(key)
	require.NoError(t, err)
	assert.Equal(t, venue, gotVenue)
	assert.Equal(t, int64(555), gameID)
}

func TestShadowFor(t *testing.T) {
	venue := models.VenueKey{Source: "bemani", ID: 9}
	live := Presence(venue, "u1")
	assert.Equal(t, Shadow(venue, "u1"), ShadowFor(live))
	assert.Equal(t, live, LiveFor(ShadowFor(live)))
	assert.False(t, IsPresence(ShadowFor(live)))
}

func TestArchivedFor(t *testing.T) {
	venue := models.VenueKey{Source: "bemani", ID: 9}
	live := Presence(venue, "u1")
	assert.Equal(t, "presence-archived:bemani:9:u1", ArchivedFor(live))
	assert.False(t, IsPresence(ArchivedFor(live)))
}

func TestParsePresence_Malformed(t *testing.T) {
	cases := []string{
		"presence:",
		"presence:bemani",
		"presence:bemani:notanumber:u1",
		"presence:bemani:12:",
		"report:bemani:12:5",
		"m2m_token",
	}
	for _, key := range cases {
		_, _, err := ParsePresence(key)
		assert.Error(t, err, "key %q should not parse", key)
	}
}

func TestParseReport_Malformed(t *testing.T) {
	for _, key := range []string{"report:a:1:not-a-game", "report:a:1:", "presence:a:1:2"} {
		_, _, err := ParseReport(key)
		assert.Error(t, err, "key %q should not parse", key)
	}
}

func TestScanPatterns(t *testing.T) {
	venue := models.VenueKey{Source: "round1", ID: 3}
	assert.Equal(t, "presence:round1:3:*", PresenceScanPattern(venue))
	assert.Equal(t, "report:round1:3:*", ReportScanPattern(venue))
}
