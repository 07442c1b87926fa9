package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"arcade-presence/internal/catalog"
	"arcade-presence/internal/config"
	"arcade-presence/internal/logger"
	"arcade-presence/internal/models"
)

type StoreLayer interface {
	PutPresence(ctx context.Context, rec models.PresenceRecord, ttl time.Duration) error
	GetPresence(ctx context.Context, venue models.VenueKey, visitorID string) (*models.PresenceRecord, error)
	DeletePresence(ctx context.Context, venue models.VenueKey, visitorID string) (bool, error)
	PutReport(ctx context.Context, rec models.ReportRecord, ttl time.Duration) error
}

type ArchiveLayer interface {
	Append(ctx context.Context, rec models.ArchiveRecord) error
}

type CatalogLayer interface {
	GetVenue(ctx context.Context, key models.VenueKey) (*models.Venue, error)
}

type EventPublisher interface {
	PublishCheckedIn(rec models.PresenceRecord)
	PublishArchived(rec models.ArchiveRecord)
	PublishReport(rec models.ReportRecord)
}

// Service is the only writer of presence records: check-ins, check-outs and
// occupancy reports all go through here.
type Service struct {
	Store   StoreLayer
	Archive ArchiveLayer
	Catalog CatalogLayer
	Events  EventPublisher
	Logger  *logger.Logger
	Cfg     config.PresenceConfig

	now func() time.Time
}

func NewService(store StoreLayer, archive ArchiveLayer, cat CatalogLayer, events EventPublisher, log *logger.Logger, cfg config.PresenceConfig) *Service {
	return &Service{
		Store:   store,
		Archive: archive,
		Catalog: cat,
		Events:  events,
		Logger:  log,
		Cfg:     cfg,
		now:     time.Now,
	}
}

// computeTTL converts a planned departure into the store TTL, never under
// the floor so a record cannot flicker out of existence mid-request.
func computeTTL(now, departure time.Time, floor time.Duration) time.Duration {
	ttl := departure.Sub(now).Truncate(time.Second)
	if ttl < floor {
		return floor
	}
	return ttl
}

// CheckIn validates and writes one presence record, unconditionally
// replacing any prior record for the same venue+visitor pair. Returns the
// TTL applied in seconds.
func (s *Service) CheckIn(ctx context.Context, venueKey models.VenueKey, visitorID string, games []models.GameEntry, plannedDepartureAt time.Time) (int64, error) {
	venue, err := s.Catalog.GetVenue(ctx, venueKey)
	if err != nil {
		return 0, fmt.Errorf("catalog lookup for %s: %w", venueKey, err)
	}
	if venue == nil {
		return 0, fmt.Errorf("%w: %s", ErrVenueNotFound, venueKey)
	}

	if len(games) == 0 {
		return 0, fmt.Errorf("%w: check-in needs at least one game", ErrGameNotInVenue)
	}
	for _, g := range games {
		if !venue.HasGame(g.GameID) {
			return 0, fmt.Errorf("%w: game %d at %s", ErrGameNotInVenue, g.GameID, venueKey)
		}
	}

	now := s.now()
	if plannedDepartureAt.Before(now.Add(s.Cfg.MinLead)) {
		return 0, fmt.Errorf("%w: departure must be at least %s away", ErrInvalidDepartureTime, s.Cfg.MinLead)
	}
	if closing, ok := catalog.NextClosing(venue, now); ok && plannedDepartureAt.After(closing) {
		return 0, fmt.Errorf("%w: venue closes at %s", ErrInvalidDepartureTime, closing.Format(time.RFC3339))
	}

	rec := models.PresenceRecord{
		VenueKey:           venueKey,
		VisitorID:          visitorID,
		Games:              games,
		CheckedInAt:        now,
		PlannedDepartureAt: plannedDepartureAt,
	}
	ttl := computeTTL(now, plannedDepartureAt, s.Cfg.TTLFloor)
	if err := s.Store.PutPresence(ctx, rec, ttl); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.Logger.LogPresence("CHECKIN", venueKey.String()+"/"+visitorID, fmt.Sprintf("%d games, ttl=%s", len(games), ttl))
	if s.Events != nil {
		s.Events.PublishCheckedIn(rec)
	}
	return int64(ttl / time.Second), nil
}

// CheckOut ends a presence instance early and archives it with
// reason=manual. The archive write happens before the key delete: a crash
// in between leaves the key to expire and produce a detectable duplicate,
// instead of silently losing history. Whichever of checkout and TTL expiry
// consumes the key first owns the single archival write.
func (s *Service) CheckOut(ctx context.Context, venueKey models.VenueKey, visitorID string) (*models.ArchiveRecord, error) {
	rec, err := s.Store.GetPresence(ctx, venueKey, visitorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s at %s", ErrNotFound, visitorID, venueKey)
	}

	archive := models.ArchiveRecord{
		ID:          uuid.NewString(),
		VisitorID:   rec.VisitorID,
		VenueSource: venueKey.Source,
		VenueID:     venueKey.ID,
		Games:       s.denormalizeGames(ctx, venueKey, rec.Games),
		CheckedInAt: rec.CheckedInAt,
		LeftAt:      s.now(),
		Reason:      models.LeaveReasonManual,
	}
	if err := s.Archive.Append(ctx, archive); err != nil {
		// Key stays alive so the caller can retry the whole checkout.
		return nil, fmt.Errorf("archive write failed: %w", err)
	}

	if _, err := s.Store.DeletePresence(ctx, venueKey, visitorID); err != nil {
		s.Logger.Warn("PRESENCE", fmt.Sprintf("checkout archived but delete failed for %s/%s: %v", venueKey, visitorID, err))
	}

	s.Logger.LogArchive("MANUAL", archive.ID, fmt.Sprintf("%s left %s", visitorID, venueKey))
	if s.Events != nil {
		s.Events.PublishArchived(archive)
	}
	return &archive, nil
}

// SubmitReport overwrites the live occupancy report for a venue+game pair.
func (s *Service) SubmitReport(ctx context.Context, venueKey models.VenueKey, gameID int64, count int, reporter, comment string) (*models.ReportRecord, error) {
	venue, err := s.Catalog.GetVenue(ctx, venueKey)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup for %s: %w", venueKey, err)
	}
	if venue == nil {
		return nil, fmt.Errorf("%w: %s", ErrVenueNotFound, venueKey)
	}
	if !venue.HasGame(gameID) {
		return nil, fmt.Errorf("%w: game %d at %s", ErrGameNotInVenue, gameID, venueKey)
	}

	rec := models.ReportRecord{
		VenueKey:     venueKey,
		GameID:       gameID,
		CurrentCount: count,
		ReportedBy:   reporter,
		ReportedAt:   s.now(),
		Comment:      comment,
	}
	if err := s.Store.PutReport(ctx, rec, s.Cfg.ReportTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.Logger.LogPresence("REPORT", venueKey.String(), fmt.Sprintf("game=%d count=%d by=%s", gameID, count, reporter))
	if s.Events != nil {
		s.Events.PublishReport(rec)
	}
	return &rec, nil
}

// denormalizeGames snapshots game names from the catalog roster at capture
// time. Best effort: a catalog outage leaves names blank rather than
// blocking the archive write.
func (s *Service) denormalizeGames(ctx context.Context, venueKey models.VenueKey, games []models.GameEntry) []models.ArchivedGame {
	var venue *models.Venue
	v, err := s.Catalog.GetVenue(ctx, venueKey)
	if err != nil {
		s.Logger.Warn("PRESENCE", fmt.Sprintf("catalog unavailable during archive of %s: %v", venueKey, err))
	} else {
		venue = v
	}

	archived := make([]models.ArchivedGame, 0, len(games))
	for _, g := range games {
		entry := models.ArchivedGame{GameID: g.GameID, GameVersion: g.GameVersion}
		if venue != nil {
			if rosterGame := venue.Game(g.GameID); rosterGame != nil {
				entry.GameName = rosterGame.Name
			}
		}
		archived = append(archived, entry)
	}
	return archived
}
