// Package estimation merges live presence, occupancy reports and the venue
// catalog into per-venue occupancy estimates. It owns no state; every call
// reads a fresh batched snapshot of the stores.
package estimation

import (
	"context"
	"fmt"
	"math"
	"sync"

	"arcade-presence/internal/logger"
	"arcade-presence/internal/models"
	"arcade-presence/internal/presence/keys"
)

type StoreLayer interface {
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	MGetPresence(ctx context.Context, presenceKeys []string) ([]models.PresenceRecord, error)
	MGetReports(ctx context.Context, reportKeys []string) ([]models.ReportRecord, error)
}

type CatalogLayer interface {
	GetVenues(ctx context.Context, venueKeys []models.VenueKey) ([]models.Venue, error)
}

type IdentityLayer interface {
	GetUsers(ctx context.Context, ids []string) ([]models.User, error)
}

// Options controls contributor resolution for one estimate request.
type Options struct {
	IncludeContributors bool
	RequesterID         string
	RequesterAdmin      bool
}

type Engine struct {
	Store    StoreLayer
	Catalog  CatalogLayer
	Identity IdentityLayer
	Logger   *logger.Logger
}

func NewEngine(store StoreLayer, cat CatalogLayer, id IdentityLayer, log *logger.Logger) *Engine {
	return &Engine{Store: store, Catalog: cat, Identity: id, Logger: log}
}

type gameKey struct {
	venue  models.VenueKey
	gameID int64
}

// Estimate computes one VenueEstimate per requested venue. The stores are
// read with one pattern scan per venue plus a single batched multi-get per
// store across all venues; catalog and identity each get one batch call.
// Store and catalog reads run concurrently and are joined before merging.
//
// If the ephemeral store is unreachable the estimates degrade to zero
// instead of failing: venue browsing must survive a presence outage.
func (e *Engine) Estimate(ctx context.Context, venueKeys []models.VenueKey, opts Options) ([]models.VenueEstimate, error) {
	var (
		wg        sync.WaitGroup
		venues    []models.Venue
		presences []models.PresenceRecord
		reports   []models.ReportRecord
		venueErr  error
		storeDown bool
		mu        sync.Mutex
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		v, err := e.Catalog.GetVenues(ctx, venueKeys)
		if err != nil {
			venueErr = fmt.Errorf("catalog batch read: %w", err)
			return
		}
		venues = v
	}()
	go func() {
		defer wg.Done()
		recs, err := e.collectPresence(ctx, venueKeys)
		if err != nil {
			e.Logger.Warn("ESTIMATE", fmt.Sprintf("presence store read failed, degrading to zero: %v", err))
			mu.Lock()
			storeDown = true
			mu.Unlock()
			return
		}
		presences = recs
	}()
	go func() {
		defer wg.Done()
		recs, err := e.collectReports(ctx, venueKeys)
		if err != nil {
			e.Logger.Warn("ESTIMATE", fmt.Sprintf("report store read failed, degrading to zero: %v", err))
			mu.Lock()
			storeDown = true
			mu.Unlock()
			return
		}
		reports = recs
	}()
	wg.Wait()

	if venueErr != nil {
		return nil, venueErr
	}
	if storeDown {
		presences = nil
		reports = nil
	}

	venueByKey := make(map[models.VenueKey]*models.Venue, len(venues))
	for i := range venues {
		venueByKey[venues[i].Key] = &venues[i]
	}
	presenceByVenue := make(map[models.VenueKey][]models.PresenceRecord)
	for _, p := range presences {
		presenceByVenue[p.VenueKey] = append(presenceByVenue[p.VenueKey], p)
	}
	reportByGame := make(map[gameKey]*models.ReportRecord, len(reports))
	for i := range reports {
		r := &reports[i]
		reportByGame[gameKey{r.VenueKey, r.GameID}] = r
	}

	users := e.resolveUsers(ctx, opts, presences)

	results := make([]models.VenueEstimate, 0, len(venueKeys))
	for _, key := range venueKeys {
		results = append(results, e.estimateVenue(key, venueByKey[key], presenceByVenue[key], reportByGame, users, opts))
	}
	return results, nil
}

// estimateVenue applies the merge rules for one venue. Fractional
// contributions accumulate unrounded; rounding happens once per game and
// once for the venue total, both at the very end.
func (e *Engine) estimateVenue(
	key models.VenueKey,
	venue *models.Venue,
	presences []models.PresenceRecord,
	reportByGame map[gameKey]*models.ReportRecord,
	users map[string]models.User,
	opts Options,
) models.VenueEstimate {
	result := models.VenueEstimate{VenueKey: key}
	if venue == nil {
		// Venue vanished from the catalog; nothing to estimate against.
		return result
	}

	total := 0.0
	for _, game := range venue.Games {
		report := reportByGame[gameKey{key, game.ID}]
		occupancy := 0.0
		if report != nil {
			occupancy = float64(report.CurrentCount)
		}

		// Reports are authoritative for claimed venues; self-reported
		// presence only counts elsewhere, and only when it postdates the
		// latest report for that game.
		if !venue.Claimed {
			for _, p := range presences {
				if !playsGame(p, game.ID) {
					continue
				}
				if report != nil && !p.CheckedInAt.After(report.ReportedAt) {
					continue
				}
				occupancy += 1.0 / float64(len(p.Games))
			}
		}

		total += occupancy
		result.PerGame = append(result.PerGame, models.GameEstimate{
			GameID:    game.ID,
			Quantity:  game.Quantity,
			Occupancy: int(math.Round(occupancy)),
			Report:    report,
		})
	}
	result.TotalEstimate = int(math.Round(total))

	if opts.IncludeContributors {
		result.Contributors = e.buildContributors(presences, users, opts)
	}
	return result
}

// resolveUsers makes the single identity batch call needed for contributor
// redaction. Identity failures degrade to anonymous contributors.
func (e *Engine) resolveUsers(ctx context.Context, opts Options, presences []models.PresenceRecord) map[string]models.User {
	if !opts.IncludeContributors || len(presences) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(presences))
	ids := make([]string, 0, len(presences))
	for _, p := range presences {
		if !seen[p.VisitorID] {
			seen[p.VisitorID] = true
			ids = append(ids, p.VisitorID)
		}
	}
	resolved, err := e.Identity.GetUsers(ctx, ids)
	if err != nil {
		e.Logger.Warn("ESTIMATE", fmt.Sprintf("identity batch read failed, contributors stay anonymous: %v", err))
		return nil
	}
	users := make(map[string]models.User, len(resolved))
	for _, u := range resolved {
		users[u.ID] = u
	}
	return users
}

// buildContributors lists each presence record's slice of the estimate.
// Identity is attached only for the requester themself, an admin requester,
// or visitors who opted into public presence; everyone else stays in the
// count but out of the list by name.
func (e *Engine) buildContributors(presences []models.PresenceRecord, users map[string]models.User, opts Options) []models.Contributor {
	contributors := make([]models.Contributor, 0, len(presences))
	for _, p := range presences {
		games := make([]int64, 0, len(p.Games))
		for _, g := range p.Games {
			games = append(games, g.GameID)
		}
		c := models.Contributor{Games: games, CheckedInAt: p.CheckedInAt}

		user, known := users[p.VisitorID]
		visible := opts.RequesterAdmin ||
			(opts.RequesterID != "" && opts.RequesterID == p.VisitorID) ||
			(known && user.PresencePublic)
		if visible {
			c.VisitorID = p.VisitorID
			c.DisplayName = user.DisplayName
		}
		contributors = append(contributors, c)
	}
	return contributors
}

func (e *Engine) collectPresence(ctx context.Context, venueKeys []models.VenueKey) ([]models.PresenceRecord, error) {
	var allKeys []string
	for _, key := range venueKeys {
		found, err := e.Store.ScanKeys(ctx, keys.PresenceScanPattern(key))
		if err != nil {
			return nil, err
		}
		allKeys = append(allKeys, found...)
	}
	return e.Store.MGetPresence(ctx, allKeys)
}

func (e *Engine) collectReports(ctx context.Context, venueKeys []models.VenueKey) ([]models.ReportRecord, error) {
	var allKeys []string
	for _, key := range venueKeys {
		found, err := e.Store.ScanKeys(ctx, keys.ReportScanPattern(key))
		if err != nil {
			return nil, err
		}
		allKeys = append(allKeys, found...)
	}
	return e.Store.MGetReports(ctx, allKeys)
}

func playsGame(p models.PresenceRecord, gameID int64) bool {
	for _, g := range p.Games {
		if g.GameID == gameID {
			return true
		}
	}
	return false
}
