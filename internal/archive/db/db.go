// Package db is the durable side of the presence engine: an append-only
// history of ended presence instances. Records are inserted once and never
// updated or deleted here.
package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"arcade-presence/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// Append inserts one archive record.
func (d *DB) Append(ctx context.Context, rec models.ArchiveRecord) error {
	_, err := d.Bun.NewInsert().Model(&rec).Exec(ctx)
	return err
}

// ListByVisitor returns a visitor's history, newest first.
func (d *DB) ListByVisitor(ctx context.Context, visitorID string, limit int) ([]models.ArchiveRecord, error) {
	var records []models.ArchiveRecord
	q := d.Bun.NewSelect().
		Model(&records).
		Where("visitor_id = ?", visitorID).
		Order("left_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

// CountByVenue returns how many presence instances have ever ended at the
// venue. Used by the platform's venue stats pages.
func (d *DB) CountByVenue(ctx context.Context, venue models.VenueKey) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.ArchiveRecord)(nil)).
		Where("venue_source = ?", venue.Source).
		Where("venue_id = ?", venue.ID).
		Count(ctx)
}

// CountDegradedSince counts expired-reason records with no game data in the
// window, a rough gauge of how many expiry notifications raced eviction.
func (d *DB) CountDegradedSince(ctx context.Context, since time.Time) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.ArchiveRecord)(nil)).
		Where("reason = ?", models.LeaveReasonExpired).
		Where("games = '[]'::jsonb").
		Where("left_at >= ?", since).
		Count(ctx)
}
