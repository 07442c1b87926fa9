// Package reactor turns presence-key expiry notifications into archive
// records. It runs as a single long-lived background task with its own
// subscription connection; a connection in subscribed mode can only issue
// subscription commands, so all reads and deletes go through a separate
// side-channel client.
package reactor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"arcade-presence/internal/logger"
	"arcade-presence/internal/models"
	"arcade-presence/internal/presence/keys"
	presenceredis "arcade-presence/internal/presence/redis"
)

// degradedSpan is the placeholder duration recorded when an expired key's
// payload is unrecoverable. Chosen to match the report TTL horizon; see
// DESIGN.md before treating it as meaningful.
const degradedSpan = 24 * time.Hour

const (
	archiveAttempts   = 4
	archiveBackoff    = time.Second
	reconnectBackoff  = time.Second
	reconnectBackoffM = time.Minute
)

type ArchiveLayer interface {
	Append(ctx context.Context, rec models.ArchiveRecord) error
}

type EventPublisher interface {
	PublishArchived(rec models.ArchiveRecord)
}

type Reactor struct {
	Subscriber *redis.Client
	Store      *presenceredis.Store
	Archive    ArchiveLayer
	Events     EventPublisher
	Logger     *logger.Logger

	// SweepInterval drives the reconciliation pass over orphaned shadow
	// keys; zero disables the sweep.
	SweepInterval time.Duration

	// mu serializes handleExpired across the notification and sweep paths,
	// so the two can never interleave on the same key.
	mu sync.Mutex

	now func() time.Time
}

func New(subscriber *redis.Client, store *presenceredis.Store, archive ArchiveLayer, events EventPublisher, log *logger.Logger, sweepInterval time.Duration) *Reactor {
	return &Reactor{
		Subscriber:    subscriber,
		Store:         store,
		Archive:       archive,
		Events:        events,
		Logger:        log,
		SweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Run consumes expiry notifications until the context is cancelled. The
// subscription auto-reconnects with capped exponential backoff; transient
// errors are logged, never fatal.
func (r *Reactor) Run(ctx context.Context) {
	r.verifyKeyspaceConfig(ctx)

	if r.SweepInterval > 0 {
		go r.sweepLoop(ctx)
	}

	backoff := reconnectBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		channel := fmt.Sprintf("__keyevent@%d__:expired", r.Subscriber.Options().DB)
		pubsub := r.Subscriber.PSubscribe(ctx, channel)
		r.Logger.LogReactor("SUBSCRIBE", fmt.Sprintf("listening on %s", channel))

		connected := true
		for connected {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					connected = false
					break
				}
				backoff = reconnectBackoff
				r.handleExpired(ctx, msg.Payload)
			}
		}

		_ = pubsub.Close()
		r.Logger.Warn("REACTOR", fmt.Sprintf("subscription lost, reconnecting in %s", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectBackoffM {
			backoff = reconnectBackoffM
		}
	}
}

// handleExpired archives one expired presence key. The shadow copy is the
// side channel: Redis only delivers the key name at expiry, the value is
// already gone, so check-in writes a longer-lived shadow precisely for this
// read. The shadow is consumed atomically and a marker is left behind, so
// when the notification and the sweep both deliver the same expiry exactly
// one of them produces the archive record. An unrecoverable payload still
// yields a degraded record; a lost count beats a lost visit.
func (r *Reactor) handleExpired(ctx context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !keys.IsPresence(key) {
		return
	}

	venue, visitorID, err := keys.ParsePresence(key)
	if err != nil {
		r.Logger.Warn("REACTOR", fmt.Sprintf("unparseable expired key: %v", err))
		return
	}
	r.Logger.LogReactor("EXPIRED", key)

	rec, err := r.Store.ConsumeShadow(ctx, key)
	if err != nil {
		r.Logger.Warn("REACTOR", fmt.Sprintf("shadow read for %s failed: %v", key, err))
		rec = nil
	}
	if rec == nil {
		// No shadow left: either it was never written, it outlived its
		// grace, or the other delivery path already consumed it. The
		// marker distinguishes the last case, which must not archive twice.
		if done, err := r.Store.WasArchived(ctx, key); err == nil && done {
			r.Logger.LogReactor("DUPLICATE", fmt.Sprintf("%s already archived, skipping", key))
			return
		}
	}

	now := r.now()
	archive := models.ArchiveRecord{
		ID:          uuid.NewString(),
		VisitorID:   visitorID,
		VenueSource: venue.Source,
		VenueID:     venue.ID,
		LeftAt:      now,
		Reason:      models.LeaveReasonExpired,
	}
	if rec != nil {
		archive.CheckedInAt = rec.CheckedInAt
		archive.Games = make([]models.ArchivedGame, 0, len(rec.Games))
		for _, g := range rec.Games {
			archive.Games = append(archive.Games, models.ArchivedGame{GameID: g.GameID, GameVersion: g.GameVersion})
		}
	} else {
		// Data loss: keep the historical count, flag the unknown interval
		// with the placeholder span.
		archive.CheckedInAt = now.Add(-degradedSpan)
		archive.Games = []models.ArchivedGame{}
		r.Logger.Warn("REACTOR", fmt.Sprintf("archiving %s degraded, payload unrecoverable", key))
	}

	if !r.appendWithRetry(ctx, archive) {
		return
	}

	if err := r.Store.MarkArchived(ctx, key, r.Store.ShadowGrace); err != nil {
		r.Logger.Warn("REACTOR", fmt.Sprintf("archive marker for %s failed: %v", key, err))
	}
	if r.Events != nil {
		r.Events.PublishArchived(archive)
	}
	r.Logger.LogArchive("EXPIRED", archive.ID, fmt.Sprintf("%s left %s", visitorID, venue))
}

func (r *Reactor) appendWithRetry(ctx context.Context, archive models.ArchiveRecord) bool {
	backoff := archiveBackoff
	for attempt := 1; attempt <= archiveAttempts; attempt++ {
		err := r.Archive.Append(ctx, archive)
		if err == nil {
			return true
		}
		r.Logger.Error("REACTOR", fmt.Sprintf("archive write attempt %d/%d failed: %v", attempt, archiveAttempts, err))
		if attempt == archiveAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return false
}

// sweepLoop reconciles missed notifications: a shadow key whose live key is
// gone means a presence instance ended without being archived. Coverage is
// bounded by the shadow grace window, which is acceptable, delivery is
// best effort by contract.
func (r *Reactor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reactor) sweep(ctx context.Context) {
	shadowKeys, err := r.Store.ScanKeys(ctx, keys.ShadowPrefix+"*")
	if err != nil {
		r.Logger.Warn("REACTOR", fmt.Sprintf("sweep scan failed: %v", err))
		return
	}
	liveKeys, err := r.Store.ScanKeys(ctx, keys.PresencePrefix+"*")
	if err != nil {
		r.Logger.Warn("REACTOR", fmt.Sprintf("sweep scan failed: %v", err))
		return
	}

	live := make(map[string]bool, len(liveKeys))
	for _, k := range liveKeys {
		live[k] = true
	}

	orphans := 0
	for _, shadowKey := range shadowKeys {
		liveKey := keys.LiveFor(shadowKey)
		if live[liveKey] {
			continue
		}
		orphans++
		r.handleExpired(ctx, liveKey)
	}
	if orphans > 0 {
		r.Logger.LogReactor("SWEEP", fmt.Sprintf("reconciled %d orphaned presence instances", orphans))
	}
}

// EnsureExpiryNotifications enables keyspace expiry events without clobbering
// whatever notification classes the operator already configured. The current
// flags are read first and the expiry classes are merged in; CONFIG SET only
// runs when the merge changed something.
func EnsureExpiryNotifications(ctx context.Context, client *redis.Client, log *logger.Logger) error {
	val, err := client.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		return fmt.Errorf("read notify-keyspace-events: %w", err)
	}
	current := ""
	if len(val) >= 2 {
		current, _ = val[1].(string)
	}
	merged := mergeNotifyFlags(current)
	if merged == current {
		return nil
	}
	if err := client.ConfigSet(ctx, "notify-keyspace-events", merged).Err(); err != nil {
		return fmt.Errorf("set notify-keyspace-events: %w", err)
	}
	log.LogReactor("CONFIG", fmt.Sprintf("notify-keyspace-events %q -> %q", current, merged))
	return nil
}

// mergeNotifyFlags adds the keyspace-event classes the reactor needs ("E" for
// keyevent channels, "x" for expired events) to an existing flag set, keeping
// every class already enabled. "A" covers "x" on its own.
func mergeNotifyFlags(current string) string {
	merged := current
	if !strings.ContainsRune(merged, 'E') {
		merged += "E"
	}
	if !strings.ContainsRune(merged, 'x') && !strings.ContainsRune(merged, 'A') {
		merged += "x"
	}
	return merged
}

// verifyKeyspaceConfig mirrors the startup check the service does when
// connecting: expiry events must be enabled or nothing ever arrives.
func (r *Reactor) verifyKeyspaceConfig(ctx context.Context) {
	val, err := r.Subscriber.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		r.Logger.Error("REACTOR", fmt.Sprintf("failed to get keyspace config: %v", err))
		return
	}
	if len(val) < 2 {
		return
	}
	flags, _ := val[1].(string)
	if !strings.Contains(flags, "E") || !strings.Contains(flags, "x") {
		r.Logger.Warn("REACTOR", "keyspace notifications not configured for expiry events")
	}
}
