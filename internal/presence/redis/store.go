// Package redis wraps the go-redis client with the presence and report
// keyspaces. It is the only code that touches raw keys and payload JSON;
// everything above it works with decoded records.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"arcade-presence/internal/logger"
	"arcade-presence/internal/models"
	"arcade-presence/internal/presence/keys"
)

// ErrParse marks payloads that exist in the store but do not decode into
// the expected record shape.
var ErrParse = errors.New("malformed store payload")

// Shadow copies outlive the live key long enough for both the expiry
// reactor's side-channel read and the reconciliation sweep to find them.
const defaultShadowGrace = 30 * time.Minute

type Store struct {
	Client *redis.Client
	Logger *logger.Logger

	// ShadowGrace is how long a shadow copy outlives its live presence key,
	// keeping the payload readable for the expiry reactor.
	ShadowGrace time.Duration
}

func NewStore(client *redis.Client, log *logger.Logger) *Store {
	return &Store{
		Client:      client,
		Logger:      log,
		ShadowGrace: defaultShadowGrace,
	}
}

// PutPresence writes the live presence key with the given TTL, replacing any
// prior record for the pair, and refreshes the shadow copy with TTL+grace.
func (s *Store) PutPresence(ctx context.Context, rec models.PresenceRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}

	pipe := s.Client.TxPipeline()
	pipe.Set(ctx, keys.Presence(rec.VenueKey, rec.VisitorID), payload, ttl)
	pipe.Set(ctx, keys.Shadow(rec.VenueKey, rec.VisitorID), payload, ttl+s.ShadowGrace)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write presence record: %w", err)
	}
	return nil
}

// GetPresence returns the live record for the pair, or nil when none exists.
func (s *Store) GetPresence(ctx context.Context, venue models.VenueKey, visitorID string) (*models.PresenceRecord, error) {
	return s.getPresenceKey(ctx, keys.Presence(venue, visitorID))
}

// ConsumeShadow atomically reads and removes the shadow copy for an
// already-expired presence key (GETDEL). At most one caller can ever receive
// the record; everyone else gets nil. The caller passes the live key as
// received from the expiry notification.
func (s *Store) ConsumeShadow(ctx context.Context, presenceKey string) (*models.PresenceRecord, error) {
	key := keys.ShadowFor(presenceKey)
	val, err := s.Client.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.PresenceRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", ErrParse, key, err)
	}
	return &rec, nil
}

func (s *Store) getPresenceKey(ctx context.Context, key string) (*models.PresenceRecord, error) {
	val, err := s.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.PresenceRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", ErrParse, key, err)
	}
	return &rec, nil
}

// MarkArchived leaves a marker recording that the expiry of this presence
// key was already archived. The marker lives as long as a shadow would, the
// window in which a duplicate delivery of the same expiry is possible.
func (s *Store) MarkArchived(ctx context.Context, presenceKey string, ttl time.Duration) error {
	return s.Client.Set(ctx, keys.ArchivedFor(presenceKey), "1", ttl).Err()
}

// WasArchived reports whether the expiry of this presence key was already
// turned into an archive record.
func (s *Store) WasArchived(ctx context.Context, presenceKey string) (bool, error) {
	n, err := s.Client.Exists(ctx, keys.ArchivedFor(presenceKey)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeletePresence removes the live key and its shadow. Returns whether the
// live key existed; the expiry race is resolved here, whoever deletes first
// owns the archival write.
func (s *Store) DeletePresence(ctx context.Context, venue models.VenueKey, visitorID string) (bool, error) {
	pipe := s.Client.TxPipeline()
	liveDel := pipe.Del(ctx, keys.Presence(venue, visitorID))
	pipe.Del(ctx, keys.Shadow(venue, visitorID))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return liveDel.Val() > 0, nil
}

// PutReport overwrites the live report for the venue+game pair.
func (s *Store) PutReport(ctx context.Context, rec models.ReportRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal report record: %w", err)
	}
	if err := s.Client.Set(ctx, keys.Report(rec.VenueKey, rec.GameID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("write report record: %w", err)
	}
	return nil
}

// GetReport returns the live report for the pair, or nil when none exists.
func (s *Store) GetReport(ctx context.Context, venue models.VenueKey, gameID int64) (*models.ReportRecord, error) {
	val, err := s.Client.Get(ctx, keys.Report(venue, gameID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.ReportRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("%w: report %s/%d: %v", ErrParse, venue, gameID, err)
	}
	return &rec, nil
}

// ScanKeys collects every key matching the pattern. Uses SCAN, not KEYS,
// so estimation traffic does not block the store.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		found  []string
		cursor uint64
	)
	for {
		batch, next, err := s.Client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		found = append(found, batch...)
		cursor = next
		if cursor == 0 {
			return found, nil
		}
	}
}

// MGetPresence fetches and decodes many presence payloads in one round trip.
// Keys that vanished between scan and fetch come back nil and are skipped
// silently; payloads of an unexpected type or that fail to decode are logged
// and skipped so one bad record cannot poison a whole estimate.
func (s *Store) MGetPresence(ctx context.Context, presenceKeys []string) ([]models.PresenceRecord, error) {
	vals, err := s.mget(ctx, presenceKeys)
	if err != nil {
		return nil, err
	}
	records := make([]models.PresenceRecord, 0, len(vals))
	for i, raw := range vals {
		val, ok := s.payload(raw, presenceKeys[i])
		if !ok {
			continue
		}
		var rec models.PresenceRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			s.Logger.Warn("STORE", fmt.Sprintf("%v: key %s: %v", ErrParse, presenceKeys[i], err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// MGetReports fetches and decodes many report payloads in one round trip.
func (s *Store) MGetReports(ctx context.Context, reportKeys []string) ([]models.ReportRecord, error) {
	vals, err := s.mget(ctx, reportKeys)
	if err != nil {
		return nil, err
	}
	records := make([]models.ReportRecord, 0, len(vals))
	for i, raw := range vals {
		val, ok := s.payload(raw, reportKeys[i])
		if !ok {
			continue
		}
		var rec models.ReportRecord
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			s.Logger.Warn("STORE", fmt.Sprintf("%v: key %s: %v", ErrParse, reportKeys[i], err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) mget(ctx context.Context, storeKeys []string) ([]interface{}, error) {
	if len(storeKeys) == 0 {
		return nil, nil
	}
	return s.Client.MGet(ctx, storeKeys...).Result()
}

// payload separates "key vanished between scan and fetch" (nil, expected,
// silent) from a reply of an unexpected type (logged, then skipped).
func (s *Store) payload(raw interface{}, key string) (string, bool) {
	if raw == nil {
		return "", false
	}
	val, ok := raw.(string)
	if !ok {
		s.Logger.Warn("STORE", fmt.Sprintf("%v: key %s: unexpected payload type %T", ErrParse, key, raw))
		return "", false
	}
	return val, true
}

// Ping verifies the store connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}
