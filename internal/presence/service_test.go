package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"arcade-presence/internal/config"
	"arcade-presence/internal/logger"
	"arcade-presence/internal/models"
)

// --- Mock layers ---

type MockStoreLayer struct {
	mock.Mock
}

func (m *MockStoreLayer) PutPresence(ctx context.Context, rec models.PresenceRecord, ttl time.Duration) error {
	args := m.Called(ctx, rec, ttl)
	return args.Error(0)
}

func (m *MockStoreLayer) GetPresence(ctx context.Context, venue models.VenueKey, visitorID string) (*models.PresenceRecord, error) {
	args := m.Called(ctx, venue, visitorID)
	if rec := args.Get(0); rec != nil {
		return rec.(*models.PresenceRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStoreLayer) DeletePresence(ctx context.Context, venue models.VenueKey, visitorID string) (bool, error) {
	args := m.Called(ctx, venue, visitorID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStoreLayer) PutReport(ctx context.Context, rec models.ReportRecord, ttl time.Duration) error {
	args := m.Called(ctx, rec, ttl)
	return args.Error(0)
}

type MockArchiveLayer struct {
	mock.Mock
}

func (m *MockArchiveLayer) Append(ctx context.Context, rec models.ArchiveRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type MockCatalogLayer struct {
	mock.Mock
}

func (m *MockCatalogLayer) GetVenue(ctx context.Context, key models.VenueKey) (*models.Venue, error) {
	args := m.Called(ctx, key)
	if v := args.Get(0); v != nil {
		return v.(*models.Venue), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishCheckedIn(rec models.PresenceRecord) {
	m.Called(rec)
}

func (m *MockEventPublisher) PublishArchived(rec models.ArchiveRecord) {
	m.Called(rec)
}

func (m *MockEventPublisher) PublishReport(rec models.ReportRecord) {
	m.Called(rec)
}

// --- Fixtures ---

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) // a Monday

func testConfig() config.PresenceConfig {
	return config.PresenceConfig{
		TTLFloor:  60 * time.Second,
		MinLead:   10 * time.Minute,
		ReportTTL: 24 * time.Hour,
	}
}

func testVenue() *models.Venue {
	return &models.Venue{
		Key:  models.VenueKey{Source: "bemani", ID: 12},
		Name: "Game Center Akiba",
		Games: []models.VenueGame{
			{ID: 1, Name: "beatmania IIDX", Version: "31", Quantity: 4},
			{ID: 2, Name: "Sound Voltex", Version: "VI", Quantity: 2},
		},
	}
}

func newTestService(store *MockStoreLayer, archive *MockArchiveLayer, cat *MockCatalogLayer, events EventPublisher) *Service {
	svc := NewService(store, archive, cat, events, logger.NewLogger(), testConfig())
	svc.now = func() time.Time { return testNow }
	return svc
}

// --- computeTTL ---

func TestComputeTTL(t *testing.T) {
	floor := 60 * time.Second

	// A departure seconds away still yields a liveable TTL.
	assert.Equal(t, floor, computeTTL(testNow, testNow.Add(5*time.Second), floor))

	// Past departures clamp to the floor too.
	assert.Equal(t, floor, computeTTL(testNow, testNow.Add(-time.Hour), floor))

	// Anything above the floor passes through, truncated to whole seconds.
	assert.Equal(t, 2*time.Hour, computeTTL(testNow, testNow.Add(2*time.Hour), floor))
	assert.Equal(t, 90*time.Second, computeTTL(testNow, testNow.Add(90*time.Second+300*time.Millisecond), floor))
}

// --- CheckIn ---

func TestCheckIn_Success(t *testing.T) {
	store := new(MockStoreLayer)
	archive := new(MockArchiveLayer)
	cat := new(MockCatalogLayer)
	events := new(MockEventPublisher)
	svc := newTestService(store, archive, cat, events)

	venue := testVenue()
	departure := testNow.Add(2 * time.Hour)
	games := []models.GameEntry{{GameID: 1, GameVersion: "31"}}

	cat.On("GetVenue", mock.Anything, venue.Key).Return(venue, nil)
	store.On("PutPresence", mock.Anything, mock.MatchedBy(func(rec models.PresenceRecord) bool {
		return rec.VisitorID == "visitor-1" && rec.CheckedInAt.Equal(testNow)
	}), 2*time.Hour).Return(nil)
	events.On("PublishCheckedIn", mock.Anything).Return()

	ttlSeconds, err := svc.CheckIn(context.Background(), venue.Key, "visitor-1", games, departure)

	require.NoError(t, err)
	assert.Equal(t, int64(7200), ttlSeconds)
	store.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestCheckIn_VenueNotFound(t *testing.T) {
	store := new(MockStoreLayer)
	cat := new(MockCatalogLayer)
	svc := newTestService(store, new(MockArchiveLayer), cat, nil)

	key := models.VenueKey{Source: "bemani", ID: 404}
	cat.On("GetVenue", mock.Anything, key).Return(nil, nil)

	_, err := svc.CheckIn(context.Background(), key, "visitor-1",
		[]models.GameEntry{{GameID: 1}}, testNow.Add(time.Hour))

	assert.ErrorIs(t, err, ErrVenueNotFound)
	store.AssertNotCalled(t, "PutPresence", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckIn_GameValidation(t *testing.T) {
	store := new(MockStoreLayer)
	cat := new(MockCatalogLayer)
	svc := newTestService(store, new(MockArchiveLayer), cat, nil)

	venue := testVenue()
	cat.On("GetVenue", mock.Anything, venue.Key).Return(venue, nil)

	_, err := svc.CheckIn(context.Background(), venue.Key, "visitor-1", nil, testNow.Add(time.Hour))
	assert.ErrorIs(t, err, ErrGameNotInVenue, "empty game list must be rejected")

	_, err = svc.CheckIn(context.Background(), venue.Key, "visitor-1",
		[]models.GameEntry{{GameID: 99}}, testNow.Add(time.Hour))
	assert.ErrorIs(t, err, ErrGameNotInVenue, "game outside the roster must be rejected")
}

func TestCheckIn_DepartureTooSoon(t *testing.T) {
	store := new(MockStoreLayer)
	cat := new(MockCatalogLayer)
	svc := newTestService(store, new(MockArchiveLayer), cat, nil)

	venue := testVenue()
	cat.On("GetVenue", mock.Anything, venue.Key).Return(venue, nil)

	_, err := svc.CheckIn(context.Background(), venue.Key, "visitor-1",
		[]models.GameEntry{{GameID: 1}}, testNow.Add(5*time.Minute))

	assert.ErrorIs(t, err, ErrInvalidDepartureTime)
	store.AssertNotCalled(t, "PutPresence", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckIn_DeparturePastClosing(t *testing.T) {
	store := new(MockStoreLayer)
	cat := new(MockCatalogLayer)
	svc := newTestService(store, new(MockArchiveLayer), cat, nil)

	venue := testVenue()
	venue.Timezone = "UTC"
	venue.OpeningHours = map[string]*models.OpeningHoursDay{
		"mon": {Open: "10:00", Close: "22:00"},
	}
	cat.On("GetVenue", mock.Anything, venue.Key).Return(venue, nil)

	// testNow is Monday noon; 22:00 is the bound.
	_, err := svc.CheckIn(context.Background(), venue.Key, "visitor-1",
		[]models.GameEntry{{GameID: 1}}, testNow.Add(11*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidDepartureTime)

	store.On("PutPresence", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	_, err = svc.CheckIn(context.Background(), venue.Key, "visitor-1",
		[]models.GameEntry{{GameID: 1}}, testNow.Add(9*time.Hour))
	assert.NoError(t, err, "departure before closing must pass")
}

func TestCheckIn_StoreUnavailable(t *testing.T) {
	store := new(MockStoreLayer)
	cat := new(MockCatalogLayer)
	svc := newTestService(store, new(MockArchiveLayer), cat, nil)

	venue := testVenue()
	cat.On("GetVenue", mock.Anything, venue.Key).Return(venue, nil)
	store.On("PutPresence", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	_, err := svc.CheckIn(context.Background(), venue.Key, "visitor-1",
		[]models.GameEntry{{GameID: 1}}, testNow.Add(time.Hour))

	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

// --- CheckOut ---

func TestCheckOut_ArchivesThenDeletes(t *testing.T) {
	store := new(MockStoreLayer)
	archive := new(MockArchiveLayer)
	cat := new(MockCatalogLayer)
	events := new(MockEventPublisher)
	svc := newTestService(store, archive, cat, events)

	venue := testVenue()
	rec := &models.PresenceRecord{
		VenueKey:    venue.Key,
		VisitorID:   "visitor-1",
		Games:       []models.GameEntry{{GameID: 1, GameVersion: "31"}},
		CheckedInAt: testNow.Add(-time.Hour),
	}

	store.On("GetPresence", mock.Anything, venue.Key, "visitor-1").Return(rec, nil)
	cat.On("GetVenue", mock.Anything, venue.Key).Return(venue, nil)
	archive.On("Append", mock.Anything, mock.MatchedBy(func(a models.ArchiveRecord) bool {
		return a.Reason == models.LeaveReasonManual &&
			a.VisitorID == "visitor-1" &&
			len(a.Games) == 1 &&
			a.Games[0].GameName == "beatmania IIDX"
	})).Return(nil)
	store.On("DeletePresence", mock.Anything, venue.Key, "visitor-1").Return(true, nil)
	events.On("PublishArchived", mock.Anything).Return()

	archived, err := svc.CheckOut(context.Background(), venue.Key, "visitor-1")

	require.NoError(t, err)
	require.NotNil(t, archived)
	assert.NotEmpty(t, archived.ID)
	assert.True(t, archived.LeftAt.Equal(testNow))
	archive.AssertNumberOfCalls(t, "Append", 1)
	store.AssertExpectations(t)
}

func TestCheckOut_NotCheckedIn(t *testing.T) {
	store := new(MockStoreLayer)
	archive := new(MockArchiveLayer)
	svc := newTestService(store, archive, new(MockCatalogLayer), nil)

	key := models.VenueKey{Source: "bemani", ID: 12}
	store.On("GetPresence", mock.Anything, key, "visitor-1").Return(nil, nil)

	_, err := svc.CheckOut(context.Background(), key, "visitor-1")

	assert.ErrorIs(t, err, ErrNotFound)
	archive.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestCheckOut_ArchiveFailureKeepsKey(t *testing.T) {
	store := new(MockStoreLayer)
	archive := new(MockArchiveLayer)
	cat := new(MockCatalogLayer)
	svc := newTestService(store, archive, cat, nil)

	venue := testVenue()
	rec := &models.PresenceRecord{
		VenueKey:    venue.Key,
		VisitorID:   "visitor-1",
		Games:       []models.GameEntry{{GameID: 1}},
		CheckedInAt: testNow.Add(-time.Hour),
	}
	store.On("GetPresence", mock.Anything, venue.Key, "visitor-1").Return(rec, nil)
	cat.On("GetVenue", mock.Anything, venue.Key).Return(venue, nil)
	archive.On("Append", mock.Anything, mock.Anything).Return(errors.New("postgres down"))

	_, err := svc.CheckOut(context.Background(), venue.Key, "visitor-1")

	assert.Error(t, err)
	store.AssertNotCalled(t, "DeletePresence", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckOut_CatalogOutageStillArchives(t *testing.T) {
	store := new(MockStoreLayer)
	archive := new(MockArchiveLayer)
	cat := new(MockCatalogLayer)
	svc := newTestService(store, archive, cat, nil)

	key := models.VenueKey{Source: "bemani", ID: 12}
	rec := &models.PresenceRecord{
		VenueKey:    key,
		VisitorID:   "visitor-1",
		Games:       []models.GameEntry{{GameID: 1, GameVersion: "31"}},
		CheckedInAt: testNow.Add(-time.Hour),
	}
	store.On("GetPresence", mock.Anything, key, "visitor-1").Return(rec, nil)
	cat.On("GetVenue", mock.Anything, key).Return(nil, errors.New("catalog down"))
	archive.On("Append", mock.Anything, mock.MatchedBy(func(a models.ArchiveRecord) bool {
		// Name snapshot degrades to blank, the visit is still recorded.
		return len(a.Games) == 1 && a.Games[0].GameName == "" && a.Games[0].GameID == 1
	})).Return(nil)
	store.On("DeletePresence", mock.Anything, key, "visitor-1").Return(true, nil)

	archived, err := svc.CheckOut(context.Background(), key, "visitor-1")

	require.NoError(t, err)
	assert.NotNil(t, archived)
}

// --- SubmitReport ---

func TestSubmitReport_Success(t *testing.T) {
	store := new(MockStoreLayer)
	cat := new(MockCatalogLayer)
	events := new(MockEventPublisher)
	svc := newTestService(store, new(MockArchiveLayer), cat, events)

	venue := testVenue()
	cat.On("GetVenue", mock.Anything, venue.Key).Return(venue, nil)
	store.On("PutReport", mock.Anything, mock.MatchedBy(func(r models.ReportRecord) bool {
		return r.GameID == 2 && r.CurrentCount == 3 && r.ReportedAt.Equal(testNow)
	}), 24*time.Hour).Return(nil)
	events.On("PublishReport", mock.Anything).Return()

	rec, err := svc.SubmitReport(context.Background(), venue.Key, 2, 3, "cab-agent", "line at the left cab")

	require.NoError(t, err)
	assert.Equal(t, "cab-agent", rec.ReportedBy)
	store.AssertExpectations(t)
}

func TestSubmitReport_GameNotInVenue(t *testing.T) {
	store := new(MockStoreLayer)
	cat := new(MockCatalogLayer)
	svc := newTestService(store, new(MockArchiveLayer), cat, nil)

	venue := testVenue()
	cat.On("GetVenue", mock.Anything, venue.Key).Return(venue, nil)

	_, err := svc.SubmitReport(context.Background(), venue.Key, 99, 3, "cab-agent", "")

	assert.ErrorIs(t, err, ErrGameNotInVenue)
	store.AssertNotCalled(t, "PutReport", mock.Anything, mock.Anything, mock.Anything)
}
