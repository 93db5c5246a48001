package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/youthcenter/internal/domain"
)

type fakeStore struct {
	centers    []domain.Center
	activities []domain.Activity

	failInsert bool
	failUpdate bool
	failDelete bool
	failList   bool

	insertCalls int
	deleteCalls int
}

func (f *fakeStore) ListCenters(context.Context) ([]domain.Center, error) {
	if f.failList {
		return nil, errors.New("store down")
	}
	return f.centers, nil
}

func (f *fakeStore) ListActivities(context.Context) ([]domain.Activity, error) {
	if f.failList {
		return nil, errors.New("store down")
	}
	return f.activities, nil
}

func (f *fakeStore) InsertActivity(_ context.Context, draft domain.ActivityDraft, _ int64) (domain.Activity, error) {
	f.insertCalls++
	if f.failInsert {
		return domain.Activity{}, errors.New("store down")
	}
	a := draft.Activity()
	a.ID = "srv-1"
	return a, nil
}

func (f *fakeStore) UpdateActivity(_ context.Context, _ domain.Activity, _ int64) error {
	if f.failUpdate {
		return errors.New("store down")
	}
	return nil
}

func (f *fakeStore) DeleteActivity(context.Context, string) error {
	f.deleteCalls++
	if f.failDelete {
		return errors.New("store down")
	}
	return nil
}

type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Put(_ context.Context, key string, payload []byte) error {
	m.data[key] = append([]byte(nil), payload...)
	return nil
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	payload, ok := m.data[key]
	return payload, ok, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLoaded(t *testing.T, store *fakeStore) *Service {
	t.Helper()
	svc := NewService(store, newMemCache(), quietLogger())
	res := svc.Load(context.Background())
	require.False(t, res.Degraded)
	return svc
}

func jerashStore() *fakeStore {
	return &fakeStore{
		centers: []domain.Center{
			{ID: 1, Name: "Jerash", Location: "Jerash"},
			{ID: 2, Name: "Jerash Girls", Location: "Jerash"},
		},
	}
}

func TestAddUnknownCenterRejectedBeforeStoreCall(t *testing.T) {
	store := jerashStore()
	svc := newLoaded(t, store)

	_, err := svc.Add(context.Background(), domain.ActivityDraft{
		Name:   "Robotics Workshop",
		Center: "Amman",
	})

	require.ErrorIs(t, err, ErrCenterNotFound)
	assert.Zero(t, store.insertCalls)
	assert.Empty(t, svc.Activities())
}

func TestAddMergesServerAssignedIdentifier(t *testing.T) {
	store := jerashStore()
	svc := newLoaded(t, store)

	created, err := svc.Add(context.Background(), domain.ActivityDraft{
		Name:      "Robotics Workshop",
		Center:    "Jerash",
		StartDate: "2025-06-13",
		EndDate:   "2025-06-20",
	})

	require.NoError(t, err)
	assert.Equal(t, "srv-1", created.ID)
	assert.False(t, created.PendingSync)
	assert.Equal(t, domain.StatusPreparing, created.Status)
	assert.Len(t, svc.Activities(), 1)
}

func TestAddFallsBackLocallyWhenStoreFails(t *testing.T) {
	store := jerashStore()
	store.failInsert = true
	svc := newLoaded(t, store)

	var notices []Notice
	svc.OnNotice(func(n Notice) { notices = append(notices, n) })

	created, err := svc.Add(context.Background(), domain.ActivityDraft{
		Name:   "Photography Course",
		Center: "Jerash Girls",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.PendingSync)

	got := svc.Activities()
	require.Len(t, got, 1)
	assert.Equal(t, created.ID, got[0].ID)
	require.Len(t, notices, 1)
	assert.Equal(t, "warning", notices[0].Level)
}

func TestUpdateKeepsLocalStateOnStoreFailure(t *testing.T) {
	store := jerashStore()
	svc := newLoaded(t, store)

	created, err := svc.Add(context.Background(), domain.ActivityDraft{
		Name:   "Basketball Match",
		Center: "Jerash",
	})
	require.NoError(t, err)

	store.failUpdate = true
	created.Name = "Basketball Final"
	require.NoError(t, svc.Update(context.Background(), created))

	got, ok := svc.GetByID(created.ID)
	require.True(t, ok)
	assert.Equal(t, "Basketball Final", got.Name)
	assert.True(t, got.PendingSync)
}

func TestUpdateClearsPendingFlagOnSuccess(t *testing.T) {
	store := jerashStore()
	store.failInsert = true
	svc := newLoaded(t, store)

	created, err := svc.Add(context.Background(), domain.ActivityDraft{
		Name:   "Photography Course",
		Center: "Jerash",
	})
	require.NoError(t, err)
	require.True(t, created.PendingSync)

	store.failInsert = false
	require.NoError(t, svc.Update(context.Background(), created))

	got, ok := svc.GetByID(created.ID)
	require.True(t, ok)
	assert.False(t, got.PendingSync)
}

func TestDeleteRemovesLocallyEvenWhenStoreFails(t *testing.T) {
	store := jerashStore()
	svc := newLoaded(t, store)

	created, err := svc.Add(context.Background(), domain.ActivityDraft{
		Name:   "Robotics Workshop",
		Center: "Jerash",
	})
	require.NoError(t, err)

	store.failDelete = true
	svc.Delete(context.Background(), created.ID)

	assert.Empty(t, svc.Activities())
}

func TestDeleteUnknownIdentifierIsNoOp(t *testing.T) {
	store := jerashStore()
	svc := newLoaded(t, store)

	var events []ChangeEvent
	svc.OnChange(func(ev ChangeEvent) { events = append(events, ev) })

	svc.Delete(context.Background(), "missing")

	assert.Equal(t, 1, store.deleteCalls)
	assert.Empty(t, events)
}

func TestLoadFallsBackToCachedSnapshot(t *testing.T) {
	store := jerashStore()
	localCache := newMemCache()
	svc := NewService(store, localCache, quietLogger())

	store.activities = []domain.Activity{{ID: "a1", Name: "Robotics Workshop", Center: "Jerash"}}
	res := svc.Load(context.Background())
	require.False(t, res.Degraded)
	require.Len(t, res.Activities, 1)

	store.failList = true
	degraded := NewService(store, localCache, quietLogger())
	res = degraded.Load(context.Background())

	assert.True(t, res.Degraded)
	require.Len(t, res.Activities, 1)
	assert.Equal(t, "a1", res.Activities[0].ID)
	assert.Empty(t, degraded.Centers())
}

func TestDegradedLoadStillNotifiesObservers(t *testing.T) {
	store := jerashStore()
	store.failList = true
	svc := NewService(store, newMemCache(), quietLogger())

	var kinds []ChangeKind
	svc.OnChange(func(ev ChangeEvent) { kinds = append(kinds, ev.Kind) })

	res := svc.Load(context.Background())

	require.True(t, res.Degraded)
	assert.Equal(t, []ChangeKind{ChangeLoaded}, kinds)
}

func TestLoadWithEmptyCacheServesEmptyCollection(t *testing.T) {
	store := jerashStore()
	store.failList = true
	svc := NewService(store, newMemCache(), quietLogger())

	res := svc.Load(context.Background())

	assert.True(t, res.Degraded)
	assert.Empty(t, res.Activities)
}

func TestChangeEventsFireForMutations(t *testing.T) {
	store := jerashStore()
	svc := newLoaded(t, store)

	var kinds []ChangeKind
	svc.OnChange(func(ev ChangeEvent) { kinds = append(kinds, ev.Kind) })

	created, err := svc.Add(context.Background(), domain.ActivityDraft{Name: "x", Center: "Jerash"})
	require.NoError(t, err)
	require.NoError(t, svc.Update(context.Background(), created))
	svc.Delete(context.Background(), created.ID)

	assert.Equal(t, []ChangeKind{ChangeAdded, ChangeUpdated, ChangeDeleted}, kinds)
}
