// Package sync owns the in-memory activity and center collections and
// mediates every create, update, and delete against the remote store,
// falling back to local-only state when the store is unreachable.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"example.com/youthcenter/internal/cache"
	"example.com/youthcenter/internal/domain"
	"example.com/youthcenter/internal/observability"
)

// ErrCenterNotFound rejects a mutation whose center name does not resolve
// against the loaded center reference set. No store call is made.
var ErrCenterNotFound = errors.New("center not found")

// RemoteStore is the slice of the relational store this service consumes.
type RemoteStore interface {
	ListCenters(ctx context.Context) ([]domain.Center, error)
	ListActivities(ctx context.Context) ([]domain.Activity, error)
	InsertActivity(ctx context.Context, draft domain.ActivityDraft, centerID int64) (domain.Activity, error)
	UpdateActivity(ctx context.Context, a domain.Activity, centerID int64) error
	DeleteActivity(ctx context.Context, id string) error
}

// Cache is the local durable fallback consulted when the remote load fails.
type Cache interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// ChangeKind labels collection change events.
type ChangeKind string

const (
	ChangeLoaded  ChangeKind = "loaded"
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeEvent describes one mutation of the in-memory collection.
// Activity is nil for ChangeLoaded.
type ChangeEvent struct {
	Kind     ChangeKind
	Activity *domain.Activity
}

// Notice is a non-fatal user-visible message emitted by degraded operations.
type Notice struct {
	Level   string // "info" or "warning"
	Message string
}

// LoadResult carries the outcome of a collection load. Degraded marks a
// load served from the local cache (or empty) instead of the remote store.
type LoadResult struct {
	Activities []domain.Activity
	Centers    []domain.Center
	Degraded   bool
}

// Service is the synchronization service. It is the sole owner of the
// in-memory collections; callers read snapshots and invoke mutations,
// never touch the slices directly.
type Service struct {
	store  RemoteStore
	cache  Cache
	logger *slog.Logger

	mu         stdsync.RWMutex
	activities []domain.Activity
	centers    []domain.Center
	changeFns  []func(ChangeEvent)
	noticeFns  []func(Notice)
}

// NewService constructs a Service around the remote store and local cache.
func NewService(store RemoteStore, localCache Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		cache:  localCache,
		logger: logger.With(slog.String("component", "sync")),
	}
}

// OnChange registers an observer for collection changes. Registration is
// expected during composition, before operations run.
func (s *Service) OnChange(fn func(ChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changeFns = append(s.changeFns, fn)
}

// OnNotice registers an observer for user-visible notices.
func (s *Service) OnNotice(fn func(Notice)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noticeFns = append(s.noticeFns, fn)
}

// Load fetches the center reference set and all activities from the
// remote store. It never fails to the caller: on any remote error it
// logs, warns, and serves the last cached snapshot (or an empty
// collection), leaving the center set empty.
func (s *Service) Load(ctx context.Context) LoadResult {
	centers, err := s.store.ListCenters(ctx)
	var activities []domain.Activity
	if err == nil {
		activities, err = s.store.ListActivities(ctx)
	}
	if err != nil {
		s.logger.Warn("remote load failed, serving cached snapshot",
			slog.String("error", err.Error()))
		observability.RecordLoadFailure()
		s.warn("could not reach the activity store; showing the last saved data")

		cached := s.readCachedActivities(ctx)
		s.mu.Lock()
		s.activities = cached
		s.centers = nil
		s.mu.Unlock()
		s.updatePendingGauge()
		s.emit(ChangeEvent{Kind: ChangeLoaded})
		return LoadResult{Activities: snapshot(cached), Degraded: true}
	}

	s.mu.Lock()
	s.activities = activities
	s.centers = centers
	s.mu.Unlock()
	s.updatePendingGauge()

	if err := s.writeCachedActivities(ctx, activities); err != nil {
		s.logger.Warn("cache snapshot failed", slog.String("error", err.Error()))
	}
	observability.RecordLoad(time.Now())
	s.emit(ChangeEvent{Kind: ChangeLoaded})

	return LoadResult{Activities: snapshot(activities), Centers: snapshotCenters(centers)}
}

// Add creates a new activity. The center name must resolve against the
// loaded center set or the operation is rejected before any store call.
// A remote failure does not fail the operation: a fallback record with a
// locally generated identifier is appended and flagged PendingSync.
func (s *Service) Add(ctx context.Context, draft domain.ActivityDraft) (domain.Activity, error) {
	center, ok := s.centerByName(draft.Center)
	if !ok {
		return domain.Activity{}, fmt.Errorf("%w: %q", ErrCenterNotFound, draft.Center)
	}
	draft.Status = domain.ValidateStatus(string(draft.Status))

	created, err := s.store.InsertActivity(ctx, draft, center.ID)
	if err != nil {
		s.logger.Warn("remote insert failed, keeping local fallback record",
			slog.String("name", draft.Name),
			slog.String("error", err.Error()))
		observability.RecordFallbackWrite("add")
		s.warn("activity was saved locally only; the remote store is unreachable")

		created = draft.Activity()
		created.ID = uuid.NewString()
		created.PendingSync = true
	}

	s.mu.Lock()
	s.activities = append(s.activities, created)
	s.mu.Unlock()
	s.updatePendingGauge()
	s.emit(ChangeEvent{Kind: ChangeAdded, Activity: &created})

	return created, nil
}

// Update replaces the stored activity with the same identifier. The
// in-memory entry is replaced whether or not the remote write landed;
// on remote failure the entry carries PendingSync.
func (s *Service) Update(ctx context.Context, a domain.Activity) error {
	center, ok := s.centerByName(a.Center)
	if !ok {
		return fmt.Errorf("%w: %q", ErrCenterNotFound, a.Center)
	}
	a.Status = domain.ValidateStatus(string(a.Status))
	a.PendingSync = false

	if err := s.store.UpdateActivity(ctx, a, center.ID); err != nil {
		s.logger.Warn("remote update failed, keeping local state",
			slog.String("id", a.ID),
			slog.String("error", err.Error()))
		observability.RecordFallbackWrite("update")
		s.warn("changes were saved locally only; the remote store is unreachable")
		a.PendingSync = true
	}

	s.mu.Lock()
	for i := range s.activities {
		if s.activities[i].ID == a.ID {
			s.activities[i] = a
			break
		}
	}
	s.mu.Unlock()
	s.updatePendingGauge()
	s.emit(ChangeEvent{Kind: ChangeUpdated, Activity: &a})

	return nil
}

// Delete removes an activity. Local removal always proceeds regardless of
// the remote outcome; an unknown identifier is a no-op.
func (s *Service) Delete(ctx context.Context, id string) {
	if err := s.store.DeleteActivity(ctx, id); err != nil {
		s.logger.Warn("remote delete failed, removing locally anyway",
			slog.String("id", id),
			slog.String("error", err.Error()))
		observability.RecordFallbackWrite("delete")
		s.warn("the activity was removed locally; the remote store is unreachable")
	}

	var removed *domain.Activity
	s.mu.Lock()
	for i := range s.activities {
		if s.activities[i].ID == id {
			a := s.activities[i]
			removed = &a
			s.activities = append(s.activities[:i], s.activities[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if removed != nil {
		s.updatePendingGauge()
		s.emit(ChangeEvent{Kind: ChangeDeleted, Activity: removed})
	}
}

// GetByID is a pure lookup over the in-memory collection.
func (s *Service) GetByID(id string) (domain.Activity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.activities {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Activity{}, false
}

// Activities returns a snapshot of the in-memory collection.
func (s *Service) Activities() []domain.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.activities)
}

// Centers returns a snapshot of the center reference set.
func (s *Service) Centers() []domain.Center {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotCenters(s.centers)
}

// SnapshotToCache persists the current in-memory collection to the local
// cache. Meant to run on a schedule.
func (s *Service) SnapshotToCache(ctx context.Context) error {
	s.mu.RLock()
	activities := snapshot(s.activities)
	s.mu.RUnlock()
	return s.writeCachedActivities(ctx, activities)
}

func (s *Service) centerByName(name string) (domain.Center, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.centers {
		if c.Name == name {
			return c, true
		}
	}
	return domain.Center{}, false
}

func (s *Service) readCachedActivities(ctx context.Context) []domain.Activity {
	if s.cache == nil {
		return nil
	}
	payload, ok, err := s.cache.Get(ctx, cache.KeyActivities)
	if err != nil || !ok {
		if err != nil {
			s.logger.Warn("cache read failed", slog.String("error", err.Error()))
		}
		return nil
	}
	var activities []domain.Activity
	if err := json.Unmarshal(payload, &activities); err != nil {
		s.logger.Warn("cache payload corrupt, ignoring", slog.String("error", err.Error()))
		return nil
	}
	return activities
}

func (s *Service) writeCachedActivities(ctx context.Context, activities []domain.Activity) error {
	if s.cache == nil {
		return nil
	}
	payload, err := json.Marshal(activities)
	if err != nil {
		return err
	}
	return s.cache.Put(ctx, cache.KeyActivities, payload)
}

func (s *Service) updatePendingGauge() {
	s.mu.RLock()
	pending := 0
	for _, a := range s.activities {
		if a.PendingSync {
			pending++
		}
	}
	s.mu.RUnlock()
	observability.SetPendingSync(pending)
}

func (s *Service) emit(ev ChangeEvent) {
	s.mu.RLock()
	fns := s.changeFns
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Service) warn(msg string) {
	s.mu.RLock()
	fns := s.noticeFns
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(Notice{Level: "warning", Message: msg})
	}
}

func snapshot(in []domain.Activity) []domain.Activity {
	out := make([]domain.Activity, len(in))
	copy(out, in)
	return out
}

func snapshotCenters(in []domain.Center) []domain.Center {
	out := make([]domain.Center, len(in))
	copy(out, in)
	return out
}
