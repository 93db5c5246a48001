package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/youthcenter/internal/auth"
	"example.com/youthcenter/internal/domain"
	"example.com/youthcenter/internal/files"
	"example.com/youthcenter/internal/identity"
	"example.com/youthcenter/internal/persistence/postgres"
	"example.com/youthcenter/internal/sync"
)

var errNotFound = postgres.ErrNotFound

type memFileMeta struct {
	byID map[string]domain.ActivityFile
}

func newMemFileMeta() *memFileMeta { return &memFileMeta{byID: map[string]domain.ActivityFile{}} }

func (m *memFileMeta) ListFilesByActivity(_ context.Context, activityID string) ([]domain.ActivityFile, error) {
	var out []domain.ActivityFile
	for _, f := range m.byID {
		if f.ActivityID == activityID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memFileMeta) GetFile(_ context.Context, id string) (domain.ActivityFile, error) {
	f, ok := m.byID[id]
	if !ok {
		return domain.ActivityFile{}, errNotFound
	}
	return f, nil
}

func (m *memFileMeta) InsertFile(_ context.Context, f domain.ActivityFile) error {
	m.byID[f.ID] = f
	return nil
}

func (m *memFileMeta) DeleteFile(_ context.Context, id string) error {
	delete(m.byID, id)
	return nil
}

func (m *memFileMeta) DeleteFilesByActivity(_ context.Context, activityID string) error {
	for id, f := range m.byID {
		if f.ActivityID == activityID {
			delete(m.byID, id)
		}
	}
	return nil
}

type memStore struct {
	centers    []domain.Center
	activities []domain.Activity
	nextID     int
}

func (m *memStore) ListCenters(context.Context) ([]domain.Center, error) {
	return m.centers, nil
}

func (m *memStore) ListActivities(context.Context) ([]domain.Activity, error) {
	return m.activities, nil
}

func (m *memStore) InsertActivity(_ context.Context, draft domain.ActivityDraft, _ int64) (domain.Activity, error) {
	m.nextID++
	a := draft.Activity()
	a.ID = fmt.Sprintf("srv-%d", m.nextID)
	return a, nil
}

func (m *memStore) UpdateActivity(context.Context, domain.Activity, int64) error { return nil }
func (m *memStore) DeleteActivity(context.Context, string) error                 { return nil }

type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Put(_ context.Context, key string, payload []byte) error {
	m.data[key] = payload
	return nil
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	payload, ok := m.data[key]
	return payload, ok, nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memKV) List(_ context.Context, prefix string) (map[string][]byte, error) {
	out := map[string][]byte{}
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

type memProfiles struct {
	byID map[string]domain.Profile
}

func newMemProfiles() *memProfiles { return &memProfiles{byID: map[string]domain.Profile{}} }

func (m *memProfiles) ListProfiles(context.Context) ([]domain.Profile, error) {
	var out []domain.Profile
	for _, p := range m.byID {
		out = append(out, p)
	}
	return out, nil
}

func (m *memProfiles) GetProfile(_ context.Context, id string) (domain.Profile, error) {
	p, ok := m.byID[id]
	if !ok {
		return domain.Profile{}, errNotFound
	}
	return p, nil
}

func (m *memProfiles) GetProfileByUsername(_ context.Context, username string) (domain.Profile, error) {
	for _, p := range m.byID {
		if p.Username == username {
			return p, nil
		}
	}
	return domain.Profile{}, errNotFound
}

func (m *memProfiles) GetProfileByEmail(_ context.Context, email string) (domain.Profile, error) {
	for _, p := range m.byID {
		if p.Email == email {
			return p, nil
		}
	}
	return domain.Profile{}, errNotFound
}

func (m *memProfiles) InsertProfile(_ context.Context, p domain.Profile) error {
	m.byID[p.ID] = p
	return nil
}

func (m *memProfiles) UpdateProfile(_ context.Context, p domain.Profile) error {
	m.byID[p.ID] = p
	return nil
}

func (m *memProfiles) DeleteProfile(_ context.Context, id string) error {
	delete(m.byID, id)
	return nil
}

type fixture struct {
	handler *Handler
	mux     *http.ServeMux
	store   *memStore
	svc     *sync.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := &memStore{centers: []domain.Center{{ID: 1, Name: "Jerash", Location: "Jerash"}}}
	svc := sync.NewService(store, newMemKV(), quiet)
	res := svc.Load(context.Background())
	require.False(t, res.Degraded)

	provider, err := identity.NewLocalProvider(context.Background(), newMemKV(),
		"test-secret", "youthcenter", time.Hour, quiet)
	require.NoError(t, err)
	coordinator := auth.NewCoordinator(provider, newMemProfiles(), newMemKV(), quiet)

	blobs, err := files.NewFSBlobStore(t.TempDir())
	require.NoError(t, err)
	attachments := files.NewService(blobs, newMemFileMeta(), svc, quiet)

	handler := NewHandler(svc, coordinator, attachments)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return &fixture{handler: handler, mux: mux, store: store, svc: svc}
}

func (f *fixture) do(t *testing.T, method, target string, body []byte, user *domain.SessionUser) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if user != nil {
		req = req.WithContext(WithSessionUser(req.Context(), *user))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

var (
	adminUser  = domain.SessionUser{ID: "id-admin", Username: "admin", IsAdmin: true}
	viewerUser = domain.SessionUser{ID: "id-omar", Username: "omar"}
)

func TestLoginWithSeededAdmin(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(LoginRequest{Username: "admin", Password: "admin"})
	rec := f.do(t, http.MethodPost, "/v1/session", body, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var view SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "admin", view.Username)
	assert.True(t, view.IsAdmin)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(LoginRequest{Username: "admin", Password: "wrong"})
	rec := f.do(t, http.MethodPost, "/v1/session", body, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRequiresSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodDelete, "/v1/session", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/session", nil, &adminUser)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestActivitiesRequireSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/activities", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListActivities(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(ActivityRequest{
		Name:      "Robotics Workshop",
		Center:    "Jerash",
		Location:  "Jerash",
		StartDate: "2025-06-13",
		EndDate:   "2025-06-20",
	})
	rec := f.do(t, http.MethodPost, "/v1/activities", body, &adminUser)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created ActivityView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "preparing", created.Status)
	assert.False(t, created.PendingSync)

	rec = f.do(t, http.MethodGet, "/v1/activities?search=Robotics", nil, &adminUser)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []ActivityView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, created.ID, list.Items[0].ID)
}

func TestCreateActivityUnknownCenterIsBadRequest(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(ActivityRequest{Name: "Match", Center: "Amman"})
	rec := f.do(t, http.MethodPost, "/v1/activities", body, &adminUser)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListActivitiesRejectsUnknownStatusFilter(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/activities?status=archived", nil, &adminUser)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMissingActivityIs404(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/activities/ghost", nil, &adminUser)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteActivityIsIdempotent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodDelete, "/v1/activities/ghost", nil, &adminUser)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestExportCarriesBOMAndHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/activities/export", nil, &adminUser)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\ufeff"))
	assert.Contains(t, rec.Body.String(), "اسم النشاط")
}

func TestImportCreatesActivities(t *testing.T) {
	f := newFixture(t)

	csvBody := "h1,h2,h3,h4,h5,h6\n" +
		"Robotics Workshop,Jerash,Jerash,2025-06-13,2025-06-20,preparing\n" +
		"Bad Row,Amman,Amman,2025-06-13,2025-06-20,preparing\n"
	rec := f.do(t, http.MethodPost, "/v1/activities/import", []byte(csvBody), &adminUser)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ImportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Imported)
	assert.Len(t, resp.Rejected, 1)
}

func TestUserAdminForbiddenForViewer(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/users", nil, &viewerUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body, _ := json.Marshal(UserRequest{Username: "sara", Password: "secret"})
	rec = f.do(t, http.MethodPost, "/v1/users", body, &viewerUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateUserAndDuplicateConflict(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(UserRequest{Username: "sara", Password: "secret"})
	rec := f.do(t, http.MethodPost, "/v1/users", body, &adminUser)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/users", body, &adminUser)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSelfDeleteIsConflict(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodDelete, "/v1/users/id-admin", nil, &adminUser)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUploadRejectedForPreparingActivity(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(ActivityRequest{Name: "Match", Center: "Jerash"})
	rec := f.do(t, http.MethodPost, "/v1/activities", body, &adminUser)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created ActivityView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("content"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/activities/"+created.ID+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = req.WithContext(WithSessionUser(req.Context(), adminUser))
	res := httptest.NewRecorder()
	f.mux.ServeHTTP(res, req)

	assert.Equal(t, http.StatusConflict, res.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
