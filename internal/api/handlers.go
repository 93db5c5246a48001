// Package api exposes HTTP handlers for the record-keeping service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/youthcenter/internal/auth"
	"example.com/youthcenter/internal/domain"
	"example.com/youthcenter/internal/exchange"
	"example.com/youthcenter/internal/files"
	"example.com/youthcenter/internal/identity"
	"example.com/youthcenter/internal/persistence/postgres"
	"example.com/youthcenter/internal/sync"
)

// Handler coordinates HTTP requests with the synchronization service,
// the session coordinator, and the attachment service.
type Handler struct {
	activities  *sync.Service
	coordinator *auth.Coordinator
	attachments *files.Service
	now         func() time.Time
}

// NewHandler builds a Handler.
func NewHandler(activities *sync.Service, coordinator *auth.Coordinator, attachments *files.Service) *Handler {
	return &Handler{
		activities:  activities,
		coordinator: coordinator,
		attachments: attachments,
		now:         time.Now,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/session", h.session)
	mux.HandleFunc("/v1/activities", h.activitiesRoot)
	mux.HandleFunc("/v1/activities/export", h.exportActivities)
	mux.HandleFunc("/v1/activities/import", h.importActivities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/files/", h.fileByID)
	mux.HandleFunc("/v1/centers", h.listCenters)
	mux.HandleFunc("/v1/users", h.usersRoot)
	mux.HandleFunc("/v1/users/", h.userByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type sessionUserKey struct{}

// sessionUser extracts the request's session user, validating the bearer
// token with the coordinator.
func (h *Handler) sessionUser(r *http.Request) (domain.SessionUser, bool) {
	if user, ok := r.Context().Value(sessionUserKey{}).(domain.SessionUser); ok {
		return user, true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return domain.SessionUser{}, false
	}
	user, err := h.coordinator.SessionFromToken(r.Context(), token)
	if err != nil {
		return domain.SessionUser{}, false
	}
	return user, true
}

func (h *Handler) requireSession(w http.ResponseWriter, r *http.Request) (domain.SessionUser, bool) {
	user, ok := h.sessionUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
	}
	return user, ok
}

// WithSessionUser injects a session user, bypassing token validation.
// Tests use it.
func WithSessionUser(ctx context.Context, user domain.SessionUser) context.Context {
	return context.WithValue(ctx, sessionUserKey{}, user)
}

// --- session ---

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.login(w, r)
	case http.MethodGet:
		h.currentSession(w, r)
	case http.MethodDelete:
		h.logout(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// LoginRequest is the payload for POST /v1/session.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Validate ensures request correctness.
func (r LoginRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return errors.New("username is required")
	}
	if r.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// SessionView describes the signed-in user.
type SessionView struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	user, err := h.coordinator.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "username or password is wrong")
			return
		}
		writeError(w, http.StatusBadGateway, "identity_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(user))
}

func (h *Handler) currentSession(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionView(user))
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w, r); !ok {
		return
	}
	h.coordinator.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func toSessionView(user domain.SessionUser) SessionView {
	return SessionView{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin}
}

// --- activities ---

func (h *Handler) activitiesRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listActivities(w, r)
	case http.MethodPost:
		h.createActivity(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// ActivityView exposes one activity with its derived alert fields.
type ActivityView struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Center               string `json:"center"`
	Location             string `json:"location"`
	StartDate            string `json:"startDate"`
	EndDate              string `json:"endDate"`
	Status               string `json:"status"`
	Description          string `json:"description,omitempty"`
	ExpectedParticipants *int   `json:"expectedParticipants,omitempty"`
	PendingSync          bool   `json:"pendingSync"`
	DaysRemaining        *int   `json:"daysRemaining,omitempty"`
	AlertLevel           *int   `json:"alertLevel,omitempty"`
}

func (h *Handler) toActivityView(a domain.Activity) ActivityView {
	view := ActivityView{
		ID:                   a.ID,
		Name:                 a.Name,
		Center:               a.Center,
		Location:             a.Location,
		StartDate:            a.StartDate,
		EndDate:              a.EndDate,
		Status:               string(a.Status),
		Description:          a.Description,
		ExpectedParticipants: a.ExpectedParticipants,
		PendingSync:          a.PendingSync,
	}
	now := h.now()
	if days, err := domain.DaysRemaining(a.StartDate, now); err == nil {
		view.DaysRemaining = &days
	}
	if level, ok := domain.AlertLevel(a, now); ok {
		view.AlertLevel = &level
	}
	return view
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w, r); !ok {
		return
	}

	var status *domain.ActivityStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !domain.IsValidStatus(raw) {
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown status filter")
			return
		}
		s := domain.ActivityStatus(raw)
		status = &s
	}
	search := r.URL.Query().Get("search")

	filtered := domain.FilterActivities(h.activities.Activities(), search, status)
	items := make([]ActivityView, 0, len(filtered))
	for _, a := range filtered {
		items = append(items, h.toActivityView(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ActivityRequest is the payload for creating or updating an activity.
type ActivityRequest struct {
	Name                 string `json:"name"`
	Center               string `json:"center"`
	Location             string `json:"location"`
	StartDate            string `json:"startDate"`
	EndDate              string `json:"endDate"`
	Status               string `json:"status"`
	Description          string `json:"description"`
	ExpectedParticipants *int   `json:"expectedParticipants"`
}

// Validate ensures request correctness.
func (r ActivityRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(r.Center) == "" {
		return errors.New("center is required")
	}
	for _, date := range []string{r.StartDate, r.EndDate} {
		if date == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, date); err != nil {
			return errors.New("dates must use the YYYY-MM-DD layout")
		}
	}
	return nil
}

func (r ActivityRequest) draft() domain.ActivityDraft {
	return domain.ActivityDraft{
		Name:                 r.Name,
		Center:               r.Center,
		Location:             r.Location,
		StartDate:            r.StartDate,
		EndDate:              r.EndDate,
		Status:               domain.ValidateStatus(r.Status),
		Description:          r.Description,
		ExpectedParticipants: r.ExpectedParticipants,
	}
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w, r); !ok {
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	created, err := h.activities.Add(r.Context(), req.draft())
	if err != nil {
		if errors.Is(err, sync.ErrCenterNotFound) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, h.toActivityView(created))
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}
	if sub == "files" {
		h.activityFiles(w, r, id)
		return
	}
	if sub != "" {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, id)
	case http.MethodPut:
		h.updateActivity(w, r, id)
	case http.MethodDelete:
		h.deleteActivity(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.requireSession(w, r); !ok {
		return
	}
	activity, ok := h.activities.GetByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
		return
	}
	writeJSON(w, http.StatusOK, h.toActivityView(activity))
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.requireSession(w, r); !ok {
		return
	}
	if _, ok := h.activities.GetByID(id); !ok {
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activity := req.draft().Activity()
	activity.ID = id
	if err := h.activities.Update(r.Context(), activity); err != nil {
		if errors.Is(err, sync.ErrCenterNotFound) {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	updated, _ := h.activities.GetByID(id)
	writeJSON(w, http.StatusOK, h.toActivityView(updated))
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.requireSession(w, r); !ok {
		return
	}
	h.activities.Delete(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// --- import / export ---

func (h *Handler) exportActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := h.requireSession(w, r); !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="activities.csv"`)
	if err := exchange.Export(w, h.activities.Activities()); err != nil {
		// Headers are already out; nothing useful left to send.
		return
	}
}

// ImportResponse summarizes an import run.
type ImportResponse struct {
	Imported int      `json:"imported"`
	Rejected []string `json:"rejected,omitempty"`
}

func (h *Handler) importActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := h.requireSession(w, r); !ok {
		return
	}

	result, err := exchange.Import(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp := ImportResponse{}
	for _, rowErr := range result.Errors {
		resp.Rejected = append(resp.Rejected, rowErr.Error())
	}
	for _, draft := range result.Drafts {
		if _, err := h.activities.Add(r.Context(), draft); err != nil {
			resp.Rejected = append(resp.Rejected, draft.Name+": "+err.Error())
			continue
		}
		resp.Imported++
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- attachments ---

// FileView exposes one attachment's metadata.
type FileView struct {
	ID         string     `json:"id"`
	ActivityID string     `json:"activityId"`
	FileName   string     `json:"fileName"`
	FileType   string     `json:"fileType,omitempty"`
	FileSize   *int64     `json:"fileSize,omitempty"`
	UploadedAt *time.Time `json:"uploadedAt,omitempty"`
}

func toFileView(f domain.ActivityFile) FileView {
	return FileView{
		ID:         f.ID,
		ActivityID: f.ActivityID,
		FileName:   f.FileName,
		FileType:   f.FileType,
		FileSize:   f.FileSize,
		UploadedAt: f.UploadedAt,
	}
}

func (h *Handler) activityFiles(w http.ResponseWriter, r *http.Request, activityID string) {
	if _, ok := h.requireSession(w, r); !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := h.attachments.List(r.Context(), activityID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		items := make([]FileView, 0, len(list))
		for _, f := range list {
			items = append(items, toFileView(f))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		h.uploadFile(w, r, activityID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) uploadFile(w http.ResponseWriter, r *http.Request, activityID string) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	rec, err := h.attachments.Upload(r.Context(), activityID, header.Filename,
		header.Header.Get("Content-Type"), file)
	if err != nil {
		if errors.Is(err, files.ErrUploadNotAllowed) {
			writeError(w, http.StatusConflict, "upload_not_allowed", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toFileView(rec))
}

func (h *Handler) fileByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/files/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing file id")
		return
	}
	if _, ok := h.requireSession(w, r); !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, rc, err := h.attachments.Open(r.Context(), id)
		if err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "file not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		defer rc.Close()
		if rec.FileType != "" {
			w.Header().Set("Content-Type", rec.FileType)
		}
		w.Header().Set("Content-Disposition", `attachment; filename="`+rec.FileName+`"`)
		_, _ = io.Copy(w, rc)
	case http.MethodDelete:
		if err := h.attachments.Delete(r.Context(), id); err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "file not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// --- centers ---

// CenterView exposes one center.
type CenterView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

func (h *Handler) listCenters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if _, ok := h.requireSession(w, r); !ok {
		return
	}

	centers := h.activities.Centers()
	items := make([]CenterView, 0, len(centers))
	for _, c := range centers {
		items = append(items, CenterView{ID: c.ID, Name: c.Name, Location: c.Location})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// --- users ---

// UserView exposes one profile.
type UserView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	IsAdmin  bool   `json:"isAdmin"`
}

func toUserView(p domain.Profile) UserView {
	return UserView{ID: p.ID, Username: p.Username, Email: p.Email, Phone: p.Phone, IsAdmin: p.IsAdmin}
}

func (h *Handler) usersRoot(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		profiles, err := h.coordinator.FetchUsers(r.Context(), user)
		if err != nil {
			h.writeUserAdminError(w, err)
			return
		}
		items := make([]UserView, 0, len(profiles))
		for _, p := range profiles {
			items = append(items, toUserView(p))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		h.createUser(w, r, user)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// UserRequest is the payload for creating or updating an account.
type UserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"isAdmin"`
}

// Validate ensures request correctness. Password presence is checked by
// the caller since updates may omit it.
func (r UserRequest) Validate() error {
	if strings.TrimSpace(r.Username) == "" {
		return errors.New("username is required")
	}
	return nil
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request, actor domain.SessionUser) {
	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "password is required")
		return
	}

	profile, err := h.coordinator.CreateUser(r.Context(), actor, identity.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
		IsAdmin:  req.IsAdmin,
	})
	if err != nil {
		h.writeUserAdminError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserView(profile))
}

func (h *Handler) userByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing user id")
		return
	}
	actor, ok := h.requireSession(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req UserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		profile := domain.Profile{
			ID:       id,
			Username: req.Username,
			Email:    req.Email,
			Phone:    req.Phone,
			IsAdmin:  req.IsAdmin,
		}
		if err := h.coordinator.UpdateUser(r.Context(), actor, profile, req.Password); err != nil {
			h.writeUserAdminError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserView(profile))
	case http.MethodDelete:
		if err := h.coordinator.DeleteUser(r.Context(), actor, id); err != nil {
			h.writeUserAdminError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) writeUserAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrAdminRequired):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, auth.ErrSelfDelete),
		errors.Is(err, identity.ErrUsernameTaken),
		errors.Is(err, identity.ErrEmailTaken):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, postgres.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// --- helpers ---

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
