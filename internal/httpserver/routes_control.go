package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/duskpost/poster/internal/db"
	"github.com/duskpost/poster/internal/maintenance"
	"github.com/duskpost/poster/internal/model"
	"github.com/duskpost/poster/internal/tenant"
)

// ControlHandler mounts the thin operational control actions an
// operator needs against a running schedule, proxy, or account — the
// only mutation surface this process owns; full CRUD lives in an
// external HTTP API layer.
type ControlHandler struct {
	Logger       *slog.Logger
	ProbeTimeout time.Duration
}

func NewControlHandler(logger *slog.Logger, probeTimeout time.Duration) *ControlHandler {
	return &ControlHandler{Logger: logger, ProbeTimeout: probeTimeout}
}

func (h *ControlHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/schedules/{id}/pause", h.pauseSchedule)
	r.Post("/schedules/{id}/resume", h.resumeSchedule)
	r.Post("/schedules/{id}/retry-failed", h.retryFailedComments)
	r.Get("/schedules/{id}/comments", h.listScheduleComments)
	r.Post("/proxies/{id}/check", h.checkProxy)
	r.Post("/accounts/{id}/verify", h.verifyAccount)
	return r
}

func (h *ControlHandler) queries(r *http.Request) (*db.Queries, bool) {
	conn := tenant.ConnFromContext(r.Context())
	if conn == nil {
		return nil, false
	}
	return db.New(conn), true
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, param))
}

// pauseScheduleRequest is an optional JSON body: an empty body pauses
// with no recorded reason.
type pauseScheduleRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

func (h *ControlHandler) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_argument", "invalid schedule id")
		return
	}

	var body pauseScheduleRequest
	if r.ContentLength > 0 {
		if !DecodeAndValidate(w, r, &body) {
			return
		}
	}

	q, ok := h.queries(r)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "internal", "no tenant connection")
		return
	}
	if err := q.SetScheduleStatus(r.Context(), id, model.SchedulePaused, body.Reason); err != nil {
		RespondError(w, http.StatusInternalServerError, "internal", "pausing schedule")
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": string(model.SchedulePaused)})
}

func (h *ControlHandler) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_argument", "invalid schedule id")
		return
	}
	q, ok := h.queries(r)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "internal", "no tenant connection")
		return
	}
	if err := q.SetScheduleStatus(r.Context(), id, model.ScheduleActive, ""); err != nil {
		RespondError(w, http.StatusInternalServerError, "internal", "resuming schedule")
		return
	}
	// The Schedule Driver re-materialises this schedule's next job on its
	// own next seed pass; resuming here only flips persisted status.
	Respond(w, http.StatusOK, map[string]string{"status": string(model.ScheduleActive)})
}

func (h *ControlHandler) retryFailedComments(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_argument", "invalid schedule id")
		return
	}
	q, ok := h.queries(r)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "internal", "no tenant connection")
		return
	}
	requeued, err := q.RequeueFailedCommentsForSchedule(r.Context(), id)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "internal", "requeuing failed comments")
		return
	}
	Respond(w, http.StatusOK, map[string]int{"requeued": requeued})
}

// listScheduleComments returns a cursor-paginated page of a schedule's
// comments, most recent first, for operators inspecting dispatch history
// without paging through the full table.
func (h *ControlHandler) listScheduleComments(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_argument", "invalid schedule id")
		return
	}
	params, err := ParseCursorParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}
	q, ok := h.queries(r)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "internal", "no tenant connection")
		return
	}

	var after *db.CommentCursor
	if params.After != nil {
		after = &db.CommentCursor{CreatedAt: params.After.CreatedAt, ID: params.After.ID}
	}

	comments, err := q.ListCommentsPageForSchedule(r.Context(), id, after, params.Limit+1)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "internal", "listing comments")
		return
	}

	page := NewCursorPage(comments, params.Limit, func(c model.Comment) Cursor {
		return Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
	})
	Respond(w, http.StatusOK, page)
}

func (h *ControlHandler) checkProxy(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_argument", "invalid proxy id")
		return
	}
	q, ok := h.queries(r)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "internal", "no tenant connection")
		return
	}
	proxy, err := q.GetProxy(r.Context(), id)
	if err != nil {
		RespondError(w, http.StatusNotFound, "not_found", "proxy not found")
		return
	}

	speedMs, alive := maintenance.Probe(proxy.Host, proxy.Port, h.ProbeTimeout)
	status := model.ProxyInactive
	var speedPtr *float64
	if alive {
		status = model.ProxyActive
		speedPtr = &speedMs
	}
	if err := q.UpdateProxyStatus(r.Context(), proxy.ID, status, time.Now().UTC(), speedPtr); err != nil {
		RespondError(w, http.StatusInternalServerError, "internal", "recording proxy check")
		return
	}

	Respond(w, http.StatusOK, map[string]any{"proxy_id": proxy.ID.String(), "status": string(status), "alive": alive})
}

func (h *ControlHandler) verifyAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid_argument", "invalid account id")
		return
	}
	q, ok := h.queries(r)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "internal", "no tenant connection")
		return
	}
	acct, err := q.GetAccount(r.Context(), id)
	if err != nil {
		RespondError(w, http.StatusNotFound, "not_found", "account not found")
		return
	}

	// Live verification against the upstream platform needs a full OAuth
	// round trip (Token & Proxy Broker); this endpoint reports the
	// cheaper signal of whether the stored token has already expired.
	tokenValid := acct.TokenExpiry.After(time.Now().UTC())
	if !tokenValid && acct.Status == model.AccountActive {
		if err := q.UpdateAccountStatus(r.Context(), acct.ID, model.AccountInactive, "token expired as of verify check"); err != nil {
			RespondError(w, http.StatusInternalServerError, "internal", "recording expired token")
			return
		}
		acct.Status = model.AccountInactive
	}

	Respond(w, http.StatusOK, map[string]any{
		"account_id":  acct.ID.String(),
		"status":      string(acct.Status),
		"token_valid": tokenValid,
	})
}
