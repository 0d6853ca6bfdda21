package httpserver

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devco/sentinela/internal/admin"
	"github.com/devco/sentinela/internal/domain/valueobjects"
	"github.com/devco/sentinela/internal/repository"
)

// MountAdmin attaches the administrator command surface under r. Every route
// here runs behind AdminAuth — AdminUserIDFromContext always succeeds.
func MountAdmin(r chi.Router, svc *admin.Service, logger *slog.Logger) {
	h := &adminHandlers{svc: svc, logger: logger}
	r.Get("/tickets", h.listTickets)
	r.Post("/tickets/{id}/assign", h.assignTicket)
	r.Post("/tickets/{id}/status", h.updateTicketStatus)
	r.Post("/tickets/bulk", h.bulkUpdateTickets)
	r.Post("/tickets/bulk-sync", h.bulkSyncTickets)
	r.Get("/stats", h.systemStats)
	r.Post("/users/{id}/ban", h.banUser)
}

type adminHandlers struct {
	svc    *admin.Service
	logger *slog.Logger
}

func adminCaller(r *http.Request) valueobjects.ChatUserId {
	id, _ := AdminUserIDFromContext(r.Context())
	return valueobjects.ChatUserId(id)
}

func parseTicketID(r *http.Request) (valueobjects.TicketId, error) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return valueobjects.TicketId(n), nil
}

func ticketSummaryJSON(t *admin.TicketSummary) map[string]any {
	return map[string]any{
		"ticket_id":   t.TicketID,
		"user_id":     t.UserID,
		"category":    t.Category,
		"status":      t.Status,
		"urgency":     t.Urgency,
		"days_open":   t.DaysOpen,
		"sync_status": t.SyncStatus,
	}
}

func (h *adminHandlers) listTickets(w http.ResponseWriter, r *http.Request) {
	params, err := ParseOffsetParams(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var filter repository.TicketFilter
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		filter.Status = valueobjects.TicketStatus(s)
	}
	if c := q.Get("category"); c != "" {
		filter.Category = valueobjects.TicketCategory(c)
	}
	if u := q.Get("user_id"); u != "" {
		n, err := strconv.ParseInt(u, 10, 64)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "bad_request", "user_id must be numeric")
			return
		}
		filter.UserID = valueobjects.ChatUserId(n)
	}

	summaries, err := h.svc.ListTickets(r.Context(), adminCaller(r), filter, params.PageSize)
	if err != nil {
		RespondDomainError(w, h.logger, err)
		return
	}

	items := make([]map[string]any, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, ticketSummaryJSON(s))
	}
	Respond(w, http.StatusOK, NewOffsetPage(items, params, len(items)))
}

type assignTicketRequest struct {
	Technician string `json:"technician" validate:"required"`
	Notes      string `json:"notes"`
}

func (h *adminHandlers) assignTicket(w http.ResponseWriter, r *http.Request) {
	id, err := parseTicketID(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid ticket id")
		return
	}
	var req assignTicketRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	if err := h.svc.AssignTicket(r.Context(), adminCaller(r), id, req.Technician, req.Notes); err != nil {
		RespondDomainError(w, h.logger, err)
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "assigned"})
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason"`
}

func (h *adminHandlers) updateTicketStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseTicketID(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid ticket id")
		return
	}
	var req updateStatusRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	newStatus := valueobjects.TicketStatus(req.Status)
	if err := h.svc.UpdateTicketStatus(r.Context(), adminCaller(r), id, newStatus, req.Reason); err != nil {
		RespondDomainError(w, h.logger, err)
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

type banUserRequest struct {
	Reason      string `json:"reason" validate:"required"`
	DurationSec int64  `json:"duration_seconds"`
}

func (h *adminHandlers) banUser(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid user id")
		return
	}
	var req banUserRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}
	duration := time.Duration(req.DurationSec) * time.Second
	if err := h.svc.BanUser(r.Context(), adminCaller(r), valueobjects.ChatUserId(n), req.Reason, duration); err != nil {
		RespondDomainError(w, h.logger, err)
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "banned"})
}

func (h *adminHandlers) systemStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var dr admin.DateRange
	if f := q.Get("from"); f != "" {
		t, err := time.Parse(time.RFC3339, f)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "bad_request", "from must be RFC3339")
			return
		}
		dr.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			RespondError(w, http.StatusBadRequest, "bad_request", "to must be RFC3339")
			return
		}
		dr.To = t
	}
	includeDetails := q.Get("include_details") == "true"

	stats, err := h.svc.GetSystemStats(r.Context(), adminCaller(r), dr, includeDetails)
	if err != nil {
		RespondDomainError(w, h.logger, err)
		return
	}

	details := make([]map[string]any, 0, len(stats.TicketDetails))
	for _, t := range stats.TicketDetails {
		details = append(details, ticketSummaryJSON(t))
	}
	Respond(w, http.StatusOK, map[string]any{
		"total_tickets":          stats.TotalTickets,
		"tickets_by_status":      stats.TicketsByStatus,
		"integrations_by_status": stats.IntegrationsByStatus,
		"ticket_details":         details,
	})
}

type bulkUpdateRequest struct {
	TicketIDs []int64 `json:"ticket_ids" validate:"required,min=1"`
	Action    string  `json:"action" validate:"required,oneof=assign change_status override_urgency"`
	Params    struct {
		Technician string `json:"technician"`
		Notes      string `json:"notes"`
		NewStatus  string `json:"new_status"`
		Reason     string `json:"reason"`
		Urgency    string `json:"urgency"`
	} `json:"params"`
}

func (h *adminHandlers) bulkUpdateTickets(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	ids := make([]valueobjects.TicketId, 0, len(req.TicketIDs))
	for _, id := range req.TicketIDs {
		ids = append(ids, valueobjects.TicketId(id))
	}

	params := admin.BulkParams{
		Technician: req.Params.Technician,
		Notes:      req.Params.Notes,
		NewStatus:  valueobjects.TicketStatus(req.Params.NewStatus),
		Reason:     req.Params.Reason,
		Urgency:    valueobjects.Urgency(req.Params.Urgency),
	}

	results, err := h.svc.BulkUpdateTickets(r.Context(), adminCaller(r), ids, admin.BulkAction(req.Action), params)
	if err != nil {
		RespondDomainError(w, h.logger, err)
		return
	}

	out := make([]map[string]any, 0, len(results))
	for _, res := range results {
		item := map[string]any{"ticket_id": res.TicketID}
		if res.Error != nil {
			item["error"] = res.Error.Error()
		}
		out = append(out, item)
	}
	Respond(w, http.StatusOK, map[string]any{"results": out})
}

type bulkSyncRequest struct {
	TicketIDs           []int64 `json:"ticket_ids" validate:"required,min=1"`
	BatchSize           int     `json:"batch_size" validate:"omitempty,min=1"`
	DelayBetweenBatches int     `json:"delay_between_batches" validate:"omitempty,min=0"`
}

// bulkSyncTickets enqueues a rate-limited BULK_SYNC integration job; the
// Integration Engine's worker pool processes it asynchronously.
func (h *adminHandlers) bulkSyncTickets(w http.ResponseWriter, r *http.Request) {
	var req bulkSyncRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	ids := make([]valueobjects.TicketId, 0, len(req.TicketIDs))
	for _, id := range req.TicketIDs {
		ids = append(ids, valueobjects.TicketId(id))
	}

	jobID, err := h.svc.TriggerBulkSync(r.Context(), adminCaller(r), ids, req.BatchSize, req.DelayBetweenBatches)
	if err != nil {
		RespondDomainError(w, h.logger, err)
		return
	}
	Respond(w, http.StatusAccepted, map[string]any{"job_id": jobID.String()})
}
