package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/flatchores/internal/chore"
	"github.com/dukerupert/flatchores/internal/model"
)

// InstanceHandler serves instance routes and the points listing.
type InstanceHandler struct {
	engine *chore.Engine
	logger *slog.Logger
}

func NewInstanceHandler(engine *chore.Engine, logger *slog.Logger) *InstanceHandler {
	return &InstanceHandler{engine: engine, logger: logger}
}

type createInstanceRequest struct {
	TemplateID     *int64      `json:"template_id"`
	Title          string      `json:"title"`
	DueDate        *model.Date `json:"due_date"`
	AssignedUserID *int64      `json:"assigned_user_id"`
	AssignedTo     *int64      `json:"assigned_to"`
	Points         *int        `json:"points"`
	Notes          *string     `json:"notes"`
}

func (h *InstanceHandler) Create(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}

	var req createInstanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	inst, err := h.engine.CreateInstance(r.Context(), t.actorID, chore.CreateInstanceInput{
		ApartmentID:    t.apartmentID,
		TemplateID:     req.TemplateID,
		Title:          req.Title,
		DueDate:        req.DueDate,
		AssignedUserID: pick(req.AssignedUserID, req.AssignedTo),
		Points:         req.Points,
		Notes:          req.Notes,
	})
	if err != nil {
		writeEngineError(w, r, h.logger, err, "create instance")
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}

	includeArchived := false
	if v := r.URL.Query().Get("include_archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid include_archived")
			return
		}
		includeArchived = b
	}

	board, err := h.engine.ListInstancesByApartment(r.Context(), t.actorID, t.apartmentID, includeArchived)
	if err != nil {
		writeEngineError(w, r, h.logger, err, "list instances")
		return
	}
	writeJSON(w, http.StatusOK, board)
}

type completeRequest struct {
	CompletedByUserID *int64 `json:"completed_by_user_id"`
	CompletedBy       *int64 `json:"completed_by"`
	PointsAwarded     *int   `json:"points_awarded"`
	AssignedUserID    *int64 `json:"assigned_user_id"`
	AssignedTo        *int64 `json:"assigned_to"`
}

func (h *InstanceHandler) Complete(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := h.engine.CompleteInstance(r.Context(), t.actorID, chore.CompleteInput{
		ApartmentID:       t.apartmentID,
		InstanceID:        id,
		CompletedByUserID: pick(req.CompletedByUserID, req.CompletedBy),
		PointsAwarded:     req.PointsAwarded,
		AssignedUserID:    pick(req.AssignedUserID, req.AssignedTo),
	})
	if err != nil {
		writeEngineError(w, r, h.logger, err, "complete instance")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *InstanceHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	result, err := h.engine.ReopenInstance(r.Context(), t.actorID, t.apartmentID, id)
	if err != nil {
		writeEngineError(w, r, h.logger, err, "reopen instance")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *InstanceHandler) Skip(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	result, err := h.engine.SkipInstance(r.Context(), t.actorID, t.apartmentID, id)
	if err != nil {
		writeEngineError(w, r, h.logger, err, "skip instance")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *InstanceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	result, err := h.engine.DeleteInstance(r.Context(), t.actorID, t.apartmentID, id)
	if err != nil {
		writeEngineError(w, r, h.logger, err, "delete instance")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Points lists the apartment's member balances, highest first.
func (h *InstanceHandler) Points(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}

	balances, err := h.engine.Balances(r.Context(), t.actorID, t.apartmentID)
	if err != nil {
		writeEngineError(w, r, h.logger, err, "list points")
		return
	}
	writeJSON(w, http.StatusOK, balances)
}
