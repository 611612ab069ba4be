package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/flatchores/internal/chore"
	"github.com/dukerupert/flatchores/internal/model"
)

// TaskHandler serves template routes.
type TaskHandler struct {
	engine *chore.Engine
	logger *slog.Logger
}

func NewTaskHandler(engine *chore.Engine, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{engine: engine, logger: logger}
}

type createTaskRequest struct {
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Points         int                `json:"points"`
	IsRecurring    bool               `json:"is_recurring"`
	IntervalType   model.IntervalType `json:"interval_type"`
	IntervalValue  int                `json:"interval_value"`
	Color          string             `json:"color"`
	InitialDueDate *model.Date        `json:"initial_due_date"`
	AssignedUserID *int64             `json:"assigned_user_id"`
	AssignedTo     *int64             `json:"assigned_to"`
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := h.engine.CreateTemplate(r.Context(), t.actorID, chore.CreateTemplateInput{
		ApartmentID:    t.apartmentID,
		Title:          req.Title,
		Description:    req.Description,
		Points:         req.Points,
		IsRecurring:    req.IsRecurring,
		IntervalType:   req.IntervalType,
		IntervalValue:  req.IntervalValue,
		Color:          req.Color,
		InitialDueDate: req.InitialDueDate,
		AssignedUserID: pick(req.AssignedUserID, req.AssignedTo),
	})
	if err != nil {
		writeEngineError(w, r, h.logger, err, "create task")
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type updateTaskRequest struct {
	Title          *string             `json:"title"`
	Description    *string             `json:"description"`
	Points         *int                `json:"points"`
	IsRecurring    *bool               `json:"is_recurring"`
	IntervalType   *model.IntervalType `json:"interval_type"`
	IntervalValue  *int                `json:"interval_value"`
	Color          *string             `json:"color"`
	InitialDueDate *model.Date         `json:"initial_due_date"`
	Archived       *bool               `json:"archived"`
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req updateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	tmpl, err := h.engine.UpdateTemplate(r.Context(), t.actorID, chore.UpdateTemplateInput{
		ApartmentID:    t.apartmentID,
		TemplateID:     id,
		Title:          req.Title,
		Description:    req.Description,
		Points:         req.Points,
		IsRecurring:    req.IsRecurring,
		IntervalType:   req.IntervalType,
		IntervalValue:  req.IntervalValue,
		Color:          req.Color,
		InitialDueDate: req.InitialDueDate,
		Archived:       req.Archived,
	})
	if err != nil {
		writeEngineError(w, r, h.logger, err, "update task")
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	result, err := h.engine.DeleteTemplate(r.Context(), t.actorID, t.apartmentID, id)
	if err != nil {
		writeEngineError(w, r, h.logger, err, "delete task")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *TaskHandler) History(w http.ResponseWriter, r *http.Request) {
	t, ok := resolveTarget(w, r)
	if !ok {
		return
	}
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	edits, err := h.engine.TemplateHistory(r.Context(), t.actorID, t.apartmentID, id)
	if err != nil {
		writeEngineError(w, r, h.logger, err, "load task history")
		return
	}
	if edits == nil {
		edits = []model.TaskEdit{}
	}
	writeJSON(w, http.StatusOK, edits)
}
