package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/flatchores/internal/auth"
	"github.com/dukerupert/flatchores/internal/chore"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func parseApartmentParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("apartment_id"), 10, 64)
}

// decodeJSON decodes the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// pick returns the canonical value when set, else the legacy alias.
func pick[T any](canonical, alias *T) *T {
	if canonical != nil {
		return canonical
	}
	return alias
}

// target is the actor and apartment every apartment-scoped route resolves.
type target struct {
	actorID     int64
	apartmentID int64
}

// resolveTarget reads the authenticated actor and the apartment path
// parameter, writing the error response itself when either is missing.
func resolveTarget(w http.ResponseWriter, r *http.Request) (target, bool) {
	actorID := auth.UserID(r.Context())
	if actorID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return target{}, false
	}
	apartmentID, err := parseApartmentParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid apartment id")
		return target{}, false
	}
	return target{actorID: actorID, apartmentID: apartmentID}, true
}

// writeEngineError maps engine errors onto HTTP statuses. Anything
// unrecognized is logged and reported as a generic failure to action.
func writeEngineError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, action string) {
	var ve *chore.ValidationError
	var te *chore.TransitionError

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &te):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":          te.Error(),
			"current_status": string(te.Current),
		})
	case errors.Is(err, chore.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.ErrorContext(r.Context(), "failed to "+action, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}
