package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/soaringjerry/Sondeo/internal/db"
)

// pgError is a table failure in the REST wire shape.
type pgError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *pgError) Error() string { return e.Message }

func errPolicy(table string) *pgError {
	return &pgError{Status: http.StatusForbidden, Code: "42501",
		Message: fmt.Sprintf("new row violates row-level security policy for table %q", table)}
}

func errDenied(table string) *pgError {
	return &pgError{Status: http.StatusForbidden, Code: "42501",
		Message: "permission denied for table " + table}
}

func errParse(msg string) *pgError {
	return &pgError{Status: http.StatusBadRequest, Code: "PGRST100", Message: msg}
}

func errNoWhere(verb string) *pgError {
	return &pgError{Status: http.StatusBadRequest, Code: "21000", Message: verb + " requires a WHERE clause"}
}

// tableError translates store errors into REST errors.
func tableError(table string, err error) *pgError {
	var pe *pgError
	if errors.As(err, &pe) {
		return pe
	}
	var ce *db.ColumnError
	switch {
	case errors.As(err, &ce):
		return &pgError{Status: http.StatusBadRequest, Code: "PGRST204",
			Message: fmt.Sprintf("Could not find the '%s' column of '%s' in the schema cache", ce.Column, ce.Table)}
	case errors.Is(err, db.ErrNoTable):
		return &pgError{Status: http.StatusNotFound, Code: "42P01",
			Message: fmt.Sprintf("relation \"public.%s\" does not exist", table)}
	case errors.Is(err, db.ErrDuplicate):
		return &pgError{Status: http.StatusConflict, Code: "23505",
			Message: fmt.Sprintf("duplicate key value violates unique constraint \"%s_pkey\"", table)}
	case errors.Is(err, db.ErrConstraint):
		return &pgError{Status: http.StatusBadRequest, Code: "23514",
			Message: fmt.Sprintf("new row for relation \"%s\" violates check constraint", table)}
	case errors.Is(err, db.ErrConflictTarget):
		return &pgError{Status: http.StatusBadRequest, Code: "42P10",
			Message: "there is no unique or exclusion constraint matching the ON CONFLICT specification"}
	case errors.Is(err, db.ErrInvalidValue):
		return &pgError{Status: http.StatusBadRequest, Code: "22P02", Message: "invalid input syntax", Details: err.Error()}
	default:
		return &pgError{Status: http.StatusInternalServerError, Code: "XX000", Message: "internal error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func (rt *Router) writeTableError(w http.ResponseWriter, table string, err error) {
	pe := tableError(table, err)
	if pe.Status >= http.StatusInternalServerError {
		rt.log.Error("table request failed", zap.String("table", table), zap.Error(err))
	} else {
		rt.log.Debug("table request rejected", zap.String("table", table), zap.String("code", pe.Code), zap.Error(err))
	}
	writeJSON(w, pe.Status, pe)
}

func (rt *Router) writeAuthError(w http.ResponseWriter, err error) {
	var ae *AuthError
	if !errors.As(err, &ae) {
		rt.log.Error("auth request failed", zap.Error(err))
		ae = &AuthError{Status: http.StatusInternalServerError, Code: "unexpected_failure", Msg: "Internal server error"}
	}
	writeJSON(w, ae.Status, map[string]any{"code": ae.Status, "error_code": ae.Code, "msg": ae.Msg})
}
