package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/soaringjerry/Sondeo/internal/db"
)

// reserved query parameters; every other parameter is a column filter.
var reserved = []string{"select", "order", "limit", "on_conflict", "columns"}

type tableQuery struct {
	query   db.Query
	columns []string // nil selects every column
}

func parseFilters(v url.Values) ([]db.Filter, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		if !slices.Contains(reserved, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	var filters []db.Filter
	for _, k := range keys {
		for _, raw := range v[k] {
			val, ok := strings.CutPrefix(raw, "eq.")
			if !ok {
				return nil, errParse(fmt.Sprintf("failed to parse filter (%s)", raw))
			}
			filters = append(filters, db.Filter{Column: k, Value: val})
		}
	}
	return filters, nil
}

func parseTableQuery(v url.Values) (tableQuery, error) {
	var tq tableQuery
	filters, err := parseFilters(v)
	if err != nil {
		return tq, err
	}
	tq.query.Filters = filters

	if sel := strings.TrimSpace(v.Get("select")); sel != "" && sel != "*" {
		for _, col := range strings.Split(sel, ",") {
			if col = strings.TrimSpace(col); col != "" {
				tq.columns = append(tq.columns, col)
			}
		}
	}
	if order := v.Get("order"); order != "" {
		parts := strings.Split(order, ".")
		tq.query.Order = parts[0]
		for _, p := range parts[1:] {
			switch p {
			case "asc":
			case "desc":
				tq.query.Desc = true
			case "nullsfirst", "nullslast":
			default:
				return tq, errParse(fmt.Sprintf("failed to parse order (%s)", order))
			}
		}
	}
	if limit := v.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return tq, errParse(fmt.Sprintf("failed to parse limit (%s)", limit))
		}
		tq.query.Limit = n
	}
	return tq, nil
}

func project(rows []db.Row, table string, cols []string) ([]db.Row, error) {
	if cols == nil {
		return rows, nil
	}
	known := db.Columns(table)
	for _, c := range cols {
		if !slices.Contains(known, c) {
			return nil, &db.ColumnError{Table: table, Column: c}
		}
	}
	out := make([]db.Row, len(rows))
	for i, r := range rows {
		p := make(db.Row, len(cols))
		for _, c := range cols {
			p[c] = r[c]
		}
		out[i] = p
	}
	return out, nil
}

// prefer is the parsed Prefer header.
type prefer struct {
	resolution string
}

func parsePrefer(h http.Header) prefer {
	var p prefer
	for _, line := range h.Values("Prefer") {
		for _, part := range strings.Split(line, ",") {
			k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
			if k == "resolution" {
				p.resolution = v
			}
		}
	}
	return p
}

// decodeRows accepts a single JSON object or an array of objects.
func decodeRows(r io.Reader) ([]db.Row, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxBody))
	if err != nil {
		return nil, errParse("could not read request body")
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var rows []db.Row
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, &pgError{Status: http.StatusBadRequest, Code: "PGRST102", Message: "Empty or invalid json"}
		}
		return rows, nil
	}
	var row db.Row
	if err := json.Unmarshal(raw, &row); err != nil || row == nil {
		return nil, &pgError{Status: http.StatusBadRequest, Code: "PGRST102", Message: "Empty or invalid json"}
	}
	return []db.Row{row}, nil
}

// GET /rest/v1/{table}
func (rt *Router) handleSelect(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if !db.HasTable(table) {
		rt.writeTableError(w, table, db.ErrNoTable)
		return
	}
	tq, err := parseTableQuery(r.URL.Query())
	if err != nil {
		rt.writeTableError(w, table, err)
		return
	}
	extra, visible := rt.policy.readScope(table, rt.identity(r))
	if !visible {
		writeJSON(w, http.StatusOK, []db.Row{})
		return
	}
	tq.query.Filters = append(tq.query.Filters, extra...)
	rows, err := rt.store.Select(r.Context(), table, tq.query)
	if err != nil {
		rt.writeTableError(w, table, err)
		return
	}
	rows, err = project(rows, table, tq.columns)
	if err != nil {
		rt.writeTableError(w, table, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// POST /rest/v1/{table}[?on_conflict=col]
// Responses are always return=minimal.
func (rt *Router) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if !db.HasTable(table) {
		rt.writeTableError(w, table, db.ErrNoTable)
		return
	}
	rows, err := decodeRows(r.Body)
	if err != nil {
		rt.writeTableError(w, table, err)
		return
	}
	if err := rt.policy.checkInsert(table, rt.identity(r), rows); err != nil {
		rt.writeTableError(w, table, err)
		return
	}

	var c db.Conflict
	p := parsePrefer(r.Header)
	c.Column = r.URL.Query().Get("on_conflict")
	if c.Column == "" && p.resolution != "" {
		c.Column = "id"
	}
	if c.Column != "" {
		c.Mode = db.ConflictMerge
		if p.resolution == "ignore-duplicates" {
			c.Mode = db.ConflictIgnore
		}
	}
	if len(rows) > 0 {
		if err := rt.store.Insert(r.Context(), table, rows, c); err != nil {
			rt.writeTableError(w, table, err)
			return
		}
	}
	w.WriteHeader(http.StatusCreated)
}

// PATCH /rest/v1/{table}?col=eq.v
func (rt *Router) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if !db.HasTable(table) {
		rt.writeTableError(w, table, db.ErrNoTable)
		return
	}
	filters, err := parseFilters(r.URL.Query())
	if err != nil {
		rt.writeTableError(w, table, err)
		return
	}
	if len(filters) == 0 {
		rt.writeTableError(w, table, errNoWhere("UPDATE"))
		return
	}
	rows, err := decodeRows(r.Body)
	if err != nil || len(rows) != 1 {
		rt.writeTableError(w, table, errParse("update body must be a single object"))
		return
	}
	scope, err := rt.policy.updateScope(table, rt.identity(r), rows[0])
	if err != nil {
		rt.writeTableError(w, table, err)
		return
	}
	if _, err := rt.store.Update(r.Context(), table, rows[0], append(filters, scope...)); err != nil {
		rt.writeTableError(w, table, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /rest/v1/{table}?col=eq.v
func (rt *Router) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if !db.HasTable(table) {
		rt.writeTableError(w, table, db.ErrNoTable)
		return
	}
	filters, err := parseFilters(r.URL.Query())
	if err != nil {
		rt.writeTableError(w, table, err)
		return
	}
	if len(filters) == 0 {
		rt.writeTableError(w, table, errNoWhere("DELETE"))
		return
	}
	if err := rt.policy.checkDelete(table, rt.identity(r)); err != nil {
		rt.writeTableError(w, table, err)
		return
	}
	if _, err := rt.store.Delete(r.Context(), table, filters); err != nil {
		rt.writeTableError(w, table, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
