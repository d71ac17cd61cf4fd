package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/anstrom/tracerama/internal/db"
	"github.com/anstrom/tracerama/internal/logging"
	"github.com/anstrom/tracerama/internal/scanning"
)

// ResultReader is the read side of db.ResultStore.
type ResultReader interface {
	Get(ctx context.Context, id string) (*scanning.ScanResult, error)
	ListByKey(ctx context.Context, key scanning.Key, limit int) ([]*scanning.ScanResult, error)
	Recent(ctx context.Context, limit int) ([]*scanning.ScanResult, error)
}

// ResultHandler serves persisted results. With a nil reader every
// endpoint answers 503.
type ResultHandler struct {
	store  ResultReader
	logger *logging.Logger
}

// NewResultHandler creates a result handler.
func NewResultHandler(store ResultReader, logger *logging.Logger) *ResultHandler {
	return &ResultHandler{
		store:  store,
		logger: logger.WithComponent("api.results"),
	}
}

func (h *ResultHandler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.store == nil {
		writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("result persistence is disabled"))
		return false
	}
	return true
}

// ResultList is a page of stored results.
type ResultList struct {
	Key     string                 `json:"key,omitempty"`
	Results []*scanning.ScanResult `json:"results"`
	Count   int                    `json:"count"`
}

// Recent handles GET /api/v1/results.
//
// @Summary Recent results
// @Tags results
// @Produce json
// @Param limit query int false "Maximum number of results"
// @Success 200 {object} ResultList
// @Failure 503 {object} ErrorResponse "Persistence disabled"
// @Router /results [get]
func (h *ResultHandler) Recent(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	limit, err := getQueryParamInt(r, "limit", db.DefaultListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	results, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorDatabase("Failed to list recent results", err)
		writeError(w, r, statusForError(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, ResultList{Results: results, Count: len(results)})
}

// Get handles GET /api/v1/results/{id}.
//
// @Summary Stored result
// @Tags results
// @Produce json
// @Param id path string true "Result ID"
// @Success 200 {object} scanning.ScanResult
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse "Persistence disabled"
// @Router /results/{id} [get]
func (h *ResultHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	id := mux.Vars(r)["id"]

	result, err := h.store.Get(r.Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			writeError(w, r, http.StatusNotFound, fmt.Errorf("result %s not found", id))
			return
		}
		h.logger.ErrorDatabase("Failed to load result", err, "id", id)
		writeError(w, r, statusForError(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ByMonitor handles GET /api/v1/monitors/{protocol}/{target}/{port}/results.
//
// @Summary Stored results of one key
// @Tags results
// @Produce json
// @Param protocol path string true "tcp or udp"
// @Param target path string true "Target host"
// @Param port path int true "Destination port"
// @Param limit query int false "Maximum number of results"
// @Success 200 {object} ResultList
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse "Persistence disabled"
// @Router /monitors/{protocol}/{target}/{port}/results [get]
func (h *ResultHandler) ByMonitor(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	key, err := keyFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	limit, err := getQueryParamInt(r, "limit", db.DefaultListLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	results, err := h.store.ListByKey(r.Context(), key, limit)
	if err != nil {
		h.logger.ErrorDatabase("Failed to list results", err, "key", key.String())
		writeError(w, r, statusForError(err), err)
		return
	}
	writeJSON(w, r, http.StatusOK, ResultList{Key: key.String(), Results: results, Count: len(results)})
}
