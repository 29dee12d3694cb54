package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bcnelson/splunk-eam/internal/dispatch"
	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/registry"
)

// IndexHandler handles index endpoints.
type IndexHandler struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
}

// NewIndexHandler creates a new IndexHandler.
func NewIndexHandler(reg *registry.Registry, d *dispatch.Dispatcher) *IndexHandler {
	return &IndexHandler{registry: reg, dispatcher: d}
}

// List lists the stack's indexes.
func (h *IndexHandler) List(w http.ResponseWriter, r *http.Request) {
	stack, err := h.registry.Get(r.Context(), chi.URLParam(r, "stack_id"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stack.Indexes)
}

// Create creates one index and applies the bundles.
func (h *IndexHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateIndexRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	resp, err := h.dispatcher.CreateIndex(r.Context(), chi.URLParam(r, "stack_id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondOperation(w, resp.Status, resp)
}

// Delete removes one index and applies the bundles.
func (h *IndexHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req domain.RemoveItemRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	resp, err := h.dispatcher.RemoveIndex(r.Context(), chi.URLParam(r, "stack_id"), chi.URLParam(r, "name"), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondOperation(w, resp.Status, resp)
}

// Batch creates many indexes and applies the bundles once.
func (h *IndexHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchIndexesRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	resp, err := h.dispatcher.CreateIndexes(r.Context(), chi.URLParam(r, "stack_id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondOperation(w, resp.Status, resp)
}
