package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bcnelson/splunk-eam/internal/dispatch"
	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/registry"
)

// AppHandler handles app endpoints.
type AppHandler struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
}

// NewAppHandler creates a new AppHandler.
func NewAppHandler(reg *registry.Registry, d *dispatch.Dispatcher) *AppHandler {
	return &AppHandler{registry: reg, dispatcher: d}
}

// List lists the stack's apps.
func (h *AppHandler) List(w http.ResponseWriter, r *http.Request) {
	stack, err := h.registry.Get(r.Context(), chi.URLParam(r, "stack_id"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stack.Apps)
}

// Create installs one app and applies the bundles.
func (h *AppHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.InstallAppRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	resp, err := h.dispatcher.InstallApp(r.Context(), chi.URLParam(r, "stack_id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondOperation(w, resp.Status, resp)
}

// Delete removes one app and applies the bundles.
func (h *AppHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req domain.RemoveItemRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	resp, err := h.dispatcher.RemoveApp(r.Context(), chi.URLParam(r, "stack_id"), chi.URLParam(r, "name"), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondOperation(w, resp.Status, resp)
}

// Batch installs many apps and applies the bundles once.
func (h *AppHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchAppsRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	resp, err := h.dispatcher.InstallApps(r.Context(), chi.URLParam(r, "stack_id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondOperation(w, resp.Status, resp)
}
