package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bcnelson/splunk-eam/internal/domain"
	"github.com/bcnelson/splunk-eam/internal/registry"
)

// LockStatuser reports the live lease on a stack.
type LockStatuser interface {
	Status(ctx context.Context, stackID string) (*domain.LockStatus, error)
}

// StackHandler handles stack endpoints and the stack sub-resources that do
// not touch the automation backend.
type StackHandler struct {
	registry *registry.Registry
	locks    LockStatuser
}

// NewStackHandler creates a new StackHandler.
func NewStackHandler(reg *registry.Registry, locks LockStatuser) *StackHandler {
	return &StackHandler{registry: reg, locks: locks}
}

// Create registers a new stack.
func (h *StackHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateStackRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	stack, err := h.registry.Create(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, stack.Redacted())
}

// List lists all stacks keyed by stack id.
func (h *StackHandler) List(w http.ResponseWriter, r *http.Request) {
	stacks, err := h.registry.List(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stacks)
}

// Get gets a stack by ID.
func (h *StackHandler) Get(w http.ResponseWriter, r *http.Request) {
	stack, err := h.registry.Get(r.Context(), chi.URLParam(r, "stack_id"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stack.Redacted())
}

// Delete removes a stack and drops its lease.
func (h *StackHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), chi.URLParam(r, "stack_id")); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetInventory replaces the stack inventory.
func (h *StackHandler) SetInventory(w http.ResponseWriter, r *http.Request) {
	var inv domain.Inventory
	if err := decodeJSON(r, &inv); err != nil {
		handleError(w, err)
		return
	}

	id := chi.URLParam(r, "stack_id")
	if err := h.registry.SetInventory(r.Context(), id, inv); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"stack_id": id, "hosts": inv.Hosts()})
}

// GetInventory returns the stack inventory.
func (h *StackHandler) GetInventory(w http.ResponseWriter, r *http.Request) {
	inv, err := h.registry.GetInventory(r.Context(), chi.URLParam(r, "stack_id"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, inv)
}

// SetSSHKey stores the stack's ssh private key. The key is never returned.
func (h *StackHandler) SetSSHKey(w http.ResponseWriter, r *http.Request) {
	var req domain.SetSSHKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	id := chi.URLParam(r, "stack_id")
	if err := h.registry.SetSSHKey(r.Context(), id, req.SSHKeyB64); err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"stack_id": id, "has_ssh_key": true})
}

// Lock reports the live lease on the stack, or 404 when it is idle.
func (h *StackHandler) Lock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stack_id")
	if _, err := h.registry.Get(r.Context(), id); err != nil {
		handleError(w, err)
		return
	}

	status, err := h.locks.Status(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}
