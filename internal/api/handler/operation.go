package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bcnelson/splunk-eam/internal/dispatch"
	"github.com/bcnelson/splunk-eam/internal/domain"
)

// OperationHandler runs named operations.
type OperationHandler struct {
	dispatcher *dispatch.Dispatcher
}

// NewOperationHandler creates a new OperationHandler.
func NewOperationHandler(d *dispatch.Dispatcher) *OperationHandler {
	return &OperationHandler{dispatcher: d}
}

// Run runs the operation named in the path.
func (h *OperationHandler) Run(w http.ResponseWriter, r *http.Request) {
	op, ok := domain.ParseNamedOperation(chi.URLParam(r, "operation"))
	if !ok {
		handleError(w, fmt.Errorf("%w: unknown operation %q", domain.ErrNotFound, chi.URLParam(r, "operation")))
		return
	}

	var req domain.OperationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		handleError(w, err)
		return
	}

	resp, err := h.dispatcher.RunNamed(r.Context(), chi.URLParam(r, "stack_id"), op, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondOperation(w, resp.Status, resp)
}
