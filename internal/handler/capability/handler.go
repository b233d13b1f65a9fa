package capability

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/personaforge/backend/internal/capability"
	"github.com/personaforge/backend/pkg/utils"
)

// Handler exposes the model availability state and the explicit download
// trigger.
type Handler struct {
	monitor *capability.Monitor
}

func New(monitor *capability.Monitor) *Handler {
	return &Handler{monitor: monitor}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/capability", h.handleState)
	r.Post("/capability/download", h.handleDownload)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	state, progress := h.monitor.State()

	payload := map[string]any{
		"state":    state,
		"progress": progress,
	}
	if params, err := h.monitor.Params(r.Context()); err == nil {
		payload["params"] = params
	}

	utils.RespondJSON(w, http.StatusOK, payload)
}

// handleDownload runs the acquisition synchronously and reports the settled
// state. Progress can be polled from the state endpoint meanwhile.
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.StartDownload(r.Context()); err != nil {
		if errors.Is(err, capability.ErrDownloadInProgress) {
			utils.RespondError(w, http.StatusConflict, "download already in progress")
			return
		}
		utils.RespondError(w, http.StatusBadGateway, "download failed")
		return
	}

	state, progress := h.monitor.State()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"state":    state,
		"progress": progress,
	})
}
