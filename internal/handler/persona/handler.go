package persona

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/personaforge/backend/internal/model/persona"
	"github.com/personaforge/backend/internal/store"
	"github.com/personaforge/backend/pkg/utils"
)

// Handler serves the persona catalog: the fixed built-ins merged with the
// user-created list.
type Handler struct {
	store store.Store
}

func New(st store.Store) *Handler {
	return &Handler{store: st}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleList)
	r.Post("/personas", h.handleCreate)
	r.Delete("/personas/{personaID}", h.handleDelete)
}

// handleList returns built-ins first, then user personas. A promoted built-in
// appears once, from the stored copy.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	stored, err := h.store.ListPersonas()
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list personas")
		return
	}

	byID := make(map[string]persona.Persona, len(stored))
	for _, p := range stored {
		byID[p.ID] = p
	}

	merged := make([]persona.Persona, 0, len(stored)+2)
	for _, b := range persona.Builtin() {
		if p, ok := byID[b.ID]; ok {
			merged = append(merged, p)
			delete(byID, b.ID)
		} else {
			merged = append(merged, b)
		}
	}
	for _, p := range stored {
		if _, builtin := persona.FindBuiltin(p.ID); !builtin {
			merged = append(merged, p)
		}
	}

	utils.RespondJSON(w, http.StatusOK, merged)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name         string `json:"name"`
		Description  string `json:"description"`
		SystemPrompt string `json:"systemPrompt"`
		Type         string `json:"type"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := strings.TrimSpace(payload.Name)
	prompt := strings.TrimSpace(payload.SystemPrompt)
	if len(name) < 3 {
		utils.RespondError(w, http.StatusBadRequest, "name must be at least 3 characters")
		return
	}
	if len(prompt) < 10 {
		utils.RespondError(w, http.StatusBadRequest, "prompt must be at least 10 characters")
		return
	}
	t := persona.Type(payload.Type)
	if !persona.ValidType(t) {
		utils.RespondError(w, http.StatusBadRequest, "invalid persona type")
		return
	}

	p := persona.Persona{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  strings.TrimSpace(payload.Description),
		SystemPrompt: prompt,
		Type:         t,
	}

	if err := h.store.SavePersona(p); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to save persona")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, p)
}

// handleDelete removes a persona and every conversation it owns. Built-in ids
// are protected; the catalog would just resurrect them.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "personaID")
	if persona.IsBuiltin(id) {
		utils.RespondError(w, http.StatusForbidden, "built-in personas cannot be deleted")
		return
	}

	if err := h.store.DeletePersona(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "persona not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete persona")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
