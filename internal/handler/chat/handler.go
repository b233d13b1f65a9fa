package chat

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/personaforge/backend/internal/service/chat"
	"github.com/personaforge/backend/internal/store"
	"github.com/personaforge/backend/pkg/utils"
)

// Handler serves conversation history: listing, fetching, deleting, and the
// explicit "new chat" reset.
type Handler struct {
	chatSvc *chatService.Service
	store   store.Store
}

func New(chatSvc *chatService.Service, st store.Store) *Handler {
	return &Handler{chatSvc: chatSvc, store: st}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas/{personaID}/conversations", h.handleList)
	r.Get("/personas/{personaID}/conversations/{conversationID}", h.handleGet)
	r.Delete("/personas/{personaID}/conversations", h.handleDeleteAll)
	r.Delete("/conversations/{conversationID}", h.handleDelete)
	r.Post("/chat/new", h.handleNewChat)
}

// handleList returns the persona's conversations, most recently edited first.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")

	if _, err := h.chatSvc.ResolvePersona(personaID); err != nil {
		if errors.Is(err, chatService.ErrPersonaNotFound) {
			utils.RespondError(w, http.StatusNotFound, "persona not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to resolve persona")
		return
	}

	conversations, err := h.store.ListConversations(personaID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	utils.RespondJSON(w, http.StatusOK, conversations)
}

// handleGet fetches one conversation. A record owned by a different persona
// is reported as missing, not as someone else's data.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	conversationID := chi.URLParam(r, "conversationID")

	convo, found, err := h.chatSvc.LoadConversation(personaID, conversationID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if !found {
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, convo)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := h.store.DeleteConversation(conversationID); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	if err := h.store.DeleteConversationsForPersona(personaID); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete conversations")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleNewChat drops the live model session so the next message starts a
// fresh conversation context.
func (h *Handler) handleNewChat(w http.ResponseWriter, r *http.Request) {
	h.chatSvc.NewChat()
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
