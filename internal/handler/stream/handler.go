// Package stream serves chat turns over Server-Sent Events: the client posts
// one message and receives the conversation snapshot, repaired deltas, the
// final title, and a completion event on a single response stream.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/personaforge/backend/internal/capability"
	chatModel "github.com/personaforge/backend/internal/model/chat"
	chatService "github.com/personaforge/backend/internal/service/chat"
	"github.com/personaforge/backend/internal/session"
	"github.com/personaforge/backend/pkg/utils"
)

// Handler streams chat turns and rewrites.
type Handler struct {
	chatSvc *chatService.Service
}

func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/personas/{personaID}/messages", h.handleSendMessage)
	r.Post("/personas/{personaID}/conversations/{conversationID}/rewrite", h.handleRewrite)
}

type attachmentPayload struct {
	Kind string `json:"kind"`
	MIME string `json:"mime"`
	Data string `json:"data"`
}

type sendPayload struct {
	Message        string             `json:"message"`
	ConversationID string             `json:"conversationId"`
	Attachment     *attachmentPayload `json:"attachment"`
}

type rewritePayload struct {
	Timestamp   int64  `json:"timestamp"`
	Instruction string `json:"instruction"`
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")

	var payload sendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := chatService.TurnInput{Text: payload.Message}
	if payload.Attachment != nil {
		part, err := decodeAttachment(payload.Attachment)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		in.Attachment = part
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "start", map[string]string{"personaId": personaID})

	convo, err := h.chatSvc.SendMessage(r.Context(), personaID, payload.ConversationID, in, turnEvents(w, flusher))
	if err != nil {
		log.Printf("[stream] turn failed for persona=%s: %v", personaID, err)
		utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": turnErrorMessage(err)})
		return
	}

	utils.SendSSEEvent(w, flusher, "end", convo)
}

func (h *Handler) handleRewrite(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	conversationID := chi.URLParam(r, "conversationID")

	var payload rewritePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Timestamp == 0 {
		utils.RespondError(w, http.StatusBadRequest, "timestamp is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "start", map[string]string{
		"conversationId": conversationID,
		"timestamp":      strconv.FormatInt(payload.Timestamp, 10),
	})

	convo, err := h.chatSvc.RewriteMessage(r.Context(), personaID, conversationID, payload.Timestamp, payload.Instruction, turnEvents(w, flusher))
	if err != nil {
		log.Printf("[stream] rewrite failed for conversation=%s: %v", conversationID, err)
		utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": turnErrorMessage(err)})
		return
	}

	utils.SendSSEEvent(w, flusher, "end", convo)
}

func turnEvents(w http.ResponseWriter, flusher http.Flusher) chatService.TurnEvents {
	return chatService.TurnEvents{
		OnConversation: func(c chatModel.Conversation) {
			utils.SendSSEEvent(w, flusher, "conversation", c)
		},
		OnDelta: func(fragment string) {
			utils.SendSSEEvent(w, flusher, "delta", map[string]string{"content": fragment})
		},
		OnTitle: func(title string) {
			utils.SendSSEEvent(w, flusher, "title", map[string]string{"title": title})
		},
	}
}

func decodeAttachment(p *attachmentPayload) (*capability.Part, error) {
	var kind capability.PartKind
	switch p.Kind {
	case "image":
		kind = capability.PartImage
	case "audio":
		kind = capability.PartAudio
	default:
		return nil, errors.New("attachment kind must be image or audio")
	}

	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, errors.New("attachment data is not valid base64")
	}
	if len(data) == 0 {
		return nil, errors.New("attachment data is empty")
	}
	if p.MIME == "" {
		return nil, errors.New("attachment mime type is required")
	}

	return &capability.Part{Kind: kind, Data: data, MIME: p.MIME}, nil
}

// turnErrorMessage maps service errors to client-facing text without leaking
// internals.
func turnErrorMessage(err error) string {
	switch {
	case errors.Is(err, capability.ErrUnavailable):
		return "the on-device model is not available"
	case errors.Is(err, chatService.ErrPersonaNotFound):
		return "persona not found"
	case errors.Is(err, chatService.ErrConversationNotFound):
		return "conversation not found"
	case errors.Is(err, chatService.ErrMessageNotFound):
		return "message not found"
	case errors.Is(err, chatService.ErrEmptyTurn):
		return "message is empty"
	case errors.Is(err, chatService.ErrBadAttachment):
		return "this persona does not accept that attachment type"
	case errors.Is(err, chatService.ErrSuperseded):
		return "a newer chat replaced this turn"
	case errors.Is(err, session.ErrPersonaNotChattable):
		return "this persona records practice sessions instead of chatting"
	default:
		return "generation failed"
	}
}
