// Package capture receives practice recordings over a websocket: audio
// chunks and periodic face snapshots stream in during a bounded window, and
// stopping triggers the coach analysis.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/personaforge/backend/internal/capability"
	"github.com/personaforge/backend/internal/service/coach"
)

// Handler owns the websocket intake for practice sessions.
type Handler struct {
	analyzer       *coach.Analyzer
	recordingLimit time.Duration
	maxSnapshots   int
	upgrader       websocket.Upgrader
}

func New(analyzer *coach.Analyzer, recordingLimit time.Duration, maxSnapshots int) *Handler {
	return &Handler{
		analyzer:       analyzer,
		recordingLimit: recordingLimit,
		maxSnapshots:   maxSnapshots,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/practice/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type startMessage struct {
	AudioMIME string `json:"audioMime"`
}

type audioMessage struct {
	AudioData []byte `json:"audioData"`
}

type frameMessage struct {
	ImageData []byte `json:"imageData"`
	MIME      string `json:"mime"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type captureState struct {
	recording bool
	startedAt time.Time
	audioMIME string
	audio     bytes.Buffer
	frames    []capability.Part
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[capture] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	go h.pingLoop(ctx, conn)

	state := &captureState{}
	sendInfo(conn, map[string]any{
		"type":                  "connected",
		"recordingLimitSeconds": int(h.recordingLimit.Seconds()),
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("[capture] read error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			h.handleMessage(ctx, conn, state, &msg)
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, state *captureState, msg *inboundMessage) {
	switch msg.Type {
	case "start":
		h.handleStart(conn, state, msg.Data)
	case "audio":
		h.handleAudio(ctx, conn, state, msg.Data)
	case "frame":
		h.handleFrame(ctx, conn, state, msg.Data)
	case "stop":
		h.finish(ctx, conn, state)
	default:
		sendError(conn, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) handleStart(conn *websocket.Conn, state *captureState, raw json.RawMessage) {
	if state.recording {
		sendError(conn, "recording already in progress")
		return
	}

	var start startMessage
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &start); err != nil {
			sendError(conn, "invalid start payload")
			return
		}
	}

	mime := start.AudioMIME
	if mime == "" {
		mime = "audio/webm"
	}

	*state = captureState{recording: true, startedAt: time.Now(), audioMIME: mime}
	log.Printf("[capture] recording started mime=%s limit=%s", mime, h.recordingLimit)
	sendInfo(conn, map[string]any{"type": "recording"})
}

func (h *Handler) handleAudio(ctx context.Context, conn *websocket.Conn, state *captureState, raw json.RawMessage) {
	if !state.recording {
		sendError(conn, "not recording")
		return
	}

	var audio audioMessage
	if err := json.Unmarshal(raw, &audio); err != nil {
		sendError(conn, "invalid audio payload")
		return
	}
	state.audio.Write(audio.AudioData)

	if h.overLimit(state) {
		h.finish(ctx, conn, state)
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *websocket.Conn, state *captureState, raw json.RawMessage) {
	if !state.recording {
		sendError(conn, "not recording")
		return
	}

	var frame frameMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		sendError(conn, "invalid frame payload")
		return
	}
	if len(frame.ImageData) == 0 {
		return
	}

	mime := frame.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	state.frames = append(state.frames, capability.Part{
		Kind: capability.PartImage,
		Data: frame.ImageData,
		MIME: mime,
	})
	// Only the newest snapshots matter once the window fills up.
	if h.maxSnapshots > 0 && len(state.frames) > h.maxSnapshots {
		state.frames = state.frames[len(state.frames)-h.maxSnapshots:]
	}

	if h.overLimit(state) {
		h.finish(ctx, conn, state)
	}
}

func (h *Handler) overLimit(state *captureState) bool {
	return h.recordingLimit > 0 && time.Since(state.startedAt) > h.recordingLimit
}

// finish closes the capture window and runs the analysis. The state resets
// either way so the client can immediately record again.
func (h *Handler) finish(ctx context.Context, conn *websocket.Conn, state *captureState) {
	if !state.recording {
		sendError(conn, "not recording")
		return
	}

	rec := coach.Recording{
		Audio: capability.Part{
			Kind: capability.PartAudio,
			Data: state.audio.Bytes(),
			MIME: state.audioMIME,
		},
		Snapshots: state.frames,
	}
	*state = captureState{}

	sendInfo(conn, map[string]any{"type": "analyzing"})

	convo, err := h.analyzer.Analyze(ctx, rec)
	if err != nil {
		log.Printf("[capture] analysis failed: %v", err)
		switch {
		case errors.Is(err, capability.ErrUnavailable):
			sendError(conn, "the on-device model is not available")
		case errors.Is(err, coach.ErrNoAudio):
			sendError(conn, "no audio was recorded")
		default:
			sendError(conn, "analysis failed")
		}
		return
	}

	sendInfo(conn, map[string]any{
		"type":         "analysis",
		"conversation": convo,
	})
}

func sendInfo(conn *websocket.Conn, data map[string]any) {
	msg := outgoingMessage{Type: "result", Data: data, Timestamp: time.Now().Unix()}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[capture] write info failed: %v", err)
	}
}

func sendError(conn *websocket.Conn, message string) {
	msg := outgoingMessage{Type: "error", Data: map[string]string{"message": message}, Timestamp: time.Now().Unix()}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[capture] write error failed: %v", err)
	}
}

func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
