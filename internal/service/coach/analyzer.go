// Package coach runs the one-shot speech practice analysis: one audio
// recording plus periodic face snapshots go through a disposable multimodal
// session, and a successful analysis is persisted as a regular conversation.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/personaforge/backend/internal/capability"
	"github.com/personaforge/backend/internal/model/chat"
	"github.com/personaforge/backend/internal/model/persona"
	"github.com/personaforge/backend/internal/session"
	"github.com/personaforge/backend/internal/store"
)

var (
	ErrNoAudio       = errors.New("recording has no audio")
	ErrEmptyAnalysis = errors.New("model returned an empty analysis")
)

// analysisInstruction is the fixed trailing text part of every analysis turn.
const analysisInstruction = "Analyze this practice session. The audio is my speech and the images are periodic snapshots of my face while I was speaking. Give constructive, encouraging feedback on my tone, confidence, clarity, and facial expressions."

const conversationTitle = "Speech Practice"

// Recording is one bounded practice capture: the full audio track and the
// snapshots taken while it ran, in capture order.
type Recording struct {
	Audio     capability.Part
	Snapshots []capability.Part
}

// Analyzer owns the analysis flow. It opens its own disposable session per
// call and never touches the chat loop's session.
type Analyzer struct {
	store        store.Store
	sessions     *session.Manager
	maxSnapshots int
}

func NewAnalyzer(st store.Store, sessions *session.Manager, maxSnapshots int) *Analyzer {
	return &Analyzer{store: st, sessions: sessions, maxSnapshots: maxSnapshots}
}

// Analyze sends the recording through a multimodal session and persists the
// result as a new two-message conversation under the speech coach persona.
// Nothing is persisted on failure. Callers can distinguish a missing model
// capability via errors.Is(err, capability.ErrUnavailable).
func (a *Analyzer) Analyze(ctx context.Context, rec Recording) (*chat.Conversation, error) {
	if rec.Audio.Kind != capability.PartAudio || len(rec.Audio.Data) == 0 {
		return nil, ErrNoAudio
	}

	coach, ok := persona.FindBuiltin(persona.SpeechCoachID)
	if !ok {
		return nil, fmt.Errorf("speech coach persona missing from catalog")
	}

	snapshots := rec.Snapshots
	if a.maxSnapshots > 0 && len(snapshots) > a.maxSnapshots {
		snapshots = snapshots[len(snapshots)-a.maxSnapshots:]
	}

	sess, err := a.sessions.OpenDisposable(ctx, coach.SystemPrompt, []capability.Modality{
		capability.ModalityText, capability.ModalityImage, capability.ModalityAudio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open analysis session: %w", err)
	}
	defer sess.Destroy()

	parts := make([]capability.Part, 0, len(snapshots)+2)
	parts = append(parts, rec.Audio)
	for _, snap := range snapshots {
		if snap.Kind != capability.PartImage || len(snap.Data) == 0 {
			continue
		}
		parts = append(parts, snap)
	}
	parts = append(parts, capability.Part{Kind: capability.PartText, Text: analysisInstruction})

	analysis, err := sess.Prompt(ctx, capability.Turn{Parts: parts})
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}
	analysis = strings.TrimSpace(analysis)
	if analysis == "" {
		return nil, ErrEmptyAnalysis
	}

	marker := chat.NewMessage(chat.RoleUser, practiceMarker(len(snapshots)))
	reply := chat.NewMessage(chat.RoleAssistant, analysis)
	if reply.Timestamp <= marker.Timestamp {
		reply.Timestamp = marker.Timestamp + 1
	}

	convo := chat.NewConversation(uuid.NewString(), coach.ID, marker)
	convo.Title = conversationTitle
	convo.Messages = append(convo.Messages, reply)
	convo.Touch()

	a.promoteCoach(coach)
	if err := a.store.SaveConversation(convo); err != nil {
		return nil, fmt.Errorf("failed to persist analysis: %w", err)
	}
	return &convo, nil
}

// practiceMarker is the synthetic user message standing in for the recording
// in the persisted transcript.
func practiceMarker(snapshots int) string {
	if snapshots == 1 {
		return "I recorded a practice session (audio and 1 snapshot). How did I do?"
	}
	return fmt.Sprintf("I recorded a practice session (audio and %d snapshots). How did I do?", snapshots)
}

func (a *Analyzer) promoteCoach(p persona.Persona) {
	if _, found, err := a.store.FindPersona(p.ID); err != nil || found {
		return
	}
	if err := a.store.SavePersona(p); err != nil {
		log.Printf("[coach] failed to promote speech coach persona: %v", err)
	}
}
