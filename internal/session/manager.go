// Package session owns the lifecycle of the live model session: at most one
// chat session exists at a time, scoped to the current persona and
// conversation context, and it is always destroyed before a replacement is
// created.
package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/personaforge/backend/internal/capability"
	"github.com/personaforge/backend/internal/model/chat"
	"github.com/personaforge/backend/internal/model/persona"
)

var ErrPersonaNotChattable = errors.New("persona type does not support chat sessions")

// InputsFor maps a persona type to the input modality set its chat session
// declares. Speech-coach personas never run the chat loop.
func InputsFor(t persona.Type) []capability.Modality {
	switch t {
	case persona.TypeImage:
		return []capability.Modality{capability.ModalityImage, capability.ModalityText}
	case persona.TypeAudio:
		return []capability.Modality{capability.ModalityAudio, capability.ModalityText}
	case persona.TypeMultimodal:
		return []capability.Modality{capability.ModalityImage, capability.ModalityAudio, capability.ModalityText}
	default:
		return []capability.Modality{capability.ModalityText}
	}
}

// Manager guards the single live chat session. Every open or reset bumps an
// epoch; consumers record the epoch of the session they borrowed and discard
// any output that arrives after it has moved on.
type Manager struct {
	rt      capability.Runtime
	monitor *capability.Monitor

	mu             sync.Mutex
	current        capability.Session
	personaID      string
	conversationID string
	epoch          uint64
}

// NewManager wires the manager to its runtime and availability monitor.
func NewManager(rt capability.Runtime, monitor *capability.Monitor) *Manager {
	return &Manager{rt: rt, monitor: monitor}
}

// EnsureChat returns the live session for the given persona and conversation
// context, creating one (and destroying any previous session) when the
// context has changed. The returned epoch identifies the session's tenure.
func (m *Manager) EnsureChat(ctx context.Context, p persona.Persona, conversationID string, history []chat.Message) (capability.Session, uint64, error) {
	if p.Type == persona.TypeSpeechCoach {
		return nil, 0, ErrPersonaNotChattable
	}
	if !m.monitor.Available() {
		return nil, 0, capability.ErrUnavailable
	}

	m.mu.Lock()
	if m.current != nil && m.personaID == p.ID && m.conversationID == conversationID {
		sess, epoch := m.current, m.epoch
		m.mu.Unlock()
		return sess, epoch, nil
	}
	if m.current != nil {
		m.current.Destroy()
		m.current = nil
	}
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	params, err := m.monitor.Params(ctx)
	if err != nil {
		return nil, 0, err
	}
	temperature := params.DefaultTemperature

	sess, err := m.rt.NewSession(ctx, capability.SessionOptions{
		SystemPrompt: p.SystemPrompt,
		History:      history,
		Inputs:       InputsFor(p.Type),
		Temperature:  &temperature,
	})
	if err != nil {
		return nil, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		// A reset or newer open won the race; this session must not become
		// current.
		sess.Destroy()
		return nil, 0, capability.ErrSessionDestroyed
	}
	m.current = sess
	m.personaID = p.ID
	m.conversationID = conversationID
	log.Printf("[session] opened chat session persona=%s conversation=%q epoch=%d", p.ID, conversationID, epoch)
	return sess, epoch, nil
}

// AdoptConversation rebinds the current session to a conversation id without
// recreating it. Used when a turn that started without a conversation
// creates one mid-flight.
func (m *Manager) AdoptConversation(epoch uint64, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch == epoch && m.current != nil {
		m.conversationID = conversationID
	}
}

// Reset destroys the live session, if any. Idempotent.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Destroy()
		m.current = nil
		log.Printf("[session] destroyed chat session persona=%s epoch=%d", m.personaID, m.epoch)
	}
	m.personaID = ""
	m.conversationID = ""
	m.epoch++
}

// StillCurrent reports whether the session opened at epoch is still the live
// one. Turn logic checks this before applying streamed output so a late
// fragment can never corrupt a newer conversation's transcript.
func (m *Manager) StillCurrent(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.epoch == epoch
}

// OpenDisposable creates a session outside the managed lifecycle, for
// one-shot calls such as title generation and speech analysis. The caller
// owns disposal.
func (m *Manager) OpenDisposable(ctx context.Context, systemPrompt string, inputs []capability.Modality) (capability.Session, error) {
	if !m.monitor.Available() {
		return nil, capability.ErrUnavailable
	}
	return m.rt.NewSession(ctx, capability.SessionOptions{
		SystemPrompt: systemPrompt,
		Inputs:       inputs,
	})
}
