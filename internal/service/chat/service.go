// Package chat drives one conversational turn end-to-end: it appends the
// user's message, streams the model's reply into the transcript while
// repairing chunk-boundary artifacts, finalizes the conversation title, and
// persists the result exactly once per turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/personaforge/backend/internal/capability"
	"github.com/personaforge/backend/internal/model/chat"
	"github.com/personaforge/backend/internal/model/persona"
	"github.com/personaforge/backend/internal/session"
	"github.com/personaforge/backend/internal/store"
)

var (
	ErrPersonaNotFound      = errors.New("persona not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrEmptyTurn            = errors.New("message is empty and no attachment is present")
	ErrSuperseded           = errors.New("turn superseded by a newer session")
	ErrBadAttachment        = errors.New("attachment kind not accepted by this persona")
)

// Service is the conversation reconciler. It borrows the live session from
// the manager for the duration of one streaming call and owns nothing else.
type Service struct {
	store    store.Store
	sessions *session.Manager
}

// NewService wires the reconciler to its persistence port and session
// manager.
func NewService(st store.Store, sessions *session.Manager) *Service {
	return &Service{store: st, sessions: sessions}
}

// TurnInput carries the user's text and optional media attachment.
type TurnInput struct {
	Text       string
	Attachment *capability.Part
}

// TurnEvents receives incremental turn output. All fields are optional.
type TurnEvents struct {
	// OnConversation fires once the turn's conversation is resolved, before
	// any streaming output.
	OnConversation func(conversation chat.Conversation)
	// OnDelta fires per repaired fragment, in arrival order.
	OnDelta func(fragment string)
	// OnTitle fires when the final title differs from the stored one.
	OnTitle func(title string)
}

func (ev TurnEvents) conversation(c chat.Conversation) {
	if ev.OnConversation != nil {
		ev.OnConversation(c)
	}
}

func (ev TurnEvents) delta(s string) {
	if ev.OnDelta != nil {
		ev.OnDelta(s)
	}
}

func (ev TurnEvents) title(s string) {
	if ev.OnTitle != nil {
		ev.OnTitle(s)
	}
}

// ResolvePersona finds a persona by id, preferring the stored list and
// falling back to the built-in catalog.
func (s *Service) ResolvePersona(id string) (persona.Persona, error) {
	p, found, err := s.store.FindPersona(id)
	if err != nil {
		return persona.Persona{}, err
	}
	if found {
		return p, nil
	}
	if p, found = persona.FindBuiltin(id); found {
		return p, nil
	}
	return persona.Persona{}, ErrPersonaNotFound
}

// LoadConversation fetches a conversation for the active persona. A stored
// record whose persona does not match is treated as absent, not an error.
func (s *Service) LoadConversation(personaID, conversationID string) (chat.Conversation, bool, error) {
	c, found, err := s.store.GetConversation(conversationID)
	if err != nil {
		return chat.Conversation{}, false, err
	}
	if !found || c.PersonaID != personaID {
		return chat.Conversation{}, false, nil
	}
	return c, true, nil
}

// NewChat discards the live session so the next turn starts a fresh
// conversation context.
func (s *Service) NewChat() {
	s.sessions.Reset()
}

// SendMessage runs one chat turn: it creates the conversation if needed,
// streams the assistant reply into a placeholder message, finalizes the
// title, and persists the conversation once.
func (s *Service) SendMessage(ctx context.Context, personaID, conversationID string, in TurnInput, ev TurnEvents) (*chat.Conversation, error) {
	p, err := s.ResolvePersona(personaID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Text) == "" && in.Attachment == nil {
		return nil, ErrEmptyTurn
	}
	if in.Attachment != nil && !attachmentAccepted(p.Type, in.Attachment.Kind) {
		return nil, ErrBadAttachment
	}

	var convo chat.Conversation
	var loaded bool
	if conversationID != "" {
		convo, loaded, err = s.LoadConversation(p.ID, conversationID)
		if err != nil {
			return nil, err
		}
	}

	var history []chat.Message
	sessionConvoID := conversationID
	if loaded {
		history = convo.Messages
	} else {
		sessionConvoID = ""
	}

	sess, epoch, err := s.sessions.EnsureChat(ctx, p, sessionConvoID, history)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat session: %w", err)
	}

	userMsg := chat.NewMessage(chat.RoleUser, in.Text)
	isNew := !loaded
	if isNew {
		convo = chat.NewConversation(uuid.NewString(), p.ID, userMsg)
		s.sessions.AdoptConversation(epoch, convo.ID)
		s.promoteBuiltin(p)
	} else {
		convo.Messages = append(convo.Messages, userMsg)
	}
	ev.conversation(convo)

	placeholder := chat.NewMessage(chat.RoleAssistant, "")
	if placeholder.Timestamp <= userMsg.Timestamp {
		placeholder.Timestamp = userMsg.Timestamp + 1
	}
	convo.Messages = append(convo.Messages, placeholder)

	stream, err := sess.PromptStreaming(ctx, buildTurn(in))
	if err != nil {
		if !s.sessions.StillCurrent(epoch) {
			return nil, ErrSuperseded
		}
		s.rollback(&convo, placeholder.Timestamp)
		return nil, fmt.Errorf("streaming failed: %w", err)
	}
	defer stream.Close()

	var accumulated string
	for {
		fragment, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			// A superseded turn must not write anywhere, not even the
			// rollback snapshot.
			if !s.sessions.StillCurrent(epoch) {
				return nil, ErrSuperseded
			}
			s.rollback(&convo, placeholder.Timestamp)
			return nil, fmt.Errorf("streaming failed: %w", recvErr)
		}
		if !s.sessions.StillCurrent(epoch) {
			// The session was reset or replaced mid-stream. Late output must
			// not touch any transcript.
			return nil, ErrSuperseded
		}

		cleaned := RepairBoundary(accumulated, fragment)
		if cleaned == "" {
			continue
		}
		accumulated += cleaned
		if idx := convo.IndexByTimestamp(placeholder.Timestamp); idx >= 0 {
			convo.Messages[idx].Content = accumulated
		}
		ev.delta(cleaned)
	}

	// Settle currentness before title work so a superseded turn never
	// spends a disposable title session.
	if !s.sessions.StillCurrent(epoch) {
		return nil, ErrSuperseded
	}

	title, content := s.finalizeTitle(ctx, &convo, isNew, in.Text, accumulated)

	if idx := convo.IndexByTimestamp(placeholder.Timestamp); idx >= 0 {
		convo.Messages[idx].Content = NormalizeContent(content)
	}
	if title != convo.Title {
		convo.Title = title
		ev.title(title)
	}
	convo.Touch()
	if err := s.store.SaveConversation(convo); err != nil {
		return nil, fmt.Errorf("failed to persist conversation: %w", err)
	}
	return &convo, nil
}

// RewriteMessage regenerates one existing assistant message in place,
// following a free-text instruction. The target is matched by exact
// timestamp equality so concurrent edits cannot shift it.
func (s *Service) RewriteMessage(ctx context.Context, personaID, conversationID string, timestamp int64, instruction string, ev TurnEvents) (*chat.Conversation, error) {
	p, err := s.ResolvePersona(personaID)
	if err != nil {
		return nil, err
	}

	convo, found, err := s.LoadConversation(p.ID, conversationID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrConversationNotFound
	}

	idx := convo.IndexByTimestamp(timestamp)
	if idx < 0 || convo.Messages[idx].Role != chat.RoleAssistant {
		return nil, ErrMessageNotFound
	}
	original := convo.Messages[idx].Content

	var precedingUser string
	for i := idx - 1; i >= 0; i-- {
		if convo.Messages[i].Role == chat.RoleUser {
			precedingUser = convo.Messages[i].Content
			break
		}
	}

	sess, err := s.sessions.OpenDisposable(ctx, rewriteSystemPrompt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open rewrite session: %w", err)
	}
	defer sess.Destroy()

	prompt := fmt.Sprintf(
		"The assistant persona is defined as:\n%s\n\nThe user asked:\n%s\n\nThe assistant replied:\n%s\n\nRewrite the assistant's reply following this instruction: %s\n\nRespond with the rewritten reply only.",
		p.SystemPrompt, precedingUser, original, instruction,
	)

	stream, err := sess.PromptStreaming(ctx, capability.TextTurn(prompt))
	if err != nil {
		return nil, fmt.Errorf("rewrite streaming failed: %w", err)
	}
	defer stream.Close()

	var accumulated string
	for {
		fragment, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			// Leave the original message untouched.
			if i := convo.IndexByTimestamp(timestamp); i >= 0 {
				convo.Messages[i].Content = original
			}
			return nil, fmt.Errorf("rewrite streaming failed: %w", recvErr)
		}

		cleaned := RepairBoundary(accumulated, fragment)
		if cleaned == "" {
			continue
		}
		accumulated += cleaned
		if i := convo.IndexByTimestamp(timestamp); i >= 0 {
			convo.Messages[i].Content = accumulated
		}
		ev.delta(cleaned)
	}

	i := convo.IndexByTimestamp(timestamp)
	if i < 0 {
		return nil, ErrMessageNotFound
	}
	convo.Messages[i] = chat.Message{
		Role:      chat.RoleAssistant,
		Content:   NormalizeContent(accumulated),
		Timestamp: freshTimestamp(&convo),
	}
	convo.Touch()
	if err := s.store.SaveConversation(convo); err != nil {
		return nil, fmt.Errorf("failed to persist conversation: %w", err)
	}
	return &convo, nil
}

const rewriteSystemPrompt = "You rewrite assistant chat replies. Follow the user's rewriting instruction while preserving the persona's voice. Respond with the rewritten reply only, without preamble."

// finalizeTitle applies the at-most-once title rule for a turn: an inline
// directive wins, then the auxiliary generator for brand-new conversations,
// and the sentinel remains as the permanent fallback.
func (s *Service) finalizeTitle(ctx context.Context, convo *chat.Conversation, isNew bool, userText, accumulated string) (title, content string) {
	title = convo.Title
	content = accumulated

	if directive, rest, ok := ExtractTitleDirective(accumulated); ok && (convo.Title == chat.SentinelTitle || isNew) {
		return directive, rest
	}
	if isNew && title == chat.SentinelTitle {
		title = s.generateTitle(ctx, userText, accumulated)
	}
	return title, content
}

// rollback removes the in-progress assistant placeholder after a stream
// failure, keeping the user's message, and persists the trimmed transcript
// so the user can resend after a reload.
func (s *Service) rollback(convo *chat.Conversation, placeholderTS int64) {
	if idx := convo.IndexByTimestamp(placeholderTS); idx >= 0 {
		convo.Messages = append(convo.Messages[:idx], convo.Messages[idx+1:]...)
	}
	convo.Touch()
	if err := s.store.SaveConversation(*convo); err != nil {
		log.Printf("[chat] failed to persist rolled-back conversation %s: %v", convo.ID, err)
	}
}

// promoteBuiltin copies a catalog persona into the stored list on first real
// use, so storage never fills with personas that were never messaged.
func (s *Service) promoteBuiltin(p persona.Persona) {
	if !persona.IsBuiltin(p.ID) {
		return
	}
	if _, found, err := s.store.FindPersona(p.ID); err != nil || found {
		return
	}
	if err := s.store.SavePersona(p); err != nil {
		log.Printf("[chat] failed to promote builtin persona %s: %v", p.ID, err)
	}
}

func buildTurn(in TurnInput) capability.Turn {
	if in.Attachment == nil {
		return capability.TextTurn(in.Text)
	}
	parts := []capability.Part{*in.Attachment}
	if in.Text != "" {
		parts = append(parts, capability.Part{Kind: capability.PartText, Text: in.Text})
	}
	return capability.Turn{Parts: parts}
}

func attachmentAccepted(t persona.Type, kind capability.PartKind) bool {
	switch t {
	case persona.TypeImage:
		return kind == capability.PartImage
	case persona.TypeAudio:
		return kind == capability.PartAudio
	case persona.TypeText, persona.TypeMultimodal:
		return kind == capability.PartImage || kind == capability.PartAudio
	}
	return false
}

// freshTimestamp returns a current-millisecond stamp guaranteed not to
// collide with any message already in the conversation.
func freshTimestamp(convo *chat.Conversation) int64 {
	ts := time.Now().UnixMilli()
	for convo.IndexByTimestamp(ts) >= 0 {
		ts++
	}
	return ts
}
