package session

import (
	"context"
	"testing"

	"github.com/personaforge/backend/internal/capability"
	"github.com/personaforge/backend/internal/model/chat"
	"github.com/personaforge/backend/internal/model/persona"
)

type fakeSession struct {
	destroyed int
	opts      capability.SessionOptions
}

func (f *fakeSession) Prompt(context.Context, capability.Turn) (string, error) {
	return "", nil
}

func (f *fakeSession) PromptStreaming(context.Context, capability.Turn) (capability.Stream, error) {
	return nil, nil
}

func (f *fakeSession) Destroy() { f.destroyed++ }

type fakeRuntime struct {
	state    capability.State
	sessions []*fakeSession
}

func (f *fakeRuntime) Availability(context.Context) (capability.State, error) {
	return f.state, nil
}

func (f *fakeRuntime) Params(context.Context) (capability.Params, error) {
	return capability.Params{DefaultTopK: 3, MaxTopK: 128, DefaultTemperature: 1, MaxTemperature: 2}, nil
}

func (f *fakeRuntime) Download(context.Context, func(loaded, total uint64)) error {
	return capability.ErrNotDownloadable
}

func (f *fakeRuntime) NewSession(_ context.Context, opts capability.SessionOptions) (capability.Session, error) {
	s := &fakeSession{opts: opts}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func availableManager(t *testing.T) (*Manager, *fakeRuntime) {
	t.Helper()
	rt := &fakeRuntime{state: capability.StateAvailable}
	monitor := capability.NewMonitor(rt)
	monitor.Check(context.Background())
	return NewManager(rt, monitor), rt
}

var textPersona = persona.Persona{ID: "storyweaver", SystemPrompt: "You tell stories.", Type: persona.TypeText}

func TestEnsureChatReusesMatchingContext(t *testing.T) {
	m, rt := availableManager(t)
	ctx := context.Background()

	s1, e1, err := m.EnsureChat(ctx, textPersona, "c1", nil)
	if err != nil {
		t.Fatalf("EnsureChat err: %v", err)
	}
	s2, e2, err := m.EnsureChat(ctx, textPersona, "c1", nil)
	if err != nil {
		t.Fatalf("EnsureChat err: %v", err)
	}
	if s1 != s2 || e1 != e2 {
		t.Fatal("matching context should reuse the live session")
	}
	if len(rt.sessions) != 1 {
		t.Fatalf("created %d sessions, want 1", len(rt.sessions))
	}
}

func TestEnsureChatDestroysOnContextChange(t *testing.T) {
	m, rt := availableManager(t)
	ctx := context.Background()

	_, e1, err := m.EnsureChat(ctx, textPersona, "c1", nil)
	if err != nil {
		t.Fatalf("EnsureChat err: %v", err)
	}
	_, e2, err := m.EnsureChat(ctx, textPersona, "c2", nil)
	if err != nil {
		t.Fatalf("EnsureChat err: %v", err)
	}
	if e2 == e1 {
		t.Fatal("context change must bump the epoch")
	}
	if rt.sessions[0].destroyed == 0 {
		t.Fatal("old session was not destroyed before opening a new one")
	}
	if m.StillCurrent(e1) {
		t.Fatal("stale epoch still reported current")
	}
	if !m.StillCurrent(e2) {
		t.Fatal("fresh epoch not reported current")
	}
}

func TestEnsureChatSeedsHistory(t *testing.T) {
	m, rt := availableManager(t)
	history := []chat.Message{
		{Role: chat.RoleUser, Content: "hi", Timestamp: 1},
		{Role: chat.RoleAssistant, Content: "hello", Timestamp: 2},
	}
	if _, _, err := m.EnsureChat(context.Background(), textPersona, "c1", history); err != nil {
		t.Fatalf("EnsureChat err: %v", err)
	}
	opts := rt.sessions[0].opts
	if opts.SystemPrompt != textPersona.SystemPrompt {
		t.Fatalf("system prompt not seeded: %q", opts.SystemPrompt)
	}
	if len(opts.History) != 2 || opts.History[0].Content != "hi" || opts.History[1].Content != "hello" {
		t.Fatalf("history not preserved in order: %+v", opts.History)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	m, rt := availableManager(t)
	_, epoch, err := m.EnsureChat(context.Background(), textPersona, "c1", nil)
	if err != nil {
		t.Fatalf("EnsureChat err: %v", err)
	}

	m.Reset()
	m.Reset()

	if rt.sessions[0].destroyed != 1 {
		t.Fatalf("session destroyed %d times, want 1", rt.sessions[0].destroyed)
	}
	if m.StillCurrent(epoch) {
		t.Fatal("epoch still current after reset")
	}
}

func TestEnsureChatRequiresAvailability(t *testing.T) {
	rt := &fakeRuntime{state: capability.StateUnavailable}
	monitor := capability.NewMonitor(rt)
	monitor.Check(context.Background())
	m := NewManager(rt, monitor)

	if _, _, err := m.EnsureChat(context.Background(), textPersona, "", nil); err != capability.ErrUnavailable {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestEnsureChatRejectsSpeechCoach(t *testing.T) {
	m, _ := availableManager(t)
	coach := persona.Persona{ID: "speechcoach", SystemPrompt: "coach", Type: persona.TypeSpeechCoach}
	if _, _, err := m.EnsureChat(context.Background(), coach, "", nil); err != ErrPersonaNotChattable {
		t.Fatalf("expected ErrPersonaNotChattable, got %v", err)
	}
}

func TestInputsFor(t *testing.T) {
	if got := InputsFor(persona.TypeText); len(got) != 1 || got[0] != capability.ModalityText {
		t.Fatalf("text inputs = %v", got)
	}
	if got := InputsFor(persona.TypeImage); len(got) != 2 || got[0] != capability.ModalityImage {
		t.Fatalf("image inputs = %v", got)
	}
	if got := InputsFor(persona.TypeAudio); len(got) != 2 || got[0] != capability.ModalityAudio {
		t.Fatalf("audio inputs = %v", got)
	}
	if got := InputsFor(persona.TypeMultimodal); len(got) != 3 {
		t.Fatalf("multimodal inputs = %v", got)
	}
}
