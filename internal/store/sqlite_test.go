package store_test

import (
	"path/filepath"
	"testing"

	"github.com/personaforge/backend/internal/model/chat"
	"github.com/personaforge/backend/internal/model/persona"
	"github.com/personaforge/backend/internal/store"
)

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite err: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationRoundTrip(t *testing.T) {
	s := openTestStore(t)

	convo := chat.Conversation{
		ID:        "c1",
		PersonaID: "storyweaver",
		Title:     "Dragon Tales",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "Tell me a story", Timestamp: 100},
			{Role: chat.RoleAssistant, Content: "Once upon a time...", Timestamp: 200},
		},
		LastEdited: 1234,
	}
	if err := s.SaveConversation(convo); err != nil {
		t.Fatalf("SaveConversation err: %v", err)
	}

	got, ok, err := s.GetConversation("c1")
	if err != nil {
		t.Fatalf("GetConversation err: %v", err)
	}
	if !ok {
		t.Fatal("conversation missing after save")
	}
	if got.ID != convo.ID || got.Title != convo.Title {
		t.Fatalf("unexpected record: %+v", got)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("unexpected message count: %d", len(got.Messages))
	}
	if got.Messages[0].Content != "Tell me a story" || got.Messages[1].Content != "Once upon a time..." {
		t.Fatalf("message order not preserved: %+v", got.Messages)
	}
	if got.LastEdited < convo.LastEdited {
		t.Fatalf("lastEdited went backwards: %d", got.LastEdited)
	}
}

func TestSaveConversationOverwrites(t *testing.T) {
	s := openTestStore(t)

	convo := chat.Conversation{ID: "c1", PersonaID: "p1", Title: chat.SentinelTitle, LastEdited: 1}
	if err := s.SaveConversation(convo); err != nil {
		t.Fatalf("save err: %v", err)
	}

	convo.Title = "Titled"
	convo.LastEdited = 2
	if err := s.SaveConversation(convo); err != nil {
		t.Fatalf("overwrite err: %v", err)
	}

	all, err := s.ListConversations("p1")
	if err != nil {
		t.Fatalf("list err: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected single record after overwrite, got %d", len(all))
	}
	if all[0].Title != "Titled" {
		t.Fatalf("store did not keep latest snapshot: %q", all[0].Title)
	}
}

func TestListConversationsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	for _, c := range []chat.Conversation{
		{ID: "old", PersonaID: "p1", LastEdited: 10},
		{ID: "new", PersonaID: "p1", LastEdited: 30},
		{ID: "mid", PersonaID: "p1", LastEdited: 20},
		{ID: "other", PersonaID: "p2", LastEdited: 99},
	} {
		if err := s.SaveConversation(c); err != nil {
			t.Fatalf("save err: %v", err)
		}
	}

	got, err := s.ListConversations("p1")
	if err != nil {
		t.Fatalf("list err: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(got))
	}
	if got[0].ID != "new" || got[1].ID != "mid" || got[2].ID != "old" {
		t.Fatalf("not sorted newest first: %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestDeletePersonaCascades(t *testing.T) {
	s := openTestStore(t)

	if err := s.SavePersona(persona.Persona{ID: "p1", Name: "One", SystemPrompt: "x", Type: persona.TypeText}); err != nil {
		t.Fatalf("save persona err: %v", err)
	}
	if err := s.SavePersona(persona.Persona{ID: "p2", Name: "Two", SystemPrompt: "y", Type: persona.TypeText}); err != nil {
		t.Fatalf("save persona err: %v", err)
	}
	for _, c := range []chat.Conversation{
		{ID: "c1", PersonaID: "p1"},
		{ID: "c2", PersonaID: "p1"},
		{ID: "c3", PersonaID: "p2"},
	} {
		if err := s.SaveConversation(c); err != nil {
			t.Fatalf("save convo err: %v", err)
		}
	}

	if err := s.DeletePersona("p1"); err != nil {
		t.Fatalf("DeletePersona err: %v", err)
	}

	if _, ok, _ := s.FindPersona("p1"); ok {
		t.Fatal("persona survived deletion")
	}
	gone, _ := s.ListConversations("p1")
	if len(gone) != 0 {
		t.Fatalf("cascade left %d conversations", len(gone))
	}
	kept, _ := s.ListConversations("p2")
	if len(kept) != 1 || kept[0].ID != "c3" {
		t.Fatalf("cascade removed unrelated conversations: %+v", kept)
	}
}

func TestDeleteMissingPersona(t *testing.T) {
	s := openTestStore(t)
	if err := s.DeletePersona("nope"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
