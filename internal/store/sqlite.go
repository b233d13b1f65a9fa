package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/personaforge/backend/internal/model/chat"
	"github.com/personaforge/backend/internal/model/persona"
)

const (
	personasKey      = "personas"
	conversationsKey = "conversations"
)

// SQLiteStore keeps both collections as full JSON lists under fixed keys in a
// single key-value table, mirroring the localStorage contract the app was
// designed around: no partial updates, no transactions across keys, no schema
// versioning. A mutex serializes writers.
type SQLiteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens (and if needed initializes) the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store ping failed: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS localstore (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) get(key string, out any) error {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM localstore WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) set(key string, in any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if _, err := s.db.Exec(`INSERT INTO localstore (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(raw)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) readPersonas() ([]persona.Persona, error) {
	var items []persona.Persona
	if err := s.get(personasKey, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *SQLiteStore) readConversations() ([]chat.Conversation, error) {
	var items []chat.Conversation
	if err := s.get(conversationsKey, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ListPersonas returns the stored (user-created or promoted) personas.
func (s *SQLiteStore) ListPersonas() ([]persona.Persona, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPersonas()
}

// FindPersona looks up a stored persona by id.
func (s *SQLiteStore) FindPersona(id string) (persona.Persona, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readPersonas()
	if err != nil {
		return persona.Persona{}, false, err
	}
	for _, p := range items {
		if p.ID == id {
			return p, true, nil
		}
	}
	return persona.Persona{}, false, nil
}

// SavePersona inserts or overwrites one persona record.
func (s *SQLiteStore) SavePersona(p persona.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readPersonas()
	if err != nil {
		return err
	}

	replaced := false
	for i := range items {
		if items[i].ID == p.ID {
			items[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, p)
	}
	return s.set(personasKey, items)
}

// DeletePersona removes the persona and every conversation bound to it.
func (s *SQLiteStore) DeletePersona(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readPersonas()
	if err != nil {
		return err
	}

	kept := items[:0]
	found := false
	for _, p := range items {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return ErrNotFound
	}
	if err := s.set(personasKey, kept); err != nil {
		return err
	}
	return s.deleteConversationsLocked(func(c chat.Conversation) bool { return c.PersonaID == id })
}

// ListConversations returns the persona's conversations, newest first.
func (s *SQLiteStore) ListConversations(personaID string) ([]chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readConversations()
	if err != nil {
		return nil, err
	}

	var matched []chat.Conversation
	for _, c := range items {
		if c.PersonaID == personaID {
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].LastEdited > matched[j].LastEdited
	})
	return matched, nil
}

// GetConversation looks up one conversation by id.
func (s *SQLiteStore) GetConversation(id string) (chat.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readConversations()
	if err != nil {
		return chat.Conversation{}, false, err
	}
	for _, c := range items {
		if c.ID == id {
			return c, true, nil
		}
	}
	return chat.Conversation{}, false, nil
}

// SaveConversation overwrites the full conversation record; the store always
// holds the latest snapshot.
func (s *SQLiteStore) SaveConversation(c chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.readConversations()
	if err != nil {
		return err
	}

	replaced := false
	for i := range items {
		if items[i].ID == c.ID {
			items[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, c)
	}
	return s.set(conversationsKey, items)
}

// DeleteConversation removes a single conversation.
func (s *SQLiteStore) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteConversationsLocked(func(c chat.Conversation) bool { return c.ID == id })
}

// DeleteConversationsForPersona removes every conversation for one persona.
func (s *SQLiteStore) DeleteConversationsForPersona(personaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteConversationsLocked(func(c chat.Conversation) bool { return c.PersonaID == personaID })
}

func (s *SQLiteStore) deleteConversationsLocked(drop func(chat.Conversation) bool) error {
	items, err := s.readConversations()
	if err != nil {
		return err
	}

	kept := items[:0]
	for _, c := range items {
		if drop(c) {
			continue
		}
		kept = append(kept, c)
	}
	return s.set(conversationsKey, kept)
}
