package store

import (
	"errors"

	"github.com/personaforge/backend/internal/model/chat"
	"github.com/personaforge/backend/internal/model/persona"
)

var ErrNotFound = errors.New("record not found")

// Store is the persistence port for personas and conversations. Writes are
// whole-record overwrites with last-writer-wins semantics; the app is the
// only writer. Components receive a Store, never a global.
type Store interface {
	ListPersonas() ([]persona.Persona, error)
	FindPersona(id string) (persona.Persona, bool, error)
	SavePersona(p persona.Persona) error
	// DeletePersona removes the persona and cascades to every conversation
	// whose PersonaID matches, and no others.
	DeletePersona(id string) error

	// ListConversations returns the persona's conversations sorted newest
	// first by LastEdited.
	ListConversations(personaID string) ([]chat.Conversation, error)
	GetConversation(id string) (chat.Conversation, bool, error)
	SaveConversation(c chat.Conversation) error
	DeleteConversation(id string) error
	DeleteConversationsForPersona(personaID string) error

	Close() error
}
