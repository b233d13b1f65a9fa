package chat

import "time"

// SentinelTitle marks a conversation that has not been titled yet. It doubles
// as the "needs a generated title" signal during the first turn.
const SentinelTitle = "New Chat"

// Conversation is a persisted, titled transcript bound to exactly one persona.
type Conversation struct {
	ID         string    `json:"id"`
	PersonaID  string    `json:"personaId"`
	Title      string    `json:"title"`
	Messages   []Message `json:"messages"`
	LastEdited int64     `json:"lastEdited"`
}

// NewConversation seeds a fresh conversation with its first message.
func NewConversation(id, personaID string, first Message) Conversation {
	return Conversation{
		ID:         id,
		PersonaID:  personaID,
		Title:      SentinelTitle,
		Messages:   []Message{first},
		LastEdited: time.Now().UnixMilli(),
	}
}

// Touch updates the last-edited stamp.
func (c *Conversation) Touch() {
	c.LastEdited = time.Now().UnixMilli()
}

// IndexByTimestamp locates a message by exact timestamp equality. Returns -1
// when absent.
func (c *Conversation) IndexByTimestamp(ts int64) int {
	for i := range c.Messages {
		if c.Messages[i].Timestamp == ts {
			return i
		}
	}
	return -1
}
