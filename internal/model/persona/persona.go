package persona

// Type declares which input modalities a persona expects from the user.
type Type string

const (
	TypeText        Type = "text"
	TypeAudio       Type = "audio"
	TypeImage       Type = "image"
	TypeSpeechCoach Type = "speechcoach"

	// TypeMultimodal is a legacy alias still found in stored data from early
	// releases. Treated as non-text, non-speechcoach.
	TypeMultimodal Type = "multimodal"
)

// Persona is a named system-prompt configuration. Immutable once created.
// Built-in personas live in a fixed catalog and are copied into the stored
// list lazily, on first real use.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"systemPrompt"`
	Type         Type   `json:"type"`
}

// ValidType reports whether t is accepted for user-created personas.
func ValidType(t Type) bool {
	switch t {
	case TypeText, TypeAudio, TypeImage, TypeSpeechCoach:
		return true
	}
	return false
}
