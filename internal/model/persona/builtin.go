package persona

// Reserved catalog ids.
const (
	StoryWeaverID = "storyweaver"
	SpeechCoachID = "speechcoach"
)

// Builtin returns the fixed persona catalog shipped with the app. These are
// not user-editable and are identified by reserved ids.
func Builtin() []Persona {
	return []Persona{
		{
			ID:           StoryWeaverID,
			Name:         "StoryWeaver",
			Description:  "Your creative partner for brainstorming plots and writing new stories.",
			SystemPrompt: "You are a world-class storyteller and creative writer. When the user gives you a prompt, you help them brainstorm, expand on their ideas, and write engaging narrative. Always be imaginative.",
			Type:         TypeText,
		},
		{
			ID:           SpeechCoachID,
			Name:         "Speech Coach",
			Description:  "A private, on-device coach to help you practice speeches and presentations.",
			SystemPrompt: "You are an expert communication coach. The user will provide an audio recording and images of their face. Analyze their tone, confidence, clarity, and facial expressions. Provide constructive, encouraging feedback to help them improve.",
			Type:         TypeSpeechCoach,
		},
	}
}

// FindBuiltin looks up a catalog persona by its reserved id.
func FindBuiltin(id string) (Persona, bool) {
	for _, p := range Builtin() {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// IsBuiltin reports whether id is reserved by the catalog.
func IsBuiltin(id string) bool {
	_, ok := FindBuiltin(id)
	return ok
}
