package chat

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/personaforge/backend/internal/capability"
	"github.com/personaforge/backend/internal/model/chat"
)

const titleSystemPrompt = "You are a title generator. Create a very short, concise title (max 5 words) for a conversation based on the user's first message and the assistant's first reply. Focus on the main topic. Do not use quotes or introductory phrases."

// titleDirectiveRe matches an inline title directive on the first line of a
// response, e.g. "Title: Dragons of the North".
var titleDirectiveRe = regexp.MustCompile(`(?i)^\s*title:\s*(.+?)\s*$`)

var quoteStripper = strings.NewReplacer(`"`, "", `'`, "")

// ExtractTitleDirective recognizes a leading title directive line in a model
// response. It returns the named title and the content with the directive
// line removed.
func ExtractTitleDirective(text string) (title, remainder string, ok bool) {
	line, rest, hasRest := strings.Cut(text, "\n")
	m := titleDirectiveRe.FindStringSubmatch(line)
	if m == nil {
		return "", text, false
	}
	title = strings.Trim(strings.TrimSpace(m[1]), `"'`)
	if title == "" {
		return "", text, false
	}
	if !hasRest {
		return title, "", true
	}
	return title, strings.TrimLeft(rest, "\n"), true
}

// generateTitle runs the auxiliary one-shot title call on a disposable
// session. Every failure path falls back to the sentinel; nothing is ever
// surfaced to the user.
func (s *Service) generateTitle(ctx context.Context, userMessage, assistantResponse string) string {
	sess, err := s.sessions.OpenDisposable(ctx, titleSystemPrompt, nil)
	if err != nil {
		log.Printf("[chat] title session unavailable: %v", err)
		return chat.SentinelTitle
	}
	defer sess.Destroy()

	prompt := fmt.Sprintf("User: %s\nAssistant: %s", userMessage, assistantResponse)
	raw, err := sess.Prompt(ctx, capability.TextTurn(prompt))
	if err != nil {
		log.Printf("[chat] title generation failed: %v", err)
		return chat.SentinelTitle
	}

	cleaned := strings.TrimSpace(quoteStripper.Replace(raw))
	if cleaned == "" {
		return chat.SentinelTitle
	}
	return cleaned
}
