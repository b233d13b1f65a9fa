// Package capability wraps the on-device model runtime behind a narrow
// boundary: availability query, download, session creation, streaming and
// one-shot prompts. Nothing outside this package touches the underlying
// model handle directly.
package capability

import (
	"context"
	"errors"

	"github.com/personaforge/backend/internal/model/chat"
)

// State is the capability availability state.
type State string

const (
	StateChecking     State = "checking"
	StateUnavailable  State = "unavailable"
	StateDownloadable State = "downloadable"
	StateDownloading  State = "downloading"
	StateAvailable    State = "available"
)

var (
	ErrUnavailable      = errors.New("model capability is not available")
	ErrNotDownloadable  = errors.New("model capability has nothing to download")
	ErrSessionDestroyed = errors.New("session has been destroyed")
	ErrMissingPrompt    = errors.New("system prompt is required")
	ErrEmptyTurn        = errors.New("turn has no parts")
)

// Params reports the runtime's sampling defaults and maxima.
type Params struct {
	DefaultTopK        int     `json:"defaultTopK"`
	MaxTopK            int     `json:"maxTopK"`
	DefaultTemperature float32 `json:"defaultTemperature"`
	MaxTemperature     float32 `json:"maxTemperature"`
}

// Modality is an input kind a session declares it will accept.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityAudio Modality = "audio"
)

// PartKind tags one element of a structured turn.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
	PartAudio PartKind = "audio"
)

// Part is one typed element of a user turn: either text or a binary media
// blob with its MIME type.
type Part struct {
	Kind PartKind
	Text string
	Data []byte
	MIME string
}

// Turn is an ordered list of typed parts sent as a single user turn.
type Turn struct {
	Parts []Part
}

// TextTurn wraps a plain string in a single-part turn.
func TextTurn(s string) Turn {
	return Turn{Parts: []Part{{Kind: PartText, Text: s}}}
}

// SessionOptions configures a new session.
type SessionOptions struct {
	SystemPrompt string
	History      []chat.Message
	// Inputs declares the expected input modality set. Defaults to text only.
	Inputs      []Modality
	Temperature *float32
}

// Stream yields incremental text fragments. Recv returns io.EOF when the
// stream is exhausted. Fragments arrive strictly in order.
type Stream interface {
	Recv() (string, error)
	Close()
}

// Session is a live conversational handle bound to one system prompt,
// history and modality context.
type Session interface {
	Prompt(ctx context.Context, turn Turn) (string, error)
	PromptStreaming(ctx context.Context, turn Turn) (Stream, error)
	// Destroy invalidates the handle. Idempotent. It does not stop an
	// in-flight stream; callers must stop applying late output themselves.
	Destroy()
}

// Runtime is the opaque model capability consumed by the rest of the app.
type Runtime interface {
	Availability(ctx context.Context) (State, error)
	Params(ctx context.Context) (Params, error)
	// Download acquires the model, reporting (loaded, total) progress.
	// total may be zero when unknown.
	Download(ctx context.Context, progress func(loaded, total uint64)) error
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}
