package capability

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/personaforge/backend/internal/model/chat"
)

// ArkRuntime adapts an eino chat model to the Runtime boundary. The model
// handle never escapes this file. The backing service has no download phase:
// it is either configured and reachable (available) or it is not.
type ArkRuntime struct {
	chatModel model.ChatModel
	params    Params
}

// NewArkRuntime wraps an already-constructed chat model. A nil model yields
// a runtime that reports unavailable.
func NewArkRuntime(chatModel model.ChatModel, params Params) *ArkRuntime {
	return &ArkRuntime{chatModel: chatModel, params: params}
}

// Availability reports whether the chat model is usable.
func (r *ArkRuntime) Availability(_ context.Context) (State, error) {
	if r.chatModel == nil {
		return StateUnavailable, nil
	}
	return StateAvailable, nil
}

// Params returns the configured sampling defaults and maxima.
func (r *ArkRuntime) Params(_ context.Context) (Params, error) {
	return r.params, nil
}

// Download is never applicable for this runtime.
func (r *ArkRuntime) Download(_ context.Context, _ func(loaded, total uint64)) error {
	return ErrNotDownloadable
}

// NewSession builds a session seeded with the system prompt and prior
// history, declaring the expected input modality set.
func (r *ArkRuntime) NewSession(_ context.Context, opts SessionOptions) (Session, error) {
	if r.chatModel == nil {
		return nil, ErrUnavailable
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		return nil, ErrMissingPrompt
	}

	seed := make([]*schema.Message, 0, len(opts.History)+1)
	seed = append(seed, schema.SystemMessage(opts.SystemPrompt))
	for _, msg := range opts.History {
		switch msg.Role {
		case chat.RoleUser:
			seed = append(seed, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			seed = append(seed, schema.AssistantMessage(msg.Content, nil))
		}
	}

	inputs := opts.Inputs
	if len(inputs) == 0 {
		inputs = []Modality{ModalityText}
	}
	accepted := make(map[Modality]bool, len(inputs))
	for _, m := range inputs {
		accepted[m] = true
	}

	return &arkSession{
		chatModel:   r.chatModel,
		seed:        seed,
		accepted:    accepted,
		temperature: opts.Temperature,
	}, nil
}

// arkSession keeps the running context of one chat session: completed turns
// are folded into the seed so later prompts see the full conversation,
// matching the stateful session the app was built against.
type arkSession struct {
	chatModel   model.ChatModel
	temperature *float32

	mu        sync.Mutex
	seed      []*schema.Message
	accepted  map[Modality]bool
	destroyed bool
}

func (s *arkSession) options() []model.Option {
	if s.temperature == nil {
		return nil
	}
	return []model.Option{model.WithTemperature(*s.temperature)}
}

func (s *arkSession) buildTurn(turn Turn) (*schema.Message, error) {
	if len(turn.Parts) == 0 {
		return nil, ErrEmptyTurn
	}

	if len(turn.Parts) == 1 && turn.Parts[0].Kind == PartText {
		if !s.accepted[ModalityText] {
			return nil, fmt.Errorf("session does not accept text input")
		}
		return schema.UserMessage(turn.Parts[0].Text), nil
	}

	parts := make([]schema.ChatMessagePart, 0, len(turn.Parts))
	for _, p := range turn.Parts {
		switch p.Kind {
		case PartText:
			if !s.accepted[ModalityText] {
				return nil, fmt.Errorf("session does not accept text input")
			}
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeText,
				Text: p.Text,
			})
		case PartImage:
			if !s.accepted[ModalityImage] {
				return nil, fmt.Errorf("session does not accept image input")
			}
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL:      dataURL(p.MIME, p.Data),
					MIMEType: p.MIME,
				},
			})
		case PartAudio:
			if !s.accepted[ModalityAudio] {
				return nil, fmt.Errorf("session does not accept audio input")
			}
			parts = append(parts, schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeAudioURL,
				AudioURL: &schema.ChatMessageAudioURL{
					URL:      dataURL(p.MIME, p.Data),
					MIMEType: p.MIME,
				},
			})
		default:
			return nil, fmt.Errorf("unknown part kind %q", p.Kind)
		}
	}

	return &schema.Message{Role: schema.User, MultiContent: parts}, nil
}

// Prompt runs a non-streaming single-shot exchange.
func (s *arkSession) Prompt(ctx context.Context, turn Turn) (string, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return "", ErrSessionDestroyed
	}
	userMsg, err := s.buildTurn(turn)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	msgs := append(append([]*schema.Message(nil), s.seed...), userMsg)
	s.mu.Unlock()

	resp, err := s.chatModel.Generate(ctx, msgs, s.options()...)
	if err != nil {
		return "", fmt.Errorf("model generate failed: %w", err)
	}

	s.remember(userMsg, schema.AssistantMessage(resp.Content, nil))
	return resp.Content, nil
}

// PromptStreaming starts a streamed exchange and returns the fragment stream.
func (s *arkSession) PromptStreaming(ctx context.Context, turn Turn) (Stream, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, ErrSessionDestroyed
	}
	userMsg, err := s.buildTurn(turn)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	msgs := append(append([]*schema.Message(nil), s.seed...), userMsg)
	s.mu.Unlock()

	reader, err := s.chatModel.Stream(ctx, msgs, s.options()...)
	if err != nil {
		return nil, fmt.Errorf("model stream failed: %w", err)
	}

	return &arkStream{reader: reader, session: s, userMsg: userMsg}, nil
}

// Destroy invalidates the handle. Idempotent; in-flight streams keep
// draining but their completion is no longer folded into the session.
func (s *arkSession) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.seed = nil
	s.mu.Unlock()
}

func (s *arkSession) remember(userMsg, assistantMsg *schema.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.seed = append(s.seed, userMsg, assistantMsg)
}

// arkStream adapts the eino stream reader to plain text fragments and folds
// the finished exchange back into the owning session on EOF.
type arkStream struct {
	reader  *schema.StreamReader[*schema.Message]
	session *arkSession
	userMsg *schema.Message
	acc     strings.Builder
	done    bool
}

func (st *arkStream) Recv() (string, error) {
	for {
		chunk, err := st.reader.Recv()
		if errors.Is(err, io.EOF) {
			if !st.done {
				st.done = true
				st.session.remember(st.userMsg, schema.AssistantMessage(st.acc.String(), nil))
			}
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		st.acc.WriteString(chunk.Content)
		return chunk.Content, nil
	}
}

func (st *arkStream) Close() {
	st.reader.Close()
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
