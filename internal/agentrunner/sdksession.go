package agentrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
)

// The model SDK itself is stateless across process invocations — each
// container run is its own process, and the SDK has no server-side
// "session" primitive. "Resuming a session" in this package means replaying
// a prior turn's message history, persisted to a small JSON file this
// package owns, back into a fresh SDK conversation. This is the one file in
// the package that touches the real SDK client; everything else in
// turnloop.go talks to the Session interface, so it is independently
// testable against the fake in *_test.go without an API key.

type sessionHistoryFile struct {
	Messages []anthropic.MessageParam `json:"messages"`
}

func sessionHistoryPath(workspaceDir, sessionID string) string {
	return filepath.Join(workspaceDir, ".sessions", sessionID+".json")
}

func loadSessionHistory(workspaceDir, sessionID string) ([]anthropic.MessageParam, error) {
	path := sessionHistoryPath(workspaceDir, sessionID)
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("unknown session: %s", sessionID)
		}
		return nil, fmt.Errorf("read session history %s: %w", sessionID, err)
	}
	var f sessionHistoryFile
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("unknown session: %s: corrupt history: %w", sessionID, err)
	}
	return f.Messages, nil
}

func saveSessionHistory(workspaceDir, sessionID string, messages []anthropic.MessageParam) error {
	path := sessionHistoryPath(workspaceDir, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure session dir: %w", err)
	}
	body, err := json.Marshal(sessionHistoryFile{Messages: messages})
	if err != nil {
		return fmt.Errorf("marshal session history: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return fmt.Errorf("write session history: %w", err)
	}
	return os.Rename(tmp, path)
}

// sdkSession is the real Session implementation backed by anthropic-sdk-go.
type sdkSession struct {
	client       anthropic.Client
	model        anthropic.Model
	workspaceDir string
	sessionID    string
	history      []anthropic.MessageParam
}

// NewAnthropicSessionFactory returns a SessionFactory that opens sdkSession
// values against the real Anthropic API. workspaceDir is where per-session
// history is persisted between container invocations.
func NewAnthropicSessionFactory(workspaceDir string) SessionFactory {
	return func(ctx context.Context, apiKey, model, sessionID string) (Session, error) {
		client := anthropic.NewClient(option.WithAPIKey(apiKey))

		var history []anthropic.MessageParam
		id := sessionID
		if id != "" {
			h, err := loadSessionHistory(workspaceDir, id)
			if err != nil {
				return nil, err
			}
			history = h
		} else {
			id = uuid.NewString()
		}

		return &sdkSession{
			client:       client,
			model:        anthropic.Model(model),
			workspaceDir: workspaceDir,
			sessionID:    id,
			history:      history,
		}, nil
	}
}

func (s *sdkSession) Push(ctx context.Context, message string) (<-chan Event, error) {
	s.history = append(s.history, anthropic.NewUserMessage(anthropic.NewTextBlock(message)))

	stream := s.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 4096,
		Messages:  s.history,
	})

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		var assistantText string
		var message anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- Event{Kind: EventText, Text: fmt.Sprintf("stream accumulate error: %v", err)}
				continue
			}
			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if text := delta.Delta.Text; text != "" {
					assistantText += text
					out <- Event{Kind: EventText, Text: text}
				}
			case anthropic.ContentBlockStartEvent:
				if toolUse := delta.ContentBlock.AsAny(); toolUse != nil {
					if tu, ok := toolUse.(anthropic.ToolUseBlock); ok {
						out <- Event{Kind: EventToolUse, ToolName: tu.Name}
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Event{Kind: EventText, Text: fmt.Sprintf("stream error: %v", err)}
			return
		}

		s.history = append(s.history, message.ToParam())
		_ = saveSessionHistory(s.workspaceDir, s.sessionID, s.history)
		out <- Event{Kind: EventDone, SessionID: s.sessionID}
	}()
	return out, nil
}

func (s *sdkSession) Close() error { return nil }
