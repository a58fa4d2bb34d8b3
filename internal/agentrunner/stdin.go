// Package agentrunner is the in-container Agent Runner: it reads a turn
// payload from stdin, drives a model-SDK conversation while polling
// filesystem IPC for follow-up and steering messages, and frames assistant
// results onto stdout per the host's container protocol.
package agentrunner

import (
	"encoding/json"
	"fmt"
	"io"
)

// StdinPayload is the JSON object the Container Runner writes to the
// container's stdin before closing the write side once.
type StdinPayload struct {
	Prompt            string            `json:"prompt"`
	SessionID         string            `json:"sessionId,omitempty"`
	GroupFolder       string            `json:"groupFolder"`
	ChatJID           string            `json:"chatJid"`
	IsMain            bool              `json:"isMain"`
	IsScheduledTask   bool              `json:"isScheduledTask,omitempty"`
	AssistantName     string            `json:"assistantName,omitempty"`
	Secrets           map[string]string `json:"secrets"`
}

// ReadStdinPayload reads r to EOF and unmarshals it as a StdinPayload. EOF
// with zero bytes read is itself an error: the runner always writes exactly
// one JSON object before closing stdin.
func ReadStdinPayload(r io.Reader) (StdinPayload, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return StdinPayload{}, fmt.Errorf("read stdin: %w", err)
	}
	if len(body) == 0 {
		return StdinPayload{}, fmt.Errorf("read stdin: empty payload")
	}
	var p StdinPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return StdinPayload{}, fmt.Errorf("unmarshal stdin payload: %w", err)
	}
	if p.Prompt == "" {
		return StdinPayload{}, fmt.Errorf("stdin payload missing prompt")
	}
	return p, nil
}
