package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// SteerPayload is the host-written JSON a running container agent polls for
// every 500ms and, on arrival, injects into the active turn.
type SteerPayload struct {
	SteerID string `json:"steer_id"`
	Message string `json:"message"`
}

// SteerAck is the sentinel the container agent writes once it has injected
// the steering message; its presence (keyed by SteerID) is the
// at-most-once idempotency marker.
type SteerAck struct {
	SteerID string `json:"steer_id"`
}

// WriteSteer atomically drops a steering message for runID. Only the host
// writes this file.
func WriteSteer(p Paths, runID string, payload SteerPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ipc: marshal steer payload: %w", err)
	}
	return writeFileAtomic(p.Steer(runID), body)
}

// ReadSteer reads the pending steering file for runID, if any. A missing
// file is not an error: it means nothing is queued this poll tick.
func ReadSteer(p Paths, runID string) (SteerPayload, bool, error) {
	body, err := os.ReadFile(p.Steer(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return SteerPayload{}, false, nil
		}
		return SteerPayload{}, false, fmt.Errorf("ipc: read steer file: %w", err)
	}
	var payload SteerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return SteerPayload{}, false, fmt.Errorf("ipc: parse steer file: %w", err)
	}
	return payload, true, nil
}

// AckSteer is called by the container agent after it has injected a
// steering message into the active turn: it writes the ack sentinel, then
// unlinks the source steer file, in that order, so a crash between the two
// steps never loses the ack.
func AckSteer(p Paths, runID, steerID string) error {
	body, err := json.Marshal(SteerAck{SteerID: steerID})
	if err != nil {
		return fmt.Errorf("ipc: marshal steer ack: %w", err)
	}
	if err := writeFileAtomic(p.SteerAck(runID), body); err != nil {
		return fmt.Errorf("ipc: write steer ack: %w", err)
	}
	if err := os.Remove(p.Steer(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: unlink steer file: %w", err)
	}
	return nil
}

// ErrNoSteerAck is returned by ReadAndConsumeSteerAck when no ack is
// pending for runID.
var ErrNoSteerAck = errors.New("ipc: no pending steer ack")

// ReadAndConsumeSteerAck is the host-side poll: it checks for an ack
// sentinel, reads the acked steer_id, and unlinks the sentinel so a later
// poll cycle never re-delivers the same ack.
func ReadAndConsumeSteerAck(p Paths, runID string) (SteerAck, error) {
	path := p.SteerAck(runID)
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SteerAck{}, ErrNoSteerAck
		}
		return SteerAck{}, fmt.Errorf("ipc: read steer ack: %w", err)
	}
	var ack SteerAck
	if err := json.Unmarshal(body, &ack); err != nil {
		_ = os.Remove(path)
		return SteerAck{}, fmt.Errorf("ipc: parse steer ack: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ack, fmt.Errorf("ipc: unlink steer ack: %w", err)
	}
	return ack, nil
}
