package bus

import (
	"testing"
)

func TestEventTopics_Constants(t *testing.T) {
	if TopicSteerSubmitted == "" {
		t.Fatal("TopicSteerSubmitted is empty")
	}
	if TopicSteerAcked == "" {
		t.Fatal("TopicSteerAcked is empty")
	}
	if TopicPolicyBlocked == "" {
		t.Fatal("TopicPolicyBlocked is empty")
	}

	topics := map[string]bool{
		TopicRunStateChanged: true,
		TopicRunProgress:     true,
		TopicRunCompleted:    true,
		TopicRunFailed:       true,
		TopicRunRetrying:     true,
		TopicSteerSubmitted:  true,
		TopicSteerAcked:      true,
		TopicPolicyBlocked:   true,
	}
	if len(topics) != 8 {
		t.Fatalf("expected 8 unique topics, got %d", len(topics))
	}
}

func TestRunStateChangedEvent_Fields(t *testing.T) {
	event := RunStateChangedEvent{
		RunID:       "run-123",
		GroupFolder: "acme-widgets",
		OldState:    "dispatched",
		NewState:    "running",
	}

	if event.RunID == "" {
		t.Fatal("RunID must not be empty")
	}
	if event.GroupFolder == "" {
		t.Fatal("GroupFolder must not be empty")
	}
	if event.OldState == event.NewState {
		t.Fatal("OldState and NewState must differ for a real transition")
	}
}

func TestRunProgressEvent_Fields(t *testing.T) {
	event := RunProgressEvent{
		RunID:   "run-123",
		Tool:    "bash",
		Summary: "running tests",
	}

	if event.RunID == "" {
		t.Fatal("RunID must not be empty")
	}
	if event.Summary == "" {
		t.Fatal("Summary must not be empty")
	}
}

func TestRunCompletedEvent_Fields(t *testing.T) {
	event := RunCompletedEvent{
		RunID:      "run-123",
		CommitSHA:  "ping-0000000000000000000000000000000000000000",
		DurationMS: 4200,
	}

	if event.RunID == "" {
		t.Fatal("RunID must not be empty")
	}
	if event.DurationMS <= 0 {
		t.Fatalf("DurationMS must be positive, got %d", event.DurationMS)
	}
}

func TestSteerEvents_RunIDRequired(t *testing.T) {
	submitted := SteerSubmittedEvent{RunID: "run-123", Message: "stop and rerun lint"}
	if submitted.RunID == "" {
		t.Fatal("RunID must not be empty")
	}
	if submitted.Message == "" {
		t.Fatal("Message must not be empty")
	}

	acked := SteerAckedEvent{RunID: "run-123"}
	if acked.RunID == "" {
		t.Fatal("RunID must not be empty")
	}
}

func TestPolicyBlockedEvent_Fields(t *testing.T) {
	for _, lane := range []string{"main", "controller-developer", "controller-observer", "worker"} {
		event := PolicyBlockedEvent{
			GroupFolder: "acme-widgets",
			Lane:        lane,
			Reason:      "worker lane may not dispatch to another group",
		}
		if event.Lane != lane {
			t.Fatalf("Lane mismatch: got %s, want %s", event.Lane, lane)
		}
		if event.Reason == "" {
			t.Fatal("Reason must not be empty")
		}
	}
}
