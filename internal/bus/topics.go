package bus

// SteerSubmittedEvent is published when the host writes a new steering
// message into steer/<run_id>.json for a running container to pick up.
type SteerSubmittedEvent struct {
	RunID   string // Run ID
	Message string // Steering message text
}

// SteerAckedEvent is published when the in-container agent has consumed a
// steering message and written the matching .acked.json sentinel.
type SteerAckedEvent struct {
	RunID string // Run ID
}

// PolicyBlockedEvent is published when the Host Router or Dispatch Validator
// rejects a message under the four-lane delegation matrix, without ever
// creating a worker_runs row.
type PolicyBlockedEvent struct {
	GroupFolder string // Group the message arrived on
	Lane        string // Lane the message claimed (main/controller-developer/controller-observer/worker)
	Reason      string // Human-readable rejection reason
}
