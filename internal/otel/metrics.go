package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all host metrics instruments.
type Metrics struct {
	RunDuration           metric.Float64Histogram
	ContainerSpawnDuration metric.Float64Histogram
	RunsActive            metric.Int64UpDownCounter
	RunsCompleted         metric.Int64Counter
	RunsFailed            metric.Int64Counter
	RunsRetried           metric.Int64Counter
	QueueDepth            metric.Int64UpDownCounter
	DispatchBlocked       metric.Int64Counter
	HeartbeatsReceived    metric.Int64Counter
	AuthFallbacks         metric.Int64Counter
	SteerEventsSent       metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RunDuration, err = meter.Float64Histogram("nanoclaw.run.duration",
		metric.WithDescription("Worker run wall-clock duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ContainerSpawnDuration, err = meter.Float64Histogram("nanoclaw.container.spawn_duration",
		metric.WithDescription("Time from container spawn request to spawn confirmation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsActive, err = meter.Int64UpDownCounter("nanoclaw.run.active",
		metric.WithDescription("Number of worker runs currently occupying a container slot"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("nanoclaw.run.completed",
		metric.WithDescription("Total worker runs that reached the completed state"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("nanoclaw.run.failed",
		metric.WithDescription("Total worker runs that reached a failed or failed_contract state"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsRetried, err = meter.Int64Counter("nanoclaw.run.retried",
		metric.WithDescription("Total worker run retry attempts"),
	)
	if err != nil {
		return nil, err
	}

	m.QueueDepth, err = meter.Int64UpDownCounter("nanoclaw.queue.depth",
		metric.WithDescription("Number of messages currently queued per group"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchBlocked, err = meter.Int64Counter("nanoclaw.dispatch.blocked",
		metric.WithDescription("Dispatch attempts rejected by the lane authorization matrix"),
	)
	if err != nil {
		return nil, err
	}

	m.HeartbeatsReceived, err = meter.Int64Counter("nanoclaw.container.heartbeats",
		metric.WithDescription("Heartbeat tokens observed on container stderr"),
	)
	if err != nil {
		return nil, err
	}

	m.AuthFallbacks, err = meter.Int64Counter("nanoclaw.agentrunner.auth_fallbacks",
		metric.WithDescription("Times the agent runner fell back from the primary to the fallback auth lane"),
	)
	if err != nil {
		return nil, err
	}

	m.SteerEventsSent, err = meter.Int64Counter("nanoclaw.steer.sent",
		metric.WithDescription("Steering messages written into a running container's steer channel"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
