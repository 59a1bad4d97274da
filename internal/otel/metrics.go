package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all fuel metrics instruments.
type Metrics struct {
	TickDuration        metric.Float64Histogram
	TaskSpawnCount      metric.Int64Counter
	TaskDuration        metric.Float64Histogram
	AgentBackoffSeconds metric.Float64Gauge
	IPCClients          metric.Int64UpDownCounter
	IPCBytesBroadcast   metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TickDuration, err = meter.Float64Histogram("fuel.tick.duration",
		metric.WithDescription("Scheduler tick loop duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskSpawnCount, err = meter.Int64Counter("fuel.task.spawn.count",
		metric.WithDescription("Total number of task processes spawned"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("fuel.task.duration",
		metric.WithDescription("Task run duration in seconds, from spawn to completion"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.AgentBackoffSeconds, err = meter.Float64Gauge("fuel.agent.backoff.seconds",
		metric.WithDescription("Current backoff delay per agent in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.IPCClients, err = meter.Int64UpDownCounter("fuel.ipc.clients",
		metric.WithDescription("Number of connected IPC clients"),
	)
	if err != nil {
		return nil, err
	}

	m.IPCBytesBroadcast, err = meter.Int64Counter("fuel.ipc.bytes_broadcast",
		metric.WithDescription("Total bytes broadcast to IPC clients"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
