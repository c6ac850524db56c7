package config

import "time"

type WorkerConfig interface {
	GetMaxWorkers() int
	GetWorkerIdleTimeout() time.Duration
	GetQueueSize() int
	GetDefaultQueryTimeout() time.Duration
}

type Workers struct{}

var _ WorkerConfig = Workers{}

func (Workers) GetMaxWorkers() int {
	return GetInt("WORKERS_MAX", 64)
}

func (Workers) GetWorkerIdleTimeout() time.Duration {
	return GetDuration("WORKERS_IDLE", 30*time.Second)
}

func (Workers) GetQueueSize() int {
	return GetInt("QUEUE_SIZE", 256)
}

func (Workers) GetDefaultQueryTimeout() time.Duration {
	return GetDuration("QUERY_TIMEOUT", 2*time.Minute)
}
