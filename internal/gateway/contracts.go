package gateway

import (
	"time"

	"github.com/equityrun/equityrun/internal/models"
)

// Envelope carries the trace fields every response is stamped with.
type Envelope struct {
	EngineVersion string    `json:"engine_version"`
	SchemaVersion int       `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id"`
}

// CandidatesResponse answers the candidates contracts. State is "ready" for
// a 200 and "queued" for a 202.
type CandidatesResponse struct {
	Envelope
	Strategy     string             `json:"strategy"`
	State        string             `json:"state"`
	CacheHit     bool               `json:"cache_hit"`
	FallbackMode bool               `json:"fallback_mode"`
	Stale        bool               `json:"stale"`
	Count        int                `json:"count"`
	Candidates   []models.Candidate `json:"candidates"`
	RunID        string             `json:"run_id,omitempty"`
	GeneratedAt  time.Time          `json:"generated_at,omitempty"`
	JobID        string             `json:"job_id,omitempty"`
	PollURL      string             `json:"poll_url,omitempty"`
}

// StatusResponse answers the status contract with the live JobRecord.
type StatusResponse struct {
	Envelope
	Job models.JobRecord `json:"job"`
}

// TriggerResponse acknowledges a forced run.
type TriggerResponse struct {
	Envelope
	State   string `json:"state"`
	JobID   string `json:"job_id"`
	PollURL string `json:"poll_url"`
}

// HealthResponse is the liveness snapshot. Never fails; degraded pieces are
// reported in place.
type HealthResponse struct {
	Envelope
	Status               string  `json:"status"`
	StoreOK              bool    `json:"store_ok"`
	QueueDepth           int64   `json:"queue_depth"`
	WorkerAlive          bool    `json:"worker_alive"`
	HeartbeatAgeSeconds  float64 `json:"heartbeat_age_seconds"`
	LastResultAgeSeconds float64 `json:"last_result_age_seconds"`
}

// ErrorResponse is the structured failure shape for 4xx/5xx.
type ErrorResponse struct {
	Envelope
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}
