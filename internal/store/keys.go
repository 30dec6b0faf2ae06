package store

import "fmt"

// Canonical key layout. Everything the system persists lives under these
// keys; there is no filesystem state.
const (
	HeartbeatKey = "worker:heartbeat"
	QueueKey     = "discovery:queue"
)

// ContendersKey holds the last DiscoveryResult for a strategy.
func ContendersKey(strategy string) string {
	return fmt.Sprintf("discovery:contenders:%s", strategy)
}

// LastContendersKey is the long-TTL copy served by the /last contract.
func LastContendersKey(strategy string) string {
	return fmt.Sprintf("discovery:contenders:last:%s", strategy)
}

// StatusKey holds the JobRecord for a job.
func StatusKey(jobID string) string {
	return fmt.Sprintf("discovery:status:%s", jobID)
}

// LockKey is the single-writer discovery lock for a strategy.
func LockKey(strategy string) string {
	return fmt.Sprintf("discovery:lock:%s", strategy)
}

// PendingKey collapses duplicate enqueues for a strategy.
func PendingKey(strategy string) string {
	return fmt.Sprintf("discovery:pending:%s", strategy)
}
