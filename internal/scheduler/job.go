// Package scheduler queues work to run at a future wall-clock time and
// executes it at least once.  Jobs are persisted in Redis so they
// survive process restarts; an in-memory store backs tests.
package scheduler

import (
	"strings"
	"time"
)

// JobType identifies the deferred action a job performs.
type JobType string

const (
	// JobExpire voids an unpaid transaction once its payment window ends.
	JobExpire JobType = "EXPIRE"
	// JobRemind notifies the guest shortly before the stay starts.
	JobRemind JobType = "REMIND"
	// JobRelease credits held stock back after the stay ends.
	JobRelease JobType = "RELEASE"
)

// Job is a single unit of deferred work bound to a transaction.  The
// pair (Type, UUID) is the idempotency key: scheduling the same pair
// again replaces the earlier job instead of duplicating it.
type Job struct {
	Type     JobType   `json:"type"`
	UUID     string    `json:"uuid"`
	FireAt   time.Time `json:"fire_at"`
	Attempts int       `json:"attempts"`
	// Cancel marks a request to remove the pending job with this key
	// instead of scheduling one.  The outbox dispatcher routes it to
	// Store.Cancel.
	Cancel bool `json:"cancel,omitempty"`
}

// Key returns the stable job identifier, e.g. "expire-<uuid>".
func (j Job) Key() string {
	return strings.ToLower(string(j.Type)) + "-" + j.UUID
}

// OutboxTopic is the outbox topic carrying scheduling requests.  The
// outbox dispatcher routes messages with this topic to the scheduler
// instead of the message broker.
const OutboxTopic = "scheduler.jobs"
