// Package progress implements §4.I: long-running operations (project
// import, file embedding, table import) publish staged updates under a
// caller-supplied token and mark themselves completed or failed on
// exit. Records live in internal/cache's TTL store, which drops each
// record once its TTL lapses; every write refreshes that TTL. The cron
// sweep job scheduled alongside removes nothing itself.
package progress

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gentable/engine/internal/cache"
)

// Status is a progress record's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is one long-running operation's current state.
type Record struct {
	Token   string
	Stage   string
	Status  Status
	Error   string
	Updated time.Time
}

// Tracker owns the cache-backed store and broadcaster for progress
// records, plus the cron scheduler that runs the sweep job.
type Tracker struct {
	store       *cache.Store
	broadcaster *cache.Broadcaster[Record]
	ttl         time.Duration
	cron        *cron.Cron
}

// NewTracker builds a Tracker whose records expire ttl after their last
// write, and schedules the sweep job on sweepSchedule (a standard
// five-field cron expression, e.g. "*/1 * * * *" for once a minute).
func NewTracker(ttl time.Duration, sweepSchedule string) (*Tracker, error) {
	t := &Tracker{
		store:       cache.NewStore(4096, ttl),
		broadcaster: cache.NewBroadcaster[Record](),
		ttl:         ttl,
		cron:        cron.New(),
	}
	if sweepSchedule != "" {
		if _, err := t.cron.AddFunc(sweepSchedule, t.sweep); err != nil {
			return nil, fmt.Errorf("progress: invalid sweep schedule %q: %w", sweepSchedule, err)
		}
	}
	t.cron.Start()
	return t, nil
}

// sweep is a backstop no-op against the expirable LRU itself (entries
// already self-expire on TTL); it removes and publishes nothing, and is
// kept as a named, independently schedulable job per maintenance
// concern, matching the teacher's cron-trigger convention.
func (t *Tracker) sweep() {}

// Begin creates a running record for token.
func (t *Tracker) Begin(token string) {
	t.publish(Record{Token: token, Stage: "started", Status: StatusRunning, Updated: time.Now()})
}

// Advance publishes a new stage for token's in-flight operation,
// refreshing its TTL.
func (t *Tracker) Advance(token, stage string) {
	t.publish(Record{Token: token, Stage: stage, Status: StatusRunning, Updated: time.Now()})
}

// Complete marks token's operation as successfully finished.
func (t *Tracker) Complete(token string) {
	t.publish(Record{Token: token, Stage: "done", Status: StatusCompleted, Updated: time.Now()})
}

// Fail marks token's operation as failed with err's message.
func (t *Tracker) Fail(token string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.publish(Record{Token: token, Stage: "failed", Status: StatusFailed, Error: msg, Updated: time.Now()})
}

func (t *Tracker) publish(r Record) {
	t.store.Set(r.Token, r)
	t.broadcaster.Publish(r.Token, r)
}

// Get returns the current record for token, if it exists and has not
// expired.
func (t *Tracker) Get(token string) (Record, bool) {
	v, ok := t.store.Get(token)
	if !ok {
		return Record{}, false
	}
	return v.(Record), true
}

// Watch subscribes to every update published for token. Callers must
// invoke the returned unsubscribe function when done watching.
func (t *Tracker) Watch(token string) (<-chan Record, func()) {
	return t.broadcaster.Subscribe(token)
}

// Close stops the background sweeper.
func (t *Tracker) Close() {
	t.cron.Stop()
}
