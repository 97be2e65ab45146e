package main

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/gentable/engine/internal/cache"
	"github.com/gentable/engine/internal/quota"
)

// orgStoreAdapter implements quota.OrgStore over internal/cache.Store,
// the generic TTL cache that has no knowledge of *quota.OrgRecord on its
// own — this is the glue the two packages need to compose.
type orgStoreAdapter struct {
	store *cache.Store
}

func newOrgStoreAdapter(store *cache.Store) *orgStoreAdapter {
	return &orgStoreAdapter{store: store}
}

func (a *orgStoreAdapter) Get(orgID string) (*quota.OrgRecord, bool) {
	v, ok := a.store.Get(orgKey(orgID))
	if !ok {
		return nil, false
	}
	rec, ok := v.(*quota.OrgRecord)
	return rec, ok
}

func (a *orgStoreAdapter) Put(rec *quota.OrgRecord) {
	a.store.Set(orgKey(rec.OrgID), rec)
}

func orgKey(orgID string) string { return "org:" + orgID }

// orgEvents pairs one request's flushed events with the organization
// they belong to, the unit cache.UsageBuffer batches across many
// concurrent requests before a single durable write per tick.
type orgEvents struct {
	orgID  string
	events []quota.Event
}

// usageSink implements quota.Sink over internal/cache.UsageBuffer,
// batching many requests' worth of events before the periodic flush
// durably appends them, per §4.H's "accumulate, then flush on interval
// or threshold" buffer shape.
type usageSink struct {
	buffer *cache.UsageBuffer[orgEvents]
}

func newUsageSink(store *cache.Store, threshold int, interval time.Duration) *usageSink {
	return &usageSink{
		buffer: cache.NewUsageBuffer[orgEvents](threshold, interval, func(batch []orgEvents) {
			persistUsageBatch(store, batch)
		}),
	}
}

// Append implements quota.Sink. Persistence happens asynchronously on
// the buffer's own flush goroutine, so a nil error here only means the
// event was accepted into the buffer, not that it is durable yet.
func (s *usageSink) Append(orgID string, events []quota.Event) error {
	s.buffer.Append(orgEvents{orgID: orgID, events: events})
	return nil
}

func (s *usageSink) Close() {
	s.buffer.Close()
}

// persistUsageBatch groups a flushed batch by organization and appends
// each org's events to its JSON usage log: "a list of JSON usage events
// under a well-known key, counter under the same key suffixed _count"
// (§6). tidwall/sjson.SetRaw patches the existing array in place with
// the new event appended at index "-1" rather than decoding the whole
// log to append one element, and tidwall/gjson.Get("#") re-reads the
// resulting element count for the counter key — the dynamic,
// schema-less JSON patching §6 calls for, as opposed to the fixed-shape
// encoding/json struct tags used for each individual Event.
func persistUsageBatch(store *cache.Store, batch []orgEvents) {
	byOrg := make(map[string][]quota.Event)
	for _, oe := range batch {
		byOrg[oe.orgID] = append(byOrg[oe.orgID], oe.events...)
	}
	for orgID, events := range byOrg {
		appendUsageEvents(store, orgID, events)
	}
}

func appendUsageEvents(store *cache.Store, orgID string, events []quota.Event) {
	key := "usage:" + orgID
	raw := "[]"
	if v, ok := store.Get(key); ok {
		if s, ok := v.(string); ok {
			raw = s
		}
	}
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			continue
		}
		updated, err := sjson.SetRaw(raw, "-1", string(payload))
		if err != nil {
			continue
		}
		raw = updated
	}
	store.Set(key, raw)
	store.Set(key+"_count", gjson.Get(raw, "#").Int())
}
