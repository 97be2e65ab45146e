// Package quota implements the pre-flight quota checks and post-flight
// billing accumulation described in §4.G: an O(1) cap check per request
// against a cached organization record, an in-request event accumulator,
// and a tiered-pricing cost integration run once per event at emission
// time rather than at flush time.
package quota

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/pkg/kv"
)

// Kind is a billable product category.
type Kind string

const (
	KindLLM        Kind = "llm"
	KindEmbed      Kind = "embed"
	KindRerank     Kind = "rerank"
	KindEgress     Kind = "egress"
	KindDBStorage  Kind = "db_storage"
	KindFileStore  Kind = "file_storage"
	KindImage      Kind = "image"
)

// Tier is one segment of a piecewise-linear price curve: usage up to
// UpTo (exclusive of any prior tier's usage) costs UnitCost per unit.
// The last tier in a plan may set UpTo <= 0 to mean "unbounded".
type Tier struct {
	UnitCost float64
	UpTo     float64
}

// PricePlan prices one Kind for one organization tier. Included is
// consulted first, then Tiers in order, mirroring routers/meters.py.
type PricePlan struct {
	Included Tier
	Tiers    []Tier
}

// cost integrates the piecewise-linear curve across [priorUsage,
// priorUsage+quantity), returning the dollar cost of quantity additional
// units given that priorUsage units were already consumed this billing
// period.
func (p PricePlan) cost(priorUsage, quantity float64) float64 {
	if quantity <= 0 {
		return 0
	}
	segments := append([]Tier{p.Included}, p.Tiers...)

	usageStart := priorUsage
	usageEnd := priorUsage + quantity

	var consumedBoundary, total float64
	for _, seg := range segments {
		unbounded := seg.UpTo <= 0
		boundary := seg.UpTo

		segStart := consumedBoundary
		if usageStart > segStart {
			segStart = usageStart
		}
		var segEnd float64
		if unbounded {
			segEnd = usageEnd
		} else {
			segEnd = boundary
			if usageEnd < segEnd {
				segEnd = usageEnd
			}
		}

		if segEnd > segStart {
			total += (segEnd - segStart) * seg.UnitCost
		}

		if unbounded || usageEnd <= boundary {
			break
		}
		consumedBoundary = boundary
	}
	return total
}

// Cap is a per-kind usage ceiling for an organization, distinguishing a
// capability gate (Allowed) from a balance gate (MonthlyGrant +
// overage via Plan).
type Cap struct {
	Allowed       bool
	MonthlyGrant  float64
	CreditBalance float64
	Plan          PricePlan
}

// OrgRecord is the cached, O(1)-checkable snapshot of one organization's
// quota state, consulted by every pre-flight check.
type OrgRecord struct {
	OrgID string
	Caps  map[Kind]Cap
	Usage map[Kind]float64 // running usage within the current billing period
}

// Event is one billable unit of work performed during a request.
type Event struct {
	Kind     Kind
	Model    string
	Quantity float64
	Cost     float64
}

// accumulator collects events for one request. It is the specification's
// second deliberate exception to lock-free design (§5, §4.G): request-
// scoped accumulation is low-contention, so a plain mutex is clearer
// than a lock-free structure.
type accumulator struct {
	mu     sync.Mutex
	events []Event
	total  float64
}

func (a *accumulator) add(e Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	a.total += e.Cost
}

func (a *accumulator) snapshot() ([]Event, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out, a.total
}

// Sink receives flushed usage events, durably, once per request. It is
// implemented by internal/cache's usage buffer (§4.H).
type Sink interface {
	Append(orgID string, events []Event) error
}

// OrgStore resolves and persists organization records. Implemented by
// internal/cache's LRU-backed key-value store in production.
type OrgStore interface {
	Get(orgID string) (*OrgRecord, bool)
	Put(rec *OrgRecord)
}

// Manager is the quota/billing manager of §4.G. One Manager instance is
// shared process-wide; one Request is created per inbound call.
type Manager struct {
	store     OrgStore
	sink      Sink
	overrides kv.KV[string, map[Kind]float64] // orgID -> kind -> operator cap override
	mu        sync.Mutex
}

// NewManager builds a Manager backed by store and sink.
func NewManager(store OrgStore, sink Sink) *Manager {
	return &Manager{
		store:     store,
		sink:      sink,
		overrides: kv.New[string, map[Kind]float64](),
	}
}

// SetOverride lets an operator raise or reset an organization's quota
// cap for kind out of band (§11, grounded on owl/routers/org_admin.py),
// consulted by pre-flight checks ahead of the organization's own plan.
func (m *Manager) SetOverride(orgID string, k Kind, quotaCap float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKind, ok := m.overrides.Value(orgID)
	if !ok {
		byKind = make(map[Kind]float64)
		m.overrides.Put(orgID, byKind)
	}
	byKind[k] = quotaCap
}

func (m *Manager) overrideCap(orgID string, k Kind) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKind, ok := m.overrides.Value(orgID)
	if !ok {
		return 0, false
	}
	v, ok := byKind[k]
	return v, ok
}

// Request is the per-request quota/billing session (§4.G's check_*/
// create_*/process_all contract). It must have process_all called
// exactly once, on both success and failure paths.
type Request struct {
	mgr   *Manager
	orgID string
	acc   accumulator
	done  atomic.Bool
}

// NewRequest opens a quota/billing session for one request.
func (m *Manager) NewRequest(orgID string) *Request {
	return &Request{mgr: m, orgID: orgID}
}

// CheckQuota raises ErrUpgradeTier if the organization's tier does not
// permit kind at all, or ErrInsufficientCredits if both the monthly
// grant and any pay-as-you-go credit balance are exhausted (§3.1, §4.G).
func (r *Request) CheckQuota(k Kind, model string) error {
	rec, ok := r.mgr.store.Get(r.orgID)
	if !ok {
		return fmt.Errorf("%w: unknown organization %q", engineerr.ErrNotFound, r.orgID)
	}
	orgCap, ok := rec.Caps[k]
	if !ok || !orgCap.Allowed {
		return fmt.Errorf("%w: organization %q tier does not permit %s", engineerr.ErrUpgradeTier, r.orgID, k)
	}

	limit := orgCap.MonthlyGrant
	if override, ok := r.mgr.overrideCap(r.orgID, k); ok {
		limit = override
	}
	used := rec.Usage[k]
	if used >= limit && orgCap.CreditBalance <= 0 {
		return fmt.Errorf("%w: organization %q has exhausted %s quota", engineerr.ErrInsufficientCredits, r.orgID, k)
	}
	return nil
}

// CreateEvents prices and records quantity units of kind, integrating
// the organization's tiered plan against its current running usage
// (§4.G: "this integration must be done when the event is emitted, not
// at flush time").
func (r *Request) CreateEvents(k Kind, model string, quantity float64) {
	rec, ok := r.mgr.store.Get(r.orgID)
	if !ok {
		return
	}
	orgCap := rec.Caps[k]
	cost := orgCap.Plan.cost(rec.Usage[k], quantity)
	rec.Usage[k] += quantity
	r.mgr.store.Put(rec)
	r.acc.add(Event{Kind: k, Model: model, Quantity: quantity, Cost: cost})
}

// ProcessAll flushes the accumulated events to the durable sink. It is
// idempotent: calling it more than once (e.g. once on the success path
// and once in a deferred cleanup) is a no-op after the first call,
// mirroring the cached-value idempotence pattern in pkg/safe.PanicError.
func (r *Request) ProcessAll() error {
	if !r.done.CompareAndSwap(false, true) {
		return nil
	}
	events, _ := r.acc.snapshot()
	if len(events) == 0 {
		return nil
	}
	return r.mgr.sink.Append(r.orgID, events)
}

// Total returns the accumulated cost so far, for diagnostics and tests.
func (r *Request) Total() float64 {
	_, total := r.acc.snapshot()
	return total
}
