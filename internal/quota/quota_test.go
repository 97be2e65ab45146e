package quota

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gentable/engine/internal/engineerr"
)

type memStore struct {
	records map[string]*OrgRecord
}

func newMemStore(recs ...*OrgRecord) *memStore {
	m := &memStore{records: make(map[string]*OrgRecord)}
	for _, r := range recs {
		m.records[r.OrgID] = r
	}
	return m
}

func (m *memStore) Get(orgID string) (*OrgRecord, bool) {
	r, ok := m.records[orgID]
	return r, ok
}

func (m *memStore) Put(rec *OrgRecord) {
	m.records[rec.OrgID] = rec
}

type memSink struct {
	flushed map[string][]Event
}

func newMemSink() *memSink { return &memSink{flushed: make(map[string][]Event)} }

func (s *memSink) Append(orgID string, events []Event) error {
	s.flushed[orgID] = append(s.flushed[orgID], events...)
	return nil
}

func TestPricePlan_Cost_IncludedTierIsFree(t *testing.T) {
	plan := PricePlan{Included: Tier{UnitCost: 0, UpTo: 1000}}
	assert.Equal(t, 0.0, plan.cost(0, 500))
}

func TestPricePlan_Cost_SpansIncludedAndOverage(t *testing.T) {
	plan := PricePlan{
		Included: Tier{UnitCost: 0, UpTo: 1000},
		Tiers:    []Tier{{UnitCost: 0.01, UpTo: 5000}, {UnitCost: 0.005, UpTo: 0}},
	}
	// 800 already used (within included), 400 more: 200 free + 200 at 0.01
	got := plan.cost(800, 400)
	assert.InDelta(t, 2.0, got, 1e-9)
}

func TestPricePlan_Cost_FallsIntoUnboundedFinalTier(t *testing.T) {
	plan := PricePlan{
		Included: Tier{UnitCost: 0, UpTo: 100},
		Tiers:    []Tier{{UnitCost: 0.01, UpTo: 200}, {UnitCost: 0.002, UpTo: 0}},
	}
	got := plan.cost(200, 100)
	assert.InDelta(t, 100*0.002, got, 1e-9)
}

func TestRequest_CheckQuota_RejectsDisallowedCapability(t *testing.T) {
	store := newMemStore(&OrgRecord{
		OrgID: "org1",
		Caps:  map[Kind]Cap{},
		Usage: map[Kind]float64{},
	})
	mgr := NewManager(store, newMemSink())
	req := mgr.NewRequest("org1")

	err := req.CheckQuota(KindLLM, "gpt-4o")
	assert.True(t, errors.Is(err, engineerr.ErrUpgradeTier))
}

func TestRequest_CheckQuota_RejectsExhaustedCredits(t *testing.T) {
	store := newMemStore(&OrgRecord{
		OrgID: "org1",
		Caps: map[Kind]Cap{
			KindLLM: {Allowed: true, MonthlyGrant: 100, CreditBalance: 0},
		},
		Usage: map[Kind]float64{KindLLM: 100},
	})
	mgr := NewManager(store, newMemSink())
	req := mgr.NewRequest("org1")

	err := req.CheckQuota(KindLLM, "gpt-4o")
	assert.True(t, errors.Is(err, engineerr.ErrInsufficientCredits))
}

func TestRequest_CheckQuota_OverrideRaisesCap(t *testing.T) {
	store := newMemStore(&OrgRecord{
		OrgID: "org1",
		Caps: map[Kind]Cap{
			KindLLM: {Allowed: true, MonthlyGrant: 100, CreditBalance: 0},
		},
		Usage: map[Kind]float64{KindLLM: 100},
	})
	mgr := NewManager(store, newMemSink())
	mgr.SetOverride("org1", KindLLM, 1000)
	req := mgr.NewRequest("org1")

	assert.NoError(t, req.CheckQuota(KindLLM, "gpt-4o"))
}

func TestRequest_CreateEvents_AccumulatesAndProcessAllFlushesOnce(t *testing.T) {
	store := newMemStore(&OrgRecord{
		OrgID: "org1",
		Caps: map[Kind]Cap{
			KindLLM: {Allowed: true, MonthlyGrant: 1000, Plan: PricePlan{
				Included: Tier{UnitCost: 0.001, UpTo: 0},
			}},
		},
		Usage: map[Kind]float64{},
	})
	sink := newMemSink()
	mgr := NewManager(store, sink)
	req := mgr.NewRequest("org1")

	req.CreateEvents(KindLLM, "gpt-4o", 100)
	req.CreateEvents(KindLLM, "gpt-4o", 50)
	assert.InDelta(t, 0.15, req.Total(), 1e-9)

	require.NoError(t, req.ProcessAll())
	require.NoError(t, req.ProcessAll()) // idempotent
	assert.Len(t, sink.flushed["org1"], 2)
}
