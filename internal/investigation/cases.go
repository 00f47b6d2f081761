package investigation

import (
	"sort"
	"sync"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// Investigation Case Registry
//
// Keeps every investigation this process has run so operators can look
// one up after the fact. A case is created when a run starts, gains one
// timeline entry per step, and ends with either the record or the
// failure that stopped it.
//
// Case lifecycle:
//   running   → steps are still being executed
//   completed → record attached
//   failed    → error and failing step attached

const (
	CaseRunning   = "running"
	CaseCompleted = "completed"
	CaseFailed    = "failed"

	defaultCaseRetention = 500
)

// Case is a single investigation as seen by the registry
type Case struct {
	ID         string                      `json:"id"`
	Address    string                      `json:"address"`
	Chain      models.ChainName            `json:"chain,omitempty"`
	Status     string                      `json:"status"`
	Step       string                      `json:"step"`
	Percent    int                         `json:"percent"`
	Error      string                      `json:"error,omitempty"`
	FailedStep string                      `json:"failedStep,omitempty"`
	Record     *models.InvestigationRecord `json:"record,omitempty"`
	Timeline   []models.Progress           `json:"timeline"`
	CreatedAt  time.Time                   `json:"createdAt"`
	UpdatedAt  time.Time                   `json:"updatedAt"`
}

// Cases is the in-memory case registry. The oldest finished cases are
// evicted once the retention limit is reached.
type Cases struct {
	mu        sync.RWMutex
	cases     map[string]*Case
	retention int
}

// NewCases creates a registry keeping at most retention cases (0 uses
// the default).
func NewCases(retention int) *Cases {
	if retention <= 0 {
		retention = defaultCaseRetention
	}
	return &Cases{
		cases:     make(map[string]*Case),
		retention: retention,
	}
}

// Create opens a running case
func (m *Cases) Create(id, address string, chain models.ChainName) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cases[id] = &Case{
		ID:        id,
		Address:   address,
		Chain:     chain,
		Status:    CaseRunning,
		Timeline:  []models.Progress{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.evictLocked()
}

// Advance appends a progress event to the case timeline
func (m *Cases) Advance(p models.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cases[p.InvestigationID]
	if !ok {
		return
	}
	c.Step = p.Step
	c.Percent = p.Percent
	c.Timeline = append(c.Timeline, p)
	c.UpdatedAt = p.Timestamp
}

// SetChain records the chain once detection has resolved it
func (m *Cases) SetChain(id string, chain models.ChainName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cases[id]; ok {
		c.Chain = chain
	}
}

// Complete attaches the finished record
func (m *Cases) Complete(id string, rec *models.InvestigationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cases[id]; ok {
		c.Status = CaseCompleted
		c.Record = rec
		c.UpdatedAt = time.Now()
	}
}

// Fail marks the case failed at step
func (m *Cases) Fail(id string, step Step, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cases[id]; ok {
		c.Status = CaseFailed
		c.FailedStep = string(step)
		c.Error = err.Error()
		c.UpdatedAt = time.Now()
	}
}

// Get returns a copy of the case
func (m *Cases) Get(id string) (Case, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return Case{}, false
	}
	return c.snapshot(), true
}

// List returns every case, newest first
func (m *Cases) List() []Case {
	m.mu.RLock()
	out := make([]Case, 0, len(m.cases))
	for _, c := range m.cases {
		out = append(out, c.snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of retained cases
func (m *Cases) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cases)
}

func (c *Case) snapshot() Case {
	cp := *c
	cp.Timeline = append([]models.Progress(nil), c.Timeline...)
	return cp
}

// evictLocked drops the oldest finished cases above the retention limit.
// Running cases are never evicted.
func (m *Cases) evictLocked() {
	if len(m.cases) <= m.retention {
		return
	}
	finished := make([]*Case, 0, len(m.cases))
	for _, c := range m.cases {
		if c.Status != CaseRunning {
			finished = append(finished, c)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].CreatedAt.Before(finished[j].CreatedAt)
	})
	for _, c := range finished {
		if len(m.cases) <= m.retention {
			return
		}
		delete(m.cases, c.ID)
	}
}
