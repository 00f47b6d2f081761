// Package db holds the investigation sinks: PostgreSQL for deployments
// and an in-memory store for development and tests.
package db

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// AddressKey normalises an address for lookups. Hex addresses are
// case-insensitive; base58 and bech32 addresses are kept as given.
func AddressKey(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}

// MemoryStore is an append-only sink kept in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	records  []models.InvestigationRecord
	seen     map[string]bool
	messages []models.AgentMessage
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]bool)}
}

// AppendRecord stores a copy of rec. Re-appending the same ID is a no-op.
func (m *MemoryStore) AppendRecord(_ context.Context, rec *models.InvestigationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[rec.ID] {
		return nil
	}
	m.seen[rec.ID] = true
	m.records = append(m.records, *rec)
	return nil
}

// AppendMessage stores msg
func (m *MemoryStore) AppendMessage(_ context.Context, msg models.AgentMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Query returns the records for address, newest first. An empty chain
// matches every chain.
func (m *MemoryStore) Query(_ context.Context, address string, chain models.ChainName) ([]models.InvestigationRecord, error) {
	key := AddressKey(address)
	chain = strings.ToLower(chain)

	m.mu.RLock()
	out := make([]models.InvestigationRecord, 0)
	for _, rec := range m.records {
		if AddressKey(rec.Address) != key {
			continue
		}
		if chain != "" && rec.Chain != chain {
			continue
		}
		out = append(out, rec)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	if len(out) > queryLimit {
		out = out[:queryLimit]
	}
	return out, nil
}

// Messages returns every stored agent message in append order
func (m *MemoryStore) Messages() []models.AgentMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.AgentMessage(nil), m.messages...)
}

// Len returns the number of stored records
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
