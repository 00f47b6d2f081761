package chains

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

// DefaultProbeTimeout bounds each adapter's health probe
const DefaultProbeTimeout = 5 * time.Second

// Registry maps chain names to adapters. It is built once at startup,
// read-only afterwards, and passed explicitly to whoever needs it.
type Registry struct {
	mu           sync.RWMutex
	adapters     map[models.ChainName]Adapter
	order        []models.ChainName
	probeTimeout time.Duration
}

// NewRegistry registers adapters in the given order. Later adapters with a
// duplicate name replace earlier ones but keep the original position.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		adapters:     make(map[models.ChainName]Adapter, len(adapters)),
		probeTimeout: DefaultProbeTimeout,
	}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its chain.
func (r *Registry) Register(a Adapter) {
	name := a.GetChainInfo().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; !exists {
		r.order = append(r.order, name)
	}
	r.adapters[name] = a
}

// SetProbeTimeout overrides DefaultProbeTimeout.
func (r *Registry) SetProbeTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probeTimeout = d
}

// GetService returns the adapter for name, or ErrUnsupportedChain.
func (r *Registry) GetService(name models.ChainName) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, models.ErrUnsupportedChain)
	}
	return a, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name models.ChainName) bool {
	_, err := r.GetService(name)
	return err == nil
}

// Supported lists registered chains in registration order.
func (r *Registry) Supported() []models.ChainName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.ChainName(nil), r.order...)
}

// ChainInfos lists every registered chain's metadata in registration order.
func (r *Registry) ChainInfos() []models.ChainInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ChainInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name].GetChainInfo())
	}
	return out
}

// ValidateAddress reports whether chain is registered and accepts address.
func (r *Registry) ValidateAddress(address string, chain models.ChainName) bool {
	a, err := r.GetService(chain)
	if err != nil {
		return false
	}
	return a.ValidateAddress(strings.TrimSpace(address))
}

// GetServiceHealth probes every adapter concurrently. A probe that errors,
// times out or panics marks only its own chain unhealthy.
func (r *Registry) GetServiceHealth(ctx context.Context) map[string]bool {
	r.mu.RLock()
	order := append([]models.ChainName(nil), r.order...)
	adapters := make([]Adapter, len(order))
	for i, name := range order {
		adapters[i] = r.adapters[name]
	}
	timeout := r.probeTimeout
	r.mu.RUnlock()

	results := make(map[string]bool, len(order))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := range order {
		wg.Add(1)
		go func(name models.ChainName, a Adapter) {
			defer wg.Done()
			ok := probe(ctx, a, timeout)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
		}(order[i], adapters[i])
	}
	wg.Wait()
	return results
}

func probe(ctx context.Context, a Adapter, timeout time.Duration) (healthy bool) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		defer func() {
			if recover() != nil {
				done <- false
			}
		}()
		if a.GetChainInfo().Name == "" {
			done <- false
			return
		}
		if p, ok := a.(Pinger); ok {
			done <- p.Ping(pctx) == nil
			return
		}
		done <- true
	}()

	select {
	case ok := <-done:
		return ok
	case <-pctx.Done():
		return false
	}
}
