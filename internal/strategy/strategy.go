// Package strategy defines the Strategy interface for entry/exit decisions
// and provides a Registry for selecting an implementation by name.
package strategy

import (
	"sort"

	"krx-trader/internal/domain"
)

// Strategy decides entries and exits from the observed price stream.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Observe feeds the strategy one price observation. Called once per
	// trading cycle for every priced symbol.
	Observe(symbol string, price float64)

	// BuySignal reports whether an entry should be opened in symbol at the
	// given price.
	BuySignal(symbol string, price float64) bool

	// SellSignal reports why (if at all) a position in symbol should be
	// closed, given the current price and the position's average cost.
	SellSignal(symbol string, price, avgCost float64) domain.ExitReason
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
