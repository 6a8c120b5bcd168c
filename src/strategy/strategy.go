package strategy

import (
	"errors"
	"fmt"
	"strings"

	"signalengine/src/model"
)

var (
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrDuplicateStrategy = errors.New("duplicate strategy id")
)

// Strategy turns a price series into a signal series of the same length.
// Implementations must be pure: the same input always yields the same output.
type Strategy interface {
	ID() string
	Compute(prices model.PriceSeries) (model.SignalSeries, error)
}

// ComputeFunc computes raw signal values, one per bar.
type ComputeFunc func(prices model.PriceSeries) ([]float64, error)

type funcStrategy struct {
	id string
	fn ComputeFunc
}

// New wraps a ComputeFunc into a Strategy. The returned series carries the
// bar timestamps of the input.
func New(id string, fn ComputeFunc) Strategy {
	return &funcStrategy{id: id, fn: fn}
}

func (s *funcStrategy) ID() string { return s.id }

func (s *funcStrategy) Compute(prices model.PriceSeries) (model.SignalSeries, error) {
	values, err := s.fn(prices)
	if err != nil {
		return model.SignalSeries{}, fmt.Errorf("strategy %s: %w", s.id, err)
	}
	if len(values) != len(prices) {
		return model.SignalSeries{}, fmt.Errorf("strategy %s: produced %d values for %d bars", s.id, len(values), len(prices))
	}
	return model.NewSignalSeries(prices.Times(), values), nil
}

// Registry maps stable strategy ids to implementations. Iteration order is the
// registration order.
type Registry struct {
	order []string
	byID  map[string]Strategy
}

func NewRegistry(strategies ...Strategy) (*Registry, error) {
	r := &Registry{byID: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(s Strategy) error {
	id := s.ID()
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("strategy id is empty")
	}
	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, id)
	}
	r.byID[id] = s
	r.order = append(r.order, id)
	return nil
}

func (r *Registry) Get(id string) (Strategy, bool) {
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) All() []Strategy {
	out := make([]Strategy, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }

// Filter returns a registry holding only the given ids, in the given order.
// An empty list returns the registry unchanged.
func (r *Registry) Filter(ids []string) (*Registry, error) {
	if len(ids) == 0 {
		return r, nil
	}
	out := &Registry{byID: make(map[string]Strategy, len(ids))}
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		s, ok := r.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, id)
		}
		if err := out.Register(s); err != nil {
			return nil, err
		}
	}
	return out, nil
}
