// Package aml defines the screening gate applied to inbound deposit addresses and withdrawal beneficiaries before
// any funds move. A screener backend answers one question per address: clear, risky, or not decided yet.
package aml

import (
	"context"
	"fmt"
)

// Result is the outcome of screening one address. RiskDetected marks the address dirty; Pending means the backend
// has not decided yet and the check must be repeated later. A pending result never expires on its own.
type Result struct {
	RiskDetected bool
	Pending      bool
}

// Screener is implemented by AML provider backends.
type Screener interface {
	// Check screens the address for the given currency and member.
	Check(ctx context.Context, address, currencyID, memberUID string) (Result, error)
}

// ErrNotRegisteredBackend is returned when configuration names a screener the registry does not know.
var ErrNotRegisteredBackend = fmt.Errorf("aml backend is not registered")

// Registry maps backend names to screeners. It is populated once at startup.
type Registry struct {
	backends map[string]Screener
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: map[string]Screener{}}
}

// Register adds a named backend, replacing any previous registration under the same name.
func (r *Registry) Register(name string, s Screener) {
	r.backends[name] = s
}

// Resolve returns the named backend. An empty name degrades to the always-clear Dummy backend; an unknown name
// fails fast.
func (r *Registry) Resolve(name string) (Screener, error) {
	if name == "" {
		return Dummy{}, nil
	}

	s, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotRegisteredBackend)
	}

	return s, nil
}

// Dummy is the no-provider backend: every address is clear. Deployments without an AML provider run with this so
// the deposit and beneficiary pipelines keep the same shape.
type Dummy struct{}

// Check always reports the address clear.
func (Dummy) Check(ctx context.Context, address, currencyID, memberUID string) (Result, error) {
	return Result{}, nil
}
