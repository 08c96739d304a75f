package core

import (
	"errors"
	"slices"
	"sync"

	"github.com/samber/oops"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// Registry maps account types to the provider that serves them.
// The local provider is always present.
type Registry struct {
	mu        sync.RWMutex
	providers map[AccountType]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{
		providers: map[AccountType]Provider{
			AccountTypeLocal: LocalProvider{},
		},
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

func (r *Registry) Lookup(t AccountType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[t]
	if !ok {
		return nil, oops.Code("PROVIDER_NOT_FOUND").
			With("account_type", string(t)).
			Wrap(ErrUnsupportedProvider)
	}
	return p, nil
}

// LookupName resolves a provider by its configuration name, e.g. "msa".
func (r *Registry) LookupName(name string) (Provider, error) {
	t, err := ParseAccountType(name)
	if err != nil {
		return nil, oops.Code("PROVIDER_NOT_FOUND").
			With("provider", name).
			Wrap(errors.Join(ErrUnsupportedProvider, err))
	}
	return r.Lookup(t)
}

func (r *Registry) Types() []AccountType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]AccountType, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
