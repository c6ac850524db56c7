package verifier

import (
	"sort"
	"sync"

	"github.com/jrsteele09/go-middle-layer/accounts"
	"github.com/jrsteele09/go-middle-layer/internal/errors"
)

// Factory builds a fresh, unverified strategy instance for an account.
type Factory func(account *accounts.Account) (Verifier, error)

// Registry maps strategy names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New resolves the account's configured strategy and instantiates it.
func (r *Registry) New(account *accounts.Account) (Verifier, error) {
	if account == nil {
		return nil, errors.Wrapf(errors.ErrAccountNotFound, "[Registry.New]")
	}
	r.mu.RLock()
	factory, ok := r.factories[account.Verifier]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errors.ErrVerifierNotFound, "[Registry.New] %q for account %s", account.Verifier, account.ID)
	}
	v, err := factory(account)
	if err != nil {
		return nil, errors.Wrapf(err, "[Registry.New] %q for account %s", account.Verifier, account.ID)
	}
	return v, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
