package accounts

import (
	"sort"
	"strings"
	"sync/atomic"

	"github.com/jrsteele09/go-middle-layer/internal/errors"
)

// Registry is the process wide table of accounts. Reads see a consistent
// snapshot; Replace swaps the whole table at once.
type Registry struct {
	snapshot atomic.Pointer[map[string]*Account]
}

func NewRegistry(accounts ...*Account) *Registry {
	r := &Registry{}
	r.Replace(accounts)
	return r
}

// Normalize returns the registry key for an account id.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Get returns the account for id, matched case-insensitively.
func (r *Registry) Get(id string) (*Account, error) {
	if id == "" {
		return nil, errors.Wrapf(errors.ErrAccountNotFound, "[Registry.Get] account id is unset")
	}
	a, ok := (*r.snapshot.Load())[Normalize(id)]
	if !ok {
		return nil, errors.Wrapf(errors.ErrAccountNotFound, "[Registry.Get] %s", id)
	}
	return a, nil
}

// Replace installs a new set of accounts, discarding the previous snapshot.
func (r *Registry) Replace(accounts []*Account) {
	next := make(map[string]*Account, len(accounts))
	for _, a := range accounts {
		if a == nil {
			continue
		}
		c := *a
		c.ID = Normalize(a.ID)
		next[c.ID] = &c
	}
	r.snapshot.Store(&next)
}

// List returns the current accounts ordered by id.
func (r *Registry) List() []*Account {
	snap := *r.snapshot.Load()
	out := make([]*Account, 0, len(snap))
	for _, a := range snap {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}
