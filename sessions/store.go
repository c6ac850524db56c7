package sessions

import "context"

// Mutation tells Store.Update what to do with the session it handed out.
type Mutation int

const (
	Keep   Mutation = iota // leave the stored session unchanged
	Save                   // persist the modified session
	Remove                 // delete the session
)

// Store maps session ids to sessions. Every method is safe for concurrent use
// and Update is atomic with respect to every other mutation of the same id.
type Store interface {
	// Get returns the session or errors.ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Put stores s, replacing any session with the same id.
	Put(ctx context.Context, s *Session) error

	// Delete removes the session and returns it, or nil when it was absent.
	Delete(ctx context.Context, id string) (*Session, error)

	// Update runs fn on a copy of the stored session and applies the returned
	// mutation as one step. The session after the mutation is returned (nil
	// when removed). Missing ids return errors.ErrSessionNotFound.
	Update(ctx context.Context, id string, fn func(s *Session) Mutation) (*Session, error)

	// List returns a snapshot of every live session.
	List(ctx context.Context) ([]*Session, error)
}
