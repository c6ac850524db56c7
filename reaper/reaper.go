// Package reaper periodically evicts sessions that have been idle longer
// than their account allows.
package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/jrsteele09/go-middle-layer/internal/metrics"
	"github.com/jrsteele09/go-middle-layer/sessions"
	"github.com/rs/zerolog/log"
)

// DefaultInterval applies when no interval is configured.
const DefaultInterval = 60 * time.Minute

// Evictor lists sessions and removes the idle ones.
type Evictor interface {
	ActiveSessions(ctx context.Context) ([]*sessions.Session, error)
	EvictIdle(ctx context.Context, sessionID string) (bool, error)
}

type Reaper struct {
	evictor  Evictor
	interval time.Duration
}

func New(evictor Evictor, interval time.Duration) (*Reaper, error) {
	if evictor == nil {
		return nil, errors.New("[reaper.New] evictor is required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{evictor: evictor, interval: interval}, nil
}

// Run sweeps every interval until ctx ends. The timer is rearmed only after
// a sweep completes, so sweeps never overlap.
func (r *Reaper) Run(ctx context.Context) error {
	log.Info().Dur("interval", r.interval).Msg("session reaper started")
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session reaper stopped")
			return nil
		case <-timer.C:
			r.Sweep(ctx)
			timer.Reset(r.interval)
		}
	}
}

// Sweep evicts idle sessions once and returns how many were removed. A
// failure on one session is logged and the sweep moves on.
func (r *Reaper) Sweep(ctx context.Context) int {
	all, err := r.evictor.ActiveSessions(ctx)
	if err != nil {
		log.Err(err).Msg("could not list sessions")
		return 0
	}

	evicted := 0
	for _, s := range all {
		if ctx.Err() != nil {
			break
		}
		ok, err := r.evictor.EvictIdle(ctx, s.ID)
		if err != nil {
			log.Err(err).Str("session", s.ID).Str("account", s.AccountID).Msg("could not evict session")
			continue
		}
		if ok {
			evicted++
		}
	}
	metrics.SessionsEvicted.Add(float64(evicted))
	log.Info().Int("scanned", len(all)).Int("evicted", evicted).Msg("idle sessions swept")
	return evicted
}
