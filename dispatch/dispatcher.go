// Package dispatch runs gateway actions on a bounded pool of workers. Every
// action passes the origin checkpoint first; handlers then authorize and
// touch the session before doing any work.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jrsteele09/go-middle-layer/accounts"
	ierrors "github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/jrsteele09/go-middle-layer/internal/metrics"
	"github.com/jrsteele09/go-middle-layer/procedure"
	"github.com/jrsteele09/go-middle-layer/security"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ProcedureCaller runs stored procedures for an account.
type ProcedureCaller interface {
	Call(ctx context.Context, accountID, ref string, params []procedure.Param) (procedure.Result, error)
	CallAsUser(ctx context.Context, accountID, userID, ref string, params []procedure.Param) (procedure.Result, error)
}

type request struct {
	action    string
	accountID string
	sessionID string
	params    Params
	logger    zerolog.Logger
}

type handlerFunc func(ctx context.Context, req *request) Result

type limiterEntry struct {
	cfg     accounts.RateLimit
	limiter *rate.Limiter
}

type Dispatcher struct {
	security *security.Manager
	procs    ProcedureCaller
	pool     *workerPool
	handlers map[string]handlerFunc
	nowTime  func() time.Time
	started  time.Time

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type DispatcherOption func(*Dispatcher)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.nowTime = nowFunc
	}
}

// WithPool sizes the worker pool.
func WithPool(maxWorkers, queueSize int, idleTimeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.pool = newWorkerPool(maxWorkers, queueSize, idleTimeout)
	}
}

func NewDispatcher(manager *security.Manager, procs ProcedureCaller, options ...DispatcherOption) (*Dispatcher, error) {
	if manager == nil {
		return nil, errors.New("[NewDispatcher] security manager is required")
	}
	if procs == nil {
		return nil, errors.New("[NewDispatcher] procedure caller is required")
	}
	d := &Dispatcher{
		security: manager,
		procs:    procs,
		nowTime:  time.Now,
		limiters: make(map[string]*limiterEntry),
	}
	for _, opt := range options {
		opt(d)
	}
	if d.pool == nil {
		d.pool = newWorkerPool(64, 256, 30*time.Second)
	}
	d.started = d.nowTime()
	d.handlers = d.routes()
	return d, nil
}

// Submit queues action for execution. The task's context derives from ctx,
// so cancelling ctx or the returned handle aborts it. An error means the
// task was never scheduled.
func (d *Dispatcher) Submit(ctx context.Context, action string, params Params) (*Handle, error) {
	taskCtx, cancel := context.WithCancel(ctx)
	h := newHandle(cancel)
	err := d.pool.submit(func() {
		h.finish(d.run(taskCtx, action, params))
	})
	if err != nil {
		cancel()
		log.Err(err).Str("action", action).Msg("task rejected")
		return nil, err
	}
	return h, nil
}

// Execute submits action and waits for its result.
func (d *Dispatcher) Execute(ctx context.Context, action string, params Params) Result {
	h, err := d.Submit(ctx, action, params)
	if err != nil {
		return failure(action, err, "The request could not be scheduled. Please try again later.")
	}
	res, err := h.Wait(ctx)
	if err != nil {
		h.Cancel()
		return failure(action, ierrors.Wrapf(ierrors.ErrInfrastructure, "%v", err), "The request was cancelled")
	}
	return res
}

// Shutdown stops accepting work and waits for tasks already accepted.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.pool.shutdown(ctx)
}

func (d *Dispatcher) run(ctx context.Context, action string, params Params) (res Result) {
	start := d.nowTime()
	req := &request{action: action, params: params, sessionID: params.Get(KeySessionID)}

	req.accountID = d.security.AccountID(ctx, req.sessionID)
	if req.accountID == "" {
		req.accountID = params.Get(KeyAccount)
	}
	req.logger = log.With().
		Str("action", action).
		Str("account", req.accountID).
		Str("session", req.sessionID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			req.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("action panicked")
			res = failure(action, ierrors.ErrInfrastructure, "The request failed because of a system error")
		}
		metrics.RecordRequest(action, res.status(), d.nowTime().Sub(start).Seconds())
	}()

	req.logger.Info().Str("user", d.security.UserID(ctx, req.sessionID)).Msg("dispatching action")

	if err := d.security.SecurityCheckpoint(ctx, action, req.sessionID, params.Get(KeyRemoteAddr), params.Get(KeyRequestURI)); err != nil {
		return failure(action, err, err.Error())
	}
	if err := d.allow(req.accountID); err != nil {
		req.logger.Warn().Err(err).Msg("rate limited")
		return failure(action, err, "Too many requests for this account. Please try again later.")
	}

	handler, ok := d.handlers[action]
	if !ok {
		err := ierrors.Wrapf(ierrors.ErrActionNotFound, "%q", action)
		req.logger.Warn().Msg("unknown action")
		return failure(action, err, fmt.Sprintf("Unknown action %q", action))
	}
	return handler(ctx, req)
}

// allow applies the account's rate limit. Limiters are rebuilt when the
// configured limit changes.
func (d *Dispatcher) allow(accountID string) error {
	account, err := d.security.Accounts().Get(accountID)
	if err != nil || account.RateLimit.RPS <= 0 {
		return nil
	}

	d.mu.Lock()
	e, ok := d.limiters[account.ID]
	if !ok || e.cfg != account.RateLimit {
		burst := account.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		e = &limiterEntry{cfg: account.RateLimit, limiter: rate.NewLimiter(rate.Limit(account.RateLimit.RPS), burst)}
		d.limiters[account.ID] = e
	}
	d.mu.Unlock()

	if !e.limiter.Allow() {
		return ierrors.Wrapf(ierrors.ErrPolicyDenied, "[Dispatcher.allow] rate limit exceeded for %s", account.ID)
	}
	return nil
}
