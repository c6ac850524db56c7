// Package pools keeps one PostgreSQL connection pool per account.
package pools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jrsteele09/go-middle-layer/accounts"
	ierrors "github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/jrsteele09/go-middle-layer/procedure"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

type entry struct {
	desc accounts.PoolConfig
	pool *pgxpool.Pool
}

// Manager creates pools lazily on first use and rebuilds a pool when its
// account's descriptor changes.
type Manager struct {
	accounts *accounts.Registry
	notices  *noticeBuffer
	group    singleflight.Group

	mu     sync.Mutex
	pools  map[string]*entry
	closed bool
}

var _ procedure.ConnSource = (*Manager)(nil)

func NewManager(registry *accounts.Registry) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("[NewManager] accounts registry is required")
	}
	return &Manager{
		accounts: registry,
		notices:  newNoticeBuffer(),
		pools:    make(map[string]*entry),
	}, nil
}

// Acquire borrows a connection from the account's pool.
func (m *Manager) Acquire(ctx context.Context, accountID string) (procedure.Conn, error) {
	pool, err := m.pool(ctx, accountID)
	if err != nil {
		return nil, err
	}
	c, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("[Manager.Acquire] %s: %w", accountID, err)
	}
	return &conn{Conn: c, notices: m.notices}, nil
}

func (m *Manager) pool(ctx context.Context, accountID string) (*pgxpool.Pool, error) {
	account, err := m.accounts.Get(accountID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ierrors.Wrapf(ierrors.ErrInfrastructure, "[Manager.pool] manager is closed")
	}
	if e, ok := m.pools[account.ID]; ok && e.desc == account.Pool {
		m.mu.Unlock()
		return e.pool, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(account.ID, func() (interface{}, error) {
		return m.build(context.WithoutCancel(ctx), account)
	})
	if err != nil {
		return nil, err
	}
	return v.(*pgxpool.Pool), nil
}

func (m *Manager) build(ctx context.Context, account *accounts.Account) (*pgxpool.Pool, error) {
	m.mu.Lock()
	if e, ok := m.pools[account.ID]; ok && e.desc == account.Pool {
		m.mu.Unlock()
		return e.pool, nil
	}
	m.mu.Unlock()

	cfg, err := m.poolConfig(account.Pool)
	if err != nil {
		return nil, fmt.Errorf("[Manager.build] %s: %w", account.ID, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("[Manager.build] %s: %w", account.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		pool.Close()
		return nil, ierrors.Wrapf(ierrors.ErrInfrastructure, "[Manager.build] manager is closed")
	}
	if old, ok := m.pools[account.ID]; ok {
		log.Info().Str("account", account.ID).Msg("pool descriptor changed, replacing pool")
		go old.pool.Close()
	}
	m.pools[account.ID] = &entry{desc: account.Pool, pool: pool}
	log.Info().Str("account", account.ID).Str("host", account.Pool.Host).Str("database", account.Pool.Database).Msg("connection pool created")
	return pool, nil
}

func (m *Manager) poolConfig(desc accounts.PoolConfig) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(desc.ConnString())
	if err != nil {
		return nil, err
	}
	if desc.MaxConns > 0 {
		cfg.MaxConns = desc.MaxConns
	}
	cfg.MinConns = desc.MinConns
	if desc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = desc.MaxConnIdleTime
	}
	cfg.ConnConfig.OnNotice = m.notices.add
	cfg.BeforeClose = func(c *pgx.Conn) {
		m.notices.take(c.PgConn())
	}
	return cfg, nil
}

// Reconcile closes pools whose account disappeared or whose descriptor no
// longer matches. Replacement pools are built on next use.
func (m *Manager) Reconcile(current []*accounts.Account) {
	want := make(map[string]accounts.PoolConfig, len(current))
	for _, a := range current {
		want[a.ID] = a.Pool
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.pools {
		if desc, ok := want[id]; ok && desc == e.desc {
			continue
		}
		delete(m.pools, id)
		log.Info().Str("account", id).Msg("closing stale connection pool")
		go e.pool.Close()
	}
}

// Ping checks every open pool. Failures are logged and returned together.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	snapshot := make(map[string]*pgxpool.Pool, len(m.pools))
	for id, e := range m.pools {
		snapshot[id] = e.pool
	}
	m.mu.Unlock()

	var errs []error
	for id, pool := range snapshot {
		var one int
		if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
			log.Err(err).Str("account", id).Msg("database ping failed")
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Accounts lists the ids with an open pool.
func (m *Manager) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) Close() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*entry)
	m.closed = true
	m.mu.Unlock()

	for _, e := range pools {
		e.pool.Close()
	}
}

type conn struct {
	*pgxpool.Conn
	notices *noticeBuffer
}

func (c *conn) Begin(ctx context.Context) (pgx.Tx, error) {
	return c.Conn.Begin(ctx)
}

func (c *conn) Notices() []*pgconn.Notice {
	return c.notices.take(c.Conn.Conn().PgConn())
}

// Release drops notices nobody drained before the connection goes back.
func (c *conn) Release() {
	c.notices.take(c.Conn.Conn().PgConn())
	c.Conn.Release()
}
