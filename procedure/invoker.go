// Package procedure invokes stored routines by name. The routine's parameter
// list is read from the catalog at call time, so callers only supply a name
// and positional string values. Scalar outputs and refcursor outputs are
// folded into one Result.
package procedure

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jrsteele09/go-middle-layer/accounts"
	ierrors "github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/jrsteele09/go-middle-layer/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultQueryTimeout = 2 * time.Minute
	cleanupTimeout      = 5 * time.Second
)

// Conn is a pooled connection scoped to one account.
type Conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	// Notices returns and clears the backend notices received so far.
	Notices() []*pgconn.Notice
	Release()
}

// ConnSource hands out connections per account.
type ConnSource interface {
	Acquire(ctx context.Context, accountID string) (Conn, error)
}

type Invoker struct {
	accounts     *accounts.Registry
	conns        ConnSource
	queryTimeout time.Duration
	nowTime      func() time.Time
}

type InvokerOption func(*Invoker)

// WithQueryTimeout sets the deadline used when an account does not set one.
func WithQueryTimeout(d time.Duration) InvokerOption {
	return func(inv *Invoker) {
		if d > 0 {
			inv.queryTimeout = d
		}
	}
}

func WithNowTime(nowTime func() time.Time) InvokerOption {
	return func(inv *Invoker) {
		inv.nowTime = nowTime
	}
}

func NewInvoker(registry *accounts.Registry, conns ConnSource, options ...InvokerOption) (*Invoker, error) {
	if registry == nil {
		return nil, errors.New("[NewInvoker] accounts registry is required")
	}
	if conns == nil {
		return nil, errors.New("[NewInvoker] connection source is required")
	}
	inv := &Invoker{
		accounts:     registry,
		conns:        conns,
		queryTimeout: DefaultQueryTimeout,
		nowTime:      time.Now,
	}
	for _, opt := range options {
		opt(inv)
	}
	return inv, nil
}

// CallAsUser runs the routine with (accountID, userID) prepended to params.
func (inv *Invoker) CallAsUser(ctx context.Context, accountID, userID, ref string, params []Param) (Result, error) {
	withIdentity := append([]Param{Value(accountID), Value(userID)}, params...)
	return inv.Call(ctx, accountID, ref, withIdentity)
}

// Call resolves ref in the account's database, runs it and collects every
// output. On failure the outputs gathered so far are returned with the error.
func (inv *Invoker) Call(ctx context.Context, accountID, ref string, params []Param) (result Result, err error) {
	result = Result{}
	start := inv.nowTime()

	account, err := inv.accounts.Get(accountID)
	if err != nil {
		return result, ierrors.Wrapf(ierrors.ErrProcedureResolution, "[Invoker.Call] %v", err)
	}
	parsed, err := ParseRef(ref)
	if err != nil {
		return result, err
	}

	logger := log.With().
		Str("account", account.ID).
		Str("procedure", parsed.Name).
		Str("schema", parsed.Schema).
		Str("catalog", parsed.Catalog).
		Logger()

	defer func() {
		status := "success"
		if err != nil {
			status = ierrors.Kind(err)
			logger.Err(err).Msg("procedure call failed")
		}
		metrics.RecordProcedure(account.ID, status, inv.nowTime().Sub(start).Seconds())
	}()

	timeout := account.QueryTimeout
	if timeout <= 0 {
		timeout = inv.queryTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := inv.conns.Acquire(ctx, account.ID)
	if err != nil {
		return result, ierrors.Wrapf(ierrors.ErrInfrastructure, "[Invoker.Call] acquire connection: %v", err)
	}
	defer conn.Release()

	// cursors only live inside a transaction
	tx, err := conn.Begin(ctx)
	if err != nil {
		return result, ierrors.Wrapf(ierrors.ErrBackendExecution, "[Invoker.Call] begin: %v", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if rbErr := tx.Rollback(cleanupCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logger.Warn().Err(rbErr).Msg("rollback failed")
		}
	}()

	sig, err := lookupSignature(ctx, tx, parsed)
	if err != nil {
		return result, err
	}
	stmt := Build(sig, params)
	logger.Info().Str("namespace", sig.Namespace).Int("declared", len(sig.Params)).Int("supplied", len(params)).Msg("calling procedure")
	logger.Debug().Str("sql", stmt.SQL).Interface("args", stmt.Args).Msg("procedure statement")

	if err := inv.execute(ctx, tx, stmt, result); err != nil {
		inv.drainDiagnostics(ctx, conn, account, logger)
		return result, err
	}
	inv.drainDiagnostics(ctx, conn, account, logger)

	if err := tx.Commit(ctx); err != nil {
		return result, ierrors.Wrapf(ierrors.ErrBackendExecution, "[Invoker.Call] commit: %v", err)
	}
	committed = true
	return result, nil
}

func (inv *Invoker) execute(ctx context.Context, tx pgx.Tx, stmt Statement, result Result) error {
	if stmt.Set {
		rows, err := materialize(ctx, tx, stmt.SQL, stmt.Args...)
		if err != nil {
			return err
		}
		result[stmt.Outputs[0].Name] = CursorOutput(rows)
		return nil
	}

	values, err := firstRow(ctx, tx, stmt.SQL, stmt.Args...)
	if err != nil {
		return err
	}

	var cursors []Descriptor
	portals := map[string]string{}
	for i, out := range stmt.Outputs {
		var v string
		if i < len(values) {
			v = values[i]
		}
		if out.Cursor {
			cursors = append(cursors, out)
			portals[out.Name] = v
			continue
		}
		result[out.Name] = ScalarOutput(v)
	}

	for _, out := range cursors {
		portal := portals[out.Name]
		if portal == "" {
			result[out.Name] = CursorOutput(nil)
			continue
		}
		rows, err := materialize(ctx, tx, "FETCH ALL FROM "+pgx.Identifier{portal}.Sanitize())
		if err != nil {
			return err
		}
		result[out.Name] = CursorOutput(rows)
	}
	return nil
}

// firstRow runs the call and returns the text of its single result row, or
// nil when the call produced none.
func firstRow(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]string, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, ierrors.Wrapf(ierrors.ErrBackendExecution, "[Invoker.execute] %v", err)
	}
	defer rows.Close()

	var values []string
	if rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return nil, ierrors.Wrapf(ierrors.ErrBackendExecution, "[Invoker.execute] read outputs: %v", err)
		}
		text := newTextRenderer(rows)
		values = make([]string, len(raw))
		for i, v := range raw {
			values[i] = text.render(i, v)
		}
	}
	// drain so the command completes and reports any error
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return nil, ierrors.Wrapf(ierrors.ErrBackendExecution, "[Invoker.execute] %v", err)
	}
	return values, nil
}

// materialize reads every row, keying columns by their lower-cased names.
func materialize(ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]Row, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, ierrors.Wrapf(ierrors.ErrBackendExecution, "[Invoker.materialize] %v", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = strings.ToLower(f.Name)
	}
	text := newTextRenderer(rows)

	out := []Row{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return out, ierrors.Wrapf(ierrors.ErrBackendExecution, "[Invoker.materialize] %v", err)
		}
		row := make(Row, len(columns))
		for i, c := range columns {
			var v any
			if i < len(values) {
				v = values[i]
			}
			row[c] = text.render(i, v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return out, ierrors.Wrapf(ierrors.ErrBackendExecution, "[Invoker.materialize] %v", err)
	}
	return out, nil
}

// drainDiagnostics logs notices raised during the call. Warnings are always
// logged; the rest only when the account asks for diagnostics.
func (inv *Invoker) drainDiagnostics(ctx context.Context, conn Conn, account *accounts.Account, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Msg("could not drain diagnostics")
		}
	}()
	if ctx.Err() != nil {
		return
	}
	for _, n := range conn.Notices() {
		if ctx.Err() != nil {
			return
		}
		switch {
		case strings.EqualFold(n.Severity, "WARNING"):
			logger.Warn().Str("code", n.Code).Msg(n.Message)
		case account.LogDiagnostics:
			logger.Info().Str("severity", n.Severity).Msg(n.Message)
		}
	}
}
