package verifier

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jrsteele09/go-middle-layer/accounts"
	"github.com/jrsteele09/go-middle-layer/procedure"
)

const (
	DatabaseName            = "database"
	defaultAuthProcedure    = "my_app.u_auth.is_authenticated"
	authenticatedColumnName = "authenticated"
)

// ProcedureCaller runs a stored procedure for an account.
type ProcedureCaller interface {
	Call(ctx context.Context, accountID, ref string, params []procedure.Param) (procedure.Result, error)
}

type databaseSettings struct {
	Procedure      string   `yaml:"procedure"`
	AllowedActions []string `yaml:"allowed_actions"`
}

// Database delegates the credential check to an authentication procedure in
// the account's own database. The procedure receives (user, password) and
// must return exactly one row holding a true flag.
type Database struct {
	session
	caller    ProcedureCaller
	accountID string
	procedure string
}

var _ Verifier = (*Database)(nil)

// DatabaseFactory binds the strategy to the procedure caller it authenticates through.
func DatabaseFactory(caller ProcedureCaller) Factory {
	return func(account *accounts.Account) (Verifier, error) {
		if caller == nil {
			return nil, errors.New("[DatabaseFactory] procedure caller is required")
		}
		var s databaseSettings
		if err := account.DecodeSettings(&s); err != nil {
			return nil, err
		}
		if s.Procedure == "" {
			s.Procedure = defaultAuthProcedure
		}
		return &Database{
			session:   session{actions: newActionSet(s.AllowedActions)},
			caller:    caller,
			accountID: account.ID,
			procedure: s.Procedure,
		}, nil
	}
}

func (v *Database) Verify(ctx context.Context, creds Credentials, timeout time.Duration) error {
	user := creds.Get(KeyUsername)
	if user == "" {
		return authFailure(MsgMissingUser, nil)
	}
	pass := creds.Get(KeyPassword)
	if pass == "" {
		return authFailure(MsgMissingPass, nil)
	}

	result, err := v.caller.Call(ctx, v.accountID, v.procedure, procedure.Values(user, pass))
	if err != nil {
		// a backend failure is not a credential problem; let the caller report it generically
		return err
	}
	if !authenticated(result) {
		return authFailure(MsgBadCombination, nil)
	}
	v.identity = user
	v.timeout = timeout
	return nil
}

func authenticated(result procedure.Result) bool {
	if rows, ok := result.FirstCursor(); ok {
		if len(rows) != 1 {
			return false
		}
		return rowIsTrue(rows[0])
	}
	for _, name := range result.Names() {
		if ok, err := strconv.ParseBool(result[name].Scalar); err == nil {
			return ok
		}
	}
	return false
}

func rowIsTrue(row procedure.Row) bool {
	if v, ok := row[authenticatedColumnName]; ok {
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	if len(row) != 1 {
		return false
	}
	for _, v := range row {
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return false
}
