package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	ierrors "github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/jrsteele09/go-middle-layer/procedure"
	"github.com/jrsteele09/go-middle-layer/verifier"
)

// Action names.
const (
	ActionLogin               = "login"
	ActionLogout              = "logout"
	ActionStoredProcedure     = "doStoredProcedure"
	ActionUserStoredProcedure = "doUserStoredProcedure"
	ActionEcho                = "doEcho"
	ActionSessionInfo         = "getSessionInfo"
	ActionRequestInfo         = "getRequestInfo"
	ActionResetApplication    = "resetApplication"
	ActionGetActiveUsers      = "getActiveUsers"
	ActionLogoutUser          = "logoutUser"
)

const (
	MsgLogoutOK      = "Logout successful"
	MsgResetOK       = "Application reset"
	MsgMissingProc   = "Missing procedure name"
	MsgNoResult      = "The procedure returned no result"
	MsgProcFailed    = "The procedure could not be executed"
	MsgProcNotFound  = "The procedure could not be found"
	MsgUnknownTarget = "Unknown session"
)

func (d *Dispatcher) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		ActionLogin:               d.login,
		ActionLogout:              d.logout,
		ActionStoredProcedure:     d.guarded(d.storedProcedure),
		ActionUserStoredProcedure: d.guarded(d.userStoredProcedure),
		ActionEcho:                d.guarded(d.echo),
		ActionSessionInfo:         d.guarded(d.sessionInfo),
		ActionRequestInfo:         d.guarded(d.requestInfo),
		ActionResetApplication:    d.guarded(d.resetApplication),
		ActionGetActiveUsers:      d.guarded(d.activeUsers),
		ActionLogoutUser:          d.guarded(d.logoutUser),
	}
}

// guarded authorizes the session for the action and extends it before
// handing over to next.
func (d *Dispatcher) guarded(next handlerFunc) handlerFunc {
	return func(ctx context.Context, req *request) Result {
		if !d.security.IsAuthorized(ctx, req.params, req.accountID, req.sessionID, req.action) {
			req.logger.Info().Msg("action not authorized")
			return failure(req.action, ierrors.ErrPolicyDenied,
				fmt.Sprintf("Authorized login required for accessing the %s function", req.action))
		}
		if resp := d.security.Touch(ctx, req.sessionID, req.accountID); !resp.Success {
			return failure(req.action, ierrors.ErrAuthenticationFailed,
				fmt.Sprintf("Error in accessing the %s function: %s", req.action, resp.Message))
		}
		return next(ctx, req)
	}
}

func (d *Dispatcher) login(ctx context.Context, req *request) Result {
	resp := d.security.Login(ctx, verifier.Credentials(req.params), req.params.Get(KeyAccount), req.sessionID)
	if !resp.Success {
		return failure(req.action, ierrors.ErrAuthenticationFailed, resp.Message)
	}
	return Result{Action: req.action, Success: true, Message: resp.Message, CSRFToken: resp.CSRFToken}
}

func (d *Dispatcher) logout(ctx context.Context, req *request) Result {
	if err := d.security.Logout(ctx, req.sessionID); err != nil {
		req.logger.Err(err).Msg("logout failed")
		return failure(req.action, ierrors.Wrapf(ierrors.ErrInfrastructure, "%v", err), "Logout failed")
	}
	return Result{Action: req.action, Success: true, Message: MsgLogoutOK}
}

func (d *Dispatcher) storedProcedure(ctx context.Context, req *request) Result {
	ref := req.params.Get(KeyProcedure)
	if ref == "" {
		return failure(req.action, ierrors.ErrProcedureResolution, MsgMissingProc)
	}
	result, err := d.procs.Call(ctx, req.accountID, ref, req.params.ProcedureParams())
	return d.procedureResult(req, result, err)
}

func (d *Dispatcher) userStoredProcedure(ctx context.Context, req *request) Result {
	ref := req.params.Get(KeyProcedure)
	if ref == "" {
		return failure(req.action, ierrors.ErrProcedureResolution, MsgMissingProc)
	}
	userID := d.security.UserID(ctx, req.sessionID)
	result, err := d.procs.CallAsUser(ctx, req.accountID, userID, ref, req.params.ProcedureParams())
	return d.procedureResult(req, result, err)
}

func (d *Dispatcher) procedureResult(req *request, result procedure.Result, err error) Result {
	if err != nil {
		msg := MsgProcFailed
		if ierrors.Is(err, ierrors.ErrProcedureResolution) {
			msg = MsgProcNotFound
		}
		res := failure(req.action, err, msg)
		if len(result) > 0 {
			res.Data = result
		}
		return res
	}
	if len(result) == 0 {
		req.logger.Debug().Msg("procedure produced no outputs")
		return Result{Action: req.action, Success: true, Message: MsgNoResult}
	}
	return success(req.action, result)
}

func (d *Dispatcher) echo(_ context.Context, req *request) Result {
	return success(req.action, req.params.Get(KeyEcho))
}

// SessionInfo describes the caller's session.
type SessionInfo struct {
	SessionID      string    `json:"session_id"`
	AccountID      string    `json:"account"`
	UserID         string    `json:"user"`
	Strategy       string    `json:"verifier"`
	Created        time.Time `json:"created"`
	LastAccessed   time.Time `json:"last_accessed"`
	DurationSecs   int64     `json:"duration_seconds"`
	TimeoutSeconds int64     `json:"timeout_seconds"`
}

func (d *Dispatcher) sessionInfo(ctx context.Context, req *request) Result {
	s, err := d.security.Session(ctx, req.sessionID)
	if err != nil {
		return failure(req.action, ierrors.Wrapf(ierrors.ErrAuthenticationFailed, "%v", err), "No active session")
	}
	return success(req.action, SessionInfo{
		SessionID:      s.ID,
		AccountID:      s.AccountID,
		UserID:         s.UserID,
		Strategy:       s.Strategy,
		Created:        s.CreatedAt,
		LastAccessed:   s.LastAccessed,
		DurationSecs:   int64(s.LastAccessed.Sub(s.CreatedAt).Seconds()),
		TimeoutSeconds: int64(s.Timeout.Seconds()),
	})
}

// RequestInfo describes the request as the gateway received it.
type RequestInfo struct {
	RemoteAddr   string            `json:"remote_addr"`
	RequestURI   string            `json:"request_uri"`
	ServerTime   time.Time         `json:"server_time"`
	Uptime       string            `json:"uptime"`
	SecurityMode string            `json:"security_mode"`
	Parameters   map[string]string `json:"parameters"`
}

func (d *Dispatcher) requestInfo(_ context.Context, req *request) Result {
	now := d.nowTime()
	return success(req.action, RequestInfo{
		RemoteAddr:   req.params.Get(KeyRemoteAddr),
		RequestURI:   req.params.Get(KeyRequestURI),
		ServerTime:   now,
		Uptime:       now.Sub(d.started).Round(time.Second).String(),
		SecurityMode: d.security.Policy().Mode.String(),
		Parameters:   req.params.redacted(),
	})
}

// resetApplication ends the caller's session and asks the transport for a
// fresh session id.
func (d *Dispatcher) resetApplication(ctx context.Context, req *request) Result {
	if err := d.security.Logout(ctx, req.sessionID); err != nil {
		req.logger.Err(err).Msg("reset failed")
		return failure(req.action, ierrors.Wrapf(ierrors.ErrInfrastructure, "%v", err), "Reset failed")
	}
	return Result{Action: req.action, Success: true, Message: MsgResetOK, ResetSession: true}
}

// ActiveUser is one live session of the caller's account.
type ActiveUser struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user"`
	LastAccessed time.Time `json:"last_accessed"`
}

func (d *Dispatcher) activeUsers(ctx context.Context, req *request) Result {
	all, err := d.security.ActiveSessions(ctx)
	if err != nil {
		return failure(req.action, ierrors.Wrapf(ierrors.ErrInfrastructure, "%v", err), "Active users are not available")
	}
	account, err := d.security.Accounts().Get(req.accountID)
	if err != nil {
		return failure(req.action, ierrors.Wrapf(ierrors.ErrPolicyDenied, "%v", err), "Unknown account identifier")
	}
	users := []ActiveUser{}
	for _, s := range all {
		if s.AccountID != account.ID {
			continue
		}
		users = append(users, ActiveUser{SessionID: s.ID, UserID: s.UserID, LastAccessed: s.LastAccessed})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return success(req.action, users)
}

// logoutUser ends another session of the same account.
func (d *Dispatcher) logoutUser(ctx context.Context, req *request) Result {
	target := req.params.Get(KeyUserSessionID)
	if target == "" || d.security.AccountID(ctx, target) != d.security.AccountID(ctx, req.sessionID) {
		return failure(req.action, ierrors.ErrPolicyDenied, MsgUnknownTarget)
	}
	if err := d.security.Logout(ctx, target); err != nil {
		req.logger.Err(err).Str("target", target).Msg("logout of user failed")
		return failure(req.action, ierrors.Wrapf(ierrors.ErrInfrastructure, "%v", err), "Logout failed")
	}
	req.logger.Info().Str("target", target).Msg("user logged out by administrator")
	return Result{Action: req.action, Success: true, Message: MsgLogoutOK, Data: target}
}
