package dispatch

import (
	ierrors "github.com/jrsteele09/go-middle-layer/internal/errors"
)

// Result is what a task hands back to the transport.
type Result struct {
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Kind      string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
	CSRFToken string `json:"csrf_token,omitempty"`
	Data      any    `json:"data,omitempty"`

	// ResetSession asks the transport to drop the caller's session id.
	ResetSession bool `json:"-"`
}

func success(action string, data any) Result {
	return Result{Action: action, Success: true, Data: data}
}

// failure classifies err into the result. msg is what the caller sees.
func failure(action string, err error, msg string) Result {
	return Result{Action: action, Kind: ierrors.Kind(err), Message: msg}
}

func (r Result) status() string {
	if r.Success {
		return "success"
	}
	if r.Kind == "" {
		return "failure"
	}
	return r.Kind
}
