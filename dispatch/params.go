package dispatch

import (
	"strconv"

	"github.com/jrsteele09/go-middle-layer/procedure"
)

// Parameter bag keys.
const (
	KeyAction        = "action"
	KeyAccount       = "account"
	KeyProcedure     = "proc"
	KeyParamPrefix   = "param"
	KeyToken         = "token"
	KeyEcho          = "echo"
	KeyUserSessionID = "user_session_id"

	// set by the transport
	KeyRemoteAddr = "remote_addr"
	KeyRequestURI = "request_uri"
	KeySessionID  = "session_id"
)

// MaxProcedureParams is the highest paramN read from the bag.
const MaxProcedureParams = 16

// Params is the string keyed parameter bag handed over by the transport.
type Params map[string]string

func (p Params) Get(key string) string {
	if p == nil {
		return ""
	}
	return p[key]
}

// ProcedureParams collects param1..paramN where N is the highest index
// present. Missing indexes below N are passed as unset values.
func (p Params) ProcedureParams() []procedure.Param {
	n := 0
	for i := MaxProcedureParams; i >= 1; i-- {
		if _, ok := p[KeyParamPrefix+strconv.Itoa(i)]; ok {
			n = i
			break
		}
	}
	params := make([]procedure.Param, n)
	for i := 1; i <= n; i++ {
		if v, ok := p[KeyParamPrefix+strconv.Itoa(i)]; ok {
			params[i-1] = procedure.Value(v)
		}
	}
	return params
}

// redacted returns a copy without secrets, for diagnostics.
func (p Params) redacted() map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		switch k {
		case "password", KeyToken, "authorization", "id_token":
			out[k] = "********"
		default:
			out[k] = v
		}
	}
	return out
}
