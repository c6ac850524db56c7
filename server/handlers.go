package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-middle-layer/dispatch"
	"github.com/jrsteele09/go-middle-layer/verifier"
	"github.com/rs/zerolog/log"
)

const healthTimeout = 3 * time.Second

// Keys only the transport may set. Client supplied values are dropped.
var transportKeys = []string{
	dispatch.KeyRemoteAddr,
	dispatch.KeyRequestURI,
	dispatch.KeySessionID,
	verifier.KeyRemoteUser,
	verifier.KeyAuthorization,
}

var kindStatus = map[string]int{
	"policy_denied":         http.StatusForbidden,
	"authentication_failed": http.StatusUnauthorized,
	"action_not_found":      http.StatusBadRequest,
	"procedure_resolution":  http.StatusNotFound,
	"backend_execution":     http.StatusBadGateway,
	"infrastructure":        http.StatusServiceUnavailable,
}

// JMLHandler turns a form or query request into a parameter bag, runs the
// named action and writes the result as JSON.
func (s *Server) JMLHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "", "malformed request", http.StatusBadRequest)
			return
		}

		params := dispatch.Params{}
		for k, v := range r.Form {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		for _, k := range transportKeys {
			delete(params, k)
		}

		action := params.Get(dispatch.KeyAction)
		if action == "" {
			writeJSONError(w, "", "action is required", http.StatusBadRequest)
			return
		}

		sessionID := s.sessionID(w, r)
		params[dispatch.KeyRemoteAddr] = r.RemoteAddr
		params[dispatch.KeyRequestURI] = r.URL.Path
		params[dispatch.KeySessionID] = sessionID
		if auth := r.Header.Get("Authorization"); auth != "" {
			params[verifier.KeyAuthorization] = auth
		}
		if header := s.config.GetRemoteUserHeader(); header != "" {
			if user := r.Header.Get(header); user != "" {
				params[verifier.KeyRemoteUser] = user
			}
		}

		result := s.dispatcher.Execute(r.Context(), action, params)
		if result.ResetSession {
			s.setSessionCookie(w, r, uuid.NewString())
		}

		status := http.StatusOK
		if !result.Success {
			if code, ok := kindStatus[result.Kind]; ok {
				status = code
			}
		}
		writeJSON(w, status, result)
	}
}

// HealthHandler reports liveness, and backend reachability when a Pinger is set.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.health == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// sessionID returns the caller's session id, minting one when absent.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	s.setSessionCookie(w, r, id)
	return id
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, kind, message string, status int) {
	writeJSON(w, status, dispatch.Result{Kind: kind, Message: message})
}
