package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/arko05roy/swarm/internal/domain"
)

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler populates the rest.
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version,omitempty"`
	Clients int           `json:"clients,omitempty"`
	Users   int           `json:"users,omitempty"`
	Agents  int           `json:"agents,omitempty"`
	Uptime  time.Duration `json:"uptime,omitempty"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	rc.Server.metrics.ObserveRPC(rc.Frame.Method, "ok")
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Server.metrics.ObserveRPC(rc.Frame.Method, code)
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Fail sends err as an error response, translating its domain code.
func (rc *RequestContext) Fail(err error) {
	rc.Server.log.Debug().Err(err).Str("method", rc.Frame.Method).Msg("request failed")
	shape := errorShape(err)
	rc.Server.metrics.ObserveRPC(rc.Frame.Method, shape.Code)
	rc.Client.RespondError(rc.Frame.ID, shape)
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

// errorShape maps a coded error onto the wire: the code lower-cased, its
// retryable attribute, and a retry delay when the error carries one.
func errorShape(err error) ErrorShape {
	code := domain.CodeOf(err)
	shape := ErrorShape{
		Code:      wireCode(code),
		Message:   err.Error(),
		Retryable: domain.AttributesOf(code).Retryable,
	}
	var de *domain.Error
	if errors.As(err, &de) {
		if s, ok := de.Fields["retryAfter"].(string); ok {
			if d, perr := time.ParseDuration(s); perr == nil {
				shape.RetryAfter = int(d.Milliseconds())
			}
		}
	}
	return shape
}

func wireCode(c domain.Code) string {
	return strings.ToLower(string(c))
}
