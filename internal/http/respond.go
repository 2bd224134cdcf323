package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/service/auth"
	"github.com/csarrepo/csarrepo/internal/service/csar"
	"github.com/csarrepo/csarrepo/internal/service/deploy"
	"github.com/csarrepo/csarrepo/internal/service/server"
	"github.com/csarrepo/csarrepo/pkg/opentosca"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps a service error to the HTTP status reported to callers.
func StatusFor(err error) int {
	var tooLarge *http.MaxBytesError
	var rejected *opentosca.RejectedError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrAlreadyExists),
		errors.Is(err, deploy.ErrAlreadyDeployed),
		errors.Is(err, csar.ErrStillDeployed),
		errors.Is(err, server.ErrHasDeployments):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, opentosca.ErrUnreachable),
		errors.Is(err, opentosca.ErrInvalidResponse),
		errors.As(err, &rejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError reports err with the mapped status. Remote rejections carry the container's status.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.URL.Path, "status", status, "error", err)
	}
	body := map[string]any{"error": err.Error()}
	if code, ok := opentosca.RejectedStatus(err); ok {
		body["remote_status"] = code
	}
	if status == http.StatusInternalServerError && !errors.Is(err, opentosca.ErrFileMissing) {
		body["error"] = "internal error"
	}
	writeJSON(w, status, body)
}
