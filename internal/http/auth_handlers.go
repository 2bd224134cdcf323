package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/service/auth"
)

type credentials struct {
	Name     string `json:"name"`
	Mail     string `json:"mail"`
	Password string `json:"password"`
}

func marshalSession(user *domain.User, token auth.Token) map[string]any {
	return map[string]any{
		"user": map[string]any{
			"id":   user.ID,
			"name": user.Name,
			"mail": user.Mail,
		},
		"tokens": map[string]any{
			"access_token": token.AccessToken,
			"token_type":   "Bearer",
			"expires_in":   int(token.ExpiresIn.Seconds()),
		},
	}
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	var payload credentials
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Signup(req.Context(), payload.Name, payload.Mail, payload.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, marshalSession(user, token))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload credentials
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Name, payload.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalSession(user, token))
}
