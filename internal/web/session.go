package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/csarrepo/csarrepo/pkg/crypto"
)

var errEmptySession = errors.New("empty session")

// sessions stores the access token in an encrypted cookie.
type sessions struct {
	secret string
	name   string
	secure bool
}

func newSessions(secret, name string, secure bool) (sessions, error) {
	if strings.TrimSpace(secret) == "" {
		return sessions{}, errors.New("session secret must be configured")
	}
	if strings.TrimSpace(name) == "" {
		name = "csarrepo_session"
	}
	return sessions{secret: secret, name: name, secure: secure}, nil
}

func (s sessions) MakeCookie(token string, ttl time.Duration) (*http.Cookie, error) {
	sealed, err := crypto.Seal(s.secret, token)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     s.name,
		Value:    sealed,
		Path:     "/ui",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
	}, nil
}

func (s sessions) TokenFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.name)
	if err != nil {
		return "", err
	}
	token, err := crypto.Unseal(s.secret, cookie.Value)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(token) == "" {
		return "", errEmptySession
	}
	return token, nil
}

func (s sessions) ExpireCookie() *http.Cookie {
	return &http.Cookie{
		Name:     s.name,
		Value:    "",
		Path:     "/ui",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}
