package opentosca

import (
	"fmt"
	"net/url"
	"strings"
)

// Server describes a remote OpenTOSCA container.
type Server struct {
	ID      int64
	Name    string
	Address string
}

// BaseURL parses the server address, accepting only absolute http(s) URLs.
func (s Server) BaseURL() (*url.URL, error) {
	raw := strings.TrimSpace(s.Address)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q is not http or https", ErrInvalidAddress, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidAddress, raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func (s Server) String() string {
	if s.Name == "" {
		return s.Address
	}
	return fmt.Sprintf("%s (%s)", s.Name, s.Address)
}
