package domain

import "time"

// ServerKind distinguishes the remote systems the repository talks to.
type ServerKind string

const (
	ServerKindOpenTOSCA ServerKind = "opentosca"
	ServerKindWinery    ServerKind = "winery"
)

// Valid reports whether k is a known kind.
func (k ServerKind) Valid() bool {
	return k == ServerKindOpenTOSCA || k == ServerKindWinery
}

// RemoteServer is a registered OpenTOSCA container or Winery instance.
type RemoteServer struct {
	ID        int64
	Kind      ServerKind
	Name      string
	Address   string
	UserID    int64
	CreatedAt time.Time
}
