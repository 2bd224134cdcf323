package domain

import "time"

// CsarFileDeployment records that a CSAR file was uploaded to an OpenTOSCA server.
type CsarFileDeployment struct {
	CsarFileID int64
	ServerID   int64
	Location   string
	DeployedAt time.Time
}
