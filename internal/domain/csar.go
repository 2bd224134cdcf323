package domain

import "time"

// Csar is a named Cloud Service Archive with any number of uploaded revisions.
type Csar struct {
	ID        int64
	Name      string
	UserID    int64
	CreatedAt time.Time
}

// HashedFile is the deduplicated blob behind one or more CSAR files.
type HashedFile struct {
	ID        int64
	Hash      string
	Size      int64
	Filename  string
	CreatedAt time.Time
}

// CsarFile is one uploaded revision of a CSAR.
type CsarFile struct {
	ID           int64
	CsarID       int64
	HashedFileID int64
	Name         string
	Version      int
	UploadedAt   time.Time
}
