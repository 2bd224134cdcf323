package domain

import "time"

// User represents a repository account.
type User struct {
	ID           int64
	Name         string
	Mail         string
	PasswordHash []byte
	CreatedAt    time.Time
}
