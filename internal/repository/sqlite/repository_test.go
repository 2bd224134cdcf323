package sqlite_test

import (
	"testing"

	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/repository/repotest"
	"github.com/csarrepo/csarrepo/internal/repository/sqlite"
)

func TestRepository(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Store {
		return &sqlite.Repository{DB: sqlite.OpenTestDB(t)}
	})
}
