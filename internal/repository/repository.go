package repository

import (
	"context"

	"github.com/csarrepo/csarrepo/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByName(ctx context.Context, name string) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
}

// CsarRepository persists CSARs.
type CsarRepository interface {
	CreateCsar(ctx context.Context, csar *domain.Csar) error
	GetCsarByID(ctx context.Context, id int64) (*domain.Csar, error)
	ListCsars(ctx context.Context) ([]domain.Csar, error)
	DeleteCsar(ctx context.Context, id int64) error
}

// HashedFileRepository persists deduplicated blobs.
type HashedFileRepository interface {
	CreateHashedFile(ctx context.Context, file *domain.HashedFile) error
	GetHashedFileByID(ctx context.Context, id int64) (*domain.HashedFile, error)
	GetHashedFileByHash(ctx context.Context, hash string) (*domain.HashedFile, error)
	CountCsarFilesByHashedFile(ctx context.Context, hashedFileID int64) (int, error)
	DeleteHashedFile(ctx context.Context, id int64) error
}

// CsarFileRepository persists CSAR revisions. CreateCsarFile assigns the next
// version for the CSAR.
type CsarFileRepository interface {
	CreateCsarFile(ctx context.Context, file *domain.CsarFile) error
	GetCsarFileByID(ctx context.Context, id int64) (*domain.CsarFile, error)
	ListCsarFilesByCsar(ctx context.Context, csarID int64) ([]domain.CsarFile, error)
	DeleteCsarFile(ctx context.Context, id int64) error
}

// ServerRepository persists OpenTOSCA and Winery registrations.
type ServerRepository interface {
	CreateServer(ctx context.Context, server *domain.RemoteServer) error
	GetServer(ctx context.Context, kind domain.ServerKind, id int64) (*domain.RemoteServer, error)
	ListServers(ctx context.Context, kind domain.ServerKind) ([]domain.RemoteServer, error)
	DeleteServer(ctx context.Context, kind domain.ServerKind, id int64) error
}

// DeploymentRepository records which CSAR files live on which OpenTOSCA server.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.CsarFileDeployment) error
	GetDeployment(ctx context.Context, csarFileID, serverID int64) (*domain.CsarFileDeployment, error)
	ListDeploymentsByCsarFile(ctx context.Context, csarFileID int64) ([]domain.CsarFileDeployment, error)
	ListDeploymentsByServer(ctx context.Context, serverID int64) ([]domain.CsarFileDeployment, error)
	CountDeploymentsByCsar(ctx context.Context, csarID int64) (int, error)
	DeleteDeployment(ctx context.Context, csarFileID, serverID int64) error
}

// Store bundles every repository behind one database handle.
type Store interface {
	UserRepository
	CsarRepository
	HashedFileRepository
	CsarFileRepository
	ServerRepository
	DeploymentRepository
	Ping(ctx context.Context) error
}
