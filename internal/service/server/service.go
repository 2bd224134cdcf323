package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/pkg/opentosca"
)

// ErrHasDeployments is returned when removing an OpenTOSCA server that still hosts CSAR files.
var ErrHasDeployments = errors.New("server still has deployments")

// Repository is the persistence the server registry needs.
type Repository interface {
	repository.ServerRepository
	ListDeploymentsByServer(ctx context.Context, serverID int64) ([]domain.CsarFileDeployment, error)
}

// Service is the registry of OpenTOSCA containers and Winery instances.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// New returns a server registry service.
func New(repo Repository, logger *slog.Logger) Service {
	return Service{repo: repo, logger: logger}
}

// CreateInput describes a server registration.
type CreateInput struct {
	Kind    domain.ServerKind
	UserID  int64
	Name    string
	Address string
}

// Create validates and registers a server.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.RemoteServer, error) {
	if !input.Kind.Valid() {
		return nil, fmt.Errorf("unknown server kind %q: %w", input.Kind, repository.ErrInvalidArgument)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("server name is required: %w", repository.ErrInvalidArgument)
	}
	address := strings.TrimSpace(input.Address)
	if _, err := (opentosca.Server{Address: address}).BaseURL(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, repository.ErrInvalidArgument)
	}
	srv := &domain.RemoteServer{
		Kind:      input.Kind,
		Name:      name,
		Address:   address,
		UserID:    input.UserID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateServer(ctx, srv); err != nil {
		return nil, err
	}
	s.logger.Info("server registered", "server_id", srv.ID, "kind", srv.Kind, "address", srv.Address)
	return srv, nil
}

// List returns servers of one kind.
func (s Service) List(ctx context.Context, kind domain.ServerKind) ([]domain.RemoteServer, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown server kind %q: %w", kind, repository.ErrInvalidArgument)
	}
	return s.repo.ListServers(ctx, kind)
}

// Get returns one server.
func (s Service) Get(ctx context.Context, kind domain.ServerKind, id int64) (*domain.RemoteServer, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown server kind %q: %w", kind, repository.ErrInvalidArgument)
	}
	return s.repo.GetServer(ctx, kind, id)
}

// Delete removes a registration. OpenTOSCA servers hosting CSAR files are kept.
func (s Service) Delete(ctx context.Context, kind domain.ServerKind, id int64) error {
	if _, err := s.Get(ctx, kind, id); err != nil {
		return err
	}
	if kind == domain.ServerKindOpenTOSCA {
		deployments, err := s.repo.ListDeploymentsByServer(ctx, id)
		if err != nil {
			return err
		}
		if len(deployments) > 0 {
			return fmt.Errorf("server %d hosts %d csar files: %w", id, len(deployments), ErrHasDeployments)
		}
	}
	if err := s.repo.DeleteServer(ctx, kind, id); err != nil {
		return err
	}
	s.logger.Info("server removed", "server_id", id, "kind", kind)
	return nil
}

// Descriptor returns the deployment client descriptor for an OpenTOSCA server.
func (s Service) Descriptor(ctx context.Context, id int64) (opentosca.Server, error) {
	srv, err := s.repo.GetServer(ctx, domain.ServerKindOpenTOSCA, id)
	if err != nil {
		return opentosca.Server{}, err
	}
	return Descriptor(*srv), nil
}

// Descriptor converts a stored OpenTOSCA server.
func Descriptor(srv domain.RemoteServer) opentosca.Server {
	return opentosca.Server{ID: srv.ID, Name: srv.Name, Address: srv.Address}
}
