package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/service/csar"
	"github.com/csarrepo/csarrepo/internal/workspace"
	"github.com/csarrepo/csarrepo/internal/ws"
	"github.com/csarrepo/csarrepo/pkg/config"
	"github.com/csarrepo/csarrepo/pkg/opentosca"
)

// ErrAlreadyDeployed is returned when a CSAR file is already recorded on the server.
var ErrAlreadyDeployed = errors.New("csar file already deployed on server")

// Files resolves CSAR files to their bytes on disk.
type Files interface {
	Locate(ctx context.Context, id int64) (csar.Located, error)
}

// Servers resolves OpenTOSCA registrations to client descriptors.
type Servers interface {
	Descriptor(ctx context.Context, id int64) (opentosca.Server, error)
}

// Publisher receives deployment events.
type Publisher interface {
	Publish(evt ws.Event)
}

// ClientFactory builds a Deployment Client for one server. Every call returns a fresh client.
type ClientFactory func(server opentosca.Server) (*opentosca.Client, error)

// RemoteCsar is one CSAR held by an OpenTOSCA container. CsarFileID is set when
// the archive carries a marker written by this repository.
type RemoteCsar struct {
	Name       string `json:"name"`
	Href       string `json:"href"`
	CsarFileID int64  `json:"csar_file_id,omitempty"`
	Known      bool   `json:"known"`
}

// Service deploys CSAR files to OpenTOSCA containers and queries their state.
type Service struct {
	deployments repository.DeploymentRepository
	files       Files
	servers     Servers
	workspace   *workspace.Manager
	events      Publisher
	listings    *cache.Cache
	cacheTTL    time.Duration
	newClient   ClientFactory
	parallelism int
	logger      *slog.Logger
}

// New returns a deployment service.
func New(deployments repository.DeploymentRepository, files Files, servers Servers, workspaces *workspace.Manager, events Publisher, logger *slog.Logger, cfg config.Config) Service {
	return Service{
		deployments: deployments,
		files:       files,
		servers:     servers,
		workspace:   workspaces,
		events:      events,
		listings:    cache.New(cfg.ListingCacheTTL, time.Minute),
		cacheTTL:    cfg.ListingCacheTTL,
		newClient:   NewClientFactory(logger, cfg),
		parallelism: max(cfg.FetchParallelism, 1),
		logger:      logger,
	}
}

// WithClientFactory returns a copy of the service that builds clients with f.
func (s Service) WithClientFactory(f ClientFactory) Service {
	s.newClient = f
	return s
}

// NewClientFactory builds clients with the configured timeout and fetch parallelism.
func NewClientFactory(logger *slog.Logger, cfg config.Config) ClientFactory {
	return func(server opentosca.Server) (*opentosca.Client, error) {
		return opentosca.New(server, logger,
			opentosca.WithTimeout(cfg.ContainerTimeout),
			opentosca.WithParallelism(cfg.FetchParallelism),
		)
	}
}

func (s Service) client(ctx context.Context, serverID int64) (*opentosca.Client, error) {
	desc, err := s.servers.Descriptor(ctx, serverID)
	if err != nil {
		return nil, err
	}
	c, err := s.newClient(desc)
	if err != nil {
		return nil, fmt.Errorf("server %d: %v: %w", serverID, err, repository.ErrInvalidArgument)
	}
	return c, nil
}

// RemoteFileName is the archive name a CSAR file is uploaded under.
func RemoteFileName(csarName string, version int) string {
	return fmt.Sprintf("%s_v%d.csar", csarName, version)
}

// Deploy uploads a CSAR file to an OpenTOSCA server and records where it landed.
func (s Service) Deploy(ctx context.Context, csarFileID, serverID int64) (*domain.CsarFileDeployment, error) {
	located, err := s.files.Locate(ctx, csarFileID)
	if err != nil {
		return nil, err
	}
	if _, err := s.deployments.GetDeployment(ctx, csarFileID, serverID); err == nil {
		return nil, fmt.Errorf("csar file %d on server %d: %w", csarFileID, serverID, ErrAlreadyDeployed)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	client, err := s.client(ctx, serverID)
	if err != nil {
		return nil, err
	}

	dir, err := s.workspace.Prepare(uuid.NewString())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := s.workspace.Cleanup(dir); err != nil {
			s.logger.Warn("workspace cleanup failed", "dir", dir, "error", err)
		}
	}()
	fileName := RemoteFileName(located.Csar.Name, located.File.Version)
	staged := filepath.Join(dir, fileName)
	if err := stageArchive(located.Path, staged, csarFileID); err != nil {
		return nil, err
	}

	started := time.Now()
	remote, err := client.Upload(ctx, staged, fileName)
	deployMetrics.observe("upload", started, err)
	if err != nil {
		s.publish(ws.Event{Type: ws.EventDeployFailed, CsarFileID: csarFileID, ServerID: serverID, Error: err.Error()})
		return nil, err
	}

	record := &domain.CsarFileDeployment{
		CsarFileID: csarFileID,
		ServerID:   serverID,
		Location:   remote.Location,
		DeployedAt: time.Now().UTC(),
	}
	if err := s.deployments.CreateDeployment(ctx, record); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("csar file %d on server %d: %w", csarFileID, serverID, ErrAlreadyDeployed)
		}
		return nil, err
	}
	s.listings.Delete(listingKey(serverID))
	s.logger.Info("csar file deployed", "csar_file_id", csarFileID, "server_id", serverID, "location", record.Location)
	s.publish(ws.Event{Type: ws.EventDeployed, CsarFileID: csarFileID, ServerID: serverID, Location: record.Location})
	return record, nil
}

// Undeploy removes a CSAR file from an OpenTOSCA server. A location the server no
// longer knows counts as removed.
func (s Service) Undeploy(ctx context.Context, csarFileID, serverID int64) error {
	record, err := s.deployments.GetDeployment(ctx, csarFileID, serverID)
	if err != nil {
		return err
	}
	client, err := s.client(ctx, serverID)
	if err != nil {
		return err
	}

	started := time.Now()
	err = client.Delete(ctx, record.Location)
	deployMetrics.observe("delete", started, err)
	if status, ok := opentosca.RejectedStatus(err); ok && status == http.StatusNotFound {
		s.logger.Info("csar already gone from container", "csar_file_id", csarFileID, "server_id", serverID, "location", record.Location)
		err = nil
	}
	if err != nil {
		s.publish(ws.Event{Type: ws.EventUndeployFailed, CsarFileID: csarFileID, ServerID: serverID, Location: record.Location, Error: err.Error()})
		return err
	}

	if err := s.deployments.DeleteDeployment(ctx, csarFileID, serverID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	s.listings.Delete(listingKey(serverID))
	s.logger.Info("csar file undeployed", "csar_file_id", csarFileID, "server_id", serverID)
	s.publish(ws.Event{Type: ws.EventUndeployed, CsarFileID: csarFileID, ServerID: serverID, Location: record.Location})
	return nil
}

// Deployed lists the CSARs on an OpenTOSCA server and resolves each back to a CSAR file.
func (s Service) Deployed(ctx context.Context, serverID int64) ([]RemoteCsar, error) {
	key := listingKey(serverID)
	if s.cacheTTL > 0 {
		if cached, ok := s.listings.Get(key); ok {
			return cached.([]RemoteCsar), nil
		}
	}
	client, err := s.client(ctx, serverID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	links, err := client.ListDeployed(ctx)
	deployMetrics.observe("list_deployed", started, err)
	if err != nil {
		return nil, err
	}

	result := make([]RemoteCsar, len(links))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, link := range links {
		g.Go(func() error {
			name := remoteName(link)
			id, found, err := client.ResolveCsarFileID(gctx, name)
			if err != nil {
				return err
			}
			result[i] = RemoteCsar{Name: name, Href: link.Href, CsarFileID: id, Known: found}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if s.cacheTTL > 0 {
		s.listings.SetDefault(key, result)
	}
	return result, nil
}

// Instances lists the live service instances of an OpenTOSCA server.
func (s Service) Instances(ctx context.Context, serverID int64) ([]opentosca.ServiceInstance, error) {
	client, err := s.client(ctx, serverID)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	instances, err := client.ListServiceInstances(ctx)
	deployMetrics.observe("list_instances", started, err)
	return instances, err
}

// Invalidate drops the cached listing of a server.
func (s Service) Invalidate(serverID int64) {
	s.listings.Delete(listingKey(serverID))
}

func (s Service) publish(evt ws.Event) {
	if s.events != nil {
		s.events.Publish(evt)
	}
}

func listingKey(serverID int64) string {
	return strconv.FormatInt(serverID, 10)
}

func remoteName(link opentosca.Link) string {
	if name := strings.TrimSpace(link.Title); name != "" {
		return name
	}
	return path.Base(strings.TrimRight(link.Href, "/"))
}
