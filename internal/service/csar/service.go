package csar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/storage"
)

// ErrStillDeployed is returned when deleting something that is deployed on an OpenTOSCA server.
var ErrStillDeployed = errors.New("csar is still deployed")

// Repository is the persistence the CSAR service needs.
type Repository interface {
	repository.CsarRepository
	repository.CsarFileRepository
	repository.HashedFileRepository
	repository.DeploymentRepository
}

// BlobStore holds CSAR bytes keyed by content hash.
type BlobStore interface {
	Put(ctx context.Context, r io.Reader) (storage.Object, error)
	Open(key string) (*os.File, error)
	Path(key string) (string, error)
	Delete(key string) error
}

// Service manages CSARs and their uploaded revisions.
type Service struct {
	repo   Repository
	blobs  BlobStore
	logger *slog.Logger
}

// New returns a CSAR service.
func New(repo Repository, blobs BlobStore, logger *slog.Logger) Service {
	return Service{repo: repo, blobs: blobs, logger: logger}
}

// Details is a CSAR with its revisions in version order.
type Details struct {
	Csar  domain.Csar
	Files []domain.CsarFile
}

// FileDetails is everything known about one revision.
type FileDetails struct {
	File        domain.CsarFile
	Csar        domain.Csar
	HashedFile  domain.HashedFile
	Deployments []domain.CsarFileDeployment
}

// Located is a revision together with the local path of its bytes.
type Located struct {
	File       domain.CsarFile
	Csar       domain.Csar
	HashedFile domain.HashedFile
	Path       string
}

func validateName(kind, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%s name is required: %w", kind, repository.ErrInvalidArgument)
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%s name must not contain path separators: %w", kind, repository.ErrInvalidArgument)
	}
	return name, nil
}

// Create registers a new, empty CSAR.
func (s Service) Create(ctx context.Context, userID int64, name string) (*domain.Csar, error) {
	name, err := validateName("csar", name)
	if err != nil {
		return nil, err
	}
	csar := &domain.Csar{Name: name, UserID: userID, CreatedAt: time.Now().UTC()}
	if err := s.repo.CreateCsar(ctx, csar); err != nil {
		return nil, err
	}
	s.logger.Info("csar created", "csar_id", csar.ID, "name", csar.Name)
	return csar, nil
}

// List returns all CSARs.
func (s Service) List(ctx context.Context) ([]domain.Csar, error) {
	return s.repo.ListCsars(ctx)
}

// Get returns a CSAR with its revisions.
func (s Service) Get(ctx context.Context, id int64) (Details, error) {
	csar, err := s.repo.GetCsarByID(ctx, id)
	if err != nil {
		return Details{}, err
	}
	files, err := s.repo.ListCsarFilesByCsar(ctx, id)
	if err != nil {
		return Details{}, err
	}
	return Details{Csar: *csar, Files: files}, nil
}

// Delete removes a CSAR, its revisions and any blob no longer referenced.
func (s Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.repo.GetCsarByID(ctx, id); err != nil {
		return err
	}
	deployed, err := s.repo.CountDeploymentsByCsar(ctx, id)
	if err != nil {
		return err
	}
	if deployed > 0 {
		return fmt.Errorf("csar %d has %d deployments: %w", id, deployed, ErrStillDeployed)
	}
	files, err := s.repo.ListCsarFilesByCsar(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCsar(ctx, id); err != nil {
		return err
	}
	seen := make(map[int64]bool, len(files))
	for _, f := range files {
		if seen[f.HashedFileID] {
			continue
		}
		seen[f.HashedFileID] = true
		s.collectBlob(ctx, f.HashedFileID)
	}
	s.logger.Info("csar deleted", "csar_id", id, "files", len(files))
	return nil
}

// UploadFile stores content as the next revision of the CSAR.
func (s Service) UploadFile(ctx context.Context, csarID int64, fileName string, content io.Reader) (*domain.CsarFile, error) {
	name, err := validateName("file", filepath.Base(strings.TrimSpace(fileName)))
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetCsarByID(ctx, csarID); err != nil {
		return nil, err
	}
	obj, err := s.blobs.Put(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if obj.Size == 0 {
		_ = s.blobs.Delete(obj.Key)
		return nil, fmt.Errorf("uploaded file is empty: %w", repository.ErrInvalidArgument)
	}

	hashed, err := s.repo.GetHashedFileByHash(ctx, obj.Hash)
	if errors.Is(err, repository.ErrNotFound) {
		hashed = &domain.HashedFile{Hash: obj.Hash, Size: obj.Size, Filename: name, CreatedAt: time.Now().UTC()}
		err = s.repo.CreateHashedFile(ctx, hashed)
		if errors.Is(err, repository.ErrAlreadyExists) {
			hashed, err = s.repo.GetHashedFileByHash(ctx, obj.Hash)
		}
	}
	if err != nil {
		return nil, err
	}

	file := &domain.CsarFile{CsarID: csarID, HashedFileID: hashed.ID, Name: name, UploadedAt: time.Now().UTC()}
	if err := s.repo.CreateCsarFile(ctx, file); err != nil {
		s.collectBlob(ctx, hashed.ID)
		return nil, err
	}
	s.logger.Info("csar file uploaded", "csar_id", csarID, "csar_file_id", file.ID, "version", file.Version, "hash", obj.Hash, "size", obj.Size)
	return file, nil
}

// GetFile returns a revision with its CSAR, blob metadata and deployments.
func (s Service) GetFile(ctx context.Context, id int64) (FileDetails, error) {
	file, err := s.repo.GetCsarFileByID(ctx, id)
	if err != nil {
		return FileDetails{}, err
	}
	csar, err := s.repo.GetCsarByID(ctx, file.CsarID)
	if err != nil {
		return FileDetails{}, err
	}
	hashed, err := s.repo.GetHashedFileByID(ctx, file.HashedFileID)
	if err != nil {
		return FileDetails{}, err
	}
	deployments, err := s.repo.ListDeploymentsByCsarFile(ctx, id)
	if err != nil {
		return FileDetails{}, err
	}
	return FileDetails{File: *file, Csar: *csar, HashedFile: *hashed, Deployments: deployments}, nil
}

// Locate resolves a revision to the local path of its bytes.
func (s Service) Locate(ctx context.Context, id int64) (Located, error) {
	file, err := s.repo.GetCsarFileByID(ctx, id)
	if err != nil {
		return Located{}, err
	}
	csar, err := s.repo.GetCsarByID(ctx, file.CsarID)
	if err != nil {
		return Located{}, err
	}
	hashed, err := s.repo.GetHashedFileByID(ctx, file.HashedFileID)
	if err != nil {
		return Located{}, err
	}
	path, err := s.blobs.Path(hashed.Hash)
	if err != nil {
		return Located{}, err
	}
	return Located{File: *file, Csar: *csar, HashedFile: *hashed, Path: path}, nil
}

// OpenFile opens the bytes of a revision. The caller closes the reader.
func (s Service) OpenFile(ctx context.Context, id int64) (*domain.CsarFile, *domain.HashedFile, io.ReadCloser, error) {
	file, err := s.repo.GetCsarFileByID(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	hashed, err := s.repo.GetHashedFileByID(ctx, file.HashedFileID)
	if err != nil {
		return nil, nil, nil, err
	}
	f, err := s.blobs.Open(hashed.Hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("csar blob missing", "csar_file_id", id, "hash", hashed.Hash)
		}
		return nil, nil, nil, err
	}
	return file, hashed, f, nil
}

// DeleteFile removes a revision that is not deployed anywhere.
func (s Service) DeleteFile(ctx context.Context, id int64) error {
	file, err := s.repo.GetCsarFileByID(ctx, id)
	if err != nil {
		return err
	}
	deployments, err := s.repo.ListDeploymentsByCsarFile(ctx, id)
	if err != nil {
		return err
	}
	if len(deployments) > 0 {
		return fmt.Errorf("csar file %d has %d deployments: %w", id, len(deployments), ErrStillDeployed)
	}
	if err := s.repo.DeleteCsarFile(ctx, id); err != nil {
		return err
	}
	s.collectBlob(ctx, file.HashedFileID)
	s.logger.Info("csar file deleted", "csar_file_id", id, "csar_id", file.CsarID)
	return nil
}

// collectBlob drops blob metadata and bytes once no revision references them.
func (s Service) collectBlob(ctx context.Context, hashedFileID int64) {
	refs, err := s.repo.CountCsarFilesByHashedFile(ctx, hashedFileID)
	if err != nil || refs > 0 {
		return
	}
	hashed, err := s.repo.GetHashedFileByID(ctx, hashedFileID)
	if err != nil {
		return
	}
	if err := s.repo.DeleteHashedFile(ctx, hashedFileID); err != nil {
		s.logger.Warn("failed to delete hashed file", "hashed_file_id", hashedFileID, "error", err)
		return
	}
	if err := s.blobs.Delete(hashed.Hash); err != nil {
		s.logger.Warn("failed to delete blob", "hash", hashed.Hash, "error", err)
	}
}
