package csar

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/repository/sqlite"
	"github.com/csarrepo/csarrepo/internal/storage"
)

type fixture struct {
	svc   Service
	repo  *sqlite.Repository
	blobs *storage.FileStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := &sqlite.Repository{DB: sqlite.OpenTestDB(t)}
	blobs, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return fixture{svc: New(repo, blobs, log), repo: repo, blobs: blobs}
}

func TestCreateValidatesName(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"", "  ", "a/b"} {
		if _, err := f.svc.Create(context.Background(), 0, name); !errors.Is(err, repository.ErrInvalidArgument) {
			t.Errorf("Create(%q) = %v, want ErrInvalidArgument", name, err)
		}
	}
	if _, err := f.svc.Create(context.Background(), 0, "wordpress"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Create(context.Background(), 0, "wordpress"); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("duplicate create = %v, want ErrAlreadyExists", err)
	}
}

func TestUploadAssignsVersionsAndDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	csar, err := f.svc.Create(ctx, 0, "app")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	v1, err := f.svc.UploadFile(ctx, csar.ID, "app.csar", strings.NewReader("v1"))
	if err != nil {
		t.Fatalf("upload v1: %v", err)
	}
	v2, err := f.svc.UploadFile(ctx, csar.ID, "/tmp/upload/app.csar", strings.NewReader("v1"))
	if err != nil {
		t.Fatalf("upload v2: %v", err)
	}
	if v1.Version != 1 || v2.Version != 2 {
		t.Fatalf("versions = %d, %d", v1.Version, v2.Version)
	}
	if v2.Name != "app.csar" {
		t.Fatalf("expected base name, got %q", v2.Name)
	}
	if v1.HashedFileID != v2.HashedFileID {
		t.Fatalf("identical content should share a blob")
	}

	details, err := f.svc.Get(ctx, csar.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(details.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(details.Files))
	}

	_, hashed, rc, err := f.svc.OpenFile(ctx, v2.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "v1" || hashed.Size != 2 {
		t.Fatalf("unexpected content %q / %+v", data, hashed)
	}
}

func TestUploadRejectsEmptyAndUnknownCsar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.UploadFile(ctx, 404, "x.csar", strings.NewReader("x")); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown csar = %v, want ErrNotFound", err)
	}
	csar, _ := f.svc.Create(ctx, 0, "empty")
	if _, err := f.svc.UploadFile(ctx, csar.ID, "x.csar", strings.NewReader("")); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("empty upload = %v, want ErrInvalidArgument", err)
	}
}

func seedDeployment(t *testing.T, f fixture, fileID int64) {
	t.Helper()
	ctx := context.Background()
	server := &domain.RemoteServer{Kind: domain.ServerKindOpenTOSCA, Name: "c", Address: "http://c"}
	if err := f.repo.CreateServer(ctx, server); err != nil {
		t.Fatalf("create server: %v", err)
	}
	if err := f.repo.CreateDeployment(ctx, &domain.CsarFileDeployment{CsarFileID: fileID, ServerID: server.ID, Location: "http://c/CSARs/x"}); err != nil {
		t.Fatalf("create deployment: %v", err)
	}
}

func TestDeleteRefusedWhileDeployed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	csar, _ := f.svc.Create(ctx, 0, "busy")
	file, err := f.svc.UploadFile(ctx, csar.ID, "busy.csar", strings.NewReader("busy"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	seedDeployment(t, f, file.ID)

	if err := f.svc.DeleteFile(ctx, file.ID); !errors.Is(err, ErrStillDeployed) {
		t.Fatalf("DeleteFile = %v, want ErrStillDeployed", err)
	}
	if err := f.svc.Delete(ctx, csar.ID); !errors.Is(err, ErrStillDeployed) {
		t.Fatalf("Delete = %v, want ErrStillDeployed", err)
	}
	details, err := f.svc.GetFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if len(details.Deployments) != 1 || details.Csar.Name != "busy" {
		t.Fatalf("unexpected details %+v", details)
	}
}

func TestDeleteCollectsOrphanBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.svc.Create(ctx, 0, "a")
	b, _ := f.svc.Create(ctx, 0, "b")
	shared, _ := f.svc.UploadFile(ctx, a.ID, "s.csar", strings.NewReader("shared"))
	if _, err := f.svc.UploadFile(ctx, b.ID, "s.csar", strings.NewReader("shared")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	only, _ := f.svc.UploadFile(ctx, a.ID, "o.csar", strings.NewReader("only-a"))

	sharedLoc, err := f.svc.Locate(ctx, shared.ID)
	if err != nil {
		t.Fatalf("locate: %v", err)
	}
	onlyLoc, err := f.svc.Locate(ctx, only.ID)
	if err != nil {
		t.Fatalf("locate: %v", err)
	}

	if err := f.svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(sharedLoc.Path); err != nil {
		t.Fatalf("shared blob removed while still referenced: %v", err)
	}
	if _, err := os.Stat(onlyLoc.Path); !os.IsNotExist(err) {
		t.Fatalf("orphan blob kept, stat err = %v", err)
	}
	if _, err := f.repo.GetHashedFileByID(ctx, onlyLoc.HashedFile.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("orphan hashed file kept: %v", err)
	}
	if _, err := f.svc.Get(ctx, a.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("deleted csar still present: %v", err)
	}
}
