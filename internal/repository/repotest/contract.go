// Package repotest provides contract tests for [repository.Store]
// implementations.
package repotest

import (
	"context"
	"errors"
	"testing"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
)

// Factory creates a fresh, empty [repository.Store] for each test invocation.
type Factory func(t *testing.T) repository.Store

// Run exercises the [repository.Store] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("Users", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		user := &domain.User{Name: "alice", Mail: "alice@example.com", PasswordHash: []byte("hash")}
		if err := store.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if user.ID == 0 {
			t.Fatalf("CreateUser did not assign an id")
		}
		got, err := store.GetUserByName(ctx, "alice")
		if err != nil {
			t.Fatalf("GetUserByName: %v", err)
		}
		if got.ID != user.ID || got.Mail != "alice@example.com" || string(got.PasswordHash) != "hash" {
			t.Errorf("GetUserByName = %+v", got)
		}
		if _, err := store.GetUserByID(ctx, user.ID); err != nil {
			t.Errorf("GetUserByID: %v", err)
		}
		if err := store.CreateUser(ctx, &domain.User{Name: "alice", PasswordHash: []byte("x")}); !errors.Is(err, repository.ErrAlreadyExists) {
			t.Errorf("duplicate CreateUser: got %v, want ErrAlreadyExists", err)
		}
		if _, err := store.GetUserByName(ctx, "nobody"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("GetUserByName missing: got %v, want ErrNotFound", err)
		}
	})

	t.Run("CsarsAndVersions", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		csar := &domain.Csar{Name: "wordpress"}
		if err := store.CreateCsar(ctx, csar); err != nil {
			t.Fatalf("CreateCsar: %v", err)
		}
		if err := store.CreateCsar(ctx, &domain.Csar{Name: "wordpress"}); !errors.Is(err, repository.ErrAlreadyExists) {
			t.Errorf("duplicate CreateCsar: got %v, want ErrAlreadyExists", err)
		}
		blob := &domain.HashedFile{Hash: "abc", Size: 3, Filename: "wp.csar"}
		if err := store.CreateHashedFile(ctx, blob); err != nil {
			t.Fatalf("CreateHashedFile: %v", err)
		}

		first := &domain.CsarFile{CsarID: csar.ID, HashedFileID: blob.ID, Name: "wp.csar"}
		second := &domain.CsarFile{CsarID: csar.ID, HashedFileID: blob.ID, Name: "wp.csar"}
		for _, f := range []*domain.CsarFile{first, second} {
			if err := store.CreateCsarFile(ctx, f); err != nil {
				t.Fatalf("CreateCsarFile: %v", err)
			}
		}
		if first.Version != 1 || second.Version != 2 {
			t.Errorf("versions = %d, %d; want 1, 2", first.Version, second.Version)
		}

		files, err := store.ListCsarFilesByCsar(ctx, csar.ID)
		if err != nil {
			t.Fatalf("ListCsarFilesByCsar: %v", err)
		}
		if len(files) != 2 || files[0].ID != first.ID || files[1].ID != second.ID {
			t.Errorf("ListCsarFilesByCsar = %+v", files)
		}
		n, err := store.CountCsarFilesByHashedFile(ctx, blob.ID)
		if err != nil || n != 2 {
			t.Errorf("CountCsarFilesByHashedFile = %d, %v; want 2", n, err)
		}
		if err := store.CreateCsarFile(ctx, &domain.CsarFile{CsarID: 9999, HashedFileID: blob.ID, Name: "x"}); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("CreateCsarFile unknown csar: got %v, want ErrNotFound", err)
		}

		if err := store.DeleteCsarFile(ctx, first.ID); err != nil {
			t.Fatalf("DeleteCsarFile: %v", err)
		}
		third := &domain.CsarFile{CsarID: csar.ID, HashedFileID: blob.ID, Name: "wp.csar"}
		if err := store.CreateCsarFile(ctx, third); err != nil {
			t.Fatalf("CreateCsarFile: %v", err)
		}
		if third.Version != 3 {
			t.Errorf("version after delete = %d, want 3", third.Version)
		}

		if err := store.DeleteCsar(ctx, csar.ID); err != nil {
			t.Fatalf("DeleteCsar: %v", err)
		}
		if _, err := store.GetCsarFileByID(ctx, second.ID); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("csar files survive csar delete: %v", err)
		}
		if err := store.DeleteHashedFile(ctx, blob.ID); err != nil {
			t.Errorf("DeleteHashedFile: %v", err)
		}
		if err := store.DeleteCsar(ctx, csar.ID); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("second DeleteCsar: got %v, want ErrNotFound", err)
		}
	})

	t.Run("HashedFileLookup", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		blob := &domain.HashedFile{Hash: "deadbeef", Size: 10, Filename: "a.csar"}
		if err := store.CreateHashedFile(ctx, blob); err != nil {
			t.Fatalf("CreateHashedFile: %v", err)
		}
		got, err := store.GetHashedFileByHash(ctx, "deadbeef")
		if err != nil || got.ID != blob.ID || got.Size != 10 {
			t.Fatalf("GetHashedFileByHash = %+v, %v", got, err)
		}
		if err := store.CreateHashedFile(ctx, &domain.HashedFile{Hash: "deadbeef", Filename: "b.csar"}); !errors.Is(err, repository.ErrAlreadyExists) {
			t.Errorf("duplicate hash: got %v, want ErrAlreadyExists", err)
		}
		csar := &domain.Csar{Name: "blobs"}
		if err := store.CreateCsar(ctx, csar); err != nil {
			t.Fatalf("CreateCsar: %v", err)
		}
		if err := store.CreateCsarFile(ctx, &domain.CsarFile{CsarID: csar.ID, HashedFileID: blob.ID, Name: "a.csar"}); err != nil {
			t.Fatalf("CreateCsarFile: %v", err)
		}
		if err := store.DeleteHashedFile(ctx, blob.ID); !errors.Is(err, repository.ErrInvalidArgument) {
			t.Errorf("DeleteHashedFile referenced: got %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("Servers", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		container := &domain.RemoteServer{Kind: domain.ServerKindOpenTOSCA, Name: "local", Address: "http://localhost:1337/containerapi"}
		winery := &domain.RemoteServer{Kind: domain.ServerKindWinery, Name: "local", Address: "http://localhost:8080/winery"}
		for _, s := range []*domain.RemoteServer{container, winery} {
			if err := store.CreateServer(ctx, s); err != nil {
				t.Fatalf("CreateServer %s: %v", s.Kind, err)
			}
		}
		if err := store.CreateServer(ctx, &domain.RemoteServer{Kind: domain.ServerKindOpenTOSCA, Name: "local", Address: "http://x"}); !errors.Is(err, repository.ErrAlreadyExists) {
			t.Errorf("duplicate server: got %v, want ErrAlreadyExists", err)
		}
		if err := store.CreateServer(ctx, &domain.RemoteServer{Kind: "ftp", Name: "bad", Address: "ftp://x"}); !errors.Is(err, repository.ErrInvalidArgument) {
			t.Errorf("unknown kind: got %v, want ErrInvalidArgument", err)
		}

		got, err := store.GetServer(ctx, domain.ServerKindOpenTOSCA, container.ID)
		if err != nil || got.Address != container.Address || got.Kind != domain.ServerKindOpenTOSCA {
			t.Fatalf("GetServer = %+v, %v", got, err)
		}
		if _, err := store.GetServer(ctx, domain.ServerKindWinery, container.ID); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("GetServer wrong kind: got %v, want ErrNotFound", err)
		}
		list, err := store.ListServers(ctx, domain.ServerKindWinery)
		if err != nil || len(list) != 1 || list[0].ID != winery.ID {
			t.Errorf("ListServers winery = %+v, %v", list, err)
		}
		if err := store.DeleteServer(ctx, domain.ServerKindWinery, winery.ID); err != nil {
			t.Errorf("DeleteServer: %v", err)
		}
		if err := store.DeleteServer(ctx, domain.ServerKindWinery, winery.ID); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("second DeleteServer: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Deployments", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		csar := &domain.Csar{Name: "app"}
		if err := store.CreateCsar(ctx, csar); err != nil {
			t.Fatalf("CreateCsar: %v", err)
		}
		blob := &domain.HashedFile{Hash: "h1", Size: 1, Filename: "app.csar"}
		if err := store.CreateHashedFile(ctx, blob); err != nil {
			t.Fatalf("CreateHashedFile: %v", err)
		}
		file := &domain.CsarFile{CsarID: csar.ID, HashedFileID: blob.ID, Name: "app.csar"}
		if err := store.CreateCsarFile(ctx, file); err != nil {
			t.Fatalf("CreateCsarFile: %v", err)
		}
		server := &domain.RemoteServer{Kind: domain.ServerKindOpenTOSCA, Name: "c1", Address: "http://c1"}
		if err := store.CreateServer(ctx, server); err != nil {
			t.Fatalf("CreateServer: %v", err)
		}

		dep := &domain.CsarFileDeployment{CsarFileID: file.ID, ServerID: server.ID, Location: "http://c1/CSARs/app.csar"}
		if err := store.CreateDeployment(ctx, dep); err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		if dep.DeployedAt.IsZero() {
			t.Errorf("CreateDeployment did not set DeployedAt")
		}
		if err := store.CreateDeployment(ctx, &domain.CsarFileDeployment{CsarFileID: file.ID, ServerID: server.ID, Location: "x"}); !errors.Is(err, repository.ErrAlreadyExists) {
			t.Errorf("duplicate deployment: got %v, want ErrAlreadyExists", err)
		}

		got, err := store.GetDeployment(ctx, file.ID, server.ID)
		if err != nil || got.Location != dep.Location {
			t.Fatalf("GetDeployment = %+v, %v", got, err)
		}
		byFile, err := store.ListDeploymentsByCsarFile(ctx, file.ID)
		if err != nil || len(byFile) != 1 {
			t.Errorf("ListDeploymentsByCsarFile = %+v, %v", byFile, err)
		}
		byServer, err := store.ListDeploymentsByServer(ctx, server.ID)
		if err != nil || len(byServer) != 1 || byServer[0].CsarFileID != file.ID {
			t.Errorf("ListDeploymentsByServer = %+v, %v", byServer, err)
		}
		n, err := store.CountDeploymentsByCsar(ctx, csar.ID)
		if err != nil || n != 1 {
			t.Errorf("CountDeploymentsByCsar = %d, %v; want 1", n, err)
		}

		if err := store.DeleteDeployment(ctx, file.ID, server.ID); err != nil {
			t.Fatalf("DeleteDeployment: %v", err)
		}
		if _, err := store.GetDeployment(ctx, file.ID, server.ID); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("GetDeployment after delete: got %v, want ErrNotFound", err)
		}
		if err := store.DeleteDeployment(ctx, file.ID, server.ID); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("second DeleteDeployment: got %v, want ErrNotFound", err)
		}
	})
}
