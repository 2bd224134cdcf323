package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/repository/sqlite"
	"github.com/csarrepo/csarrepo/internal/service/csar"
	"github.com/csarrepo/csarrepo/internal/service/server"
	"github.com/csarrepo/csarrepo/internal/storage"
	"github.com/csarrepo/csarrepo/internal/workspace"
	"github.com/csarrepo/csarrepo/internal/ws"
	"github.com/csarrepo/csarrepo/pkg/config"
	"github.com/csarrepo/csarrepo/pkg/opentosca"
)

// container is an in-memory stand-in for an OpenTOSCA container.
type container struct {
	mu        sync.Mutex
	srv       *httptest.Server
	archives  map[string][]byte
	order     []string
	uploadErr int
	deleteErr int
	listings  atomic.Int32
}

func newContainer(t *testing.T) *container {
	t.Helper()
	c := &container{archives: make(map[string][]byte)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /CSARs", c.upload)
	mux.HandleFunc("GET /CSARs", c.list)
	mux.HandleFunc("DELETE /CSARs/{name}", c.delete)
	mux.HandleFunc("GET /CSARs/{name}/Content/{entry}", c.content)
	c.srv = httptest.NewServer(mux)
	t.Cleanup(c.srv.Close)
	return c
}

func (c *container) upload(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uploadErr != 0 {
		w.WriteHeader(c.uploadErr)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, ok := c.archives[header.Filename]; !ok {
		c.order = append(c.order, header.Filename)
	}
	c.archives[header.Filename] = data
	w.Header().Set("Location", c.srv.URL+"/CSARs/"+header.Filename)
	w.WriteHeader(http.StatusCreated)
}

func (c *container) list(w http.ResponseWriter, r *http.Request) {
	c.listings.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	b.WriteString(`<References xmlns:xlink="http://www.w3.org/1999/xlink">`)
	fmt.Fprintf(&b, `<Reference xlink:href="%s/CSARs" xlink:title="Self"/>`, c.srv.URL)
	for _, name := range c.order {
		fmt.Fprintf(&b, `<Reference xlink:href="%s/CSARs/%s" xlink:title="%s"/>`, c.srv.URL, name, name)
	}
	b.WriteString(`</References>`)
	fmt.Fprint(w, b.String())
}

func (c *container) delete(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleteErr != 0 {
		w.WriteHeader(c.deleteErr)
		return
	}
	name := r.PathValue("name")
	if _, ok := c.archives[name]; !ok {
		http.NotFound(w, r)
		return
	}
	delete(c.archives, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (c *container) content(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	data, ok := c.archives[r.PathValue("name")]
	c.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	f, err := zr.Open(r.PathValue("entry"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	_, _ = io.Copy(w, f)
}

func (c *container) fail(upload, del int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploadErr, c.deleteErr = upload, del
}

// addForeign places an archive on the container that was not deployed through the repository.
func (c *container) addForeign(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archives[name] = buildZip(nil, map[string]string{"Definitions/app.tosca": "x"})
	c.order = append(c.order, name)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ws.Event
}

func (p *recordingPublisher) Publish(evt ws.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func buildZip(t *testing.T, entries map[string]string) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil && t != nil {
			t.Fatalf("zip entry: %v", err)
		}
		_, _ = io.WriteString(w, content)
	}
	if err := zw.Close(); err != nil && t != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	svc       Service
	repo      *sqlite.Repository
	csars     csar.Service
	servers   server.Service
	events    *recordingPublisher
	container *container
	serverID  int64
	workspace *workspace.Manager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &sqlite.Repository{DB: sqlite.OpenTestDB(t)}
	blobs, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	wsm, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	csars := csar.New(repo, blobs, log)
	servers := server.New(repo, log)
	c := newContainer(t)
	srv, err := servers.Create(context.Background(), server.CreateInput{
		Kind:    domain.ServerKindOpenTOSCA,
		Name:    "container",
		Address: c.srv.URL,
	})
	if err != nil {
		t.Fatalf("register server: %v", err)
	}
	events := &recordingPublisher{}
	cfg := config.Config{ContainerTimeout: 5 * time.Second, FetchParallelism: 2, ListingCacheTTL: time.Minute}
	return fixture{
		svc:       New(repo, csars, servers, wsm, events, log, cfg),
		repo:      repo,
		csars:     csars,
		servers:   servers,
		events:    events,
		container: c,
		serverID:  srv.ID,
		workspace: wsm,
	}
}

func (f fixture) uploadFile(t *testing.T, csarName string, entries map[string]string) *domain.CsarFile {
	t.Helper()
	ctx := context.Background()
	c, err := f.csars.Create(ctx, 0, csarName)
	if err != nil {
		t.Fatalf("create csar: %v", err)
	}
	file, err := f.csars.UploadFile(ctx, c.ID, csarName+".csar", bytes.NewReader(buildZip(t, entries)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return file
}

func TestDeployInjectsMarkerAndRecordsLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.uploadFile(t, "app", map[string]string{
		"Definitions/app.tosca": "<Definitions/>",
		"CSAR-REPOSITORY.txt":   "999",
	})

	record, err := f.svc.Deploy(ctx, file.ID, f.serverID)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	wantLocation := f.container.srv.URL + "/CSARs/app_v1.csar"
	if record.Location != wantLocation {
		t.Fatalf("location = %q, want %q", record.Location, wantLocation)
	}
	stored, err := f.repo.GetDeployment(ctx, file.ID, f.serverID)
	if err != nil || stored.Location != wantLocation {
		t.Fatalf("stored deployment = %+v, %v", stored, err)
	}

	f.container.mu.Lock()
	data := f.container.archives["app_v1.csar"]
	f.container.mu.Unlock()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("uploaded archive is not a zip: %v", err)
	}
	markers := 0
	for _, entry := range zr.File {
		if entry.Name != opentosca.MarkerFile {
			continue
		}
		markers++
		rc, _ := entry.Open()
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != fmt.Sprint(file.ID) {
			t.Fatalf("marker = %q, want %d", body, file.ID)
		}
	}
	if markers != 1 {
		t.Fatalf("expected exactly one marker entry, got %d", markers)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != ws.EventDeployed {
		t.Fatalf("unexpected events %v", got)
	}

	entries, err := os.ReadDir(f.workspace.Root())
	if err != nil {
		t.Fatalf("read workspace: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected staging dirs to be cleaned up, found %d", len(entries))
	}
}

func TestDeployRefusesDuplicate(t *testing.T) {
	f := newFixture(t)
	file := f.uploadFile(t, "app", map[string]string{"a": "b"})
	if _, err := f.svc.Deploy(context.Background(), file.ID, f.serverID); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if _, err := f.svc.Deploy(context.Background(), file.ID, f.serverID); !errors.Is(err, ErrAlreadyDeployed) {
		t.Fatalf("second deploy = %v, want ErrAlreadyDeployed", err)
	}
}

func TestDeployRejectedLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	file := f.uploadFile(t, "app", map[string]string{"a": "b"})
	f.container.fail(http.StatusInternalServerError, 0)

	_, err := f.svc.Deploy(context.Background(), file.ID, f.serverID)
	if status, ok := opentosca.RejectedStatus(err); !ok || status != http.StatusInternalServerError {
		t.Fatalf("deploy = %v, want rejection with 500", err)
	}
	if _, err := f.repo.GetDeployment(context.Background(), file.ID, f.serverID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected no deployment record, got %v", err)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != ws.EventDeployFailed {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestDeployRejectsNonArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.csars.Create(ctx, 0, "broken")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	file, err := f.csars.UploadFile(ctx, c.ID, "broken.csar", strings.NewReader("not a zip"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := f.svc.Deploy(ctx, file.ID, f.serverID); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("deploy = %v, want ErrInvalidArgument", err)
	}
}

func TestDeployUnknownServer(t *testing.T) {
	f := newFixture(t)
	file := f.uploadFile(t, "app", map[string]string{"a": "b"})
	if _, err := f.svc.Deploy(context.Background(), file.ID, f.serverID+100); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("deploy = %v, want ErrNotFound", err)
	}
}

func TestUndeploy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.uploadFile(t, "app", map[string]string{"a": "b"})
	if _, err := f.svc.Deploy(ctx, file.ID, f.serverID); err != nil {
		t.Fatalf("deploy: %v", err)
	}

	f.container.fail(0, http.StatusForbidden)
	if err := f.svc.Undeploy(ctx, file.ID, f.serverID); err == nil {
		t.Fatal("expected rejection to surface")
	}
	if _, err := f.repo.GetDeployment(ctx, file.ID, f.serverID); err != nil {
		t.Fatalf("record must survive a rejected undeploy: %v", err)
	}

	f.container.fail(0, 0)
	if err := f.svc.Undeploy(ctx, file.ID, f.serverID); err != nil {
		t.Fatalf("undeploy: %v", err)
	}
	if _, err := f.repo.GetDeployment(ctx, file.ID, f.serverID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected record to be removed, got %v", err)
	}
	if err := f.svc.Undeploy(ctx, file.ID, f.serverID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("undeploy of unknown pair = %v, want ErrNotFound", err)
	}
}

func TestUndeployTreatsRemote404AsGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.uploadFile(t, "app", map[string]string{"a": "b"})
	if _, err := f.svc.Deploy(ctx, file.ID, f.serverID); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	f.container.mu.Lock()
	delete(f.container.archives, "app_v1.csar")
	f.container.mu.Unlock()

	if err := f.svc.Undeploy(ctx, file.ID, f.serverID); err != nil {
		t.Fatalf("undeploy: %v", err)
	}
	if _, err := f.repo.GetDeployment(ctx, file.ID, f.serverID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected record to be removed, got %v", err)
	}
}

func TestDeployedResolvesMarkersAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.uploadFile(t, "app", map[string]string{"a": "b"})
	if _, err := f.svc.Deploy(ctx, file.ID, f.serverID); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	f.container.addForeign("foreign.csar")

	listed, err := f.svc.Deployed(ctx, f.serverID)
	if err != nil {
		t.Fatalf("deployed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 remote csars, got %+v", listed)
	}
	if listed[0].Name != "app_v1.csar" || !listed[0].Known || listed[0].CsarFileID != file.ID {
		t.Fatalf("unexpected first entry %+v", listed[0])
	}
	if listed[1].Name != "foreign.csar" || listed[1].Known {
		t.Fatalf("unexpected second entry %+v", listed[1])
	}

	if _, err := f.svc.Deployed(ctx, f.serverID); err != nil {
		t.Fatalf("deployed (cached): %v", err)
	}
	if n := f.container.listings.Load(); n != 1 {
		t.Fatalf("expected cached listing, container saw %d list calls", n)
	}

	if err := f.svc.Undeploy(ctx, file.ID, f.serverID); err != nil {
		t.Fatalf("undeploy: %v", err)
	}
	listed, err = f.svc.Deployed(ctx, f.serverID)
	if err != nil {
		t.Fatalf("deployed after undeploy: %v", err)
	}
	if len(listed) != 1 || listed[0].Name != "foreign.csar" {
		t.Fatalf("expected fresh listing after undeploy, got %+v", listed)
	}
}

func TestDeployedUnreachable(t *testing.T) {
	f := newFixture(t)
	f.container.srv.Close()
	if _, err := f.svc.Deployed(context.Background(), f.serverID); !errors.Is(err, opentosca.ErrUnreachable) {
		t.Fatalf("deployed = %v, want ErrUnreachable", err)
	}
}

func TestOutcomeLabels(t *testing.T) {
	cases := map[string]error{
		"success":          nil,
		"unreachable":      fmt.Errorf("x: %w", opentosca.ErrUnreachable),
		"rejected":         &opentosca.RejectedError{StatusCode: 500},
		"invalid_response": opentosca.ErrInvalidResponse,
		"error":            errors.New("boom"),
	}
	for want, err := range cases {
		if got := outcome(err); got != want {
			t.Errorf("outcome(%v) = %q, want %q", err, got, want)
		}
	}
}
