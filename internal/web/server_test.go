package web

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/csarrepo/csarrepo/internal/repository/sqlite"
	"github.com/csarrepo/csarrepo/internal/service/auth"
	"github.com/csarrepo/csarrepo/internal/service/csar"
	"github.com/csarrepo/csarrepo/internal/service/deploy"
	"github.com/csarrepo/csarrepo/internal/service/server"
	"github.com/csarrepo/csarrepo/internal/storage"
	"github.com/csarrepo/csarrepo/internal/workspace"
	"github.com/csarrepo/csarrepo/internal/ws"
	"github.com/csarrepo/csarrepo/pkg/config"
)

type uiEnv struct {
	srv    *Server
	cookie *http.Cookie
}

func setupUI(t *testing.T) *uiEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &sqlite.Repository{DB: sqlite.OpenTestDB(t)}
	blobs, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	wsm, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	cfg := config.Config{
		JWTSecret:         "ui-secret",
		AccessTokenTTL:    time.Hour,
		SessionCookieName: "csarrepo_session",
		ContainerTimeout:  2 * time.Second,
		FetchParallelism:  2,
		MaxUploadBytes:    1 << 20,
	}
	hub := ws.NewHub()
	t.Cleanup(hub.Close)

	authSvc := auth.New(repo, logger, cfg)
	if _, _, err := authSvc.Signup(t.Context(), "alice", "alice@example.com", "secret123"); err != nil {
		t.Fatalf("signup: %v", err)
	}
	csars := csar.New(repo, blobs, logger)
	servers := server.New(repo, logger)
	srv, err := New(cfg, Services{
		Auth:    authSvc,
		Csars:   csars,
		Servers: servers,
		Deploy:  deploy.New(repo, csars, servers, wsm, hub, logger, cfg),
	}, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &uiEnv{srv: srv}
}

func (e *uiEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	return rr
}

func (e *uiEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return e.serve(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *uiEnv) post(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.serve(req)
}

func (e *uiEnv) login(t *testing.T) {
	t.Helper()
	rr := e.post(t, "/ui/login", url.Values{"name": {"alice"}, "password": {"secret123"}})
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("login status %d: %s", rr.Code, rr.Body.String())
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == "csarrepo_session" {
			e.cookie = c
		}
	}
	if e.cookie == nil {
		t.Fatal("login did not set a session cookie")
	}
}

func assertRedirect(t *testing.T, rr *httptest.ResponseRecorder, prefix string) string {
	t.Helper()
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d: %s", rr.Code, rr.Body.String())
	}
	loc := rr.Header().Get("Location")
	if !strings.HasPrefix(loc, prefix) {
		t.Fatalf("expected redirect to %s, got %s", prefix, loc)
	}
	return loc
}

func csarArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("Definitions/app.tosca")
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	_, _ = w.Write([]byte("<Definitions/>"))
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestPagesRequireSession(t *testing.T) {
	env := setupUI(t)
	for _, path := range []string{"/ui/", "/ui/servers", "/ui/csar/1", "/ui/csarfile/1", "/ui/opentosca/1"} {
		assertRedirect(t, env.get(t, path), "/ui/login")
	}

	env.cookie = &http.Cookie{Name: "csarrepo_session", Value: "tampered"}
	rr := env.get(t, "/ui/")
	loc := assertRedirect(t, rr, "/ui/login?flash=")
	if !strings.Contains(loc, "sign+in") {
		t.Fatalf("expected sign in flash, got %s", loc)
	}
}

func TestLoginFlow(t *testing.T) {
	env := setupUI(t)

	rr := env.get(t, "/ui/login?flash=hello")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "hello") {
		t.Fatalf("login page %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.post(t, "/ui/login", url.Values{"name": {"alice"}, "password": {"wrong-password"}})
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), "login failed") {
		t.Fatalf("bad login %d: %s", rr.Code, rr.Body.String())
	}

	env.login(t)
	if env.cookie.Path != "/ui" || !env.cookie.HttpOnly {
		t.Fatalf("unexpected cookie attributes: %+v", env.cookie)
	}
	if strings.Contains(env.cookie.Value, ".") {
		t.Fatal("session cookie should not carry the raw token")
	}
	assertRedirect(t, env.get(t, "/ui/login"), "/ui/")

	rr = env.get(t, "/ui/")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "alice") {
		t.Fatalf("home %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.post(t, "/ui/logout", nil)
	assertRedirect(t, rr, "/ui/login")
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("logout should expire the cookie, got %+v", cookies)
	}
}

func TestCsarPages(t *testing.T) {
	env := setupUI(t)
	env.login(t)

	assertRedirect(t, env.post(t, "/ui/csars", url.Values{"name": {""}}), "/ui/?flash=")
	loc := assertRedirect(t, env.post(t, "/ui/csars", url.Values{"name": {"shop"}}), "/ui/csar/1")

	rr := env.get(t, loc)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "csar created") {
		t.Fatalf("csar page %d: %s", rr.Code, rr.Body.String())
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "shop.csar")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = part.Write(csarArchive(t))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/ui/csar/1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	assertRedirect(t, env.serve(req), "/ui/csar/1?flash=file+uploaded")

	rr = env.get(t, "/ui/csarfile/1")
	body := rr.Body.String()
	if rr.Code != http.StatusOK || !strings.Contains(body, "shop @ Version 1") {
		t.Fatalf("csar file page %d: %s", rr.Code, body)
	}
	if !strings.Contains(body, "No OpenTOSCA containers registered") {
		t.Fatalf("expected empty server hint: %s", body)
	}

	rr = env.get(t, "/ui/csarfile/1/download")
	if rr.Code != http.StatusOK || rr.Body.Len() == 0 {
		t.Fatalf("download status %d", rr.Code)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "shop.csar") {
		t.Fatalf("unexpected content disposition %q", cd)
	}

	if rr := env.get(t, "/ui/csarfile/99"); rr.Code != http.StatusNotFound {
		t.Fatalf("missing file status %d", rr.Code)
	}
	if rr := env.get(t, "/ui/csar/abc"); rr.Code != http.StatusNotFound {
		t.Fatalf("bad id status %d", rr.Code)
	}

	assertRedirect(t, env.post(t, "/ui/csarfile/1/delete", nil), "/ui/csar/1?flash=file+deleted")
	assertRedirect(t, env.post(t, "/ui/csar/1/delete", nil), "/ui/?flash=csar+deleted")
}

func TestServerPagesAndUnreachableContainer(t *testing.T) {
	env := setupUI(t)
	env.login(t)

	gone := httptest.NewServer(http.NotFoundHandler())
	address := gone.URL
	gone.Close()

	assertRedirect(t, env.post(t, "/ui/servers", url.Values{"kind": {"opentosca"}, "name": {"local"}, "address": {"ftp://nowhere"}}), "/ui/servers?flash=registration+failed")
	assertRedirect(t, env.post(t, "/ui/servers", url.Values{"kind": {"opentosca"}, "name": {"local"}, "address": {address}}), "/ui/servers?flash=server+registered")
	assertRedirect(t, env.post(t, "/ui/servers", url.Values{"kind": {"winery"}, "name": {"modeler"}, "address": {"http://winery.local:8080"}}), "/ui/servers?flash=server+registered")

	rr := env.get(t, "/ui/servers")
	body := rr.Body.String()
	if rr.Code != http.StatusOK || !strings.Contains(body, "local") || !strings.Contains(body, "modeler") {
		t.Fatalf("servers page %d: %s", rr.Code, body)
	}

	rr = env.get(t, "/ui/opentosca/1")
	body = rr.Body.String()
	if rr.Code != http.StatusOK {
		t.Fatalf("container page %d: %s", rr.Code, body)
	}
	if strings.Count(body, "the container is unreachable") != 2 {
		t.Fatalf("expected both listings to report the outage: %s", body)
	}

	if rr := env.get(t, "/ui/opentosca/7"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown container status %d", rr.Code)
	}

	assertRedirect(t, env.post(t, "/ui/servers/winery/2/delete", nil), "/ui/servers?flash=server+removed")
	assertRedirect(t, env.post(t, "/ui/servers/opentosca/1/delete", nil), "/ui/servers?flash=server+removed")
}

func TestDeployFromFilePage(t *testing.T) {
	env := setupUI(t)
	env.login(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /CSARs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/CSARs/shop_v1.csar")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("DELETE /CSARs/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	container := httptest.NewServer(mux)
	t.Cleanup(container.Close)

	assertRedirect(t, env.post(t, "/ui/servers", url.Values{"kind": {"opentosca"}, "name": {"edge"}, "address": {container.URL}}), "/ui/servers")
	assertRedirect(t, env.post(t, "/ui/csars", url.Values{"name": {"shop"}}), "/ui/csar/1")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "shop.csar")
	_, _ = part.Write(csarArchive(t))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/ui/csar/1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	assertRedirect(t, env.serve(req), "/ui/csar/1")

	assertRedirect(t, env.post(t, "/ui/csarfile/1/deploy", url.Values{"server_id": {""}}), "/ui/csarfile/1?flash=choose")
	assertRedirect(t, env.post(t, "/ui/csarfile/1/deploy", url.Values{"server_id": {"1"}}), "/ui/csarfile/1?flash=deployed")

	rr := env.get(t, "/ui/csarfile/1")
	body := rr.Body.String()
	if !strings.Contains(body, "Undeploy") || !strings.Contains(body, "edge") {
		t.Fatalf("expected deployment row: %s", body)
	}

	loc := assertRedirect(t, env.post(t, "/ui/csarfile/1/deploy", url.Values{"server_id": {"1"}}), "/ui/csarfile/1?flash=deployment+failed")
	if !strings.Contains(loc, "already") {
		t.Fatalf("expected duplicate deployment flash, got %s", loc)
	}

	assertRedirect(t, env.post(t, "/ui/servers/opentosca/1/delete", nil), "/ui/servers?flash=delete+failed")
	assertRedirect(t, env.post(t, "/ui/csarfile/1/undeploy", url.Values{"server_id": {"1"}}), "/ui/csarfile/1?flash=undeployed")
}
