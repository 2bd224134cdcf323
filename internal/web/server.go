package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/service/auth"
	"github.com/csarrepo/csarrepo/internal/service/csar"
	"github.com/csarrepo/csarrepo/internal/service/deploy"
	"github.com/csarrepo/csarrepo/internal/service/server"
	"github.com/csarrepo/csarrepo/pkg/config"
	"github.com/csarrepo/csarrepo/pkg/opentosca"
)

//go:embed templates/*.html
var templateFS embed.FS

const remoteTimeout = 30 * time.Second

// Services bundles what the pages read and mutate.
type Services struct {
	Auth    auth.Service
	Csars   csar.Service
	Servers server.Service
	Deploy  deploy.Service
}

type userContextKey struct{}

// Server renders the HTML pages under /ui/.
type Server struct {
	cfg       config.Config
	svc       Services
	sessions  sessions
	templates *template.Template
	mux       *http.ServeMux
	logger    *slog.Logger
}

// New constructs a configured server ready to serve HTTP traffic.
func New(cfg config.Config, svc Services, logger *slog.Logger) (*Server, error) {
	sessionMgr, err := newSessions(cfg.JWTSecret, cfg.SessionCookieName, cfg.SessionCookieSecure)
	if err != nil {
		return nil, err
	}
	templates, err := template.New("base").Funcs(template.FuncMap{
		"datetime": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.UTC().Format("2006-01-02 15:04:05")
		},
		"shortHash": func(h string) string {
			if len(h) > 12 {
				return h[:12]
			}
			return h
		},
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	srv := &Server{
		cfg:       cfg,
		svc:       svc,
		sessions:  sessionMgr,
		templates: templates,
		mux:       http.NewServeMux(),
		logger:    logger,
	}
	srv.registerRoutes()
	return srv, nil
}

// ServeHTTP conforms to http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /ui/login", s.handleLoginPage)
	s.mux.HandleFunc("POST /ui/login", s.handleLogin)
	s.mux.HandleFunc("POST /ui/logout", s.handleLogout)
	s.mux.HandleFunc("GET /ui/{$}", s.requireAuth(s.handleHome))
	s.mux.HandleFunc("POST /ui/csars", s.requireAuth(s.handleCsarCreate))
	s.mux.HandleFunc("GET /ui/csar/{id}", s.requireAuth(s.handleCsar))
	s.mux.HandleFunc("POST /ui/csar/{id}/upload", s.requireAuth(s.handleCsarUpload))
	s.mux.HandleFunc("POST /ui/csar/{id}/delete", s.requireAuth(s.handleCsarDelete))
	s.mux.HandleFunc("GET /ui/csarfile/{id}", s.requireAuth(s.handleCsarFile))
	s.mux.HandleFunc("GET /ui/csarfile/{id}/download", s.requireAuth(s.handleCsarFileDownload))
	s.mux.HandleFunc("POST /ui/csarfile/{id}/delete", s.requireAuth(s.handleCsarFileDelete))
	s.mux.HandleFunc("POST /ui/csarfile/{id}/deploy", s.requireAuth(s.handleDeploy))
	s.mux.HandleFunc("POST /ui/csarfile/{id}/undeploy", s.requireAuth(s.handleUndeploy))
	s.mux.HandleFunc("GET /ui/servers", s.requireAuth(s.handleServers))
	s.mux.HandleFunc("POST /ui/servers", s.requireAuth(s.handleServerCreate))
	s.mux.HandleFunc("POST /ui/servers/{kind}/{id}/delete", s.requireAuth(s.handleServerDelete))
	s.mux.HandleFunc("GET /ui/opentosca/{id}", s.requireAuth(s.handleOpenTOSCA))
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := s.sessions.TokenFromRequest(r)
		if err != nil {
			if errors.Is(err, http.ErrNoCookie) {
				http.Redirect(w, r, "/ui/login", http.StatusSeeOther)
				return
			}
			s.logger.Warn("session validation failed", "error", err)
			http.SetCookie(w, s.sessions.ExpireCookie())
			http.Redirect(w, r, "/ui/login?flash=please+sign+in", http.StatusSeeOther)
			return
		}
		user, _, err := s.svc.Auth.Authorize(r.Context(), token)
		if err != nil {
			s.logger.Warn("session token rejected", "error", err)
			http.SetCookie(w, s.sessions.ExpireCookie())
			http.Redirect(w, r, "/ui/login?flash=session+expired", http.StatusSeeOther)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey{}, user)))
	}
}

func currentUser(r *http.Request) *domain.User {
	user, _ := r.Context().Value(userContextKey{}).(*domain.User)
	return user
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if token, err := s.sessions.TokenFromRequest(r); err == nil {
		if _, _, err := s.svc.Auth.Authorize(r.Context(), token); err == nil {
			http.Redirect(w, r, "/ui/", http.StatusSeeOther)
			return
		}
	}
	s.render(w, r, "login", map[string]any{
		"Title":      "Sign in",
		"Flash":      flashFromRequest(r),
		"HideChrome": true,
		"Name":       "",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload")
		return
	}
	name := r.PostFormValue("name")
	_, token, err := s.svc.Auth.Login(r.Context(), name, r.PostFormValue("password"))
	if err != nil {
		s.logger.Warn("login failed", "name", name, "error", err)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		s.render(w, r, "login", map[string]any{
			"Title":      "Sign in",
			"Flash":      "login failed: " + err.Error(),
			"HideChrome": true,
			"Name":       name,
		})
		return
	}
	cookie, err := s.sessions.MakeCookie(token.AccessToken, token.ExpiresIn)
	if err != nil {
		s.renderError(w, r, http.StatusInternalServerError, "session issuance failed")
		return
	}
	http.SetCookie(w, cookie)
	http.Redirect(w, r, "/ui/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.sessions.ExpireCookie())
	http.Redirect(w, r, "/ui/login?flash=Signed+out", http.StatusSeeOther)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	csars, err := s.svc.Csars.List(r.Context())
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	s.render(w, r, "home", map[string]any{
		"Title": "CSARs",
		"Flash": flashFromRequest(r),
		"User":  currentUser(r),
		"Csars": csars,
	})
}

func (s *Server) handleCsarCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload")
		return
	}
	created, err := s.svc.Csars.Create(r.Context(), currentUser(r).ID, r.PostFormValue("name"))
	if err != nil {
		redirectWithFlash(w, r, "/ui/", "csar creation failed: "+err.Error())
		return
	}
	redirectWithFlash(w, r, csarPath(created.ID), "csar created")
}

func (s *Server) handleCsar(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	details, err := s.svc.Csars.Get(r.Context(), id)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	s.render(w, r, "csar", map[string]any{
		"Title": details.Csar.Name,
		"Flash": flashFromRequest(r),
		"User":  currentUser(r),
		"Csar":  details.Csar,
		"Files": details.Files,
	})
}

func (s *Server) handleCsarUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		redirectWithFlash(w, r, csarPath(id), "upload failed: choose a file")
		return
	}
	defer file.Close()
	if _, err := s.svc.Csars.UploadFile(r.Context(), id, header.Filename, file); err != nil {
		redirectWithFlash(w, r, csarPath(id), "upload failed: "+err.Error())
		return
	}
	redirectWithFlash(w, r, csarPath(id), "file uploaded")
}

func (s *Server) handleCsarDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Csars.Delete(r.Context(), id); err != nil {
		redirectWithFlash(w, r, csarPath(id), "delete failed: "+err.Error())
		return
	}
	redirectWithFlash(w, r, "/ui/", "csar deleted")
}

// deployedOn pairs a deployment record with its server for the detail page.
type deployedOn struct {
	Server     domain.RemoteServer
	Deployment domain.CsarFileDeployment
}

func (s *Server) handleCsarFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	details, err := s.svc.Csars.GetFile(r.Context(), id)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	opentoscaServers, err := s.svc.Servers.List(r.Context(), domain.ServerKindOpenTOSCA)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	wineryServers, err := s.svc.Servers.List(r.Context(), domain.ServerKindWinery)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}

	byID := make(map[int64]domain.RemoteServer, len(opentoscaServers))
	for _, srv := range opentoscaServers {
		byID[srv.ID] = srv
	}
	deployed := make([]deployedOn, 0, len(details.Deployments))
	deployedIDs := make(map[int64]bool, len(details.Deployments))
	for _, d := range details.Deployments {
		deployed = append(deployed, deployedOn{Server: byID[d.ServerID], Deployment: d})
		deployedIDs[d.ServerID] = true
	}
	available := make([]domain.RemoteServer, 0, len(opentoscaServers))
	for _, srv := range opentoscaServers {
		if !deployedIDs[srv.ID] {
			available = append(available, srv)
		}
	}

	s.render(w, r, "csarfile", map[string]any{
		"Title":               fmt.Sprintf("%s @ Version %d", details.Csar.Name, details.File.Version),
		"Flash":               flashFromRequest(r),
		"User":                currentUser(r),
		"Csar":                details.Csar,
		"CsarFile":            details.File,
		"HashedFile":          details.HashedFile,
		"DeployedTo":          deployed,
		"AllOpenTOSCAServers": opentoscaServers,
		"Available":           available,
		"WineryServers":       wineryServers,
	})
}

func (s *Server) handleCsarFileDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	file, hashed, content, err := s.svc.Csars.OpenFile(r.Context(), id)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	defer content.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.Header().Set("ETag", strconv.Quote(hashed.Hash))
	if rs, ok := content.(io.ReadSeeker); ok {
		http.ServeContent(w, r, file.Name, file.UploadedAt, rs)
		return
	}
	_, _ = io.Copy(w, content)
}

func (s *Server) handleCsarFileDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	details, err := s.svc.Csars.GetFile(r.Context(), id)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	if err := s.svc.Csars.DeleteFile(r.Context(), id); err != nil {
		redirectWithFlash(w, r, csarFilePath(id), "delete failed: "+err.Error())
		return
	}
	redirectWithFlash(w, r, csarPath(details.Csar.ID), "file deleted")
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	serverID, err := strconv.ParseInt(r.PostFormValue("server_id"), 10, 64)
	if err != nil || serverID <= 0 {
		redirectWithFlash(w, r, csarFilePath(id), "choose an OpenTOSCA server")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), remoteTimeout)
	defer cancel()
	if _, err := s.svc.Deploy.Deploy(ctx, id, serverID); err != nil {
		redirectWithFlash(w, r, csarFilePath(id), "deployment failed: "+err.Error())
		return
	}
	redirectWithFlash(w, r, csarFilePath(id), "deployed")
}

func (s *Server) handleUndeploy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	serverID, err := strconv.ParseInt(r.PostFormValue("server_id"), 10, 64)
	if err != nil || serverID <= 0 {
		redirectWithFlash(w, r, csarFilePath(id), "choose an OpenTOSCA server")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), remoteTimeout)
	defer cancel()
	if err := s.svc.Deploy.Undeploy(ctx, id, serverID); err != nil {
		redirectWithFlash(w, r, csarFilePath(id), "undeploy failed: "+err.Error())
		return
	}
	redirectWithFlash(w, r, csarFilePath(id), "undeployed")
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	opentoscaServers, err := s.svc.Servers.List(r.Context(), domain.ServerKindOpenTOSCA)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	wineryServers, err := s.svc.Servers.List(r.Context(), domain.ServerKindWinery)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	s.render(w, r, "servers", map[string]any{
		"Title":            "Servers",
		"Flash":            flashFromRequest(r),
		"User":             currentUser(r),
		"OpenTOSCAServers": opentoscaServers,
		"WineryServers":    wineryServers,
	})
}

func (s *Server) handleServerCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, "invalid form payload")
		return
	}
	_, err := s.svc.Servers.Create(r.Context(), server.CreateInput{
		Kind:    domain.ServerKind(r.PostFormValue("kind")),
		UserID:  currentUser(r).ID,
		Name:    r.PostFormValue("name"),
		Address: r.PostFormValue("address"),
	})
	if err != nil {
		redirectWithFlash(w, r, "/ui/servers", "registration failed: "+err.Error())
		return
	}
	redirectWithFlash(w, r, "/ui/servers", "server registered")
}

func (s *Server) handleServerDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	kind := domain.ServerKind(r.PathValue("kind"))
	if err := s.svc.Servers.Delete(r.Context(), kind, id); err != nil {
		redirectWithFlash(w, r, "/ui/servers", "delete failed: "+err.Error())
		return
	}
	if kind == domain.ServerKindOpenTOSCA {
		s.svc.Deploy.Invalidate(id)
	}
	redirectWithFlash(w, r, "/ui/servers", "server removed")
}

// handleOpenTOSCA shows what a container holds. Listing failures are shown on the
// page instead of failing it, each listing still being all-or-nothing.
func (s *Server) handleOpenTOSCA(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	srv, err := s.svc.Servers.Get(r.Context(), domain.ServerKindOpenTOSCA, id)
	if err != nil {
		s.renderServiceError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), remoteTimeout)
	defer cancel()

	data := map[string]any{
		"Title":  srv.Name,
		"Flash":  flashFromRequest(r),
		"User":   currentUser(r),
		"Server": srv,
	}
	if r.URL.Query().Get("refresh") != "" {
		s.svc.Deploy.Invalidate(id)
	}
	if csars, err := s.svc.Deploy.Deployed(ctx, id); err != nil {
		data["CsarsError"] = remoteError(err)
	} else {
		data["Csars"] = csars
	}
	if instances, err := s.svc.Deploy.Instances(ctx, id); err != nil {
		data["InstancesError"] = remoteError(err)
	} else {
		data["Instances"] = instances
	}
	s.render(w, r, "opentosca", data)
}

func remoteError(err error) string {
	if status, ok := opentosca.RejectedStatus(err); ok {
		return fmt.Sprintf("the container answered with status %d", status)
	}
	if errors.Is(err, opentosca.ErrUnreachable) {
		return "the container is unreachable"
	}
	return err.Error()
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}

func csarPath(id int64) string {
	return "/ui/csar/" + strconv.FormatInt(id, 10)
}

func csarFilePath(id int64) string {
	return "/ui/csarfile/" + strconv.FormatInt(id, 10)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, tpl string, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, tpl, data); err != nil {
		s.logger.Error("template render failed", "template", tpl, "path", r.URL.Path, "error", err)
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.logger.Warn("page error", "status", status, "path", r.URL.Path, "message", message)
	http.Error(w, message, status)
}

func (s *Server) renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.renderError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrInvalidArgument):
		s.renderError(w, r, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("page failed", "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func flashFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("flash"))
}

func redirectWithFlash(w http.ResponseWriter, r *http.Request, target, message string) {
	if strings.TrimSpace(target) == "" {
		target = "/ui/"
	}
	u, err := url.Parse(target)
	if err != nil {
		http.Redirect(w, r, "/ui/", http.StatusSeeOther)
		return
	}
	if strings.TrimSpace(message) != "" {
		q := u.Query()
		q.Set("flash", message)
		u.RawQuery = q.Encode()
	}
	http.Redirect(w, r, u.String(), http.StatusSeeOther)
}
