package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/service/server"
)

func pathKind(req *http.Request) (domain.ServerKind, error) {
	kind := domain.ServerKind(req.PathValue("kind"))
	if !kind.Valid() {
		return "", fmt.Errorf("unknown server kind %q: %w", kind, repository.ErrNotFound)
	}
	return kind, nil
}

func serverLink(kind domain.ServerKind, id int64) string {
	return "/servers/" + string(kind) + "/" + itoa(id)
}

func marshalServerWithLinks(s domain.RemoteServer) map[string]any {
	out := marshalServer(s)
	links := map[string]string{"self": serverLink(s.Kind, s.ID)}
	if s.Kind == domain.ServerKindOpenTOSCA {
		links["csars"] = serverLink(s.Kind, s.ID) + "/csars"
		links["instances"] = serverLink(s.Kind, s.ID) + "/instances"
	}
	out["links"] = links
	return out
}

func (r *Router) handleListServers(w http.ResponseWriter, req *http.Request) {
	kind, err := pathKind(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	servers, err := r.servers.List(req.Context(), kind)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	out := make([]map[string]any, 0, len(servers))
	for _, s := range servers {
		out = append(out, marshalServerWithLinks(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleCreateServer(w http.ResponseWriter, req *http.Request) {
	kind, err := pathKind(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	var payload struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	info, _ := authInfoFromContext(req.Context())
	created, err := r.servers.Create(req.Context(), server.CreateInput{
		Kind:    kind,
		UserID:  info.UserID,
		Name:    payload.Name,
		Address: payload.Address,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.Header().Set("Location", serverLink(created.Kind, created.ID))
	writeJSON(w, http.StatusCreated, marshalServerWithLinks(*created))
}

func (r *Router) handleShowServer(w http.ResponseWriter, req *http.Request) {
	kind, err := pathKind(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	srv, err := r.servers.Get(req.Context(), kind, id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalServerWithLinks(*srv))
}

func (r *Router) handleDeleteServer(w http.ResponseWriter, req *http.Request) {
	kind, err := pathKind(req)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if err := r.servers.Delete(req.Context(), kind, id); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if kind == domain.ServerKindOpenTOSCA {
		r.deploy.Invalidate(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleRemoteCsars(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if req.URL.Query().Get("refresh") == "true" {
		r.deploy.Invalidate(id)
	}
	listed, err := r.deploy.Deployed(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	out := make([]map[string]any, 0, len(listed))
	for _, c := range listed {
		item := map[string]any{
			"name":  c.Name,
			"href":  c.Href,
			"known": c.Known,
		}
		if c.Known {
			item["csar_file_id"] = c.CsarFileID
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleRemoteInstances(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	instances, err := r.deploy.Instances(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, instances)
}
