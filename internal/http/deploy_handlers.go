package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/csarrepo/csarrepo/internal/ws"
)

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	fileID, err := pathID(req, "fileID")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	var payload struct {
		ServerID int64 `json:"server_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil || payload.ServerID <= 0 {
		writeError(w, http.StatusBadRequest, "server_id is required")
		return
	}
	record, err := r.deploy.Deploy(req.Context(), fileID, payload.ServerID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, marshalDeployment(*record))
}

func (r *Router) handleUndeploy(w http.ResponseWriter, req *http.Request) {
	fileID, err := pathID(req, "fileID")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	serverID, err := pathID(req, "serverID")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if err := r.deploy.Undeploy(req.Context(), fileID, serverID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// streamTopic picks the hub topic from the csar_file_id or server_id query parameter.
func streamTopic(req *http.Request) (string, bool) {
	q := req.URL.Query()
	if raw := q.Get("csar_file_id"); raw != "" {
		id, ok := parsePositive(raw)
		return ws.CsarFileTopic(id), ok
	}
	if raw := q.Get("server_id"); raw != "" {
		id, ok := parsePositive(raw)
		return ws.ServerTopic(id), ok
	}
	return ws.TopicAll, true
}

func (r *Router) handleDeploymentsWS(w http.ResponseWriter, req *http.Request) {
	topic, ok := streamTopic(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid stream filter")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	r.trackStream(1)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
			r.trackStream(-1)
		}()
		client.Wait()
	}()
}

func (r *Router) handleDeploymentsSSE(w http.ResponseWriter, req *http.Request) {
	topic, ok := streamTopic(req)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid stream filter")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(topic, client)
	r.trackStream(1)
	defer func() {
		r.hub.Unregister(topic, client)
		client.Close()
		r.trackStream(-1)
	}()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func parsePositive(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}
