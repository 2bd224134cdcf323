package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/internal/service/csar"
)

const uploadField = "file"

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (r *Router) handleListCsars(w http.ResponseWriter, req *http.Request) {
	csars, err := r.csars.List(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	out := make([]map[string]any, 0, len(csars))
	for _, c := range csars {
		item := marshalCsar(c)
		item["links"] = map[string]string{"self": csarLink(c.ID)}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleCreateCsar(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	info, _ := authInfoFromContext(req.Context())
	created, err := r.csars.Create(req.Context(), info.UserID, payload.Name)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.Header().Set("Location", csarLink(created.ID))
	writeJSON(w, http.StatusCreated, marshalCsar(*created))
}

func (r *Router) handleShowCsar(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	details, err := r.csars.Get(req.Context(), id)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalCsarDetails(details))
}

func (r *Router) handleDeleteCsar(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if err := r.csars.Delete(req.Context(), id); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadCsarFile streams the multipart part named "file" into blob storage
// without buffering the whole form.
func (r *Router) handleUploadCsarFile(w http.ResponseWriter, req *http.Request) {
	id, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if r.maxUpload > 0 {
		req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload)
	}
	mr, err := req.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart/form-data body required")
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("missing %q form field", uploadField))
			return
		}
		if err != nil {
			r.writeServiceError(w, req, fmt.Errorf("read multipart: %w: %w", err, repository.ErrInvalidArgument))
			return
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}
		file, err := r.csars.UploadFile(req.Context(), id, part.FileName(), part)
		_ = part.Close()
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		w.Header().Set("Location", fileLink(id, file.ID))
		writeJSON(w, http.StatusCreated, marshalCsarFile(*file))
		return
	}
}

// fileInCsar loads the file named by the path and checks it belongs to the CSAR in the path.
func (r *Router) fileInCsar(w http.ResponseWriter, req *http.Request) (csar.FileDetails, bool) {
	csarID, err := pathID(req, "id")
	if err != nil {
		r.writeServiceError(w, req, err)
		return csar.FileDetails{}, false
	}
	fileID, err := pathID(req, "fileID")
	if err != nil {
		r.writeServiceError(w, req, err)
		return csar.FileDetails{}, false
	}
	details, err := r.csars.GetFile(req.Context(), fileID)
	if err == nil && details.File.CsarID != csarID {
		err = fmt.Errorf("csar file %d in csar %d: %w", fileID, csarID, repository.ErrNotFound)
	}
	if err != nil {
		r.writeServiceError(w, req, err)
		return csar.FileDetails{}, false
	}
	return details, true
}

func (r *Router) handleShowCsarFile(w http.ResponseWriter, req *http.Request) {
	details, ok := r.fileInCsar(w, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, marshalFileDetails(details))
}

func (r *Router) handleDeleteCsarFile(w http.ResponseWriter, req *http.Request) {
	details, ok := r.fileInCsar(w, req)
	if !ok {
		return
	}
	if err := r.csars.DeleteFile(req.Context(), details.File.ID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleDownloadCsarFile(w http.ResponseWriter, req *http.Request) {
	details, ok := r.fileInCsar(w, req)
	if !ok {
		return
	}
	file, hashed, content, err := r.csars.OpenFile(req.Context(), details.File.ID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	defer content.Close()
	serveCsar(w, req, file, hashed, content)
}

// serveCsar writes the archive bytes as an attachment.
func serveCsar(w http.ResponseWriter, req *http.Request, file *domain.CsarFile, hashed *domain.HashedFile, content io.Reader) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.Header().Set("ETag", strconv.Quote(hashed.Hash))
	if rs, ok := content.(io.ReadSeeker); ok {
		http.ServeContent(w, req, file.Name, file.UploadedAt, rs)
		return
	}
	w.Header().Set("Last-Modified", file.UploadedAt.UTC().Format(http.TimeFormat))
	_, _ = io.Copy(w, content)
}
