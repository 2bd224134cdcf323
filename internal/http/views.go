package httpx

import (
	"time"

	"github.com/csarrepo/csarrepo/internal/domain"
	"github.com/csarrepo/csarrepo/internal/service/csar"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func marshalCsar(c domain.Csar) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"name":       c.Name,
		"user_id":    c.UserID,
		"created_at": formatTime(c.CreatedAt),
	}
}

func marshalCsarFile(f domain.CsarFile) map[string]any {
	return map[string]any{
		"id":          f.ID,
		"csar_id":     f.CsarID,
		"name":        f.Name,
		"version":     f.Version,
		"uploaded_at": formatTime(f.UploadedAt),
	}
}

func marshalDeployment(d domain.CsarFileDeployment) map[string]any {
	return map[string]any{
		"csar_file_id": d.CsarFileID,
		"server_id":    d.ServerID,
		"location":     d.Location,
		"deployed_at":  formatTime(d.DeployedAt),
	}
}

func marshalServer(s domain.RemoteServer) map[string]any {
	return map[string]any{
		"id":         s.ID,
		"kind":       s.Kind,
		"name":       s.Name,
		"address":    s.Address,
		"created_at": formatTime(s.CreatedAt),
	}
}

func marshalCsarDetails(d csar.Details) map[string]any {
	files := make([]map[string]any, 0, len(d.Files))
	for _, f := range d.Files {
		item := marshalCsarFile(f)
		item["links"] = map[string]string{
			"self":    fileLink(d.Csar.ID, f.ID),
			"content": fileLink(d.Csar.ID, f.ID) + "/content",
		}
		files = append(files, item)
	}
	out := marshalCsar(d.Csar)
	out["files"] = files
	out["links"] = map[string]string{"self": csarLink(d.Csar.ID)}
	return out
}

func marshalFileDetails(d csar.FileDetails) map[string]any {
	deployments := make([]map[string]any, 0, len(d.Deployments))
	for _, dep := range d.Deployments {
		deployments = append(deployments, marshalDeployment(dep))
	}
	out := marshalCsarFile(d.File)
	out["csar"] = marshalCsar(d.Csar)
	out["hash"] = d.HashedFile.Hash
	out["size"] = d.HashedFile.Size
	out["deployments"] = deployments
	out["links"] = map[string]string{
		"self":    fileLink(d.Csar.ID, d.File.ID),
		"content": fileLink(d.Csar.ID, d.File.ID) + "/content",
		"csar":    csarLink(d.Csar.ID),
	}
	return out
}

func csarLink(id int64) string {
	return "/csars/" + itoa(id)
}

func fileLink(csarID, fileID int64) string {
	return csarLink(csarID) + "/" + itoa(fileID)
}
