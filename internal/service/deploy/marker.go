package deploy

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/csarrepo/csarrepo/internal/repository"
	"github.com/csarrepo/csarrepo/pkg/opentosca"
)

// stageArchive copies the CSAR at src to dst and adds the marker entry that
// carries the CSAR file id. An existing marker is replaced.
func stageArchive(src, dst string, csarFileID int64) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open csar %s: %v: %w", src, err, repository.ErrInvalidArgument)
	}
	defer zr.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create staged csar: %w", err)
	}
	zw := zip.NewWriter(out)
	for _, f := range zr.File {
		if isMarker(f.Name) {
			continue
		}
		if err := zw.Copy(f); err != nil {
			_ = zw.Close()
			_ = out.Close()
			return fmt.Errorf("copy entry %s: %w", f.Name, err)
		}
	}
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     opentosca.MarkerFile,
		Method:   zip.Deflate,
		Modified: time.Now().UTC(),
	})
	if err == nil {
		_, err = io.WriteString(w, strconv.FormatInt(csarFileID, 10))
	}
	if err != nil {
		_ = zw.Close()
		_ = out.Close()
		return fmt.Errorf("write marker: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("finish staged csar: %w", err)
	}
	return out.Close()
}

func isMarker(name string) bool {
	return strings.EqualFold(path.Clean(strings.TrimPrefix(name, "/")), opentosca.MarkerFile)
}
