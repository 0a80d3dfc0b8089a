package local

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/complykit/objstore"
)

// metaSuffix names the sidecar file next to each object.
const metaSuffix = ".meta.json"

// sidecarMeta is the on-disk sidecar format. It is the sole source of
// ACL/visibility truth for the local adapter. Object and sidecar may
// briefly diverge on a crash between the two writes; acceptable for the
// development/self-hosted deployments this adapter targets.
type sidecarMeta struct {
	ContentType string               `json:"contentType"`
	Metadata    map[string]string    `json:"metadata,omitempty"`
	UploadedAt  time.Time            `json:"uploadedAt"`
	Visibility  objstore.Visibility  `json:"visibility"`
	Acl         *objstore.AclPolicy  `json:"acl,omitempty"`
}

func readSidecar(metaPath string) (*sidecarMeta, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var meta sidecarMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	if meta.Visibility == "" {
		meta.Visibility = objstore.VisibilityPrivate
	}
	return &meta, nil
}

// writeSidecar writes the sidecar atomically (temp file + rename) so a
// reader never observes a half-written policy.
func writeSidecar(metaPath string, meta *sidecarMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return atomicWrite(metaPath, data)
}

func atomicWrite(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// atomicWriteStream drains r into a temp file and renames it into place.
// The object is never buffered in memory.
func atomicWriteStream(dst string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
