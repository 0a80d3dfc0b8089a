package objstore

import (
	"fmt"
	"io"
	"net/http"
)

// WriteObject sets transport headers from meta and opts, then pipes body
// to w. The copy is streaming: the sink's consumption rate governs the
// source read rate and the object is never buffered whole.
func WriteObject(w http.ResponseWriter, body io.Reader, meta *Metadata, opts *StreamOptions) error {
	ct := "application/octet-stream"
	if meta != nil && meta.ContentType != "" {
		ct = meta.ContentType
	}
	w.Header().Set("Content-Type", ct)
	if meta != nil && meta.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", meta.Size))
	}
	if opts != nil && opts.CacheTTL > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(opts.CacheTTL.Seconds())))
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}

	if _, err := io.Copy(w, body); err != nil {
		return fmt.Errorf("objstore: stream object: %w", err)
	}
	return nil
}
