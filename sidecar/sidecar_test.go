package sidecar

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/complykit/objstore"
	"github.com/complykit/objstore/logger"
)

// fakeSidecar is a minimal in-memory stand-in for the managed sidecar.
type fakeSidecar struct {
	objects map[string][]byte // "<bucket>/<name>" -> data
	signed  string
}

func newFakeSidecar() *fakeSidecar {
	return &fakeSidecar{objects: make(map[string][]byte)}
}

func (f *fakeSidecar) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/object/", func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, "/object/")
		switch r.Method {
		case http.MethodPost:
			data, _ := io.ReadAll(r.Body)
			f.objects[ref] = data
			w.WriteHeader(http.StatusOK)
		case http.MethodGet, http.MethodHead:
			data, ok := f.objects[ref]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			if r.Method == http.MethodGet {
				w.Write(data)
			}
		case http.MethodDelete:
			if _, ok := f.objects[ref]; !ok {
				http.NotFound(w, r)
				return
			}
			delete(f.objects, ref)
			w.WriteHeader(http.StatusOK)
		}
	})
	mux.HandleFunc("/list/", func(w http.ResponseWriter, r *http.Request) {
		bucket := strings.TrimPrefix(r.URL.Path, "/list/")
		prefix := r.URL.Query().Get("prefix")
		var objects []map[string]any
		for ref, data := range f.objects {
			b, name, _ := strings.Cut(ref, "/")
			if b != bucket || !strings.HasPrefix(name, prefix) {
				continue
			}
			objects = append(objects, map[string]any{"name": name, "size": len(data)})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"objects":         objects,
			"next_page_token": "",
		})
	})
	mux.HandleFunc("/sign", func(w http.ResponseWriter, r *http.Request) {
		var req signRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.signed = req.Method + " " + req.BucketName + "/" + req.ObjectName
		json.NewEncoder(w).Encode(map[string]string{
			"signed_url": "https://signed.example.com/" + req.BucketName + "/" + req.ObjectName,
		})
	})
	mux.HandleFunc("/visibility", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if _, ok := f.objects[req["bucket_name"]+"/"+req["object_name"]]; !ok {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newTestStorage(t *testing.T, endpoint string) *Storage {
	t.Helper()
	cfg := objstore.Config{
		Provider: objstore.ProviderSidecar,
		Sidecar:  objstore.SidecarConfig{Endpoint: endpoint},
	}
	cfg.ApplyDefaults()
	s, err := NewStorage(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return s
}

func TestStorage_RoundTrip(t *testing.T) {
	fake := newFakeSidecar()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStorage(t, srv.URL)
	ctx := context.Background()

	key, err := s.Upload(ctx, ".private/docs/a.txt", objstore.BytesSource([]byte("hello")), &objstore.UploadOptions{ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if key != ".private/docs/a.txt" {
		t.Errorf("Upload() key = %q, want normalized input key", key)
	}
	if string(fake.objects["private/docs/a.txt"]) != "hello" {
		t.Errorf("stored objects = %v, want private bucket routing", fake.objects)
	}

	rc, meta, err := s.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Errorf("Download() = %q, want hello", data)
	}
	if meta.ContentType != "text/plain" {
		t.Errorf("ContentType = %q, want text/plain", meta.ContentType)
	}

	exists, _ := s.Exists(ctx, key)
	if !exists {
		t.Error("Exists() should be true")
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete() error = %v, want nil (absence is fine)", err)
	}
}

func TestStorage_PrivateDirRouting(t *testing.T) {
	fake := newFakeSidecar()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	cfg := objstore.Config{
		Provider: objstore.ProviderSidecar,
		Sidecar: objstore.SidecarConfig{
			Endpoint:   srv.URL,
			PrivateDir: "bucket-123/.private",
		},
	}
	cfg.ApplyDefaults()
	s, err := NewStorage(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	key, err := s.Upload(context.Background(), ".private/doc.pdf", objstore.BytesSource([]byte("x")), nil)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if key != ".private/doc.pdf" {
		t.Errorf("Upload() key = %q, want logical key unchanged", key)
	}
	if _, ok := fake.objects["bucket-123/.private/doc.pdf"]; !ok {
		t.Errorf("stored objects = %v, want managed private dir routing", fake.objects)
	}
}

func TestStorage_NotFound(t *testing.T) {
	fake := newFakeSidecar()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStorage(t, srv.URL)
	ctx := context.Background()

	if _, _, err := s.Download(ctx, ".private/missing"); !objstore.IsNotFound(err) {
		t.Errorf("Download() error = %v, want NOT_FOUND", err)
	}
	if _, err := s.GetMetadata(ctx, ".private/missing"); !objstore.IsNotFound(err) {
		t.Errorf("GetMetadata() error = %v, want NOT_FOUND", err)
	}
	exists, err := s.Exists(ctx, ".private/missing")
	if err != nil || exists {
		t.Errorf("Exists() = (%v, %v), want (false, nil)", exists, err)
	}
}

func TestStorage_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close() // nothing is listening anymore

	cfg := objstore.Config{Provider: objstore.ProviderSidecar, Sidecar: objstore.SidecarConfig{Endpoint: endpoint}}
	cfg.ApplyDefaults()
	s, err := NewStorage(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	if err := s.Initialize(context.Background()); !objstore.IsCode(err, objstore.ErrCodeConnectionError) {
		t.Fatalf("Initialize() error = %v, want CONNECTION_ERROR", err)
	}

	// Force past the guard to exercise per-operation transport failures.
	s.initialized = true
	if _, err := s.Upload(context.Background(), ".private/a", objstore.BytesSource([]byte("x")), nil); !objstore.IsCode(err, objstore.ErrCodeConnectionError) {
		t.Errorf("Upload() error = %v, want CONNECTION_ERROR", err)
	}
	if _, err := s.GetSignedURL(context.Background(), ".private/a", objstore.SignedURLOptions{}); !objstore.IsCode(err, objstore.ErrCodeConnectionError) {
		t.Errorf("GetSignedURL() error = %v, want CONNECTION_ERROR", err)
	}
}

func TestStorage_SignedURL(t *testing.T) {
	fake := newFakeSidecar()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStorage(t, srv.URL)
	ctx := context.Background()

	u, err := s.GetSignedURL(ctx, ".private/doc.pdf", objstore.SignedURLOptions{Method: http.MethodGet, TTL: time.Minute})
	if err != nil {
		t.Fatalf("GetSignedURL() error = %v", err)
	}
	if u != "https://signed.example.com/private/doc.pdf" {
		t.Errorf("GetSignedURL() = %q", u)
	}
	if fake.signed != "GET private/doc.pdf" {
		t.Errorf("sidecar saw %q, want GET private/doc.pdf", fake.signed)
	}

	target, err := s.GetUploadURL(ctx, "inbox", time.Minute)
	if err != nil {
		t.Fatalf("GetUploadURL() error = %v", err)
	}
	if !strings.HasPrefix(target.Key, ".private/inbox/") {
		t.Errorf("upload key = %q, want .private/inbox/ prefix", target.Key)
	}
	if !strings.HasPrefix(fake.signed, "PUT ") {
		t.Errorf("sidecar saw %q, want a PUT signing request", fake.signed)
	}
}

func TestStorage_List(t *testing.T) {
	fake := newFakeSidecar()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStorage(t, srv.URL)
	ctx := context.Background()

	s.Upload(ctx, "public/img/a.png", objstore.BytesSource([]byte("a")), nil)
	s.Upload(ctx, "public/img/b.png", objstore.BytesSource([]byte("b")), nil)
	s.Upload(ctx, "public/other.txt", objstore.BytesSource([]byte("c")), nil)

	page, err := s.List(ctx, objstore.ListOptions{Prefix: "public/img/"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page.Objects) != 2 {
		t.Fatalf("List() returned %d objects, want 2", len(page.Objects))
	}
	for _, obj := range page.Objects {
		if !strings.HasPrefix(obj.Key, "public/img/") {
			t.Errorf("listed key = %q, want public/img/ prefix", obj.Key)
		}
	}
	if page.NextCursor != "" {
		t.Errorf("NextCursor = %q, want empty at end of listing", page.NextCursor)
	}
}

func TestStorage_CopyAndVisibility(t *testing.T) {
	fake := newFakeSidecar()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStorage(t, srv.URL)
	ctx := context.Background()

	key, _ := s.Upload(ctx, ".private/img.png", objstore.BytesSource([]byte("png")), nil)
	s.SetAclPolicy(ctx, key, &objstore.AclPolicy{Visibility: objstore.VisibilityPrivate, AllowedUsers: []string{"alice"}})

	if err := s.Copy(ctx, key, "public/img.png"); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if _, ok := fake.objects["public/img.png"]; !ok {
		t.Errorf("stored objects = %v, want copy in public bucket", fake.objects)
	}
	policy, err := s.GetAclPolicy(ctx, "public/img.png")
	if err != nil {
		t.Fatalf("GetAclPolicy(copy) error = %v", err)
	}
	if policy.Visibility != objstore.VisibilityPublic {
		t.Errorf("copy visibility = %q, want PUBLIC", policy.Visibility)
	}

	if err := s.SetVisibility(ctx, key, objstore.VisibilityPublic); err != nil {
		t.Fatalf("SetVisibility() error = %v", err)
	}
	if err := s.SetVisibility(ctx, ".private/missing", objstore.VisibilityPublic); !objstore.IsNotFound(err) {
		t.Errorf("SetVisibility(missing) error = %v, want NOT_FOUND", err)
	}
}

func TestStorage_NormalizeEntityPath(t *testing.T) {
	fake := newFakeSidecar()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStorage(t, srv.URL)

	tests := []struct {
		raw  string
		want string
	}{
		{srv.URL + "/object/public/img/a.png", "public/img/a.png"},
		{srv.URL + "/object/private/docs/b.pdf", ".private/docs/b.pdf"},
		{"/public/img/a.png", "public/img/a.png"},
		{"public/img/a.png", "public/img/a.png"},
		{".private/docs/b.pdf", ".private/docs/b.pdf"},
	}
	for _, tt := range tests {
		if got := s.NormalizeEntityPath(tt.raw); got != tt.want {
			t.Errorf("NormalizeEntityPath(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestStorage_GetPublicURL(t *testing.T) {
	fake := newFakeSidecar()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	s := newTestStorage(t, srv.URL)

	if got := s.GetPublicURL("public/a.png"); got != srv.URL+"/object/public/a.png" {
		t.Errorf("GetPublicURL(public) = %q", got)
	}
	if got := s.GetPublicURL(".private/a.png"); got != "" {
		t.Errorf("GetPublicURL(private) = %q, want empty", got)
	}
}
