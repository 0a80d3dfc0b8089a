package gcs

import (
	"context"
	"testing"

	"github.com/complykit/objstore"
	"github.com/complykit/objstore/logger"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	cfg := objstore.Config{
		Provider: objstore.ProviderGCS,
		GCS:      objstore.GCSConfig{ProjectID: "test-project"},
	}
	cfg.ApplyDefaults()
	s, err := NewStorage(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	return s
}

func TestStorage_Guard(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Upload(ctx, "public/a.txt", objstore.BytesSource([]byte("x")), nil)
	if !objstore.IsCode(err, objstore.ErrCodeConfigurationError) {
		t.Fatalf("Upload before Initialize error = %v, want CONFIGURATION_ERROR", err)
	}
	if s.HealthCheck(ctx) {
		t.Error("HealthCheck should fail before Initialize")
	}
	if s.CanAccess(ctx, "public/a.txt", "", objstore.PermissionRead) {
		t.Error("CanAccess should fail closed before Initialize")
	}
}

func TestStorage_Capabilities(t *testing.T) {
	s := newTestStorage(t)
	if !s.Capabilities().SupportsInPlaceVisibilityChange {
		t.Error("GCS adapter should support in-place visibility changes via object ACLs")
	}
}

func TestStorage_Resolve(t *testing.T) {
	s := newTestStorage(t)

	tests := []struct {
		key        string
		wantBucket string
		wantName   string
	}{
		{"public/img/a.png", "public", "img/a.png"},
		{".private/docs/b.pdf", "private", "docs/b.pdf"},
		{"bare.txt", "private", "bare.txt"},
	}
	for _, tt := range tests {
		_, bucket, name := s.resolve(tt.key)
		if bucket != tt.wantBucket || name != tt.wantName {
			t.Errorf("resolve(%q) = (%q, %q), want (%q, %q)", tt.key, bucket, name, tt.wantBucket, tt.wantName)
		}
	}
}

func TestStorage_GetPublicURL(t *testing.T) {
	s := newTestStorage(t)

	if got := s.GetPublicURL("public/img/a.png"); got != "https://storage.googleapis.com/public/img/a.png" {
		t.Errorf("GetPublicURL(public) = %q", got)
	}
	if got := s.GetPublicURL(".private/img/a.png"); got != "" {
		t.Errorf("GetPublicURL(private) = %q, want empty", got)
	}
}

func TestStorage_NormalizeEntityPath(t *testing.T) {
	s := newTestStorage(t)

	tests := []struct {
		raw  string
		want string
	}{
		{"https://storage.googleapis.com/public/img/a.png", "public/img/a.png"},
		{"https://storage.googleapis.com/private/docs/b.pdf", ".private/docs/b.pdf"},
		{"gs://public/img/a.png", "public/img/a.png"},
		{"gs://private/docs/b.pdf", ".private/docs/b.pdf"},
		{"public/img/a.png", "public/img/a.png"},
		{".private/docs/b.pdf", ".private/docs/b.pdf"},
		{"private/docs/b.pdf", ".private/docs/b.pdf"},
	}
	for _, tt := range tests {
		if got := s.NormalizeEntityPath(tt.raw); got != tt.want {
			t.Errorf("NormalizeEntityPath(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
