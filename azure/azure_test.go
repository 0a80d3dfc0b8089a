package azure

import (
	"context"
	"strings"
	"testing"

	"github.com/complykit/objstore"
	"github.com/complykit/objstore/logger"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	cfg := objstore.Config{
		Provider: objstore.ProviderAzure,
		Azure:    objstore.AzureConfig{AccountName: "testacct", AccountKey: "a2V5"},
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
}

func TestStorage_Capabilities(t *testing.T) {
	s := newTestStorage(t)
	if s.Capabilities().SupportsInPlaceVisibilityChange {
		t.Error("Azure adapter must report no in-place visibility support: containers are the visibility mechanism")
	}
}

func TestStorage_Resolve(t *testing.T) {
	s := newTestStorage(t)

	tests := []struct {
		key           string
		wantContainer string
		wantName      string
	}{
		{"public/img/a.png", "public", "img/a.png"},
		{".private/docs/b.pdf", "private", "docs/b.pdf"},
		{"bare.txt", "private", "bare.txt"},
	}
	for _, tt := range tests {
		_, container, name := s.resolve(tt.key)
		if container != tt.wantContainer || name != tt.wantName {
			t.Errorf("resolve(%q) = (%q, %q), want (%q, %q)", tt.key, container, name, tt.wantContainer, tt.wantName)
		}
	}
}

func TestStorage_SetVisibilityRefusesNamespaceCrossing(t *testing.T) {
	s := newTestStorage(t)
	s.initialized = true
	ctx := context.Background()

	err := s.SetVisibility(ctx, ".private/doc.pdf", objstore.VisibilityPublic)
	if !objstore.IsCode(err, objstore.ErrCodePermissionDenied) {
		t.Fatalf("SetVisibility() error = %v, want PERMISSION_DENIED", err)
	}
	// The refusal must name the remedy.
	msg := err.Error()
	if !strings.Contains(msg, "Copy") || !strings.Contains(msg, "Delete") {
		t.Errorf("refusal message = %q, want it to name the copy+delete remedy", msg)
	}
	if !strings.Contains(msg, "public/doc.pdf") {
		t.Errorf("refusal message = %q, want it to name the destination key", msg)
	}
}

func TestStorage_SetVisibilitySameNamespace(t *testing.T) {
	s := newTestStorage(t)
	s.initialized = true
	ctx := context.Background()

	if err := s.SetVisibility(ctx, ".private/doc.pdf", objstore.VisibilityPrivate); err != nil {
		t.Fatalf("same-namespace SetVisibility() error = %v", err)
	}
	policy, err := s.GetAclPolicy(ctx, ".private/doc.pdf")
	if err != nil {
		t.Fatalf("GetAclPolicy() error = %v", err)
	}
	if policy.Visibility != objstore.VisibilityPrivate {
		t.Errorf("Visibility = %q, want PRIVATE", policy.Visibility)
	}
}

func TestStorage_SigningRequiresSharedKey(t *testing.T) {
	cfg := objstore.Config{
		Provider: objstore.ProviderAzure,
		Azure:    objstore.AzureConfig{ConnectionString: "UseDevelopmentStorage=true"},
	}
	cfg.ApplyDefaults()
	s, err := NewStorage(cfg, logger.Nop())
	if err != nil {
		t.Fatalf("NewStorage() error = %v", err)
	}
	s.initialized = true

	_, err = s.GetSignedURL(context.Background(), ".private/a.txt", objstore.SignedURLOptions{})
	if !objstore.IsCode(err, objstore.ErrCodeConfigurationError) {
		t.Fatalf("GetSignedURL without shared key error = %v, want CONFIGURATION_ERROR", err)
	}
}

func TestStorage_GetPublicURL(t *testing.T) {
	s := newTestStorage(t)

	if got := s.GetPublicURL("public/img/a.png"); got != "https://testacct.blob.core.windows.net/public/img/a.png" {
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
		{"https://testacct.blob.core.windows.net/public/img/a.png", "public/img/a.png"},
		{"https://testacct.blob.core.windows.net/private/docs/b.pdf", ".private/docs/b.pdf"},
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

func TestStorage_AclOverlay(t *testing.T) {
	s := newTestStorage(t)
	s.initialized = true
	ctx := context.Background()

	if _, err := s.GetAclPolicy(ctx, ".private/a"); !objstore.IsNotFound(err) {
		t.Fatalf("GetAclPolicy(empty) error = %v, want NOT_FOUND", err)
	}

	policy := &objstore.AclPolicy{Visibility: objstore.VisibilityPrivate, AllowedUsers: []string{"alice"}}
	if err := s.SetAclPolicy(ctx, ".private/a", policy); err != nil {
		t.Fatalf("SetAclPolicy() error = %v", err)
	}

	if !s.CanAccess(ctx, ".private/a", "alice", objstore.PermissionRead) {
		t.Error("allowed user should have access")
	}
	if s.CanAccess(ctx, ".private/a", "bob", objstore.PermissionRead) {
		t.Error("other user should be denied")
	}
	if s.CanAccess(ctx, ".private/a", "", objstore.PermissionRead) {
		t.Error("anonymous should be denied")
	}
}
