package objstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// fakeProvider implements Provider for testing the backend-agnostic
// layers without a real adapter.
type fakeProvider struct {
	data        map[string][]byte
	policies    map[string]*AclPolicy
	initialized bool
	healthy     bool
	initErr     error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		data:     make(map[string][]byte),
		policies: make(map[string]*AclPolicy),
		healthy:  true,
	}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Capabilities() Capabilities {
	return Capabilities{SupportsInPlaceVisibilityChange: true}
}

func (f *fakeProvider) Initialize(_ context.Context) error {
	if f.initErr != nil {
		return f.initErr
	}
	f.initialized = true
	return nil
}

func (f *fakeProvider) HealthCheck(_ context.Context) bool {
	return f.initialized && f.healthy
}

func (f *fakeProvider) Upload(_ context.Context, key string, src UploadSource, opts *UploadOptions) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	def := VisibilityPrivate
	if opts != nil && opts.IsPublic {
		def = VisibilityPublic
	}
	vis, name := ResolveKey(key, def)
	data, err := io.ReadAll(src.Reader())
	if err != nil {
		return "", NewUploadFailed(f.Name(), key, err)
	}
	normalized := JoinKey(vis, name)
	f.data[normalized] = data
	return normalized, nil
}

func (f *fakeProvider) Download(_ context.Context, key string) (io.ReadCloser, *Metadata, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, nil, NewNotFound(f.Name(), key)
	}
	meta := &Metadata{ContentType: "text/plain", Size: int64(len(data))}
	return io.NopCloser(bytes.NewReader(data)), meta, nil
}

func (f *fakeProvider) StreamToResponse(ctx context.Context, key string, w http.ResponseWriter, opts *StreamOptions) error {
	return StreamObject(ctx, f, key, w, opts)
}

func (f *fakeProvider) Delete(_ context.Context, key string) error {
	delete(f.data, key)
	delete(f.policies, key)
	return nil
}

func (f *fakeProvider) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.data[key]
	return ok, nil
}

func (f *fakeProvider) GetMetadata(_ context.Context, key string) (*Metadata, error) {
	data, ok := f.data[key]
	if !ok {
		return nil, NewNotFound(f.Name(), key)
	}
	return &Metadata{ContentType: "text/plain", Size: int64(len(data))}, nil
}

func (f *fakeProvider) GetSignedURL(_ context.Context, key string, _ SignedURLOptions) (string, error) {
	return "https://signed.example.com/" + key, nil
}

func (f *fakeProvider) GetUploadURL(_ context.Context, prefix string, _ time.Duration) (*UploadTarget, error) {
	key := NewUploadKey(prefix)
	return &UploadTarget{URL: "https://signed.example.com/" + key, Key: key}, nil
}

func (f *fakeProvider) List(_ context.Context, _ ListOptions) (*ListResult, error) {
	return &ListResult{}, nil
}

func (f *fakeProvider) Copy(_ context.Context, sourceKey, destinationKey string) error {
	data, ok := f.data[sourceKey]
	if !ok {
		return NewNotFound(f.Name(), sourceKey)
	}
	f.data[destinationKey] = append([]byte(nil), data...)
	return nil
}

func (f *fakeProvider) SetVisibility(_ context.Context, key string, visibility Visibility) error {
	p := f.policies[key]
	if p == nil {
		p = &AclPolicy{}
	}
	p.Visibility = visibility
	f.policies[key] = p
	return nil
}

func (f *fakeProvider) GetAclPolicy(_ context.Context, key string) (*AclPolicy, error) {
	if p, ok := f.policies[key]; ok {
		return p, nil
	}
	return nil, NewNotFound(f.Name(), key)
}

func (f *fakeProvider) SetAclPolicy(_ context.Context, key string, policy *AclPolicy) error {
	f.policies[key] = policy
	return nil
}

func (f *fakeProvider) CanAccess(_ context.Context, key, userID string, permission Permission) bool {
	return Decide(f.policies[key], key, userID, permission)
}

func (f *fakeProvider) GetPublicURL(key string) string {
	vis, _ := ResolveKey(key, VisibilityPrivate)
	if vis != VisibilityPublic {
		return ""
	}
	return "https://public.example.com/" + key
}

func (f *fakeProvider) NormalizeEntityPath(rawPath string) string { return rawPath }

func (f *fakeProvider) SearchPublicObject(ctx context.Context, filePath string) (string, error) {
	return SearchPublic(ctx, f, nil, filePath)
}

var _ Provider = (*fakeProvider)(nil)
