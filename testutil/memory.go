package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/complykit/objstore"
)

const providerName = "memory"

// memObject holds a stored object's data and metadata.
type memObject struct {
	data        []byte
	contentType string
	custom      map[string]string
	modTime     time.Time
	visibility  objstore.Visibility
	acl         *objstore.AclPolicy
}

// Provider is an in-memory implementation of the full objstore.Provider
// contract, keyed by logical key. Listing is deterministic (sorted) with
// an offset cursor, matching the local adapter's pagination shape.
type Provider struct {
	mu          sync.RWMutex
	objects     map[string]*memObject
	initialized bool
	healthy     bool
}

// NewProvider creates an un-initialized in-memory provider.
func NewProvider() *Provider {
	return &Provider{healthy: true}
}

// Name returns the provider display name.
func (p *Provider) Name() string { return providerName }

// Capabilities: in-memory objects flip visibility freely.
func (p *Provider) Capabilities() objstore.Capabilities {
	return objstore.Capabilities{SupportsInPlaceVisibilityChange: true}
}

// Initialize allocates the object map.
func (p *Provider) Initialize(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects = make(map[string]*memObject)
	p.initialized = true
	return nil
}

// SetHealthy forces the health check result, for registry tests.
func (p *Provider) SetHealthy(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = ok
}

// HealthCheck reports the forced health state.
func (p *Provider) HealthCheck(_ context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized && p.healthy
}

func (p *Provider) guard() error {
	if !p.initialized {
		return objstore.NewNotInitialized(providerName)
	}
	return nil
}

// Upload drains src and stores the object under its normalized key.
func (p *Provider) Upload(_ context.Context, key string, src objstore.UploadSource, opts *objstore.UploadOptions) (string, error) {
	if err := p.guard(); err != nil {
		return "", err
	}
	if err := objstore.ValidateKey(key); err != nil {
		return "", err
	}
	def := objstore.VisibilityPrivate
	if opts != nil && opts.IsPublic {
		def = objstore.VisibilityPublic
	}
	vis, name := objstore.ResolveKey(key, def)
	normalized := objstore.JoinKey(vis, name)

	data, err := io.ReadAll(src.Reader())
	if err != nil {
		return "", objstore.NewUploadFailed(providerName, key, err)
	}
	obj := &memObject{
		data:        data,
		contentType: "application/octet-stream",
		modTime:     time.Now(),
		visibility:  vis,
	}
	if opts != nil {
		if opts.ContentType != "" {
			obj.contentType = opts.ContentType
		}
		if len(opts.Metadata) > 0 {
			obj.custom = make(map[string]string, len(opts.Metadata))
			for k, v := range opts.Metadata {
				obj.custom[k] = v
			}
		}
	}

	p.mu.Lock()
	p.objects[normalized] = obj
	p.mu.Unlock()
	return normalized, nil
}

func (p *Provider) lookup(key string) (*memObject, string, bool) {
	vis, name := objstore.ResolveKey(key, objstore.VisibilityPrivate)
	normalized := objstore.JoinKey(vis, name)
	obj, ok := p.objects[normalized]
	return obj, normalized, ok
}

func (p *Provider) metadata(obj *memObject) *objstore.Metadata {
	return &objstore.Metadata{
		ContentType:  obj.contentType,
		Size:         int64(len(obj.data)),
		LastModified: obj.modTime,
		ETag:         fmt.Sprintf("%x", len(obj.data)),
		Custom:       obj.custom,
	}
}

// Download returns the stored bytes and metadata.
func (p *Provider) Download(_ context.Context, key string) (io.ReadCloser, *objstore.Metadata, error) {
	if err := p.guard(); err != nil {
		return nil, nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, _, ok := p.lookup(key)
	if !ok {
		return nil, nil, objstore.NewNotFound(providerName, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), p.metadata(obj), nil
}

// StreamToResponse pipes the object to w with transport headers set.
func (p *Provider) StreamToResponse(ctx context.Context, key string, w http.ResponseWriter, opts *objstore.StreamOptions) error {
	return objstore.StreamObject(ctx, p, key, w, opts)
}

// Delete removes the object; absence is not an error.
func (p *Provider) Delete(_ context.Context, key string) error {
	if err := p.guard(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, normalized, ok := p.lookup(key); ok {
		delete(p.objects, normalized)
	}
	return nil
}

// Exists reports object presence.
func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	if err := p.guard(); err != nil {
		return false, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, _, ok := p.lookup(key)
	return ok, nil
}

// GetMetadata returns stored metadata, or NOT_FOUND.
func (p *Provider) GetMetadata(_ context.Context, key string) (*objstore.Metadata, error) {
	if err := p.guard(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, _, ok := p.lookup(key)
	if !ok {
		return nil, objstore.NewNotFound(providerName, key)
	}
	return p.metadata(obj), nil
}

// GetSignedURL returns a fake memory:// URL carrying the method and expiry.
func (p *Provider) GetSignedURL(_ context.Context, key string, opts objstore.SignedURLOptions) (string, error) {
	if err := p.guard(); err != nil {
		return "", err
	}
	if err := objstore.ValidateKey(key); err != nil {
		return "", err
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return fmt.Sprintf("memory://%s?method=%s&exp=%d", key, method, time.Now().Add(ttl).Unix()), nil
}

// GetUploadURL mints a fresh private key and a fake PUT URL for it.
func (p *Provider) GetUploadURL(ctx context.Context, prefix string, ttl time.Duration) (*objstore.UploadTarget, error) {
	if err := p.guard(); err != nil {
		return nil, err
	}
	key := objstore.NewUploadKey(prefix)
	u, err := p.GetSignedURL(ctx, key, objstore.SignedURLOptions{Method: http.MethodPut, TTL: ttl})
	if err != nil {
		return nil, err
	}
	return &objstore.UploadTarget{URL: u, Key: key}, nil
}

// List returns one sorted page with a numeric offset cursor.
func (p *Provider) List(_ context.Context, opts objstore.ListOptions) (*objstore.ListResult, error) {
	if err := p.guard(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	var keys []string
	for k := range p.objects {
		if opts.Prefix == "" || strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	offset := 0
	if opts.Cursor != "" {
		n, err := strconv.Atoi(opts.Cursor)
		if err != nil || n < 0 {
			return nil, objstore.NewInvalidKey(providerName, opts.Cursor, "malformed listing cursor")
		}
		offset = n
	}
	max := opts.MaxResults
	if max <= 0 {
		max = 1000
	}

	result := &objstore.ListResult{}
	if offset >= len(keys) {
		return result, nil
	}
	end := offset + max
	if end > len(keys) {
		end = len(keys)
	}
	for _, k := range keys[offset:end] {
		obj := p.objects[k]
		result.Objects = append(result.Objects, objstore.ObjectInfo{
			Key:          k,
			Size:         int64(len(obj.data)),
			LastModified: obj.modTime,
			ETag:         fmt.Sprintf("%x", len(obj.data)),
		})
	}
	if end < len(keys) {
		result.NextCursor = strconv.Itoa(end)
	}
	return result, nil
}

// Copy duplicates the object and carries its ACL across with the
// destination's visibility.
func (p *Provider) Copy(_ context.Context, sourceKey, destinationKey string) error {
	if err := p.guard(); err != nil {
		return err
	}
	if err := objstore.ValidateKey(destinationKey); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	src, _, ok := p.lookup(sourceKey)
	if !ok {
		return objstore.NewNotFound(providerName, sourceKey)
	}
	dstVis, dstName := objstore.ResolveKey(destinationKey, objstore.VisibilityPrivate)
	dup := &memObject{
		data:        append([]byte(nil), src.data...),
		contentType: src.contentType,
		modTime:     time.Now(),
		visibility:  dstVis,
	}
	if src.custom != nil {
		dup.custom = make(map[string]string, len(src.custom))
		for k, v := range src.custom {
			dup.custom[k] = v
		}
	}
	if src.acl != nil {
		acl := src.acl.Clone()
		acl.Visibility = dstVis
		dup.acl = acl
	}
	p.objects[objstore.JoinKey(dstVis, dstName)] = dup
	return nil
}

// SetVisibility flips the stored visibility flag in place.
func (p *Provider) SetVisibility(_ context.Context, key string, visibility objstore.Visibility) error {
	if err := p.guard(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	obj, _, ok := p.lookup(key)
	if !ok {
		return objstore.NewNotFound(providerName, key)
	}
	obj.visibility = visibility
	if obj.acl != nil {
		obj.acl.Visibility = visibility
	}
	return nil
}

// GetAclPolicy returns the stored policy, synthesizing one from the
// visibility flag when none was set.
func (p *Provider) GetAclPolicy(_ context.Context, key string) (*objstore.AclPolicy, error) {
	if err := p.guard(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, _, ok := p.lookup(key)
	if !ok {
		return nil, objstore.NewNotFound(providerName, key)
	}
	if obj.acl != nil {
		return obj.acl.Clone(), nil
	}
	return &objstore.AclPolicy{Visibility: obj.visibility}, nil
}

// SetAclPolicy records the policy on the object.
func (p *Provider) SetAclPolicy(_ context.Context, key string, policy *objstore.AclPolicy) error {
	if err := p.guard(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	obj, _, ok := p.lookup(key)
	if !ok {
		return objstore.NewNotFound(providerName, key)
	}
	if policy == nil {
		obj.acl = nil
		return nil
	}
	obj.acl = policy.Clone()
	if policy.Visibility != "" {
		obj.visibility = policy.Visibility
	}
	return nil
}

// CanAccess evaluates the fail-closed access decision.
func (p *Provider) CanAccess(_ context.Context, key, userID string, permission objstore.Permission) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.initialized {
		return false
	}
	var policy *objstore.AclPolicy
	if obj, _, ok := p.lookup(key); ok {
		if obj.acl != nil {
			policy = obj.acl
		} else {
			policy = &objstore.AclPolicy{Visibility: obj.visibility}
		}
	}
	return objstore.Decide(policy, key, userID, permission)
}

// GetPublicURL returns a stable memory:// URL for public-namespace keys.
func (p *Provider) GetPublicURL(key string) string {
	vis, name := objstore.ResolveKey(key, objstore.VisibilityPrivate)
	if vis != objstore.VisibilityPublic {
		return ""
	}
	return "memory://" + objstore.JoinKey(vis, name)
}

// NormalizeEntityPath strips the memory:// scheme.
func (p *Provider) NormalizeEntityPath(rawPath string) string {
	return strings.TrimPrefix(rawPath, "memory://")
}

// SearchPublicObject probes the default public search path.
func (p *Provider) SearchPublicObject(ctx context.Context, filePath string) (string, error) {
	if err := p.guard(); err != nil {
		return "", err
	}
	return objstore.SearchPublic(ctx, p, nil, filePath)
}

// compile-time check
var _ objstore.Provider = (*Provider)(nil)
