// Package sidecar implements the objstore contract against the managed
// runtime's object-storage sidecar, a local REST service that fronts the
// platform's bucket storage.
//
// The sidecar holds the credentials; this adapter only speaks plain HTTP
// to it. Any transport failure reaching the sidecar surfaces as
// CONNECTION_ERROR so callers can distinguish "sidecar down" from object
// level failures.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/complykit/objstore"
	"github.com/complykit/objstore/logger"
)

const providerName = "replit"

func init() {
	objstore.RegisterFactory(objstore.ProviderSidecar, func(cfg objstore.Config, log *logger.Logger) (objstore.Provider, error) {
		return NewStorage(cfg, log)
	})
}

// Storage implements objstore.Provider over the sidecar's REST API.
type Storage struct {
	baseURL       string
	publicBucket  string
	privateBucket string
	privatePrefix string
	searchPaths   []string
	httpClient    *http.Client
	acl           *objstore.PolicyStore
	log           *logger.Logger
	initialized   bool
}

// NewStorage creates an un-initialized sidecar adapter. When the managed
// environment supplies a private dir ("<bucket>/<prefix>"), private
// objects are stored under that prefix instead of a dedicated bucket.
func NewStorage(cfg objstore.Config, log *logger.Logger) (*Storage, error) {
	s := &Storage{
		baseURL:       strings.TrimRight(cfg.Sidecar.Endpoint, "/"),
		publicBucket:  cfg.PublicBucket,
		privateBucket: cfg.PrivateBucket,
		searchPaths:   cfg.SearchPaths,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		acl: objstore.NewPolicyStore(),
		log: log.WithProvider(providerName),
	}
	if dir := strings.Trim(cfg.Sidecar.PrivateDir, "/"); dir != "" {
		if bucket, prefix, ok := strings.Cut(dir, "/"); ok {
			s.privateBucket = bucket
			s.privatePrefix = strings.TrimRight(prefix, "/") + "/"
		} else {
			s.privateBucket = dir
		}
	}
	return s, nil
}

// Name returns the provider display name.
func (s *Storage) Name() string { return providerName }

// Capabilities: the sidecar exposes a visibility endpoint, so flips are
// honored in place.
func (s *Storage) Capabilities() objstore.Capabilities {
	return objstore.Capabilities{SupportsInPlaceVisibilityChange: true}
}

// Initialize verifies the sidecar is reachable.
func (s *Storage) Initialize(ctx context.Context) error {
	if s.baseURL == "" {
		return objstore.NewConfigurationError(providerName, "sidecar endpoint is required")
	}
	s.initialized = true
	if !s.HealthCheck(ctx) {
		s.initialized = false
		return objstore.NewConnectionError(providerName, fmt.Errorf("sidecar unreachable at %s", s.baseURL))
	}
	return nil
}

// HealthCheck lists one object from the private bucket.
func (s *Storage) HealthCheck(ctx context.Context) bool {
	if !s.initialized {
		return false
	}
	u := fmt.Sprintf("%s/list/%s?maxResults=1", s.baseURL, s.privateBucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (s *Storage) guard() error {
	if !s.initialized {
		return objstore.NewNotInitialized(providerName)
	}
	return nil
}

func (s *Storage) resolve(key string) (objstore.Visibility, string, string) {
	vis, name := objstore.ResolveKey(key, objstore.VisibilityPrivate)
	if vis == objstore.VisibilityPublic {
		return vis, s.publicBucket, name
	}
	return vis, s.privateBucket, s.privatePrefix + name
}

// logicalKey reverses resolve for names returned by the sidecar.
func (s *Storage) logicalKey(vis objstore.Visibility, name string) string {
	if vis == objstore.VisibilityPrivate {
		name = strings.TrimPrefix(name, s.privatePrefix)
	}
	return objstore.JoinKey(vis, name)
}

func (s *Storage) objectURL(bucket, name string) string {
	escaped := (&url.URL{Path: name}).EscapedPath()
	return fmt.Sprintf("%s/object/%s/%s", s.baseURL, bucket, escaped)
}

// Upload streams the source to the sidecar.
func (s *Storage) Upload(ctx context.Context, key string, src objstore.UploadSource, opts *objstore.UploadOptions) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if err := objstore.ValidateKey(key); err != nil {
		return "", err
	}
	vis, bucket, name := s.resolve(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(bucket, name), src.Reader())
	if err != nil {
		return "", objstore.NewUploadFailed(providerName, key, err)
	}
	contentType := "application/octet-stream"
	if opts != nil && opts.ContentType != "" {
		contentType = opts.ContentType
	}
	req.Header.Set("Content-Type", contentType)
	if opts != nil {
		for k, v := range opts.Metadata {
			req.Header.Set("X-Object-Meta-"+k, v)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", objstore.NewConnectionError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", objstore.NewUploadFailed(providerName, key,
			fmt.Errorf("sidecar upload failed (status %d): %s", resp.StatusCode, string(body)))
	}
	return s.logicalKey(vis, name), nil
}

// Download streams the object from the sidecar.
func (s *Storage) Download(ctx context.Context, key string) (io.ReadCloser, *objstore.Metadata, error) {
	if err := s.guard(); err != nil {
		return nil, nil, err
	}
	_, bucket, name := s.resolve(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(bucket, name), nil)
	if err != nil {
		return nil, nil, objstore.NewDownloadFailed(providerName, key, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, nil, objstore.NewConnectionError(providerName, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, nil, objstore.NewNotFound(providerName, key)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, objstore.NewDownloadFailed(providerName, key,
			fmt.Errorf("sidecar download failed (status %d): %s", resp.StatusCode, string(body)))
	}
	return resp.Body, metadataFromHeaders(resp.Header), nil
}

// StreamToResponse pipes the object to w with transport headers set.
func (s *Storage) StreamToResponse(ctx context.Context, key string, w http.ResponseWriter, opts *objstore.StreamOptions) error {
	return objstore.StreamObject(ctx, s, key, w, opts)
}

// Delete removes the object; absence is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, bucket, name := s.resolve(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(bucket, name), nil)
	if err != nil {
		return objstore.NewDeleteFailed(providerName, key, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return objstore.NewConnectionError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return objstore.NewDeleteFailed(providerName, key,
			fmt.Errorf("sidecar delete failed (status %d): %s", resp.StatusCode, string(body)))
	}
	s.acl.Delete(key)
	return nil
}

// Exists probes the object with HEAD, swallowing all backend errors.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	_, bucket, name := s.resolve(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(bucket, name), nil)
	if err != nil {
		return false, nil
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400, nil
}

// GetMetadata reads object headers with HEAD.
func (s *Storage) GetMetadata(ctx context.Context, key string) (*objstore.Metadata, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	_, bucket, name := s.resolve(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(bucket, name), nil)
	if err != nil {
		return nil, objstore.NewDownloadFailed(providerName, key, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, objstore.NewConnectionError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, objstore.NewNotFound(providerName, key)
	}
	if resp.StatusCode >= 400 {
		return nil, objstore.NewDownloadFailed(providerName, key,
			fmt.Errorf("sidecar head failed (status %d)", resp.StatusCode))
	}
	return metadataFromHeaders(resp.Header), nil
}

// signRequest is the body of the sidecar's signing endpoint.
type signRequest struct {
	BucketName  string `json:"bucket_name"`
	ObjectName  string `json:"object_name"`
	Method      string `json:"method"`
	ExpiresAt   string `json:"expires_at"`
	ContentType string `json:"content_type,omitempty"`
}

// GetSignedURL asks the sidecar to sign a URL for the object.
func (s *Storage) GetSignedURL(ctx context.Context, key string, opts objstore.SignedURLOptions) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	_, bucket, name := s.resolve(key)

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead:
	default:
		return "", objstore.NewConfigurationError(providerName, "unsupported signed URL method "+method)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	reqBody := signRequest{
		BucketName: bucket,
		ObjectName: name,
		Method:     method,
		ExpiresAt:  time.Now().Add(ttl).UTC().Format(time.RFC3339),
	}
	if method == http.MethodPut && opts.ContentType != "" {
		reqBody.ContentType = opts.ContentType
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", objstore.NewConfigurationError(providerName, "marshal sign request: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sign", bytes.NewReader(payload))
	if err != nil {
		return "", objstore.NewConfigurationError(providerName, "create sign request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", objstore.NewConnectionError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", objstore.NewConnectionError(providerName,
			fmt.Errorf("sidecar sign failed (status %d): %s", resp.StatusCode, string(body)))
	}

	var result struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", objstore.NewConnectionError(providerName, fmt.Errorf("decode sign response: %w", err))
	}
	if result.SignedURL == "" {
		return "", objstore.NewConnectionError(providerName, fmt.Errorf("sidecar sign returned empty URL"))
	}
	return result.SignedURL, nil
}

// GetUploadURL mints a fresh private key and asks the sidecar for a
// signed PUT URL.
func (s *Storage) GetUploadURL(ctx context.Context, prefix string, ttl time.Duration) (*objstore.UploadTarget, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	key := objstore.NewUploadKey(prefix)
	u, err := s.GetSignedURL(ctx, key, objstore.SignedURLOptions{Method: http.MethodPut, TTL: ttl})
	if err != nil {
		return nil, err
	}
	return &objstore.UploadTarget{URL: u, Key: key}, nil
}

// List returns one page from the sidecar's listing endpoint, passing its
// page token through as cursor.
func (s *Storage) List(ctx context.Context, opts objstore.ListOptions) (*objstore.ListResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	vis, bucket, prefix := s.resolve(opts.Prefix)

	q := url.Values{}
	if prefix != "" {
		q.Set("prefix", prefix)
	}
	if opts.Cursor != "" {
		q.Set("pageToken", opts.Cursor)
	}
	if opts.MaxResults > 0 {
		q.Set("maxResults", strconv.Itoa(opts.MaxResults))
	}
	u := fmt.Sprintf("%s/list/%s", s.baseURL, bucket)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, objstore.NewConnectionError(providerName, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, objstore.NewConnectionError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, objstore.NewConnectionError(providerName,
			fmt.Errorf("sidecar list failed (status %d): %s", resp.StatusCode, string(body)))
	}

	var page struct {
		Objects []struct {
			Name         string    `json:"name"`
			Size         int64     `json:"size"`
			LastModified time.Time `json:"last_modified"`
			ETag         string    `json:"etag"`
		} `json:"objects"`
		NextPageToken string `json:"next_page_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, objstore.NewConnectionError(providerName, fmt.Errorf("decode list response: %w", err))
	}

	result := &objstore.ListResult{NextCursor: page.NextPageToken}
	for _, o := range page.Objects {
		result.Objects = append(result.Objects, objstore.ObjectInfo{
			Key:          s.logicalKey(vis, o.Name),
			Size:         o.Size,
			LastModified: o.LastModified,
			ETag:         o.ETag,
		})
	}
	return result, nil
}

// Copy downloads the source and re-uploads it at the destination. The
// sidecar exposes no server-side copy, so the bytes pass through this
// process as a stream.
func (s *Storage) Copy(ctx context.Context, sourceKey, destinationKey string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := objstore.ValidateKey(destinationKey); err != nil {
		return err
	}
	body, meta, err := s.Download(ctx, sourceKey)
	if err != nil {
		return err
	}
	defer body.Close()

	opts := &objstore.UploadOptions{}
	if meta != nil {
		opts.ContentType = meta.ContentType
		opts.Metadata = meta.Custom
	}
	if _, err := s.Upload(ctx, destinationKey, objstore.ReaderSource(body), opts); err != nil {
		return err
	}

	dstVis, _ := objstore.ResolveKey(destinationKey, objstore.VisibilityPrivate)
	if policy := s.acl.Get(sourceKey); policy != nil {
		policy.Visibility = dstVis
		s.acl.Set(destinationKey, policy)
	}
	return nil
}

// SetVisibility posts the flip to the sidecar's visibility endpoint and
// mirrors it in the overlay.
func (s *Storage) SetVisibility(ctx context.Context, key string, visibility objstore.Visibility) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, bucket, name := s.resolve(key)

	payload, err := json.Marshal(map[string]string{
		"bucket_name": bucket,
		"object_name": name,
		"visibility":  strings.ToLower(string(visibility)),
	})
	if err != nil {
		return objstore.NewConfigurationError(providerName, "marshal visibility request: "+err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/visibility", bytes.NewReader(payload))
	if err != nil {
		return objstore.NewConnectionError(providerName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return objstore.NewConnectionError(providerName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return objstore.NewNotFound(providerName, key)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return objstore.NewPermissionDenied(providerName, key,
			fmt.Sprintf("sidecar visibility change failed (status %d): %s", resp.StatusCode, string(body)))
	}

	policy := s.acl.Get(key)
	if policy == nil {
		policy = &objstore.AclPolicy{}
	}
	policy.Visibility = visibility
	s.acl.Set(key, policy)
	return nil
}

// GetAclPolicy returns the overlay policy; with none recorded, NOT_FOUND.
func (s *Storage) GetAclPolicy(_ context.Context, key string) (*objstore.AclPolicy, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	if policy := s.acl.Get(key); policy != nil {
		return policy, nil
	}
	return nil, objstore.NewNotFound(providerName, key)
}

// SetAclPolicy records the overlay policy.
func (s *Storage) SetAclPolicy(_ context.Context, key string, policy *objstore.AclPolicy) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.acl.Set(key, policy)
	return nil
}

// CanAccess evaluates the fail-closed access decision from the overlay.
func (s *Storage) CanAccess(_ context.Context, key, userID string, permission objstore.Permission) bool {
	if !s.initialized {
		return false
	}
	return objstore.Decide(s.acl.Get(key), key, userID, permission)
}

// GetPublicURL returns the sidecar's stable serving URL for
// public-namespace keys.
func (s *Storage) GetPublicURL(key string) string {
	vis, bucket, name := s.resolve(key)
	if vis != objstore.VisibilityPublic {
		return ""
	}
	return s.objectURL(bucket, name)
}

// NormalizeEntityPath maps sidecar object URLs and raw bucket paths back
// into the logical key space.
func (s *Storage) NormalizeEntityPath(rawPath string) string {
	p := rawPath
	if strings.HasPrefix(p, s.baseURL+"/object/") {
		p = strings.TrimPrefix(p, s.baseURL+"/object/")
		if unescaped, err := url.PathUnescape(p); err == nil {
			p = unescaped
		}
		return s.bucketPathToKey(p)
	}
	if strings.HasPrefix(p, objstore.PublicPrefix) || strings.HasPrefix(p, objstore.PrivatePrefix) {
		return p
	}
	return s.bucketPathToKey(strings.TrimLeft(p, "/"))
}

// bucketPathToKey reverses resolve for "<bucket>/<name>" paths,
// accounting for a managed private prefix.
func (s *Storage) bucketPathToKey(p string) string {
	bucket, name, ok := strings.Cut(p, "/")
	if !ok {
		return p
	}
	switch bucket {
	case s.publicBucket:
		return objstore.JoinKey(objstore.VisibilityPublic, name)
	case s.privateBucket:
		return s.logicalKey(objstore.VisibilityPrivate, name)
	default:
		return p
	}
}

// SearchPublicObject probes the configured search paths.
func (s *Storage) SearchPublicObject(ctx context.Context, filePath string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	return objstore.SearchPublic(ctx, s, s.searchPaths, filePath)
}

func metadataFromHeaders(h http.Header) *objstore.Metadata {
	meta := &objstore.Metadata{
		ContentType: h.Get("Content-Type"),
		ETag:        strings.Trim(h.Get("ETag"), `"`),
	}
	if cl := h.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			meta.Size = n
		}
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			meta.LastModified = t
		}
	}
	var custom map[string]string
	for k := range h {
		if name, ok := strings.CutPrefix(k, "X-Object-Meta-"); ok {
			if custom == nil {
				custom = make(map[string]string)
			}
			custom[name] = h.Get(k)
		}
	}
	meta.Custom = custom
	return meta
}

// compile-time check
var _ objstore.Provider = (*Storage)(nil)
