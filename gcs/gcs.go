// Package gcs implements the objstore contract on Google Cloud Storage.
//
// Visibility is a bucket-per-namespace arrangement like the other cloud
// adapters, but GCS object ACLs additionally allow flipping an object's
// public readability in place, so SetVisibility is honored without a
// copy+delete.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/complykit/objstore"
	"github.com/complykit/objstore/logger"
)

const providerName = "gcs"

func init() {
	objstore.RegisterFactory(objstore.ProviderGCS, func(cfg objstore.Config, log *logger.Logger) (objstore.Provider, error) {
		return NewStorage(cfg, log)
	})
}

// Storage implements objstore.Provider using the cloud.google.com/go SDK.
type Storage struct {
	cfg           objstore.GCSConfig
	client        *storage.Client
	publicBucket  string
	privateBucket string
	searchPaths   []string
	acl           *objstore.PolicyStore
	log           *logger.Logger
	initialized   bool
}

// NewStorage creates an un-initialized GCS adapter.
func NewStorage(cfg objstore.Config, log *logger.Logger) (*Storage, error) {
	return &Storage{
		cfg:           cfg.GCS,
		publicBucket:  cfg.PublicBucket,
		privateBucket: cfg.PrivateBucket,
		searchPaths:   cfg.SearchPaths,
		acl:           objstore.NewPolicyStore(),
		log:           log.WithProvider(providerName),
	}, nil
}

// Name returns the provider display name.
func (s *Storage) Name() string { return providerName }

// Capabilities: object ACLs permit in-place visibility flips.
func (s *Storage) Capabilities() objstore.Capabilities {
	return objstore.Capabilities{SupportsInPlaceVisibilityChange: true}
}

// Initialize builds the client and ensures both buckets exist.
func (s *Storage) Initialize(ctx context.Context) error {
	var clientOpts []option.ClientOption
	if s.cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(s.cfg.CredentialsFile))
	}
	if s.cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(s.cfg.Endpoint))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return objstore.NewConfigurationError(providerName, "storage client: "+err.Error())
	}
	s.client = client

	for _, bucket := range []string{s.publicBucket, s.privateBucket} {
		if err := s.ensureBucket(ctx, bucket); err != nil {
			return err
		}
	}
	s.initialized = true
	return nil
}

func (s *Storage) ensureBucket(ctx context.Context, name string) error {
	handle := s.client.Bucket(name)
	_, err := handle.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return objstore.NewConnectionError(providerName, fmt.Errorf("bucket %s: %w", name, err))
	}
	if s.cfg.ProjectID == "" {
		return objstore.NewConfigurationError(providerName, "bucket "+name+" does not exist and no project ID is configured to create it")
	}
	if err := handle.Create(ctx, s.cfg.ProjectID, nil); err != nil {
		return objstore.NewConnectionError(providerName, fmt.Errorf("create bucket %s: %w", name, err))
	}
	return nil
}

// HealthCheck probes the private bucket's attributes.
func (s *Storage) HealthCheck(ctx context.Context) bool {
	if !s.initialized {
		return false
	}
	_, err := s.client.Bucket(s.privateBucket).Attrs(ctx)
	return err == nil
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
	return vis, s.privateBucket, name
}

func (s *Storage) object(bucket, name string) *storage.ObjectHandle {
	return s.client.Bucket(bucket).Object(name)
}

// Upload streams the source through an object writer.
func (s *Storage) Upload(ctx context.Context, key string, src objstore.UploadSource, opts *objstore.UploadOptions) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if err := objstore.ValidateKey(key); err != nil {
		return "", err
	}
	vis, bucket, name := s.resolve(key)

	w := s.object(bucket, name).NewWriter(ctx)
	if opts != nil {
		w.ContentType = opts.ContentType
		if len(opts.Metadata) > 0 {
			w.Metadata = opts.Metadata
		}
	}
	if _, err := io.Copy(w, src.Reader()); err != nil {
		w.Close()
		return "", objstore.NewUploadFailed(providerName, key, err)
	}
	if err := w.Close(); err != nil {
		return "", objstore.NewUploadFailed(providerName, key, err)
	}
	return objstore.JoinKey(vis, name), nil
}

// Download opens a reader and normalizes its attributes.
func (s *Storage) Download(ctx context.Context, key string) (io.ReadCloser, *objstore.Metadata, error) {
	if err := s.guard(); err != nil {
		return nil, nil, err
	}
	_, bucket, name := s.resolve(key)
	r, err := s.object(bucket, name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, nil, objstore.NewNotFound(providerName, key)
		}
		return nil, nil, objstore.NewDownloadFailed(providerName, key, err)
	}
	meta := &objstore.Metadata{
		ContentType:  r.Attrs.ContentType,
		Size:         r.Attrs.Size,
		LastModified: r.Attrs.LastModified,
	}
	return r, meta, nil
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
	if err := s.object(bucket, name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			s.acl.Delete(key)
			return nil
		}
		return objstore.NewDeleteFailed(providerName, key, err)
	}
	s.acl.Delete(key)
	return nil
}

// Exists probes object attributes, swallowing all backend errors.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	_, bucket, name := s.resolve(key)
	_, err := s.object(bucket, name).Attrs(ctx)
	return err == nil, nil
}

// GetMetadata reads object attributes.
func (s *Storage) GetMetadata(ctx context.Context, key string) (*objstore.Metadata, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	_, bucket, name := s.resolve(key)
	attrs, err := s.object(bucket, name).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, objstore.NewNotFound(providerName, key)
		}
		return nil, objstore.NewDownloadFailed(providerName, key, err)
	}
	return &objstore.Metadata{
		ContentType:  attrs.ContentType,
		Size:         attrs.Size,
		LastModified: attrs.Updated,
		ETag:         attrs.Etag,
		Custom:       attrs.Metadata,
	}, nil
}

// GetSignedURL signs a V4 URL through the bucket handle, which draws on
// the client's credentials.
func (s *Storage) GetSignedURL(_ context.Context, key string, opts objstore.SignedURLOptions) (string, error) {
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
	signOpts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(ttl),
	}
	if method == http.MethodPut && opts.ContentType != "" {
		signOpts.ContentType = opts.ContentType
	}
	u, err := s.client.Bucket(bucket).SignedURL(name, signOpts)
	if err != nil {
		return "", objstore.NewConfigurationError(providerName, "sign URL: "+err.Error())
	}
	return u, nil
}

// GetUploadURL mints a fresh private key and a signed PUT URL for it.
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

// List returns one page, using the iterator's page token as cursor.
func (s *Storage) List(ctx context.Context, opts objstore.ListOptions) (*objstore.ListResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	vis, bucket, prefix := s.resolve(opts.Prefix)

	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	pageSize := opts.MaxResults
	if pageSize <= 0 {
		pageSize = 1000
	}

	result := &objstore.ListResult{}
	pager := iterator.NewPager(it, pageSize, opts.Cursor)
	var attrs []*storage.ObjectAttrs
	next, err := pager.NextPage(&attrs)
	if err != nil {
		return nil, objstore.NewConnectionError(providerName, err)
	}
	for _, a := range attrs {
		result.Objects = append(result.Objects, objstore.ObjectInfo{
			Key:          objstore.JoinKey(vis, a.Name),
			Size:         a.Size,
			LastModified: a.Updated,
			ETag:         a.Etag,
		})
	}
	result.NextCursor = next
	return result, nil
}

// Copy runs a server-side copy and carries the ACL overlay across.
func (s *Storage) Copy(ctx context.Context, sourceKey, destinationKey string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := objstore.ValidateKey(destinationKey); err != nil {
		return err
	}
	_, srcBucket, srcName := s.resolve(sourceKey)
	dstVis, dstBucket, dstName := s.resolve(destinationKey)

	src := s.object(srcBucket, srcName)
	dst := s.object(dstBucket, dstName)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return objstore.NewNotFound(providerName, sourceKey)
		}
		return objstore.NewUploadFailed(providerName, destinationKey, err)
	}

	if policy := s.acl.Get(sourceKey); policy != nil {
		policy.Visibility = dstVis
		s.acl.Set(objstore.JoinKey(dstVis, dstName), policy)
	}
	return nil
}

// SetVisibility flips the allUsers reader grant on the object ACL. The
// logical key keeps its namespace; only effective readability changes.
func (s *Storage) SetVisibility(ctx context.Context, key string, visibility objstore.Visibility) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, bucket, name := s.resolve(key)
	aclHandle := s.object(bucket, name).ACL()

	var err error
	if visibility == objstore.VisibilityPublic {
		err = aclHandle.Set(ctx, storage.AllUsers, storage.RoleReader)
	} else {
		err = aclHandle.Delete(ctx, storage.AllUsers)
	}
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return objstore.NewNotFound(providerName, key)
		}
		return objstore.NewPermissionDenied(providerName, key, "set object ACL: "+err.Error())
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

// SetAclPolicy records the overlay policy and mirrors its visibility to
// the backend ACL.
func (s *Storage) SetAclPolicy(ctx context.Context, key string, policy *objstore.AclPolicy) error {
	if err := s.guard(); err != nil {
		return err
	}
	if policy != nil && policy.Visibility != "" {
		if err := s.SetVisibility(ctx, key, policy.Visibility); err != nil {
			return err
		}
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

// GetPublicURL returns the stable storage.googleapis.com URL for
// public-namespace keys.
func (s *Storage) GetPublicURL(key string) string {
	vis, bucket, name := s.resolve(key)
	if vis != objstore.VisibilityPublic {
		return ""
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, name)
}

// NormalizeEntityPath maps GCS URLs back into the logical key space.
func (s *Storage) NormalizeEntityPath(rawPath string) string {
	p := rawPath
	for _, scheme := range []string{"https://", "http://", "gs://"} {
		p = strings.TrimPrefix(p, scheme)
	}
	if rawPath != p {
		if host, rest, ok := strings.Cut(p, "/"); ok {
			if host == "storage.googleapis.com" || host == "storage.cloud.google.com" {
				return objstore.BucketPathToKey(rest, s.publicBucket, s.privateBucket)
			}
			// gs://bucket/name
			return objstore.BucketPathToKey(host+"/"+rest, s.publicBucket, s.privateBucket)
		}
	}
	if strings.HasPrefix(p, objstore.PublicPrefix) || strings.HasPrefix(p, objstore.PrivatePrefix) {
		return p
	}
	return objstore.BucketPathToKey(p, s.publicBucket, s.privateBucket)
}

// SearchPublicObject probes the configured search paths.
func (s *Storage) SearchPublicObject(ctx context.Context, filePath string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	return objstore.SearchPublic(ctx, s, s.searchPaths, filePath)
}

// compile-time check
var _ objstore.Provider = (*Storage)(nil)
