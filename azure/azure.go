// Package azure implements the objstore contract on Azure Blob Storage.
//
// Visibility is determined by which container a blob lives in, so this
// adapter cannot flip visibility in place: a namespace-crossing
// SetVisibility is refused with PERMISSION_DENIED naming the copy+delete
// remedy. SAS signing requires an account name + key credential; a
// connection-string-only configuration can serve data but cannot sign.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/complykit/objstore"
	"github.com/complykit/objstore/logger"
)

const providerName = "azure_blob"

func init() {
	objstore.RegisterFactory(objstore.ProviderAzure, func(cfg objstore.Config, log *logger.Logger) (objstore.Provider, error) {
		return NewStorage(cfg, log)
	})
}

// Storage implements objstore.Provider using the azblob SDK.
type Storage struct {
	cfg              objstore.AzureConfig
	client           *azblob.Client
	sharedKey        *azblob.SharedKeyCredential
	serviceURL       string
	publicContainer  string
	privateContainer string
	searchPaths      []string
	acl              *objstore.PolicyStore
	log              *logger.Logger
	initialized      bool
}

// NewStorage creates an un-initialized Azure Blob adapter.
func NewStorage(cfg objstore.Config, log *logger.Logger) (*Storage, error) {
	s := &Storage{
		cfg:              cfg.Azure,
		publicContainer:  cfg.PublicBucket,
		privateContainer: cfg.PrivateBucket,
		searchPaths:      cfg.SearchPaths,
		acl:              objstore.NewPolicyStore(),
		log:              log.WithProvider(providerName),
	}
	if cfg.Azure.AccountName != "" {
		s.serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Azure.AccountName)
	}
	return s, nil
}

// Name returns the provider display name.
func (s *Storage) Name() string { return providerName }

// Capabilities: no in-place visibility change; blobs must move containers.
func (s *Storage) Capabilities() objstore.Capabilities {
	return objstore.Capabilities{SupportsInPlaceVisibilityChange: false}
}

// Initialize builds the service client and ensures both containers exist.
func (s *Storage) Initialize(ctx context.Context) error {
	switch {
	case s.cfg.AccountName != "" && s.cfg.AccountKey != "":
		cred, err := azblob.NewSharedKeyCredential(s.cfg.AccountName, s.cfg.AccountKey)
		if err != nil {
			return objstore.NewConfigurationError(providerName, "shared key credential: "+err.Error())
		}
		client, err := azblob.NewClientWithSharedKeyCredential(s.serviceURL+"/", cred, nil)
		if err != nil {
			return objstore.NewConfigurationError(providerName, "service client: "+err.Error())
		}
		s.client = client
		s.sharedKey = cred
	case s.cfg.ConnectionString != "":
		client, err := azblob.NewClientFromConnectionString(s.cfg.ConnectionString, nil)
		if err != nil {
			return objstore.NewConfigurationError(providerName, "service client: "+err.Error())
		}
		s.client = client
		s.serviceURL = strings.TrimRight(client.URL(), "/")
	default:
		return objstore.NewConfigurationError(providerName, "account name + key or a connection string is required")
	}

	for _, container := range []string{s.publicContainer, s.privateContainer} {
		if _, err := s.client.CreateContainer(ctx, container, nil); err != nil {
			if !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
				return objstore.NewConnectionError(providerName, fmt.Errorf("create container %s: %w", container, err))
			}
		}
	}
	s.initialized = true
	return nil
}

// HealthCheck lists one blob from the private container.
func (s *Storage) HealthCheck(ctx context.Context) bool {
	if !s.initialized {
		return false
	}
	pager := s.client.NewListBlobsFlatPager(s.privateContainer, &azblob.ListBlobsFlatOptions{
		MaxResults: to.Ptr(int32(1)),
	})
	_, err := pager.NextPage(ctx)
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
		return vis, s.publicContainer, name
	}
	return vis, s.privateContainer, name
}

// Upload streams the source into a block blob.
func (s *Storage) Upload(ctx context.Context, key string, src objstore.UploadSource, opts *objstore.UploadOptions) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if err := objstore.ValidateKey(key); err != nil {
		return "", err
	}
	vis, container, name := s.resolve(key)

	uploadOpts := &azblob.UploadStreamOptions{}
	if opts != nil {
		if opts.ContentType != "" {
			uploadOpts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(opts.ContentType)}
		}
		if len(opts.Metadata) > 0 {
			uploadOpts.Metadata = toPtrMap(opts.Metadata)
		}
	}
	if _, err := s.client.UploadStream(ctx, container, name, src.Reader(), uploadOpts); err != nil {
		return "", objstore.NewUploadFailed(providerName, key, err)
	}
	return objstore.JoinKey(vis, name), nil
}

// Download streams the blob and normalizes its properties.
func (s *Storage) Download(ctx context.Context, key string) (io.ReadCloser, *objstore.Metadata, error) {
	if err := s.guard(); err != nil {
		return nil, nil, err
	}
	_, container, name := s.resolve(key)
	resp, err := s.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, nil, objstore.NewNotFound(providerName, key)
		}
		return nil, nil, objstore.NewDownloadFailed(providerName, key, err)
	}
	meta := &objstore.Metadata{
		ContentType: fromPtr(resp.ContentType),
		Size:        fromPtrInt(resp.ContentLength),
		Custom:      fromPtrMap(resp.Metadata),
	}
	if resp.ETag != nil {
		meta.ETag = strings.Trim(string(*resp.ETag), `"`)
	}
	if resp.LastModified != nil {
		meta.LastModified = *resp.LastModified
	}
	return resp.Body, meta, nil
}

// StreamToResponse pipes the blob to w with transport headers set.
func (s *Storage) StreamToResponse(ctx context.Context, key string, w http.ResponseWriter, opts *objstore.StreamOptions) error {
	return objstore.StreamObject(ctx, s, key, w, opts)
}

// Delete removes the blob; absence is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, container, name := s.resolve(key)
	if _, err := s.client.DeleteBlob(ctx, container, name, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			s.acl.Delete(key)
			return nil
		}
		return objstore.NewDeleteFailed(providerName, key, err)
	}
	s.acl.Delete(key)
	return nil
}

// Exists probes blob properties, swallowing all backend errors.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	_, container, name := s.resolve(key)
	blobClient := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name)
	_, err := blobClient.GetProperties(ctx, nil)
	return err == nil, nil
}

// GetMetadata reads blob properties.
func (s *Storage) GetMetadata(ctx context.Context, key string) (*objstore.Metadata, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	_, container, name := s.resolve(key)
	blobClient := s.client.ServiceClient().NewContainerClient(container).NewBlobClient(name)
	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, objstore.NewNotFound(providerName, key)
		}
		return nil, objstore.NewDownloadFailed(providerName, key, err)
	}
	meta := &objstore.Metadata{
		ContentType: fromPtr(props.ContentType),
		Size:        fromPtrInt(props.ContentLength),
		Custom:      fromPtrMap(props.Metadata),
	}
	if props.ETag != nil {
		meta.ETag = strings.Trim(string(*props.ETag), `"`)
	}
	if props.LastModified != nil {
		meta.LastModified = *props.LastModified
	}
	return meta, nil
}

// GetSignedURL computes a SAS URL locally. Requires the shared key
// credential: a connection-string-only configuration cannot sign.
func (s *Storage) GetSignedURL(_ context.Context, key string, opts objstore.SignedURLOptions) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if s.sharedKey == nil {
		return "", objstore.NewConfigurationError(providerName, "SAS signing requires an account key credential; connection-string-only configuration cannot sign")
	}
	_, container, name := s.resolve(key)

	perms := sas.BlobPermissions{}
	switch strings.ToUpper(opts.Method) {
	case http.MethodPut:
		perms.Create = true
		perms.Write = true
	case http.MethodDelete:
		perms.Delete = true
	case http.MethodHead, http.MethodGet, "":
		perms.Read = true
	default:
		return "", objstore.NewConfigurationError(providerName, "unsupported signed URL method "+opts.Method)
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	values := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     time.Now().Add(-5 * time.Minute).UTC(),
		ExpiryTime:    time.Now().Add(ttl).UTC(),
		Permissions:   perms.String(),
		ContainerName: container,
		BlobName:      name,
	}
	if strings.EqualFold(opts.Method, http.MethodPut) && opts.ContentType != "" {
		values.ContentType = opts.ContentType
	}
	query, err := values.SignWithSharedKey(s.sharedKey)
	if err != nil {
		return "", objstore.NewConfigurationError(providerName, "sign SAS: "+err.Error())
	}
	return s.blobURL(container, name) + "?" + query.Encode(), nil
}

// GetUploadURL mints a fresh private key and a SAS PUT URL for it.
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

// List returns one page via the flat pager, with the native continuation
// marker as cursor.
func (s *Storage) List(ctx context.Context, opts objstore.ListOptions) (*objstore.ListResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	vis, container, prefix := s.resolve(opts.Prefix)

	listOpts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		listOpts.Prefix = to.Ptr(prefix)
	}
	if opts.Cursor != "" {
		listOpts.Marker = to.Ptr(opts.Cursor)
	}
	if opts.MaxResults > 0 {
		listOpts.MaxResults = to.Ptr(int32(opts.MaxResults))
	}

	pager := s.client.NewListBlobsFlatPager(container, listOpts)
	page, err := pager.NextPage(ctx)
	if err != nil {
		return nil, objstore.NewConnectionError(providerName, err)
	}

	result := &objstore.ListResult{}
	for _, item := range page.Segment.BlobItems {
		info := objstore.ObjectInfo{Key: objstore.JoinKey(vis, fromPtr(item.Name))}
		if item.Properties != nil {
			info.Size = fromPtrInt(item.Properties.ContentLength)
			if item.Properties.LastModified != nil {
				info.LastModified = *item.Properties.LastModified
			}
			if item.Properties.ETag != nil {
				info.ETag = strings.Trim(string(*item.Properties.ETag), `"`)
			}
		}
		result.Objects = append(result.Objects, info)
	}
	if page.NextMarker != nil && *page.NextMarker != "" {
		result.NextCursor = *page.NextMarker
	}
	return result, nil
}

// Copy starts a server-side copy. This is also the first half of the
// visibility-flip remedy this adapter mandates.
func (s *Storage) Copy(ctx context.Context, sourceKey, destinationKey string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := objstore.ValidateKey(destinationKey); err != nil {
		return err
	}
	_, srcContainer, srcName := s.resolve(sourceKey)
	dstVis, dstContainer, dstName := s.resolve(destinationKey)

	srcURL := s.blobURL(srcContainer, srcName)
	if s.sharedKey != nil {
		// Private sources need a short-lived read SAS for the copy source.
		if u, err := s.GetSignedURL(ctx, sourceKey, objstore.SignedURLOptions{Method: http.MethodGet, TTL: 10 * time.Minute}); err == nil {
			srcURL = u
		}
	}

	dstClient := s.client.ServiceClient().NewContainerClient(dstContainer).NewBlobClient(dstName)
	if _, err := dstClient.StartCopyFromURL(ctx, srcURL, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.CannotVerifyCopySource) {
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

// SetVisibility refuses namespace-crossing changes: container placement
// is this backend's visibility mechanism. Same-namespace calls only
// update the overlay.
func (s *Storage) SetVisibility(ctx context.Context, key string, visibility objstore.Visibility) error {
	if err := s.guard(); err != nil {
		return err
	}
	currentVis, _, name := s.resolve(key)
	if currentVis != visibility {
		other := objstore.JoinKey(visibility, name)
		return objstore.NewPermissionDenied(providerName, key, fmt.Sprintf(
			"azure blob visibility is determined by container placement and cannot change in place; Copy %q to %q, then Delete the original", key, other))
	}

	policy := s.acl.Get(key)
	if policy == nil {
		policy = &objstore.AclPolicy{}
	}
	policy.Visibility = visibility
	s.acl.Set(key, policy)
	_ = ctx
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

// SetAclPolicy records the overlay policy. The backend's own access
// control is untouched; container placement remains the coarse gate.
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

// GetPublicURL returns the stable blob URL for public-namespace keys.
func (s *Storage) GetPublicURL(key string) string {
	vis, container, name := s.resolve(key)
	if vis != objstore.VisibilityPublic || s.serviceURL == "" {
		return ""
	}
	return s.blobURL(container, name)
}

// NormalizeEntityPath maps blob URLs back into the logical key space.
func (s *Storage) NormalizeEntityPath(rawPath string) string {
	p := rawPath
	for _, scheme := range []string{"https://", "http://"} {
		p = strings.TrimPrefix(p, scheme)
	}
	if rawPath != p {
		if host, rest, ok := strings.Cut(p, "/"); ok && strings.HasSuffix(host, ".blob.core.windows.net") {
			return objstore.BucketPathToKey(rest, s.publicContainer, s.privateContainer)
		}
	}
	if strings.HasPrefix(p, objstore.PublicPrefix) || strings.HasPrefix(p, objstore.PrivatePrefix) {
		return p
	}
	return objstore.BucketPathToKey(p, s.publicContainer, s.privateContainer)
}

// SearchPublicObject probes the configured search paths.
func (s *Storage) SearchPublicObject(ctx context.Context, filePath string) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	return objstore.SearchPublic(ctx, s, s.searchPaths, filePath)
}

func (s *Storage) blobURL(container, name string) string {
	return fmt.Sprintf("%s/%s/%s", s.serviceURL, container, name)
}

// --- pointer plumbing for the azblob API ---

func fromPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func fromPtrInt(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func toPtrMap(m map[string]string) map[string]*string {
	out := make(map[string]*string, len(m))
	for k, v := range m {
		out[k] = to.Ptr(v)
	}
	return out
}

func fromPtrMap(m map[string]*string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fromPtr(v)
	}
	return out
}

// compile-time check
var _ objstore.Provider = (*Storage)(nil)
