// Package local implements the objstore contract on the local
// filesystem. It targets development and self-hosted deployments.
//
// Objects live under <basePath>/<publicBucket>/ and
// <basePath>/<privateBucket>/; each object file has a sidecar
// <name>.meta.json holding content type, custom metadata, upload time,
// visibility, and the ACL policy. The sidecar is the sole source of
// ACL/visibility truth for this adapter.
package local

import (
	"context"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/complykit/objstore"
	"github.com/complykit/objstore/logger"
)

const providerName = "local"

func init() {
	objstore.RegisterFactory(objstore.ProviderLocal, func(cfg objstore.Config, log *logger.Logger) (objstore.Provider, error) {
		return NewStorage(cfg, log)
	})
}

// Storage implements objstore.Provider on the local filesystem.
type Storage struct {
	basePath      string
	publicBucket  string
	privateBucket string
	publicBaseURL string
	searchPaths   []string
	signer        *urlSigner
	log           *logger.Logger
	initialized   bool
}

// NewStorage creates an un-initialized local storage adapter.
func NewStorage(cfg objstore.Config, log *logger.Logger) (*Storage, error) {
	abs, err := filepath.Abs(cfg.Local.BasePath)
	if err != nil {
		return nil, objstore.NewConfigurationError(providerName, "resolve base path: "+err.Error())
	}
	return &Storage{
		basePath:      abs,
		publicBucket:  cfg.PublicBucket,
		privateBucket: cfg.PrivateBucket,
		publicBaseURL: strings.TrimRight(cfg.Local.PublicBaseURL, "/"),
		searchPaths:   cfg.SearchPaths,
		signer:        newURLSigner([]byte(cfg.Local.SigningSecret)),
		log:           log.WithProvider(providerName),
	}, nil
}

// Name returns the provider display name.
func (s *Storage) Name() string { return providerName }

// Capabilities reports in-place visibility support: the sidecar metadata
// file carries visibility, so no object move is needed to flip it.
func (s *Storage) Capabilities() objstore.Capabilities {
	return objstore.Capabilities{SupportsInPlaceVisibilityChange: true}
}

// Initialize creates the public and private directory trees.
func (s *Storage) Initialize(_ context.Context) error {
	for _, dir := range []string{s.bucketDir(objstore.VisibilityPublic), s.bucketDir(objstore.VisibilityPrivate)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return objstore.NewConfigurationError(providerName, "create storage directory: "+err.Error())
		}
	}
	s.initialized = true
	return nil
}

// HealthCheck verifies the base directory is reachable.
func (s *Storage) HealthCheck(_ context.Context) bool {
	if !s.initialized {
		return false
	}
	_, err := os.Stat(s.basePath)
	return err == nil
}

func (s *Storage) bucketDir(v objstore.Visibility) string {
	if v == objstore.VisibilityPublic {
		return filepath.Join(s.basePath, s.publicBucket)
	}
	return filepath.Join(s.basePath, s.privateBucket)
}

// resolve maps a logical key onto visibility, object path, and sidecar path.
func (s *Storage) resolve(key string, def objstore.Visibility) (objstore.Visibility, string, string) {
	vis, rel := objstore.ResolveKey(key, def)
	objPath := filepath.Join(s.bucketDir(vis), filepath.FromSlash(rel))
	return vis, objPath, objPath + metaSuffix
}

func (s *Storage) guard() error {
	if !s.initialized {
		return objstore.NewNotInitialized(providerName)
	}
	return nil
}

// Upload writes the object and its sidecar. Keys without a namespace
// prefix go public only when opts.IsPublic is set.
func (s *Storage) Upload(_ context.Context, key string, src objstore.UploadSource, opts *objstore.UploadOptions) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if err := objstore.ValidateKey(key); err != nil {
		return "", err
	}
	if src.Reader() == nil {
		return "", objstore.NewUploadFailed(providerName, key, nil).WithCause(io.ErrUnexpectedEOF)
	}

	def := objstore.VisibilityPrivate
	if opts != nil && opts.IsPublic {
		def = objstore.VisibilityPublic
	}
	vis, objPath, metaPath := s.resolve(key, def)
	normalized := objstore.JoinKey(vis, mustRel(s.bucketDir(vis), objPath))

	if err := os.MkdirAll(filepath.Dir(objPath), 0o750); err != nil {
		return "", objstore.NewUploadFailed(providerName, key, err)
	}
	if err := atomicWriteStream(objPath, src.Reader()); err != nil {
		return "", objstore.NewUploadFailed(providerName, key, err)
	}

	meta := sidecarMeta{
		ContentType: contentTypeOrDetect(opts, objPath),
		UploadedAt:  time.Now().UTC(),
		Visibility:  vis,
	}
	if opts != nil {
		meta.Metadata = opts.Metadata
	}
	if err := writeSidecar(metaPath, &meta); err != nil {
		return "", objstore.NewUploadFailed(providerName, key, err)
	}

	s.log.Debug("object stored", logger.Fields(logger.FieldKey, normalized))
	return normalized, nil
}

// Download opens the object and reads its sidecar for metadata.
func (s *Storage) Download(_ context.Context, key string) (io.ReadCloser, *objstore.Metadata, error) {
	if err := s.guard(); err != nil {
		return nil, nil, err
	}
	_, objPath, metaPath := s.resolve(key, objstore.VisibilityPrivate)

	f, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, objstore.NewNotFound(providerName, key)
		}
		return nil, nil, objstore.NewDownloadFailed(providerName, key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, objstore.NewDownloadFailed(providerName, key, err)
	}

	meta := s.loadMetadata(objPath, metaPath, info)
	return f, meta, nil
}

// StreamToResponse pipes the object to w with transport headers set.
func (s *Storage) StreamToResponse(ctx context.Context, key string, w http.ResponseWriter, opts *objstore.StreamOptions) error {
	return objstore.StreamObject(ctx, s, key, w, opts)
}

// Delete removes the object and its sidecar. Absence is not an error.
func (s *Storage) Delete(_ context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, objPath, metaPath := s.resolve(key, objstore.VisibilityPrivate)
	if err := os.Remove(objPath); err != nil && !os.IsNotExist(err) {
		return objstore.NewDeleteFailed(providerName, key, err)
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return objstore.NewDeleteFailed(providerName, key, err)
	}
	return nil
}

// Exists reports object presence, swallowing filesystem errors.
func (s *Storage) Exists(_ context.Context, key string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	_, objPath, _ := s.resolve(key, objstore.VisibilityPrivate)
	info, err := os.Stat(objPath)
	if err != nil {
		return false, nil
	}
	return !info.IsDir(), nil
}

// GetMetadata returns sidecar-backed metadata with backend-authoritative
// size and modification time.
func (s *Storage) GetMetadata(_ context.Context, key string) (*objstore.Metadata, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	_, objPath, metaPath := s.resolve(key, objstore.VisibilityPrivate)
	info, err := os.Stat(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, objstore.NewNotFound(providerName, key)
		}
		return nil, objstore.NewDownloadFailed(providerName, key, err)
	}
	return s.loadMetadata(objPath, metaPath, info), nil
}

func (s *Storage) loadMetadata(objPath, metaPath string, info os.FileInfo) *objstore.Metadata {
	meta := &objstore.Metadata{
		Size:         info.Size(),
		LastModified: info.ModTime(),
		ContentType:  detectContentType(objPath),
	}
	if sc, err := readSidecar(metaPath); err == nil {
		if sc.ContentType != "" {
			meta.ContentType = sc.ContentType
		}
		meta.Custom = sc.Metadata
	}
	return meta
}

// List walks the namespace directory implied by the prefix. The local
// filesystem has no native continuation token, so the adapter sorts the
// listing deterministically and synthesizes an offset cursor.
func (s *Storage) List(_ context.Context, opts objstore.ListOptions) (*objstore.ListResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	vis, rel := objstore.ResolveKey(opts.Prefix, objstore.VisibilityPrivate)
	root := s.bucketDir(vis)

	var keys []objstore.ObjectInfo
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		rp, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rp = filepath.ToSlash(rp)
		if !strings.HasPrefix(rp, rel) {
			return nil
		}
		keys = append(keys, objstore.ObjectInfo{
			Key:          objstore.JoinKey(vis, rp),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, objstore.NewDownloadFailed(providerName, opts.Prefix, err)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Key < keys[j].Key })

	offset := 0
	if opts.Cursor != "" {
		offset, err = strconv.Atoi(opts.Cursor)
		if err != nil || offset < 0 {
			return nil, objstore.NewInvalidKey(providerName, opts.Prefix, "malformed listing cursor")
		}
	}
	if offset > len(keys) {
		offset = len(keys)
	}
	max := opts.MaxResults
	if max <= 0 {
		max = 1000
	}

	end := offset + max
	result := &objstore.ListResult{}
	if end >= len(keys) {
		end = len(keys)
	} else {
		result.NextCursor = strconv.Itoa(end)
	}
	result.Objects = keys[offset:end]
	return result, nil
}

// Copy duplicates the object file and its sidecar, rewriting the sidecar
// visibility to the destination namespace so the ACL policy travels.
func (s *Storage) Copy(_ context.Context, sourceKey, destinationKey string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := objstore.ValidateKey(destinationKey); err != nil {
		return err
	}
	_, srcPath, srcMetaPath := s.resolve(sourceKey, objstore.VisibilityPrivate)
	dstVis, dstPath, dstMetaPath := s.resolve(destinationKey, objstore.VisibilityPrivate)

	src, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return objstore.NewNotFound(providerName, sourceKey)
		}
		return objstore.NewDownloadFailed(providerName, sourceKey, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o750); err != nil {
		return objstore.NewUploadFailed(providerName, destinationKey, err)
	}
	if err := atomicWriteStream(dstPath, src); err != nil {
		return objstore.NewUploadFailed(providerName, destinationKey, err)
	}

	meta, err := readSidecar(srcMetaPath)
	if err != nil {
		meta = &sidecarMeta{ContentType: detectContentType(srcPath), UploadedAt: time.Now().UTC()}
	}
	meta.Visibility = dstVis
	if meta.Acl != nil {
		meta.Acl.Visibility = dstVis
	}
	if err := writeSidecar(dstMetaPath, meta); err != nil {
		return objstore.NewUploadFailed(providerName, destinationKey, err)
	}
	return nil
}

// SetVisibility flips visibility in the sidecar. The object stays where
// it is; the sidecar is this adapter's visibility truth.
func (s *Storage) SetVisibility(_ context.Context, key string, visibility objstore.Visibility) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, objPath, metaPath := s.resolve(key, objstore.VisibilityPrivate)
	if _, err := os.Stat(objPath); err != nil {
		if os.IsNotExist(err) {
			return objstore.NewNotFound(providerName, key)
		}
		return objstore.NewDownloadFailed(providerName, key, err)
	}
	meta, err := readSidecar(metaPath)
	if err != nil {
		meta = &sidecarMeta{ContentType: detectContentType(objPath), UploadedAt: time.Now().UTC()}
	}
	meta.Visibility = visibility
	if meta.Acl != nil {
		meta.Acl.Visibility = visibility
	}
	if err := writeSidecar(metaPath, meta); err != nil {
		return objstore.NewUploadFailed(providerName, key, err)
	}
	return nil
}

// GetAclPolicy returns the sidecar policy. A sidecar without an explicit
// policy yields one synthesized from the recorded visibility.
func (s *Storage) GetAclPolicy(_ context.Context, key string) (*objstore.AclPolicy, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	_, _, metaPath := s.resolve(key, objstore.VisibilityPrivate)
	meta, err := readSidecar(metaPath)
	if err != nil {
		return nil, objstore.NewNotFound(providerName, key)
	}
	if meta.Acl != nil {
		return meta.Acl.Clone(), nil
	}
	return &objstore.AclPolicy{Visibility: meta.Visibility}, nil
}

// SetAclPolicy records the policy in the sidecar.
func (s *Storage) SetAclPolicy(_ context.Context, key string, policy *objstore.AclPolicy) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, objPath, metaPath := s.resolve(key, objstore.VisibilityPrivate)
	meta, err := readSidecar(metaPath)
	if err != nil {
		if _, statErr := os.Stat(objPath); statErr != nil {
			return objstore.NewNotFound(providerName, key)
		}
		meta = &sidecarMeta{ContentType: detectContentType(objPath), UploadedAt: time.Now().UTC()}
	}
	meta.Acl = policy.Clone()
	if policy != nil {
		meta.Visibility = policy.Visibility
	}
	if err := writeSidecar(metaPath, meta); err != nil {
		return objstore.NewUploadFailed(providerName, key, err)
	}
	return nil
}

// CanAccess evaluates the fail-closed access decision from sidecar state.
func (s *Storage) CanAccess(_ context.Context, key, userID string, permission objstore.Permission) bool {
	if !s.initialized {
		return false
	}
	_, _, metaPath := s.resolve(key, objstore.VisibilityPrivate)
	var policy *objstore.AclPolicy
	if meta, err := readSidecar(metaPath); err == nil {
		if meta.Acl != nil {
			policy = meta.Acl
		} else {
			policy = &objstore.AclPolicy{Visibility: meta.Visibility}
		}
	}
	return objstore.Decide(policy, key, userID, permission)
}

// GetSignedURL produces a locally validated HMAC-TTL URL. It requires a
// configured public base URL; the filesystem has no native signing.
func (s *Storage) GetSignedURL(_ context.Context, key string, opts objstore.SignedURLOptions) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if s.publicBaseURL == "" {
		return "", objstore.NewConfigurationError(providerName, "signed URLs require a configured public base URL")
	}
	return s.signer.SignedURL(s.publicBaseURL, key, opts)
}

// GetUploadURL mints a fresh private-namespace key and a signed PUT URL
// for it.
func (s *Storage) GetUploadURL(ctx context.Context, prefix string, ttl time.Duration) (*objstore.UploadTarget, error) {
	key := objstore.NewUploadKey(prefix)
	u, err := s.GetSignedURL(ctx, key, objstore.SignedURLOptions{Method: http.MethodPut, TTL: ttl})
	if err != nil {
		return nil, err
	}
	return &objstore.UploadTarget{URL: u, Key: key}, nil
}

// GetPublicURL returns a stable URL for public-namespace objects, or ""
// for private keys or when no public base URL is configured.
func (s *Storage) GetPublicURL(key string) string {
	if s.publicBaseURL == "" || !strings.HasPrefix(key, objstore.PublicPrefix) {
		return ""
	}
	return s.publicBaseURL + "/" + key
}

// NormalizeEntityPath maps file:// paths, public-base URLs, and
// bucket-relative paths back into the logical key space.
func (s *Storage) NormalizeEntityPath(rawPath string) string {
	p := rawPath
	if s.publicBaseURL != "" && strings.HasPrefix(p, s.publicBaseURL+"/") {
		p = strings.TrimPrefix(p, s.publicBaseURL+"/")
	}
	p = strings.TrimPrefix(p, "file://")
	if strings.HasPrefix(p, s.basePath) {
		p = strings.TrimPrefix(p, s.basePath)
		p = strings.TrimLeft(filepath.ToSlash(p), "/")
		return objstore.BucketPathToKey(p, s.publicBucket, s.privateBucket)
	}
	if strings.HasPrefix(p, objstore.PublicPrefix) || strings.HasPrefix(p, objstore.PrivatePrefix) {
		return path.Clean(p)
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

func contentTypeOrDetect(opts *objstore.UploadOptions, objPath string) string {
	if opts != nil && opts.ContentType != "" {
		return opts.ContentType
	}
	return detectContentType(objPath)
}

func detectContentType(objPath string) string {
	if ct := mime.TypeByExtension(filepath.Ext(objPath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	return filepath.ToSlash(rel)
}

// compile-time check
var _ objstore.Provider = (*Storage)(nil)
