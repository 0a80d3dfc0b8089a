package objstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Metadata contains backend-authoritative metadata about a stored object.
// Size and LastModified always come from the backend; this layer never
// computes or caches them independently.
type Metadata struct {
	ContentType  string
	Size         int64
	LastModified time.Time
	ETag         string
	Custom       map[string]string
}

// ObjectInfo describes one object in a listing. Key is always a logical
// key, re-prefixed with its namespace.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// UploadSource carries the bytes for an upload. Construct it with
// BytesSource or ReaderSource; internally the layer always treats the
// source as a stream so backpressure is preserved.
type UploadSource struct {
	reader io.Reader
}

// BytesSource wraps an in-memory buffer as an upload source.
func BytesSource(data []byte) UploadSource {
	return UploadSource{reader: bytes.NewReader(data)}
}

// ReaderSource wraps a readable byte stream as an upload source. The
// stream is fully drained into a single backend write.
func ReaderSource(r io.Reader) UploadSource {
	return UploadSource{reader: r}
}

// Reader returns the underlying stream, or nil for a zero value.
func (s UploadSource) Reader() io.Reader { return s.reader }

// UploadOptions control an upload.
type UploadOptions struct {
	// ContentType of the object. Defaults to application/octet-stream.
	ContentType string
	// Metadata is free-form custom metadata stored with the object.
	Metadata map[string]string
	// IsPublic places a key without a namespace prefix into the public
	// namespace. Keys that already carry a prefix ignore this flag.
	IsPublic bool
}

// StreamOptions control StreamToResponse.
type StreamOptions struct {
	// CacheTTL sets Cache-Control: private, max-age=<ttl>. Zero means
	// no-store semantics.
	CacheTTL time.Duration
}

// SignedURLOptions describe a signed URL request. TTL expiry is enforced
// by the backend, or by the adapter's own token validation where the
// backend has no native signing.
type SignedURLOptions struct {
	// Method is one of GET, PUT, DELETE, HEAD. Defaults to GET.
	Method string
	// TTL is how long the URL stays valid.
	TTL time.Duration
	// ContentType constrains the upload content type. Enforced for PUT only.
	ContentType string
}

// UploadTarget is the result of GetUploadURL: a presigned PUT URL plus
// the key the upload will land on.
type UploadTarget struct {
	URL string
	Key string
}

// ListOptions select a page of a listing. Cursor is backend-opaque: pass
// back the NextCursor of the previous page unmodified.
type ListOptions struct {
	Prefix     string
	Cursor     string
	MaxResults int
}

// ListResult is one page of a listing. An empty NextCursor means
// end-of-listing.
type ListResult struct {
	Objects    []ObjectInfo
	NextCursor string
}

// Capabilities declares static, per-adapter capability flags.
type Capabilities struct {
	// SupportsInPlaceVisibilityChange is true when visibility can be
	// mutated without moving the object between namespaces. Adapters with
	// this flag false must refuse cross-namespace SetVisibility calls with
	// PERMISSION_DENIED naming the copy+delete remedy.
	SupportsInPlaceVisibilityChange bool
}

// Provider is the contract every storage backend implements. Callers use
// only this surface and stay backend-agnostic.
//
// A Provider must be Initialized exactly once before use; every other
// operation on a partially initialized provider fails fast with
// CONFIGURATION_ERROR. All methods are safe for concurrent use.
type Provider interface {
	// Name returns the provider's display name, used in error and log
	// attribution.
	Name() string

	// Capabilities returns the adapter's static capability flags.
	Capabilities() Capabilities

	// Initialize establishes backend clients and credentials and creates
	// backend buckets/containers if absent. Idempotent bucket creation,
	// but the call itself must happen exactly once before any other
	// operation. Failure is fatal to provider construction.
	Initialize(ctx context.Context) error

	// HealthCheck performs a cheap read-only backend call. It never
	// returns an error: internal failures are swallowed and reported as
	// false.
	HealthCheck(ctx context.Context) bool

	// Upload fully drains src into a single backend write and returns the
	// normalized logical key.
	Upload(ctx context.Context, key string, src UploadSource, opts *UploadOptions) (string, error)

	// Download returns the object's byte stream plus its metadata. The
	// caller must close the stream.
	Download(ctx context.Context, key string) (io.ReadCloser, *Metadata, error)

	// StreamToResponse sets transport headers (content type, length,
	// cache TTL) and pipes the object to w without buffering it whole.
	StreamToResponse(ctx context.Context, key string, w http.ResponseWriter, opts *StreamOptions) error

	// Delete removes the object. Deleting a nonexistent key is not an
	// error. Any cached ACL policy for the key is invalidated.
	Delete(ctx context.Context, key string) error

	// Exists reports object presence. Backend errors are swallowed as
	// false: existence probes never throw.
	Exists(ctx context.Context, key string) (bool, error)

	// GetMetadata returns normalized metadata, or NOT_FOUND.
	GetMetadata(ctx context.Context, key string) (*Metadata, error)

	// GetSignedURL returns a time-boxed URL for the given operation.
	GetSignedURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)

	// GetUploadURL generates a fresh cryptographically-unpredictable
	// object key under the private namespace (optionally under prefix)
	// and returns a presigned PUT URL for it.
	GetUploadURL(ctx context.Context, prefix string, ttl time.Duration) (*UploadTarget, error)

	// List returns one page of keys under the prefix, re-prefixed with
	// their namespace.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Copy duplicates an object backend-natively where possible and
	// propagates any adapter-tracked ACL policy to the destination.
	// Cross-namespace copies are how visibility changes happen on
	// adapters that cannot flip visibility in place.
	Copy(ctx context.Context, sourceKey, destinationKey string) error

	// SetVisibility changes the object's public/private status in place.
	// Adapters whose Capabilities report no in-place support return
	// PERMISSION_DENIED for namespace-crossing changes, with a message
	// naming the copy+delete remedy.
	SetVisibility(ctx context.Context, key string, visibility Visibility) error

	// GetAclPolicy returns the recorded policy for the key, or NOT_FOUND
	// when none is recorded.
	GetAclPolicy(ctx context.Context, key string) (*AclPolicy, error)

	// SetAclPolicy records the policy for the key.
	SetAclPolicy(ctx context.Context, key string, policy *AclPolicy) error

	// CanAccess evaluates the fail-closed access decision for userID and
	// the requested permission. An empty userID means anonymous.
	CanAccess(ctx context.Context, key, userID string, permission Permission) bool

	// GetPublicURL returns a stable unsigned URL for public-namespace
	// objects, or "" for private objects or when no public base URL is
	// configured. It never fails.
	GetPublicURL(key string) string

	// NormalizeEntityPath translates a backend-returned absolute
	// reference (e.g. a full cloud URL) back into the logical key space.
	NormalizeEntityPath(rawPath string) string

	// SearchPublicObject probes the configured public search paths for an
	// object by relative path and returns its logical key, or NOT_FOUND.
	SearchPublicObject(ctx context.Context, filePath string) (string, error)
}

// StreamObject is the shared StreamToResponse implementation: download,
// set headers, pipe. Adapters delegate to it.
func StreamObject(ctx context.Context, p Provider, key string, w http.ResponseWriter, opts *StreamOptions) error {
	rc, meta, err := p.Download(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	return WriteObject(w, rc, meta, opts)
}

// SearchPublic probes searchPaths in order for filePath and returns the
// first logical key that exists. Shared by all adapters.
func SearchPublic(ctx context.Context, p Provider, searchPaths []string, filePath string) (string, error) {
	if len(searchPaths) == 0 {
		searchPaths = []string{PublicPrefix}
	}
	for _, sp := range searchPaths {
		key := JoinSearchPath(sp, filePath)
		ok, err := p.Exists(ctx, key)
		if err != nil {
			continue
		}
		if ok {
			return key, nil
		}
	}
	return "", NewNotFound(p.Name(), filePath)
}
