package objstore

import (
	"path"
	"strings"

	"github.com/google/uuid"
)

// Reserved namespace prefixes. A key's prefix is the single source of
// truth for which backend bucket/container an adapter targets.
const (
	PrivatePrefix = ".private/"
	PublicPrefix  = "public/"
)

// Visibility is an object's coarse access posture.
type Visibility string

const (
	VisibilityPublic  Visibility = "PUBLIC"
	VisibilityPrivate Visibility = "PRIVATE"
)

// ResolveKey determines a key's namespace and strips the prefix to obtain
// the backend-native object name. Keys without a reserved prefix fall
// back to def (private for cloud adapters; the local adapter passes the
// visibility implied by the upload's IsPublic flag).
func ResolveKey(key string, def Visibility) (Visibility, string) {
	switch {
	case strings.HasPrefix(key, PrivatePrefix):
		return VisibilityPrivate, strings.TrimPrefix(key, PrivatePrefix)
	case strings.HasPrefix(key, PublicPrefix):
		return VisibilityPublic, strings.TrimPrefix(key, PublicPrefix)
	default:
		return def, key
	}
}

// JoinKey re-applies the namespace prefix to a backend-native object
// name. Every value handed back to callers goes through this: callers
// never see backend-native paths.
func JoinKey(v Visibility, name string) string {
	if v == VisibilityPublic {
		return PublicPrefix + name
	}
	return PrivatePrefix + name
}

// JoinSearchPath joins a configured public search path with a relative
// file path into a logical key.
func JoinSearchPath(searchPath, filePath string) string {
	sp := strings.Trim(searchPath, "/")
	fp := strings.TrimLeft(filePath, "/")
	if sp == "" {
		return PublicPrefix + fp
	}
	key := path.Join(sp, fp)
	if !strings.HasPrefix(key, PublicPrefix) && !strings.HasPrefix(key, PrivatePrefix) {
		key = PublicPrefix + key
	}
	return key
}

// BucketPathToKey maps a "<bucket>/<object>" reference back into the
// logical key space by matching the bucket against the configured
// public/private bucket names. Unrecognized buckets map to the private
// namespace, the conservative default.
func BucketPathToKey(p, publicBucket, privateBucket string) string {
	p = strings.TrimLeft(p, "/")
	bucket, rest, found := strings.Cut(p, "/")
	if !found {
		return JoinKey(VisibilityPrivate, p)
	}
	switch bucket {
	case publicBucket:
		return JoinKey(VisibilityPublic, rest)
	case privateBucket:
		return JoinKey(VisibilityPrivate, rest)
	default:
		return JoinKey(VisibilityPrivate, p)
	}
}

// NewUploadKey generates a fresh private-namespace key for a direct
// upload, optionally under a caller-supplied sub-prefix. The identifier
// is a random UUID, not a counter, so keys cannot be guessed.
func NewUploadKey(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "uploads"
	}
	return PrivatePrefix + prefix + "/" + uuid.NewString()
}

// ValidateKey rejects keys that are empty, escape the key space, or
// contain characters no backend accepts.
func ValidateKey(key string) error {
	if key == "" {
		return NewInvalidKey("", key, "key must not be empty")
	}
	if strings.HasPrefix(key, "/") {
		return NewInvalidKey("", key, "key must not start with a slash")
	}
	if strings.Contains(key, "\\") {
		return NewInvalidKey("", key, "key must use forward slashes")
	}
	if strings.Contains(key, "\x00") {
		return NewInvalidKey("", key, "key must not contain NUL")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return NewInvalidKey("", key, "key must not contain path traversal segments")
		}
	}
	return nil
}
