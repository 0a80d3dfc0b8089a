// Package s3 implements the objstore contract on Amazon S3 and
// S3-compatible services (e.g. MinIO).
//
// The key's namespace prefix selects between the public and private
// buckets. Visibility changes are in-place: the object's canned ACL is
// flipped without moving it. User/role allow-lists have no S3-native
// equivalent and are tracked as an in-process overlay only.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/complykit/objstore"
	"github.com/complykit/objstore/logger"
)

const providerName = "s3"

func init() {
	objstore.RegisterFactory(objstore.ProviderS3, func(cfg objstore.Config, log *logger.Logger) (objstore.Provider, error) {
		return NewStorage(cfg, log)
	})
}

// Storage implements objstore.Provider using the AWS SDK v2.
type Storage struct {
	cfg           objstore.S3Config
	client        *awss3.Client
	presigner     *awss3.PresignClient
	publicBucket  string
	privateBucket string
	searchPaths   []string
	acl           *objstore.PolicyStore
	log           *logger.Logger
	initialized   bool
}

// NewStorage creates an un-initialized S3 adapter. Clients are built in
// Initialize.
func NewStorage(cfg objstore.Config, log *logger.Logger) (*Storage, error) {
	return &Storage{
		cfg:           cfg.S3,
		publicBucket:  cfg.PublicBucket,
		privateBucket: cfg.PrivateBucket,
		searchPaths:   cfg.SearchPaths,
		acl:           objstore.NewPolicyStore(),
		log:           log.WithProvider(providerName),
	}, nil
}

// Name returns the provider display name.
func (s *Storage) Name() string { return providerName }

// Capabilities: visibility flips in place via the object ACL.
func (s *Storage) Capabilities() objstore.Capabilities {
	return objstore.Capabilities{SupportsInPlaceVisibilityChange: true}
}

// Initialize builds the SDK clients and ensures both buckets exist.
func (s *Storage) Initialize(ctx context.Context) error {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s.cfg.Region),
	}
	if s.cfg.AccessKey != "" && s.cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKey, s.cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return objstore.NewConfigurationError(providerName, "load aws config: "+err.Error())
	}

	var s3Opts []func(*awss3.Options)
	if s.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else if s.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	s.client = awss3.NewFromConfig(awsCfg, s3Opts...)
	s.presigner = awss3.NewPresignClient(s.client)

	for _, bucket := range []string{s.publicBucket, s.privateBucket} {
		if err := s.ensureBucket(ctx, bucket); err != nil {
			return err
		}
	}
	s.initialized = true
	return nil
}

// ensureBucket creates the bucket when absent. Idempotent.
func (s *Storage) ensureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	input := &awss3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.cfg.Region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return objstore.NewConnectionError(providerName, fmt.Errorf("create bucket %s: %w", bucket, err))
	}
	return nil
}

// HealthCheck lists one key from the private bucket.
func (s *Storage) HealthCheck(ctx context.Context) bool {
	if !s.initialized {
		return false
	}
	_, err := s.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(s.privateBucket),
		MaxKeys: aws.Int32(1),
	})
	return err == nil
}

func (s *Storage) guard() error {
	if !s.initialized {
		return objstore.NewNotInitialized(providerName)
	}
	return nil
}

// resolve maps a logical key onto bucket + object name.
func (s *Storage) resolve(key string) (objstore.Visibility, string, string) {
	vis, name := objstore.ResolveKey(key, objstore.VisibilityPrivate)
	if vis == objstore.VisibilityPublic {
		return vis, s.publicBucket, name
	}
	return vis, s.privateBucket, name
}

// Upload drains the source into a single PutObject call.
func (s *Storage) Upload(ctx context.Context, key string, src objstore.UploadSource, opts *objstore.UploadOptions) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	if err := objstore.ValidateKey(key); err != nil {
		return "", err
	}
	vis, bucket, name := s.resolve(key)

	input := &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
		Body:   src.Reader(),
	}
	if opts != nil {
		if opts.ContentType != "" {
			input.ContentType = aws.String(opts.ContentType)
		}
		if len(opts.Metadata) > 0 {
			input.Metadata = opts.Metadata
		}
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", objstore.NewUploadFailed(providerName, key, err)
	}
	return objstore.JoinKey(vis, name), nil
}

// Download returns the object stream plus normalized metadata.
func (s *Storage) Download(ctx context.Context, key string) (io.ReadCloser, *objstore.Metadata, error) {
	if err := s.guard(); err != nil {
		return nil, nil, err
	}
	_, bucket, name := s.resolve(key)
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, objstore.NewNotFound(providerName, key)
		}
		return nil, nil, objstore.NewDownloadFailed(providerName, key, err)
	}
	meta := &objstore.Metadata{
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		Custom:      out.Metadata,
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	return out.Body, meta, nil
}

// StreamToResponse pipes the object to w with transport headers set.
func (s *Storage) StreamToResponse(ctx context.Context, key string, w http.ResponseWriter, opts *objstore.StreamOptions) error {
	return objstore.StreamObject(ctx, s, key, w, opts)
}

// Delete removes the object and drops its ACL overlay entry. Deleting a
// nonexistent key is not an error: S3 DeleteObject is itself idempotent.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, bucket, name := s.resolve(key)
	if _, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	}); err != nil {
		return objstore.NewDeleteFailed(providerName, key, err)
	}
	s.acl.Delete(key)
	return nil
}

// Exists probes with HeadObject, swallowing all backend errors.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.guard(); err != nil {
		return false, err
	}
	_, bucket, name := s.resolve(key)
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	return err == nil, nil
}

// GetMetadata heads the object.
func (s *Storage) GetMetadata(ctx context.Context, key string) (*objstore.Metadata, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	_, bucket, name := s.resolve(key)
	out, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, objstore.NewNotFound(providerName, key)
		}
		return nil, objstore.NewDownloadFailed(providerName, key, err)
	}
	meta := &objstore.Metadata{
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        strings.Trim(aws.ToString(out.ETag), `"`),
		Custom:      out.Metadata,
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	return meta, nil
}

// GetSignedURL presigns the requested operation locally; no network
// round trip is involved.
func (s *Storage) GetSignedURL(ctx context.Context, key string, opts objstore.SignedURLOptions) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	_, bucket, name := s.resolve(key)
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	expires := func(po *awss3.PresignOptions) { po.Expires = ttl }

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet:
		req, err := s.presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(bucket), Key: aws.String(name),
		}, expires)
		if err != nil {
			return "", objstore.NewConfigurationError(providerName, "presign GET: "+err.Error())
		}
		return req.URL, nil
	case http.MethodPut:
		input := &awss3.PutObjectInput{Bucket: aws.String(bucket), Key: aws.String(name)}
		if opts.ContentType != "" {
			input.ContentType = aws.String(opts.ContentType)
		}
		req, err := s.presigner.PresignPutObject(ctx, input, expires)
		if err != nil {
			return "", objstore.NewConfigurationError(providerName, "presign PUT: "+err.Error())
		}
		return req.URL, nil
	case http.MethodDelete:
		req, err := s.presigner.PresignDeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(bucket), Key: aws.String(name),
		}, expires)
		if err != nil {
			return "", objstore.NewConfigurationError(providerName, "presign DELETE: "+err.Error())
		}
		return req.URL, nil
	case http.MethodHead:
		req, err := s.presigner.PresignHeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(bucket), Key: aws.String(name),
		}, expires)
		if err != nil {
			return "", objstore.NewConfigurationError(providerName, "presign HEAD: "+err.Error())
		}
		return req.URL, nil
	default:
		return "", objstore.NewConfigurationError(providerName, "unsupported signed URL method "+method)
	}
}

// GetUploadURL mints a fresh private key and presigns a PUT for it.
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

// List returns one page via ListObjectsV2, passing the opaque
// continuation token straight through.
func (s *Storage) List(ctx context.Context, opts objstore.ListOptions) (*objstore.ListResult, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	vis, bucket, prefix := s.resolve(opts.Prefix)

	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if opts.Cursor != "" {
		input.ContinuationToken = aws.String(opts.Cursor)
	}
	if opts.MaxResults > 0 {
		input.MaxKeys = aws.Int32(int32(opts.MaxResults))
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, objstore.NewConnectionError(providerName, err)
	}

	result := &objstore.ListResult{}
	for _, obj := range out.Contents {
		info := objstore.ObjectInfo{
			Key:  objstore.JoinKey(vis, aws.ToString(obj.Key)),
			Size: aws.ToInt64(obj.Size),
			ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
		}
		if obj.LastModified != nil {
			info.LastModified = *obj.LastModified
		}
		result.Objects = append(result.Objects, info)
	}
	if aws.ToBool(out.IsTruncated) {
		result.NextCursor = aws.ToString(out.NextContinuationToken)
	}
	return result, nil
}

// Copy duplicates backend-natively with CopyObject and carries the ACL
// overlay to the destination.
func (s *Storage) Copy(ctx context.Context, sourceKey, destinationKey string) error {
	if err := s.guard(); err != nil {
		return err
	}
	if err := objstore.ValidateKey(destinationKey); err != nil {
		return err
	}
	_, srcBucket, srcName := s.resolve(sourceKey)
	dstVis, dstBucket, dstName := s.resolve(destinationKey)

	_, err := s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstName),
		CopySource: aws.String(srcBucket + "/" + srcName),
	})
	if err != nil {
		if isNotFound(err) {
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

// SetVisibility flips the object's canned ACL in place and records the
// change in the overlay.
func (s *Storage) SetVisibility(ctx context.Context, key string, visibility objstore.Visibility) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, bucket, name := s.resolve(key)

	acl := types.ObjectCannedACLPrivate
	if visibility == objstore.VisibilityPublic {
		acl = types.ObjectCannedACLPublicRead
	}
	if _, err := s.client.PutObjectAcl(ctx, &awss3.PutObjectAclInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(name),
		ACL:    acl,
	}); err != nil {
		if isNotFound(err) {
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

// SetAclPolicy records the overlay policy. S3's native ACL only knows
// public/private; the allow-lists are an application-level overlay the
// backend does not enforce.
func (s *Storage) SetAclPolicy(ctx context.Context, key string, policy *objstore.AclPolicy) error {
	if err := s.guard(); err != nil {
		return err
	}
	if policy != nil {
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

// GetPublicURL returns a stable unsigned URL for public-namespace keys.
func (s *Storage) GetPublicURL(key string) string {
	vis, _, name := s.resolve(key)
	if vis != objstore.VisibilityPublic {
		return ""
	}
	if s.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.Endpoint, "/"), s.publicBucket, name)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.publicBucket, s.cfg.Region, name)
}

// NormalizeEntityPath maps S3 URLs (virtual-hosted or path style) back
// into the logical key space.
func (s *Storage) NormalizeEntityPath(rawPath string) string {
	p := rawPath
	for _, scheme := range []string{"https://", "http://"} {
		p = strings.TrimPrefix(p, scheme)
	}
	if rawPath != p {
		// Virtual-hosted style: <bucket>.s3.<region>.amazonaws.com/<name>.
		if host, rest, ok := strings.Cut(p, "/"); ok {
			if bucket, _, found := strings.Cut(host, ".s3."); found && strings.HasSuffix(host, ".amazonaws.com") {
				return objstore.BucketPathToKey(bucket+"/"+rest, s.publicBucket, s.privateBucket)
			}
			// Path style: endpoint host followed by /<bucket>/<name>.
			return objstore.BucketPathToKey(rest, s.publicBucket, s.privateBucket)
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

// isNotFound classifies SDK errors that mean "no such object".
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

// compile-time check
var _ objstore.Provider = (*Storage)(nil)
