package objstore

import (
	"context"
	"io"
)

// ByteClient is a []byte-oriented facade over the streaming Provider for
// callers that work with in-memory data rather than streams.
type ByteClient struct {
	provider Provider
}

// NewByteClient wraps a Provider with []byte convenience methods.
func NewByteClient(p Provider) *ByteClient {
	return &ByteClient{provider: p}
}

// Upload stores data at the given key and returns the normalized key.
func (c *ByteClient) Upload(ctx context.Context, key string, data []byte, opts *UploadOptions) (string, error) {
	return c.provider.Upload(ctx, key, BytesSource(data), opts)
}

// Download retrieves the full object plus its metadata.
func (c *ByteClient) Download(ctx context.Context, key string) ([]byte, *Metadata, error) {
	rc, meta, err := c.provider.Download(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, NewDownloadFailed(c.provider.Name(), key, err)
	}
	return data, meta, nil
}

// Delete removes the object at the given key.
func (c *ByteClient) Delete(ctx context.Context, key string) error {
	return c.provider.Delete(ctx, key)
}

// Exists checks whether an object exists at the given key.
func (c *ByteClient) Exists(ctx context.Context, key string) (bool, error) {
	return c.provider.Exists(ctx, key)
}
