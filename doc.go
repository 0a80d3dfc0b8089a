// Package objstore provides a single logical contract for storing,
// retrieving, listing, copying, and access-controlling binary objects,
// backed interchangeably by a local filesystem, Amazon S3, Azure Blob
// Storage, Google Cloud Storage, or a managed object-storage sidecar.
//
// The backend is selected at startup via configuration; caller code is
// backend-agnostic. Logical keys are partitioned into a private
// (".private/") and a public ("public/") namespace, and the namespace
// prefix alone determines which backend bucket or container an object
// lives in.
//
// # Backends
//
//   - objstore/local: local filesystem with sidecar metadata files
//   - objstore/s3: Amazon S3 and S3-compatible services
//   - objstore/azure: Azure Blob Storage
//   - objstore/gcs: Google Cloud Storage
//   - objstore/sidecar: managed object storage behind a local REST sidecar
//
// Backend packages register themselves via init, so import the ones you
// intend to select:
//
//	import _ "github.com/complykit/objstore/local"
//
// # Selecting a provider
//
//	cfg, _ := objstore.LoadFromEnv()
//	reg := objstore.NewRegistry(log)
//	provider, err := reg.Activate(ctx, cfg)
package objstore
