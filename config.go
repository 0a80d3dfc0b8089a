package objstore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ProviderType selects the storage backend.
type ProviderType string

const (
	ProviderLocal   ProviderType = "local"
	ProviderS3      ProviderType = "s3"
	ProviderAzure   ProviderType = "azure_blob"
	ProviderGCS     ProviderType = "gcs"
	ProviderSidecar ProviderType = "replit"
)

// Default bucket/container names for the two namespaces.
const (
	DefaultPublicBucket  = "public"
	DefaultPrivateBucket = "private"
	// DefaultLocalPrivateDir is the private directory name for the local
	// adapter, matching the reserved key prefix.
	DefaultLocalPrivateDir = ".private"
)

// S3Config holds S3-specific settings.
type S3Config struct {
	Region         string `mapstructure:"region" json:"region"`
	AccessKey      string `mapstructure:"access_key" json:"access_key"`
	SecretKey      string `mapstructure:"secret_key" json:"secret_key"`
	Endpoint       string `mapstructure:"endpoint" json:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style" json:"force_path_style"`
}

// AzureConfig holds Azure Blob Storage settings. SAS signing requires
// AccountName+AccountKey; a connection string alone can serve data but
// cannot produce SAS tokens.
type AzureConfig struct {
	AccountName      string `mapstructure:"account_name" json:"account_name"`
	AccountKey       string `mapstructure:"account_key" json:"account_key"`
	ConnectionString string `mapstructure:"connection_string" json:"connection_string"`
}

// GCSConfig holds Google Cloud Storage settings.
type GCSConfig struct {
	ProjectID       string `mapstructure:"project_id" json:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file" json:"credentials_file"`
	// Endpoint overrides the API endpoint, for emulators.
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
}

// LocalConfig holds local filesystem settings.
type LocalConfig struct {
	// BasePath is the root directory holding the public and private trees.
	BasePath string `mapstructure:"base_path" json:"base_path"`
	// PublicBaseURL is the externally reachable base URL for public
	// objects and locally signed URLs. Without it the local adapter has
	// no public URLs and no signing.
	PublicBaseURL string `mapstructure:"public_base_url" json:"public_base_url"`
	// SigningSecret keys the HMAC tokens embedded in locally signed URLs.
	// Generated at initialization when empty (URLs then die on restart).
	SigningSecret string `mapstructure:"signing_secret" json:"signing_secret"`
}

// SidecarConfig holds settings for the managed object-storage sidecar.
type SidecarConfig struct {
	// Endpoint is the sidecar's base URL.
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// PrivateDir overrides where private objects live, as a
	// "<bucket>/<prefix>" path supplied by the managed environment.
	PrivateDir string `mapstructure:"private_dir" json:"private_dir"`
}

// DefaultSidecarEndpoint is where the managed runtime exposes its
// object-storage sidecar.
const DefaultSidecarEndpoint = "http://127.0.0.1:1106/object-storage"

// Config is the discriminated provider configuration consumed by the
// factory. Provider selects the backend; the matching sub-config applies.
type Config struct {
	Provider ProviderType `mapstructure:"provider" json:"provider"`

	// PublicBucket / PrivateBucket override the backend bucket/container
	// names for the two namespaces.
	PublicBucket  string `mapstructure:"public_bucket" json:"public_bucket"`
	PrivateBucket string `mapstructure:"private_bucket" json:"private_bucket"`

	// SearchPaths are probed in order by SearchPublicObject.
	SearchPaths []string `mapstructure:"search_paths" json:"search_paths"`

	S3      S3Config      `mapstructure:"s3" json:"s3"`
	Azure   AzureConfig   `mapstructure:"azure" json:"azure"`
	GCS     GCSConfig     `mapstructure:"gcs" json:"gcs"`
	Local   LocalConfig   `mapstructure:"local" json:"local"`
	Sidecar SidecarConfig `mapstructure:"sidecar" json:"sidecar"`
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	if c.PublicBucket == "" {
		c.PublicBucket = DefaultPublicBucket
	}
	if c.PrivateBucket == "" {
		if c.Provider == ProviderLocal {
			c.PrivateBucket = DefaultLocalPrivateDir
		} else {
			c.PrivateBucket = DefaultPrivateBucket
		}
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
	if c.Local.BasePath == "" {
		c.Local.BasePath = "/tmp/objstore"
	}
	if c.Sidecar.Endpoint == "" {
		c.Sidecar.Endpoint = DefaultSidecarEndpoint
	}
}

// Validate checks that the configuration is valid for the selected provider.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderLocal:
		if c.Local.BasePath == "" {
			return errors.New("objstore: local.base_path is required for local provider")
		}
	case ProviderS3:
		if c.S3.Region == "" {
			return errors.New("objstore: s3.region is required for s3 provider")
		}
	case ProviderAzure:
		var errs []error
		if c.Azure.ConnectionString == "" && c.Azure.AccountName == "" {
			errs = append(errs, errors.New("objstore: azure.account_name or azure.connection_string is required"))
		}
		if c.Azure.AccountName != "" && c.Azure.AccountKey == "" && c.Azure.ConnectionString == "" {
			errs = append(errs, errors.New("objstore: azure.account_key is required with azure.account_name"))
		}
		if len(errs) > 0 {
			return fmt.Errorf("objstore: invalid azure config: %w", errors.Join(errs...))
		}
	case ProviderGCS:
		if c.GCS.ProjectID == "" {
			return errors.New("objstore: gcs.project_id is required for gcs provider")
		}
	case ProviderSidecar:
		if c.Sidecar.Endpoint == "" {
			return errors.New("objstore: sidecar.endpoint is required for replit provider")
		}
	default:
		return fmt.Errorf("objstore: unsupported provider %q", c.Provider)
	}
	return nil
}

// LoadFromEnv resolves a Config from the process environment. A .env
// file in the working directory is loaded first when present. Variable
// names follow the deployment contract (STORAGE_PROVIDER, AWS_*, S3_*,
// AZURE_*, GCS_*, LOCAL_*).
func LoadFromEnv() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	v := viper.New()
	v.AutomaticEnv()
	for env := range envBindings {
		if err := v.BindEnv(env); err != nil {
			return Config{}, fmt.Errorf("objstore: bind env %s: %w", env, err)
		}
	}

	cfg := Config{
		Provider: ProviderType(v.GetString("STORAGE_PROVIDER")),
		S3: S3Config{
			Region:         v.GetString("AWS_REGION"),
			AccessKey:      v.GetString("AWS_ACCESS_KEY_ID"),
			SecretKey:      v.GetString("AWS_SECRET_ACCESS_KEY"),
			Endpoint:       v.GetString("S3_ENDPOINT"),
			ForcePathStyle: v.GetBool("S3_FORCE_PATH_STYLE"),
		},
		Azure: AzureConfig{
			AccountName:      v.GetString("AZURE_STORAGE_ACCOUNT_NAME"),
			AccountKey:       v.GetString("AZURE_STORAGE_ACCOUNT_KEY"),
			ConnectionString: v.GetString("AZURE_STORAGE_CONNECTION_STRING"),
		},
		GCS: GCSConfig{
			ProjectID:       v.GetString("GCP_PROJECT_ID"),
			CredentialsFile: v.GetString("GOOGLE_APPLICATION_CREDENTIALS"),
			Endpoint:        v.GetString("GCS_ENDPOINT"),
		},
		Local: LocalConfig{
			BasePath:      v.GetString("LOCAL_STORAGE_PATH"),
			PublicBaseURL: v.GetString("LOCAL_STORAGE_PUBLIC_URL"),
			SigningSecret: v.GetString("LOCAL_STORAGE_SIGNING_SECRET"),
		},
		Sidecar: SidecarConfig{
			Endpoint:   v.GetString("SIDECAR_ENDPOINT"),
			PrivateDir: v.GetString("PRIVATE_OBJECT_DIR"),
		},
	}

	if sp := v.GetString("PUBLIC_OBJECT_SEARCH_PATHS"); sp != "" {
		for _, p := range strings.Split(sp, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.SearchPaths = append(cfg.SearchPaths, p)
			}
		}
	}

	// Per-provider bucket overrides share the two Config fields.
	switch cfg.Provider {
	case ProviderAzure:
		cfg.PublicBucket = v.GetString("AZURE_PUBLIC_CONTAINER")
		cfg.PrivateBucket = v.GetString("AZURE_PRIVATE_CONTAINER")
	case ProviderGCS:
		cfg.PublicBucket = v.GetString("GCS_PUBLIC_BUCKET")
		cfg.PrivateBucket = v.GetString("GCS_PRIVATE_BUCKET")
	default:
		cfg.PublicBucket = v.GetString("S3_PUBLIC_BUCKET")
		cfg.PrivateBucket = v.GetString("S3_PRIVATE_BUCKET")
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// envBindings lists every environment variable the resolver reads.
var envBindings = map[string]struct{}{
	"STORAGE_PROVIDER":                {},
	"AWS_REGION":                      {},
	"AWS_ACCESS_KEY_ID":               {},
	"AWS_SECRET_ACCESS_KEY":           {},
	"S3_ENDPOINT":                     {},
	"S3_FORCE_PATH_STYLE":             {},
	"S3_PUBLIC_BUCKET":                {},
	"S3_PRIVATE_BUCKET":               {},
	"AZURE_STORAGE_ACCOUNT_NAME":      {},
	"AZURE_STORAGE_ACCOUNT_KEY":       {},
	"AZURE_STORAGE_CONNECTION_STRING": {},
	"AZURE_PUBLIC_CONTAINER":          {},
	"AZURE_PRIVATE_CONTAINER":         {},
	"GCP_PROJECT_ID":                  {},
	"GOOGLE_APPLICATION_CREDENTIALS":  {},
	"GCS_PUBLIC_BUCKET":               {},
	"GCS_PRIVATE_BUCKET":              {},
	"GCS_ENDPOINT":                    {},
	"LOCAL_STORAGE_PATH":              {},
	"LOCAL_STORAGE_PUBLIC_URL":        {},
	"LOCAL_STORAGE_SIGNING_SECRET":    {},
	"PUBLIC_OBJECT_SEARCH_PATHS":      {},
	"PRIVATE_OBJECT_DIR":              {},
	"SIDECAR_ENDPOINT":                {},
}
