package objstore

import (
	"testing"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Provider != ProviderLocal {
		t.Errorf("Provider = %q, want local default", cfg.Provider)
	}
	if cfg.PublicBucket != DefaultPublicBucket {
		t.Errorf("PublicBucket = %q, want %q", cfg.PublicBucket, DefaultPublicBucket)
	}
	if cfg.PrivateBucket != DefaultLocalPrivateDir {
		t.Errorf("PrivateBucket = %q, want %q for local", cfg.PrivateBucket, DefaultLocalPrivateDir)
	}
	if cfg.Sidecar.Endpoint != DefaultSidecarEndpoint {
		t.Errorf("Sidecar.Endpoint = %q, want default", cfg.Sidecar.Endpoint)
	}

	s3cfg := Config{Provider: ProviderS3}
	s3cfg.ApplyDefaults()
	if s3cfg.PrivateBucket != DefaultPrivateBucket {
		t.Errorf("PrivateBucket = %q, want %q for s3", s3cfg.PrivateBucket, DefaultPrivateBucket)
	}
	if s3cfg.S3.Region != "us-east-1" {
		t.Errorf("S3.Region = %q, want default region", s3cfg.S3.Region)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"local ok", Config{Provider: ProviderLocal, Local: LocalConfig{BasePath: "/tmp/x"}}, false},
		{"local missing path", Config{Provider: ProviderLocal}, true},
		{"s3 ok", Config{Provider: ProviderS3, S3: S3Config{Region: "eu-west-1"}}, false},
		{"s3 missing region", Config{Provider: ProviderS3}, true},
		{"azure shared key ok", Config{Provider: ProviderAzure, Azure: AzureConfig{AccountName: "acct", AccountKey: "key"}}, false},
		{"azure connection string ok", Config{Provider: ProviderAzure, Azure: AzureConfig{ConnectionString: "cs"}}, false},
		{"azure name without key", Config{Provider: ProviderAzure, Azure: AzureConfig{AccountName: "acct"}}, true},
		{"azure empty", Config{Provider: ProviderAzure}, true},
		{"gcs ok", Config{Provider: ProviderGCS, GCS: GCSConfig{ProjectID: "proj"}}, false},
		{"gcs missing project", Config{Provider: ProviderGCS}, true},
		{"sidecar ok", Config{Provider: ProviderSidecar, Sidecar: SidecarConfig{Endpoint: "http://localhost:1106"}}, false},
		{"sidecar missing endpoint", Config{Provider: ProviderSidecar}, true},
		{"unknown provider", Config{Provider: "ftp"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv_S3(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "s3")
	t.Setenv("AWS_REGION", "eu-central-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIATEST")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_FORCE_PATH_STYLE", "true")
	t.Setenv("S3_PUBLIC_BUCKET", "pub")
	t.Setenv("S3_PRIVATE_BUCKET", "priv")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Provider != ProviderS3 {
		t.Errorf("Provider = %q, want s3", cfg.Provider)
	}
	if cfg.S3.Region != "eu-central-1" {
		t.Errorf("Region = %q, want eu-central-1", cfg.S3.Region)
	}
	if !cfg.S3.ForcePathStyle {
		t.Error("expected ForcePathStyle=true")
	}
	if cfg.PublicBucket != "pub" || cfg.PrivateBucket != "priv" {
		t.Errorf("buckets = %q/%q, want pub/priv", cfg.PublicBucket, cfg.PrivateBucket)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("resolved config should validate: %v", err)
	}
}

func TestLoadFromEnv_SearchPaths(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "replit")
	t.Setenv("PUBLIC_OBJECT_SEARCH_PATHS", "public/assets, public/static ,")
	t.Setenv("PRIVATE_OBJECT_DIR", "bucket-123/.private")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	want := []string{"public/assets", "public/static"}
	if len(cfg.SearchPaths) != len(want) {
		t.Fatalf("SearchPaths = %v, want %v", cfg.SearchPaths, want)
	}
	for i := range want {
		if cfg.SearchPaths[i] != want[i] {
			t.Errorf("SearchPaths[%d] = %q, want %q", i, cfg.SearchPaths[i], want[i])
		}
	}
	if cfg.Sidecar.PrivateDir != "bucket-123/.private" {
		t.Errorf("PrivateDir = %q, want bucket-123/.private", cfg.Sidecar.PrivateDir)
	}
	if cfg.Sidecar.Endpoint != DefaultSidecarEndpoint {
		t.Errorf("Endpoint = %q, want default applied", cfg.Sidecar.Endpoint)
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("STORAGE_PROVIDER", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Provider != ProviderLocal {
		t.Errorf("Provider = %q, want local fallback", cfg.Provider)
	}
	if cfg.Local.BasePath == "" {
		t.Error("expected default local base path")
	}
}
