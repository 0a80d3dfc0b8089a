package objstore

import (
	"context"
	"testing"
)

func TestByteClient_RoundTrip(t *testing.T) {
	client := NewByteClient(newFakeProvider())
	ctx := context.Background()

	key, err := client.Upload(ctx, "report.pdf", []byte("pdf bytes"), nil)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if key != ".private/report.pdf" {
		t.Errorf("Upload() key = %q, want normalized private key", key)
	}

	exists, err := client.Exists(ctx, key)
	if err != nil || !exists {
		t.Fatalf("Exists() = (%v, %v), want (true, nil)", exists, err)
	}

	data, meta, err := client.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(data) != "pdf bytes" {
		t.Errorf("Download() = %q, want original bytes", data)
	}
	if meta == nil || meta.Size != int64(len(data)) {
		t.Errorf("Download() meta = %+v, want backend size", meta)
	}

	if err := client.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	exists, _ = client.Exists(ctx, key)
	if exists {
		t.Error("object should be gone after Delete")
	}
}

func TestByteClient_DownloadMissing(t *testing.T) {
	client := NewByteClient(newFakeProvider())
	_, _, err := client.Download(context.Background(), ".private/missing")
	if !IsNotFound(err) {
		t.Fatalf("Download() error = %v, want NOT_FOUND", err)
	}
}
