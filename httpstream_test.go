package objstore

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWriteObject_Headers(t *testing.T) {
	w := httptest.NewRecorder()
	meta := &Metadata{ContentType: "image/png", Size: 5}
	if err := WriteObject(w, strings.NewReader("bytes"), meta, &StreamOptions{CacheTTL: 2 * time.Minute}); err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}

	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", got)
	}
	if got := w.Header().Get("Content-Length"); got != "5" {
		t.Errorf("Content-Length = %q, want 5", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "private, max-age=120" {
		t.Errorf("Cache-Control = %q, want private max-age", got)
	}
	if w.Body.String() != "bytes" {
		t.Errorf("body = %q, want streamed bytes", w.Body.String())
	}
}

func TestWriteObject_Defaults(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteObject(w, strings.NewReader("x"), nil, nil); err != nil {
		t.Fatalf("WriteObject() error = %v", err)
	}
	if got := w.Header().Get("Content-Type"); got != "application/octet-stream" {
		t.Errorf("Content-Type = %q, want octet-stream default", got)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := w.Header().Get("Content-Length"); got != "" {
		t.Errorf("Content-Length = %q, want unset without size", got)
	}
}

func TestStreamObject(t *testing.T) {
	fake := newFakeProvider()
	ctx := context.Background()
	key, err := fake.Upload(ctx, "public/hello.txt", BytesSource([]byte("hello")), &UploadOptions{IsPublic: true})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	w := httptest.NewRecorder()
	if err := StreamObject(ctx, fake, key, w, nil); err != nil {
		t.Fatalf("StreamObject() error = %v", err)
	}
	if w.Body.String() != "hello" {
		t.Errorf("body = %q, want hello", w.Body.String())
	}

	if err := StreamObject(ctx, fake, ".private/nope", httptest.NewRecorder(), nil); !IsNotFound(err) {
		t.Errorf("StreamObject() error = %v, want NOT_FOUND", err)
	}
}

func TestSearchPublic(t *testing.T) {
	fake := newFakeProvider()
	ctx := context.Background()
	if _, err := fake.Upload(ctx, "public/assets/logo.png", BytesSource([]byte("png")), nil); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	key, err := SearchPublic(ctx, fake, []string{"public/static", "public/assets"}, "logo.png")
	if err != nil {
		t.Fatalf("SearchPublic() error = %v", err)
	}
	if key != "public/assets/logo.png" {
		t.Errorf("SearchPublic() = %q, want the assets key", key)
	}

	if _, err := SearchPublic(ctx, fake, nil, "missing.png"); !IsNotFound(err) {
		t.Errorf("SearchPublic() error = %v, want NOT_FOUND", err)
	}
}
