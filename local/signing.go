package local

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/complykit/objstore"
)

// urlSigner mints and validates the HMAC-TTL tokens embedded in locally
// signed URLs. The filesystem backend has no native presigning, so
// expiry is enforced by the adapter itself when the URL is presented.
type urlSigner struct {
	secret []byte
}

func newURLSigner(secret []byte) *urlSigner {
	if len(secret) == 0 {
		// Ephemeral secret: locally signed URLs then die with the process.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("local: cannot seed signing secret: " + err.Error())
		}
	}
	return &urlSigner{secret: secret}
}

func (g *urlSigner) token(method, key, contentType string, expires int64) string {
	mac := hmac.New(sha256.New, g.secret)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%d", strings.ToUpper(method), key, contentType, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedURL builds "<base>/<key>?method=&exp=&ct=&sig=".
func (g *urlSigner) SignedURL(baseURL, key string, opts objstore.SignedURLOptions) (string, error) {
	if err := objstore.ValidateKey(key); err != nil {
		return "", err
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead:
	default:
		return "", objstore.NewConfigurationError(providerName, "unsupported signed URL method "+method)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	expires := time.Now().Add(ttl).Unix()

	q := url.Values{}
	q.Set("method", method)
	q.Set("exp", strconv.FormatInt(expires, 10))
	if method == http.MethodPut && opts.ContentType != "" {
		q.Set("ct", opts.ContentType)
	}
	q.Set("sig", g.token(method, key, q.Get("ct"), expires))

	escaped := (&url.URL{Path: key}).EscapedPath()
	return baseURL + "/" + escaped + "?" + q.Encode(), nil
}

// validate checks a presented token against the request parameters.
func (g *urlSigner) validate(method, key string, q url.Values) error {
	expires, err := strconv.ParseInt(q.Get("exp"), 10, 64)
	if err != nil {
		return fmt.Errorf("malformed expiry")
	}
	if time.Now().Unix() > expires {
		return fmt.Errorf("signed URL expired")
	}
	if q.Get("method") != method {
		return fmt.Errorf("signed URL method mismatch")
	}
	want := g.token(method, key, q.Get("ct"), expires)
	if !hmac.Equal([]byte(want), []byte(q.Get("sig"))) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// Handler serves the adapter's signed URLs: GET/HEAD read objects, PUT
// stores them (enforcing the signed content-type constraint), DELETE
// removes them. Mount it at the path the configured public base URL
// points to.
func (s *Storage) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimLeft(r.URL.Path, "/")
		if err := objstore.ValidateKey(key); err != nil {
			http.Error(w, "invalid object key", http.StatusBadRequest)
			return
		}
		if err := s.signer.validate(r.Method, key, r.URL.Query()); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}

		ctx := r.Context()
		switch r.Method {
		case http.MethodGet:
			if err := s.StreamToResponse(ctx, key, w, nil); err != nil {
				writeStorageError(w, err)
			}
		case http.MethodHead:
			meta, err := s.GetMetadata(ctx, key)
			if err != nil {
				writeStorageError(w, err)
				return
			}
			w.Header().Set("Content-Type", meta.ContentType)
			w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
		case http.MethodPut:
			if ct := r.URL.Query().Get("ct"); ct != "" && r.Header.Get("Content-Type") != ct {
				http.Error(w, "content type does not match signed constraint", http.StatusForbidden)
				return
			}
			opts := &objstore.UploadOptions{ContentType: r.Header.Get("Content-Type")}
			if _, err := s.Upload(ctx, key, objstore.ReaderSource(r.Body), opts); err != nil {
				writeStorageError(w, err)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			if err := s.Delete(ctx, key); err != nil {
				writeStorageError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func writeStorageError(w http.ResponseWriter, err error) {
	switch objstore.CodeOf(err) {
	case objstore.ErrCodeNotFound:
		http.Error(w, "object not found", http.StatusNotFound)
	case objstore.ErrCodePermissionDenied:
		http.Error(w, "forbidden", http.StatusForbidden)
	case objstore.ErrCodeInvalidKey:
		http.Error(w, "invalid object key", http.StatusBadRequest)
	default:
		http.Error(w, "storage error", http.StatusInternalServerError)
	}
}
