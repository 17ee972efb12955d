// Package relay moves result artifacts between the external worker,
// local disk, and the object store. No byte transformation happens here;
// image processing is the worker's job.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"content-pipeline-service/internal/entity"
)

// PresignExpiry is how long presigned artifact URLs stay fetchable when
// handed to external workers.
const PresignExpiry = 7 * 24 * time.Hour

var ErrSizeMismatch = errors.New("downloaded size does not match worker size hint")

// ObjectStore is the slice of the object-store client the relay needs.
// Implemented by S3Store; faked in tests.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Bucket() string
}

type Relay struct {
	client      *http.Client
	store       ObjectStore
	scratchDir  string
	maxAttempts int
	backoff     time.Duration
}

func New(client *http.Client, store ObjectStore, scratchDir string, maxAttempts int, backoff time.Duration) *Relay {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Relay{client: client, store: store, scratchDir: scratchDir, maxAttempts: maxAttempts, backoff: backoff}
}

// Fetch downloads the worker's result URL to local scratch storage,
// verifying any size hint the worker returned. Transient failures are
// retried with backoff up to the configured attempt budget.
func (r *Relay) Fetch(ctx context.Context, ref entity.ArtifactRef) (string, error) {
	if ref.URL == "" {
		return "", errors.New("artifact has no fetchable URL")
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.backoff):
			}
			log.Printf("[relay] fetch url=%s attempt=%d", ref.URL, attempt)
		}

		local, err := r.fetchOnce(ctx, ref)
		if err == nil {
			return local, nil
		}
		if errors.Is(err, ErrSizeMismatch) {
			// повтор не поможет, если воркер прислал битый файл дважды подряд —
			// но один повтор дешевле ручного разбора
			lastErr = err
			continue
		}
		lastErr = err
	}
	return "", fmt.Errorf("fetch %s: %w", ref.URL, lastErr)
}

func (r *Relay) fetchOnce(ctx context.Context, ref entity.ArtifactRef) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("worker returned %s", resp.Status)
	}

	if err := os.MkdirAll(r.scratchDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(r.scratchDir, "artifact-*"+artifactExt(ref.URL, resp.Header.Get("Content-Type")))
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	if closeErr != nil {
		_ = os.Remove(f.Name())
		return "", closeErr
	}
	if ref.Size > 0 && n != ref.Size {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, n, ref.Size)
	}
	return f.Name(), nil
}

// Publish uploads a local artifact under a deterministic key derived from
// run, entity, stage and the artifact's source name, so re-publishing the
// same result is a safe overwrite. The random scratch filename never
// reaches the object key.
func (r *Relay) Publish(ctx context.Context, localPath string, src entity.ArtifactRef, runID, entityKey string, stage entity.Stage) (entity.ArtifactRef, error) {
	key := ObjectKey(runID, entityKey, stage, artifactFilename(src, localPath))

	info, err := os.Stat(localPath)
	if err != nil {
		return entity.ArtifactRef{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return entity.ArtifactRef{}, ctx.Err()
			case <-time.After(r.backoff):
			}
			log.Printf("[relay] publish key=%s attempt=%d", key, attempt)
		}

		f, err := os.Open(localPath)
		if err != nil {
			return entity.ArtifactRef{}, err
		}
		err = r.store.Upload(ctx, key, f, info.Size(), contentTypeFor(localPath))
		_ = f.Close()
		if err == nil {
			return entity.ArtifactRef{
				Bucket: r.store.Bucket(),
				Key:    key,
				Size:   info.Size(),
			}, nil
		}
		lastErr = err
	}
	return entity.ArtifactRef{}, fmt.Errorf("publish %s: %w", key, lastErr)
}

// PresignedURL returns a bounded-expiry URL for a published artifact.
func (r *Relay) PresignedURL(ctx context.Context, ref entity.ArtifactRef) (string, error) {
	if ref.Key == "" {
		return "", errors.New("artifact has no object-store key")
	}
	return r.store.PresignedGet(ctx, ref.Key, PresignExpiry)
}

// ObjectKey is deterministic over (run, entity, stage, filename):
// runs/<run>/<stage>/<entity>/<filename>.
func ObjectKey(runID, entityKey string, stage entity.Stage, filename string) string {
	return path.Join("runs", runID, string(stage), entityKey, filename)
}

// artifactFilename derives a stable object filename from the artifact's
// source URL; the scratch path only contributes an extension fallback.
func artifactFilename(src entity.ArtifactRef, localPath string) string {
	if u, err := url.Parse(src.URL); err == nil {
		// result URLs часто несут имя файла в query (ComfyUI /view)
		if fn := u.Query().Get("filename"); fn != "" {
			return path.Base(fn)
		}
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" && path.Ext(base) != "" {
			return base
		}
	}
	return "result" + filepath.Ext(localPath)
}

func artifactExt(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		// result URLs часто несут имя файла в query (ComfyUI /view)
		if fn := u.Query().Get("filename"); fn != "" {
			if ext := path.Ext(fn); ext != "" {
				return ext
			}
		}
		if ext := path.Ext(u.Path); ext != "" {
			return ext
		}
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func contentTypeFor(localPath string) string {
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
