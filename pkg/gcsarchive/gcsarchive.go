// Package gcsarchive uploads a completed binlog archive file to Google
// Cloud Storage, splitting large files into parallel chunk uploads that
// are atomically composed into the final object — the same
// chunk-upload-then-ComposerFrom shape as the teacher's gcs_uploader
// package, adapted from an in-memory buffer source to a file source sized
// for an entire run's archive.
package gcsarchive

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// NewClient opens a storage client with a 64-connection gRPC pool, the
// same option the teacher's gcs_uploader/main.go passes to
// storage.NewClient for high-throughput parallel chunk uploads.
func NewClient(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, option.WithGRPCConnectionPool(64))
	if err != nil {
		return nil, fmt.Errorf("gcsarchive: open storage client: %w", err)
	}
	return client, nil
}

// Config configures where a completed run archive is uploaded.
type Config struct {
	Bucket         string
	ObjectPrefix   string
	ChunkSizeBytes int
}

func (c Config) chunkSize() int {
	if c.ChunkSizeBytes <= 0 {
		return 8 * 1024 * 1024
	}
	return c.ChunkSizeBytes
}

// Uploader pushes archive files to a single bucket.
type Uploader struct {
	client *storage.Client
	cfg    Config
}

func New(client *storage.Client, cfg Config) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcsarchive: bucket is required")
	}
	return &Uploader{client: client, cfg: cfg}, nil
}

// UploadFile reads localPath fully, then uploads it as the named object
// under ObjectPrefix using parallel chunk uploads composed into a single
// final object — skipping the parallel path entirely when the file is
// small enough to fit in one chunk.
func (u *Uploader) UploadFile(ctx context.Context, localPath, objectName string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("gcsarchive: read %s: %w", localPath, err)
	}
	object := objectName
	if u.cfg.ObjectPrefix != "" {
		object = u.cfg.ObjectPrefix + "/" + objectName
	}

	if len(data) <= u.cfg.chunkSize() {
		w := u.client.Bucket(u.cfg.Bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/octet-stream"
		if _, err := w.Write(data); err != nil {
			w.Close()
			return fmt.Errorf("gcsarchive: write %s: %w", object, err)
		}
		return w.Close()
	}
	return u.uploadParallel(ctx, object, data)
}

func (u *Uploader) uploadParallel(ctx context.Context, object string, buf []byte) error {
	chunkSize := u.cfg.chunkSize()
	numChunks := (len(buf) + chunkSize - 1) / chunkSize
	tempPrefix := fmt.Sprintf("%s.tmp.%d", object, time.Now().UnixNano())

	type chunkResult struct {
		object string
		err    error
	}
	results := make([]chunkResult, numChunks)
	var wg sync.WaitGroup

	for i := 0; i < numChunks; i++ {
		offset := i * chunkSize
		end := offset + chunkSize
		if end > len(buf) {
			end = len(buf)
		}
		wg.Add(1)
		go func(idx int, chunkData []byte) {
			defer wg.Done()
			chunkObject := fmt.Sprintf("%s.chunk.%d", tempPrefix, idx)
			w := u.client.Bucket(u.cfg.Bucket).Object(chunkObject).NewWriter(ctx)
			w.ChunkSize = chunkSize
			w.ContentType = "application/octet-stream"
			if _, err := w.Write(chunkData); err != nil {
				results[idx] = chunkResult{err: fmt.Errorf("write chunk %d: %w", idx, err)}
				return
			}
			if err := w.Close(); err != nil {
				results[idx] = chunkResult{err: fmt.Errorf("close chunk %d: %w", idx, err)}
				return
			}
			results[idx] = chunkResult{object: chunkObject}
		}(i, buf[offset:end])
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			u.cleanupChunks(ctx, tempPrefix, numChunks)
			return fmt.Errorf("gcsarchive: %w", r.err)
		}
	}

	bkt := u.client.Bucket(u.cfg.Bucket)
	dst := bkt.Object(object)
	sources := make([]*storage.ObjectHandle, numChunks)
	for i, r := range results {
		sources[i] = bkt.Object(r.object)
	}
	composer := dst.ComposerFrom(sources...)
	composer.ContentType = "application/octet-stream"
	attrs, err := composer.Run(ctx)
	if err != nil {
		u.cleanupChunks(ctx, tempPrefix, numChunks)
		return fmt.Errorf("gcsarchive: compose %s: %w", object, err)
	}
	if attrs.Size != int64(len(buf)) {
		u.cleanupChunks(ctx, tempPrefix, numChunks)
		_ = dst.Delete(ctx)
		return fmt.Errorf("gcsarchive: composed size %d != expected %d", attrs.Size, len(buf))
	}
	u.cleanupChunks(ctx, tempPrefix, numChunks)
	return nil
}

func (u *Uploader) cleanupChunks(ctx context.Context, tempPrefix string, numChunks int) {
	bkt := u.client.Bucket(u.cfg.Bucket)
	for i := 0; i < numChunks; i++ {
		obj := fmt.Sprintf("%s.chunk.%d", tempPrefix, i)
		if err := bkt.Object(obj).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
			log.Printf("gcsarchive: cleanup chunk %s: %v", obj, err)
		}
	}
}
