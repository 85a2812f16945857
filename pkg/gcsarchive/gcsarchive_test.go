package gcsarchive

import "testing"

func TestConfigChunkSizeDefault(t *testing.T) {
	cfg := Config{Bucket: "b"}
	if got := cfg.chunkSize(); got != 8*1024*1024 {
		t.Fatalf("chunkSize() = %d, want 8MiB default", got)
	}
}

func TestConfigChunkSizeExplicit(t *testing.T) {
	cfg := Config{Bucket: "b", ChunkSizeBytes: 1024}
	if got := cfg.chunkSize(); got != 1024 {
		t.Fatalf("chunkSize() = %d, want 1024", got)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

func TestNewAcceptsConfiguredBucket(t *testing.T) {
	u, err := New(nil, Config{Bucket: "archive-bucket", ObjectPrefix: "runs/run-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if u.cfg.Bucket != "archive-bucket" || u.cfg.ObjectPrefix != "runs/run-1" {
		t.Fatalf("unexpected config on Uploader: %+v", u.cfg)
	}
}
