package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
target_directory: /tmp/mimocorb2-runs
buffers:
  raw:
    slot_count: 4
    data_length: 1
    data_dtype:
      - {name: x, type: float64}
  filtered:
    slot_count: 4
    data_length: 1
    data_dtype:
      - {name: x, type: float64}
workers:
  importer:
    function: gen_events
    file: importer.py
    number_of_processes: 1
    sinks: [raw]
  exporter:
    function: export_events
    number_of_processes: 1
    sources: [filtered]
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "setup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/mimocorb2-runs", cfg.TargetDirectory)
	require.Len(t, cfg.Buffers, 2)
	require.Len(t, cfg.Workers, 2)

	layout, err := cfg.Buffers["raw"].Layout()
	require.NoError(t, err)
	require.Equal(t, 8, layout.DataBytes())
}

func TestLoadRejectsUndefinedBufferReference(t *testing.T) {
	bad := sampleYAML + "\n  bogus:\n    function: f\n    number_of_processes: 1\n    sources: [nope]\n"
	path := writeTemp(t, bad)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadAcceptsArchiveBlock(t *testing.T) {
	withArchive := sampleYAML + "\narchive:\n  bucket: my-bucket\n  object_prefix: runs\n  chunk_size_bytes: 4096\n"
	path := writeTemp(t, withArchive)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Archive)
	require.Equal(t, "my-bucket", cfg.Archive.Bucket)
	require.Equal(t, "runs", cfg.Archive.ObjectPrefix)
	require.Equal(t, 4096, cfg.Archive.ChunkSizeBytes)
}

func TestLoadRejectsArchiveBlockWithoutBucket(t *testing.T) {
	withArchive := sampleYAML + "\narchive:\n  object_prefix: runs\n"
	path := writeTemp(t, withArchive)
	_, err := Load(path)
	require.Error(t, err)
}

func TestPrepareRunDirectoryIsUnique(t *testing.T) {
	base := t.TempDir()
	dir1, err := PrepareRunDirectory(base)
	require.NoError(t, err)
	dir2, err := PrepareRunDirectory(base)
	require.NoError(t, err)
	require.NotEqual(t, dir1, dir2)

	info, err := os.Stat(dir1)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
