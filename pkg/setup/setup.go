// Package setup decodes a run's YAML configuration into the buffer and
// worker definitions the control loop needs, and prepares the per-run
// directory each run's artifacts (binary logs, archives) live under.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/JulianBaader/mimocorb2/pkg/slot"
)

// BufferSpec is one entry of the setup file's `buffers:` map.
type BufferSpec struct {
	SlotCount  int              `yaml:"slot_count"`
	DataLength int              `yaml:"data_length"`
	DataDtype  []DtypeFieldSpec `yaml:"data_dtype"`
	Overwrite  *bool            `yaml:"overwrite"`
}

// DtypeFieldSpec is one named, typed field of a buffer's per-event schema.
type DtypeFieldSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// WorkerSpec is one entry of the setup file's `workers:` map.
type WorkerSpec struct {
	Function          string            `yaml:"function"`
	File              string            `yaml:"file"`
	Config            map[string]string `yaml:"config"`
	NumberOfProcesses int               `yaml:"number_of_processes"`
	Sources           []string          `yaml:"sources"`
	Sinks             []string          `yaml:"sinks"`
	Observes          []string          `yaml:"observes"`
}

// ArchiveSpec configures uploading a completed run's binlog archives to
// Google Cloud Storage. It is optional: a setup file with no `archive:`
// block runs without any upload step.
type ArchiveSpec struct {
	Bucket         string `yaml:"bucket"`
	ObjectPrefix   string `yaml:"object_prefix"`
	ChunkSizeBytes int    `yaml:"chunk_size_bytes"`
}

// Config is the root of a setup YAML file.
type Config struct {
	TargetDirectory string                `yaml:"target_directory"`
	Buffers         map[string]BufferSpec `yaml:"buffers"`
	Workers         map[string]WorkerSpec `yaml:"workers"`
	Archive         *ArchiveSpec          `yaml:"archive"`
}

// Load reads and decodes a setup file from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("setup: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("setup: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("setup: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks structural requirements that are awkward to express in
// struct tags: non-empty buffer/worker maps, workers referencing buffers
// that exist, and consistent NumberOfProcesses.
func (c *Config) Validate() error {
	if c.TargetDirectory == "" {
		return fmt.Errorf("target_directory is required")
	}
	if len(c.Buffers) == 0 {
		return fmt.Errorf("at least one buffer must be defined")
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker must be defined")
	}
	for name, b := range c.Buffers {
		if b.SlotCount <= 0 {
			return fmt.Errorf("buffer %q: slot_count must be >= 1", name)
		}
		if b.DataLength <= 0 {
			return fmt.Errorf("buffer %q: data_length must be >= 1", name)
		}
		if len(b.DataDtype) == 0 {
			return fmt.Errorf("buffer %q: data_dtype must declare at least one field", name)
		}
	}
	for name, w := range c.Workers {
		if w.Function == "" {
			return fmt.Errorf("worker %q: function is required", name)
		}
		if w.NumberOfProcesses <= 0 {
			return fmt.Errorf("worker %q: number_of_processes must be >= 1", name)
		}
		for _, ref := range [][]string{w.Sources, w.Sinks, w.Observes} {
			for _, buf := range ref {
				if _, ok := c.Buffers[buf]; !ok {
					return fmt.Errorf("worker %q: references undefined buffer %q", name, buf)
				}
			}
		}
	}
	if c.Archive != nil && c.Archive.Bucket == "" {
		return fmt.Errorf("archive: bucket is required when an archive block is present")
	}
	return nil
}

// Layout converts a BufferSpec's YAML dtype description into the
// slot.DataLayout used to size and interpret the shared arena.
func (b BufferSpec) Layout() (slot.DataLayout, error) {
	schema := make(slot.Schema, 0, len(b.DataDtype))
	for _, f := range b.DataDtype {
		ft, err := parseFieldType(f.Type)
		if err != nil {
			return slot.DataLayout{}, err
		}
		schema = append(schema, slot.Field{Name: f.Name, Type: ft})
	}
	layout := slot.DataLayout{Schema: schema, DataLength: b.DataLength}
	if err := layout.Validate(); err != nil {
		return slot.DataLayout{}, err
	}
	return layout, nil
}

func parseFieldType(s string) (slot.FieldType, error) {
	switch s {
	case "int8":
		return slot.Int8, nil
	case "int16":
		return slot.Int16, nil
	case "int32":
		return slot.Int32, nil
	case "int64":
		return slot.Int64, nil
	case "uint8":
		return slot.Uint8, nil
	case "uint16":
		return slot.Uint16, nil
	case "uint32":
		return slot.Uint32, nil
	case "uint64":
		return slot.Uint64, nil
	case "float32":
		return slot.Float32, nil
	case "float64":
		return slot.Float64, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

// PrepareRunDirectory creates a fresh, uniquely-named subdirectory of
// targetDirectory for this run's artifacts, using a UUID-suffixed,
// timestamp-prefixed name and exclusive creation so two concurrently
// started runs can never collide or silently share a directory.
func PrepareRunDirectory(targetDirectory string) (string, error) {
	name := fmt.Sprintf("run-%s-%s", time.Now().Format("20060102-150405"), uuid.NewString())
	dir := filepath.Join(targetDirectory, name)
	if err := os.MkdirAll(targetDirectory, 0o755); err != nil {
		return "", fmt.Errorf("setup: create target directory %s: %w", targetDirectory, err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("setup: create run directory %s: %w", dir, err)
	}
	return dir, nil
}
