// Package builtin registers the worker functions mimocorbd ships with
// out of the box: a random-event generator (grounded on the
// math/rand.Intn number generation in the teacher's server/main.go
// GetRandomNumbers handler), a numeric threshold filter, a binlog-backed
// exporter, and an observer registered as stdout_observer that writes
// through the standard log package (stderr by default). Deployments with custom worker
// functions register additional builders on the same *registry.Registry
// before starting a run.
package builtin

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strconv"

	"github.com/JulianBaader/mimocorb2/pkg/binlog"
	"github.com/JulianBaader/mimocorb2/pkg/registry"
	"github.com/JulianBaader/mimocorb2/pkg/slot"
	"github.com/JulianBaader/mimocorb2/pkg/worker"
)

// Register adds every builtin function to r.
func Register(r *registry.Registry) {
	r.Register("random_generator", buildRandomGenerator)
	r.Register("threshold_filter", buildThresholdFilter)
	r.Register("binlog_exporter", buildBinlogExporter)
	r.Register("stdout_observer", buildStdoutObserver)
}

// buildRandomGenerator produces a single float64 event per call, in
// [0, max_value), matching the bound used by the teacher's
// rand.Intn(maxRandomNum) call.
func buildRandomGenerator(io *worker.BufferIO) (registry.Runnable, error) {
	maxValue := 1_000_000.0
	if v, ok := io.Config["max_value"]; ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("random_generator: bad max_value %q: %w", v, err)
		}
		maxValue = parsed
	}
	count := -1 // unbounded by default
	if v, ok := io.Config["count"]; ok {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("random_generator: bad count %q: %w", v, err)
		}
		count = parsed
	}

	emitted := 0
	gen := func(ctx context.Context) ([]byte, error) {
		if count >= 0 && emitted >= count {
			return nil, worker.Done
		}
		emitted++
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(rand.Float64()*maxValue))
		return buf, nil
	}
	return worker.NewImporter(io, gen, worker.FailurePolicy{})
}

// buildThresholdFilter keeps events whose first float64 field is >= the
// configured threshold (default 0, which keeps every non-negative value).
func buildThresholdFilter(io *worker.BufferIO) (registry.Runnable, error) {
	threshold := 0.0
	if v, ok := io.Config["threshold"]; ok {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("threshold_filter: bad threshold %q: %w", v, err)
		}
		threshold = parsed
	}
	fn := func(data []byte) ([]bool, error) {
		if len(data) < 8 {
			return nil, fmt.Errorf("threshold_filter: event shorter than 8 bytes")
		}
		x := math.Float64frombits(binary.LittleEndian.Uint64(data))
		return []bool{x >= threshold}, nil
	}
	return worker.NewFilter(io, fn, worker.FailurePolicy{})
}

// buildBinlogExporter archives every event it sees to a single binlog
// file under config["path"].
func buildBinlogExporter(io *worker.BufferIO) (registry.Runnable, error) {
	path, ok := io.Config["path"]
	if !ok {
		return nil, fmt.Errorf("binlog_exporter: config[\"path\"] is required")
	}
	if len(io.Reads) == 0 {
		return nil, fmt.Errorf("binlog_exporter: requires exactly one source buffer")
	}
	layout := io.Reads[0].Layout()

	w, err := binlog.Create(path, layout)
	if err != nil {
		return nil, err
	}

	fn := func(data []byte, meta slot.Metadata) error {
		return w.WriteRecord(meta, data)
	}
	exp, err := worker.NewExporter(io, fn, worker.FailurePolicy{})
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return closingExporter{Exporter: exp, closer: w}, nil
}

type closer interface{ Close() error }

type closingExporter struct {
	*worker.Exporter
	closer closer
}

func (c closingExporter) Run(ctx context.Context) error {
	err := c.Exporter.Run(ctx)
	if cerr := c.closer.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// buildStdoutObserver logs every observed event's counter and deadtime.
func buildStdoutObserver(io *worker.BufferIO) (registry.Runnable, error) {
	fn := func(data []byte, meta slot.Metadata) error {
		log.Printf("observed event %d: timestamp=%.6f deadtime=%.4f", meta.Counter, meta.Timestamp, meta.Deadtime)
		return nil
	}
	return worker.NewObserver(io, fn, worker.FailurePolicy{})
}
