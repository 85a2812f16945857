// Command mimocorbd is the control process: it loads a run's setup YAML,
// builds every shared buffer and worker group it describes, starts them,
// serves gRPC health checks for each worker group, and shuts everything
// down cleanly on SIGINT/SIGTERM — the control-plane analogue of the
// teacher's server/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/JulianBaader/mimocorb2/pkg/builtin"
	"github.com/JulianBaader/mimocorb2/pkg/control"
	"github.com/JulianBaader/mimocorb2/pkg/gcsarchive"
	"github.com/JulianBaader/mimocorb2/pkg/registry"
	"github.com/JulianBaader/mimocorb2/pkg/ring"
	"github.com/JulianBaader/mimocorb2/pkg/setup"
	"github.com/JulianBaader/mimocorb2/pkg/topology"
	"github.com/JulianBaader/mimocorb2/pkg/worker"
	"github.com/JulianBaader/mimocorb2/pkg/workergroup"
)

func main() {
	setupPath := flag.String("setup", "", "path to the run's setup YAML file")
	healthAddr := flag.String("health-addr", ":8686", "address the gRPC health server listens on")
	telemetryInterval := flag.Duration("telemetry-interval", time.Second, "interval between statistics snapshots")
	flag.Parse()

	if *setupPath == "" {
		log.Fatal("mimocorbd: -setup is required")
	}

	if err := run(*setupPath, *healthAddr, *telemetryInterval); err != nil {
		log.Fatalf("mimocorbd: %v", err)
	}
}

func run(setupPath, healthAddr string, telemetryInterval time.Duration) error {
	cfg, err := setup.Load(setupPath)
	if err != nil {
		return err
	}
	runDir, err := setup.PrepareRunDirectory(cfg.TargetDirectory)
	if err != nil {
		return err
	}
	log.Printf("mimocorbd: run directory %s", runDir)

	buffers := make(map[string]*ring.Buffer, len(cfg.Buffers))
	for name, spec := range cfg.Buffers {
		layout, err := spec.Layout()
		if err != nil {
			return fmt.Errorf("buffer %q: %w", name, err)
		}
		bufCfg := ring.DefaultConfig(name, spec.SlotCount, layout)
		if spec.Overwrite != nil {
			bufCfg.Overwrite = *spec.Overwrite
		}
		b, err := ring.New(bufCfg)
		if err != nil {
			return fmt.Errorf("buffer %q: %w", name, err)
		}
		defer b.Close()
		buffers[name] = b
	}

	// Validate that the worker wiring forms a single-root arborescence,
	// then identify the root(s) so that a `buffer roots shutdown` command
	// can later flush them.
	edges := make([]topology.WorkerEdge, 0, len(cfg.Workers))
	for name, spec := range cfg.Workers {
		edges = append(edges, topology.WorkerEdge{Name: name, Sources: spec.Sources, Sinks: spec.Sinks, Observes: spec.Observes})
	}
	bufferNames := make([]string, 0, len(buffers))
	for name := range buffers {
		bufferNames = append(bufferNames, name)
	}
	if err := topology.ValidateArborescence(edges, bufferNames); err != nil {
		return fmt.Errorf("invalid worker topology: %w", err)
	}
	roots := topology.Roots(edges)
	log.Printf("mimocorbd: identified root buffer(s): %v", roots)

	reg := registry.New()
	builtin.Register(reg)

	loop := control.New()
	for _, b := range buffers {
		loop.RegisterBuffer(b)
	}
	loop.SetRoots(roots)

	groups := make([]*workergroup.Group, 0, len(cfg.Workers))
	for name, spec := range cfg.Workers {
		io := &worker.BufferIO{
			Name:           name,
			SetupDirectory: filepath.Dir(setupPath),
			RunDirectory:   runDir,
			Config:         spec.Config,
			Logger:         log.New(os.Stderr, fmt.Sprintf("[%s] ", name), log.LstdFlags),
		}
		for _, ref := range spec.Sources {
			io.Reads = append(io.Reads, buffers[ref])
		}
		for _, ref := range spec.Sinks {
			io.Writes = append(io.Writes, buffers[ref])
		}
		for _, ref := range spec.Observes {
			io.Observes = append(io.Observes, buffers[ref])
		}

		runnable, err := reg.Build(spec.Function, io)
		if err != nil {
			return fmt.Errorf("worker %q: %w", name, err)
		}

		group, err := workergroup.New(workergroup.Config{
			Name:              name,
			NumberOfProcesses: spec.NumberOfProcesses,
			Run:               runnable.Run,
			ShutdownGrace:     5 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("worker %q: %w", name, err)
		}
		loop.RegisterGroup(group)
		groups = append(groups, group)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, g := range groups {
		g.Start(ctx)
	}

	lis, err := net.Listen("tcp", healthAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", healthAddr, err)
	}
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, loop.HealthServer())
	go func() {
		log.Printf("mimocorbd: health server listening on %s", healthAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("mimocorbd: health server stopped: %v", err)
		}
	}()
	defer grpcServer.GracefulStop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx, telemetryInterval) }()

	select {
	case <-sigChan:
		log.Println("mimocorbd: received shutdown signal, stopping gracefully...")
	case err := <-loopDone:
		log.Printf("mimocorbd: control loop exited: %v", err)
	}

	cancel()
	for _, g := range groups {
		if err := g.Shutdown(); err != nil {
			log.Printf("mimocorbd: group %q shutdown: %v", g.Name(), err)
		}
	}

	if cfg.Archive != nil {
		if err := archiveRunDirectory(context.Background(), runDir, *cfg.Archive); err != nil {
			log.Printf("mimocorbd: archive upload: %v", err)
		}
	}
	return nil
}

// archiveRunDirectory uploads every regular file directly under runDir to
// the configured GCS bucket once the run has fully shut down. A
// binlog_exporter archive is included only if its configured path lies
// directly under runDir.
func archiveRunDirectory(ctx context.Context, runDir string, spec setup.ArchiveSpec) error {
	client, err := gcsarchive.NewClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	uploader, err := gcsarchive.New(client, gcsarchive.Config{
		Bucket:         spec.Bucket,
		ObjectPrefix:   spec.ObjectPrefix,
		ChunkSizeBytes: spec.ChunkSizeBytes,
	})
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(runDir)
	if err != nil {
		return fmt.Errorf("list run directory %s: %w", runDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		localPath := filepath.Join(runDir, entry.Name())
		if err := uploader.UploadFile(ctx, localPath, entry.Name()); err != nil {
			return fmt.Errorf("upload %s: %w", localPath, err)
		}
		log.Printf("mimocorbd: archived %s to gs://%s/%s", localPath, spec.Bucket, entry.Name())
	}
	return nil
}
