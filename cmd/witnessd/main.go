// Command witnessd runs the instrumentation host: it loads a compiled
// suite, wires an Instrumentor, a probe-ID tracker and (optionally) a
// file-backed probe log store, and serves the out-of-process dispatch
// transport for the wire-level agent collaborator. No class-load
// handler drives the Instrumentor and nothing is written to the log
// store. It takes no command-line flags.
//
// Environment variables:
//
//	WITNESSD_SUITE          - path to a compiled EDL suite file (required)
//	WITNESSD_GRPC_ADDR      - gRPC listen address (default: ":9090")
//	WITNESSD_REDIS_URL      - Redis address for the probe-ID tracker store
//	                          (default: in-memory store when unset)
//	WITNESSD_LOG_STORE_DIR  - directory for file-backed probe log storage
//	                          (default: no probe log store when unset)
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"witnessd/internal/bytecode"
	"witnessd/internal/dispatch"
	"witnessd/internal/dispatch/grpcdispatch"
	"witnessd/internal/instrument"
	"witnessd/internal/problog/filestore"
	"witnessd/internal/session"
	"witnessd/internal/spec"
	"witnessd/internal/telemetry"
	"witnessd/internal/tracker"
	"witnessd/internal/tracker/trackerstore/memory"
	"witnessd/internal/tracker/trackerstore/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "witnessd:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	suitePath := os.Getenv("WITNESSD_SUITE")
	if suitePath == "" {
		return fmt.Errorf("WITNESSD_SUITE is required")
	}
	grpcAddr := envOr("WITNESSD_GRPC_ADDR", ":9090")

	hierarchy := bytecode.NewMemoryHierarchy()
	suite, err := loadSuite(suitePath, hierarchy)
	if err != nil {
		return fmt.Errorf("load suite: %w", err)
	}

	trackerStore, err := newTrackerStore(ctx)
	if err != nil {
		return fmt.Errorf("tracker store: %w", err)
	}

	sess := session.New()
	logger := telemetry.NewClueLogger()
	logger.Info(ctx, "suite loaded", "suite_id", suite.Metadata.ID, "specifications", len(suite.Specifications))
	trk := tracker.New(trackerStore)

	// The class-load notification that would drive in.InstrumentClass
	// arrives from the wire-level agent collaborator, which is out of
	// scope here; this host still constructs the Instrumentor so a
	// future class-load handler has everything wired and ready.
	repo := bytecode.NewMemoryRepository()
	in := instrument.New(instrument.Config{
		Specifications:  suite.Specifications,
		Repository:      repo,
		Hierarchy:       hierarchy,
		Session:         sess,
		Observer:        trk,
		IsReferenceType: func(string) bool { return true },
		Logger:          logger,
		Tracer:          telemetry.NewOTelTracer("witnessd.instrument"),
		Metrics:         telemetry.NewOTelMetrics("witnessd.instrument"),
	})

	logStoreDir := os.Getenv("WITNESSD_LOG_STORE_DIR")
	if logStoreDir != "" {
		if err := os.MkdirAll(logStoreDir, 0o755); err != nil {
			return fmt.Errorf("create log store dir: %w", err)
		}
		logStore := filestore.New(logStoreDir)
		logger.Info(ctx, "probe log file store ready", "dir", logStoreDir)
		_ = logStore
	}

	logger.Info(ctx, "instrumentor ready", "specifications", len(suite.Specifications))
	_ = in

	disp := dispatch.New(sess, logger, telemetry.NewOTelMetrics("witnessd.dispatch"))

	srv := grpc.NewServer()
	grpcdispatch.RegisterDispatchServer(srv, grpcdispatch.NewServer(disp))
	reflection.Register(srv)

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", grpcAddr, err)
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info(ctx, "witnessd gRPC dispatch listening", "addr", grpcAddr)
		errc <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutting down witnessd", "addr", grpcAddr)
		srv.GracefulStop()
		return nil
	case err := <-errc:
		return err
	}
}

func loadSuite(path string, hierarchy bytecode.Hierarchy) (*spec.Suite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return spec.DecodeSuite(f, hierarchy)
}

func newTrackerStore(ctx context.Context) (tracker.Store, error) {
	redisURL := os.Getenv("WITNESSD_REDIS_URL")
	if redisURL == "" {
		return memory.New(), nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: redisURL})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %q: %w", redisURL, err)
	}
	return redis.New(client, "witnessd:probeids"), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
