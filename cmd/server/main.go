package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"delvecraft.io/internal/content"
	"delvecraft.io/internal/persistence/indexdb"
	"delvecraft.io/internal/persistence/snapshot"
	"delvecraft.io/internal/sim/gateway"
	"delvecraft.io/internal/telemetry"
	"delvecraft.io/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/delve.yaml", "gateway config path (missing file falls back to defaults)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		seed       = flag.Int64("seed", 0, "generation seed override (0 keeps the config's seed)")
		disableDB  = flag.Bool("disable_db", false, "disable the instance lifecycle journal")
		noArchive  = flag.Bool("disable_archive", false, "disable dissolved-instance archives")
	)
	flag.Parse()

	// Local overrides (OTEL endpoint etc); absence is fine.
	_ = godotenv.Load()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signalContext()
	defer cancel()

	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, err := telemetry.Setup(ctx)
		if err != nil {
			logger.Printf("telemetry: %v", err)
		} else {
			defer func() {
				ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel2()
				_ = shutdown(ctx2)
			}()
		}
	}

	cfgPath := strings.TrimSpace(*configPath)
	if cfgPath != "" {
		if _, err := os.Stat(cfgPath); err != nil {
			logger.Printf("config %s not found; using defaults", cfgPath)
			cfgPath = ""
		}
	}
	cfg, err := gateway.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}

	deps := gateway.Deps{
		Factory: content.NewFactory(content.MustLoadCatalog(), cfg.Seed),
		Logger:  logger,
	}

	if !*disableDB {
		journal, err := indexdb.OpenSQLite(filepath.Join(*dataDir, "delve.db"))
		if err != nil {
			logger.Fatalf("open journal: %v", err)
		}
		defer journal.Close()
		deps.Journal = journal
	}
	if !*noArchive {
		deps.Archive = &snapshot.Archiver{Dir: filepath.Join(*dataDir, "archives")}
	}

	gw, err := gateway.NewManager(cfg, deps)
	if err != nil {
		logger.Fatalf("gateway: %v", err)
	}
	defer gw.Close()

	wsrv := ws.NewServer(gw, logger)
	gw.SetNotifier(wsrv)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s := gw.Stats()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP delvecraft_instances Live dungeon instances.\n")
		fmt.Fprintf(rw, "# TYPE delvecraft_instances gauge\n")
		fmt.Fprintf(rw, "delvecraft_instances %d\n", s.Instances)

		fmt.Fprintf(rw, "# HELP delvecraft_occupants Agents currently tagged to an instance.\n")
		fmt.Fprintf(rw, "# TYPE delvecraft_occupants gauge\n")
		fmt.Fprintf(rw, "delvecraft_occupants %d\n", s.Occupants)

		fmt.Fprintf(rw, "# HELP delvecraft_bound_directions Gateway directions currently bound to an instance.\n")
		fmt.Fprintf(rw, "# TYPE delvecraft_bound_directions gauge\n")
		fmt.Fprintf(rw, "delvecraft_bound_directions %d\n", s.BoundDirections)
	})
	mux.HandleFunc("/v1/ws", wsrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
