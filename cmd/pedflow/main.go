// Command pedflow serves the trigger API: it prepares pedestrian start
// configurations for the requested region and drives the simulation engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/banshee-data/pedflow/internal/api"
	"github.com/banshee-data/pedflow/internal/config"
	"github.com/banshee-data/pedflow/internal/db"
	"github.com/banshee-data/pedflow/internal/notify"
	"github.com/banshee-data/pedflow/internal/reproject"
	"github.com/banshee-data/pedflow/internal/run"
	"github.com/banshee-data/pedflow/internal/session"
	"github.com/banshee-data/pedflow/internal/version"
)

var (
	configFile  = flag.String("config", config.DefaultConfigPath, "Path to JSON configuration file")
	listen      = flag.String("listen", ":8080", "Listen address")
	grpcListen  = flag.String("grpc-listen", "localhost:50051", "gRPC event stream listen address (empty to disable)")
	dbPathFlag  = flag.String("db-path", "pedflow.db", "Path to the run history database")
	noEngine    = flag.Bool("no-engine", false, "Prepare engine inputs without starting the engine")
	versionFlag = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println("pedflow", version.String())
		return
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPathFlag, os.Stdin, os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configFile, err)
	}

	if err := serve(cfg, *listen, *grpcListen, *dbPathFlag, !*noEngine); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

// serve runs the service until SIGINT or SIGTERM. An empty grpcAddr disables
// the gRPC event stream.
func serve(cfg *config.Config, addr, grpcAddr, dbPath string, withEngine bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer store.Close()

	transform, err := reproject.New(cfg.GetSourceCRS(), cfg.GetWorkingCRS())
	if err != nil {
		return fmt.Errorf("target reprojection: %w", err)
	}

	hub := notify.NewHub(nil)
	defer hub.Close()

	orch, err := run.FromConfig(ctx, cfg, hub, withEngine)
	if err != nil {
		return err
	}
	orch.Store = store

	sess := session.New(orch, transform, nil)
	srv := api.NewServer(sess, orch, store, hub, cfg)

	mux := srv.ServeMux()
	store.AttachAdminRoutes(mux)
	hub.AttachAdminRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var (
		wg       sync.WaitGroup
		serveErr error
		grpcSrv  *grpc.Server
	)
	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("gRPC listener %s: %w", grpcAddr, err)
		}
		grpcSrv = grpc.NewServer()
		notify.RegisterEventsServer(grpcSrv, notify.NewGRPCServer(hub))
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("gRPC event stream listening on %s", lis.Addr())
			if err := grpcSrv.Serve(lis); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("pedflow %s listening on %s (engine: %t, data: %s)", version.String(), addr, withEngine, cfg.GetDataDir())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("HTTP server: %w", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	// Record the outcome of an active engine run and end the event streams
	// before draining connections.
	orch.Close()
	hub.Close()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	wg.Wait()
	return serveErr
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n       %s [-db-path path] migrate <command>\n\n", os.Args[0], os.Args[0])
		fmt.Fprintf(os.Stderr, "Serves POST /api/start and /api/target and prepares engine inputs in the data directory.\n\n")
		flag.PrintDefaults()
	}
}
