package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"playsync/internal/arbiter"
	"playsync/internal/auth"
	"playsync/internal/bus"
	"playsync/internal/coordinator"
	"playsync/internal/listen"
	"playsync/internal/pin"
	"playsync/internal/playback"
	"playsync/internal/profile"
	"playsync/internal/scheduler"
	"playsync/internal/server"
	"playsync/internal/store"
	"playsync/internal/version"
	"playsync/migrations"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("loading .env: %v", err)
	}

	dbPath := envOr("DB_PATH", "./data/playsync.db")
	listenAddr := envOr("LISTEN_ADDR", ":7936")
	profileURL := envOr("PROFILE_URL", "http://localhost:8080")
	corsOrigin := os.Getenv("CORS_ORIGIN")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatal(err)
	}

	db, err := store.New(dbPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(migrations.Files); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	var profileOpts []profile.Option
	if token := os.Getenv("PROFILE_TOKEN"); token != "" {
		profileOpts = append(profileOpts, profile.WithAuthToken(token))
	}
	profileClient, err := profile.NewClient(profileURL, profileOpts...)
	if err != nil {
		log.Fatalf("configuring profile client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.New()
	defer b.Close()
	arb := arbiter.New()
	pb := playback.NewStore(arb, b)
	pm := pin.NewManager(profileClient, db, pb, b)
	coord := coordinator.New(pb, arb, pm, profileClient, b, db)
	acc := listen.New(profile.NewProgressReporter(profileClient))
	authSvc := auth.NewService(db)
	checker := version.NewChecker(Version)

	var opts []server.Option
	if corsOrigin != "" {
		opts = append(opts, server.WithCORSOrigin(corsOrigin))
	}
	opts = append(opts, server.WithAccumulator(acc))
	opts = append(opts, server.WithVersionChecker(checker))
	srv := server.NewServer(db, authSvc, pb, arb, pm, coord, b, opts...)

	acc.StartPolling(ctx, srv.GrantedPosition)
	go checker.Start(ctx)

	sch := scheduler.New(db, pm)
	sch.Start(ctx)
	defer sch.Stop()

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("playsync listening on %s", listenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := coord.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
