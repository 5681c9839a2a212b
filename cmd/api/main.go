package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharos.id/internal/audit"
	"pharos.id/internal/auth"
	"pharos.id/internal/httpapi"
	"pharos.id/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres when a DSN is configured, in-memory otherwise. The memory
	// store is for local development only: a restart loses every tenant.
	var store auth.Store = auth.NewMemoryStore()
	var probe httpapi.ReadyProbe
	var closeStore func()
	if dsn := os.Getenv("PHAROS_PG_DSN"); dsn != "" {
		pg, err := auth.OpenPostgres(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pg
		probe = httpapi.ReadyProbe{DB: pg.DB()}
		closeStore = func() { _ = pg.Close() }
	} else {
		log.Print("PHAROS_PG_DSN not set, using in-memory store")
	}

	engine, err := auth.NewEngine(store, auth.WithAuditSink(audit.MultiSink{
		audit.LogSink{},
		audit.StoreSink{Store: store},
	}))
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}

	api := httpapi.New(engine, probe, version)
	api.SetProvisionSecret(os.Getenv("PHAROS_PROVISION_SECRET"))

	addr := os.Getenv("PHAROS_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting pharos-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if closeStore != nil {
		closeStore()
	}
	log.Println("Stopped")
}
