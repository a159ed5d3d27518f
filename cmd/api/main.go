package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accessdesk.org/internal/config"
	"accessdesk.org/internal/dashboard"
	"accessdesk.org/internal/directory"
	"accessdesk.org/internal/httpapi"
	"accessdesk.org/internal/obs"
	"accessdesk.org/internal/store/mem"
	"accessdesk.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	cfg := config.Load()
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ACCESSDESK_COMMIT"))

	// Run against PostgreSQL when a DSN is configured, otherwise fall back
	// to the in-memory store for local development.
	var (
		store directory.Store
		probe httpapi.ReadyProbe
		pgs   *pg.Store
	)
	if cfg.DatabaseURL != "" {
		var err error
		pgs, err = pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgs
		probe = httpapi.ReadyProbe{DB: pgs.DB()}
	} else {
		log.Println("ACCESSDESK_PG_DSN not set, using in-memory store")
		store = mem.New()
	}

	svc, err := directory.NewService(store)
	if err != nil {
		log.Fatalf("directory service: %v", err)
	}
	dash, err := dashboard.New(svc)
	if err != nil {
		log.Fatalf("dashboard: %v", err)
	}

	api := httpapi.New(svc, probe, cfg.APIPrefix, version)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(dash, cfg.MaxBodyBytes),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting accessdesk-api %s on %s", version, srv.Addr)

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
	if pgs != nil {
		_ = pgs.Close()
	}
	log.Println("Stopped")
}
