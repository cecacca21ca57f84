package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/impact/pkg/config"
	"github.com/nicktill/impact/pkg/server"
	"github.com/nicktill/impact/pkg/server/monitor"
)

const (
	serverReadTimeout  = 30 * time.Second
	serverWriteTimeout = 2 * time.Minute
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.String("port", "", "listen port (overrides PORT)")
	inMemory := fs.Bool("in-memory", false, "keep the run archive in memory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log.Println("Starting impact server...")

	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *inMemory {
		cfg.InMemory = true
	}
	log.Printf("Configuration: storage limit = %d GB, memory limit = %d MB, data dir = %s",
		cfg.MaxStorageGB, cfg.MaxMemoryMB, cfg.DataDir)

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	storageMonitor := monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes())
	gcMonitor := monitor.NewTaskMonitor("badger_gc", 3*config.BadgerGCInterval, 3)
	replayMonitor := monitor.NewTaskMonitor("replay", 0, 0)

	ingestHandler, exportHandler, hub := server.InitializeHandlers(cfg, store, storageMonitor)

	// The experiment lives in memory; rebuild it from the archive before serving
	if err := server.RestoreExperiment(ingestHandler, replayMonitor); err != nil {
		log.Printf("Starting with a partial experiment: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		server.BroadcastStats(ctx, ingestHandler, hub)
	}()

	stopGC := make(chan struct{})
	wg.Add(1)
	go server.RunBadgerGC(store, gcMonitor, stopGC, &wg)

	router := mux.NewRouter()
	server.SetupRoutes(router, server.Routes{
		Ingest:  ingestHandler,
		Export:  exportHandler,
		Hub:     hub,
		Storage: storageMonitor,
		Tasks:   []*monitor.TaskMonitor{replayMonitor, gcMonitor},
		Port:    cfg.Port,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://localhost:%s", cfg.Port)
		log.Println("   POST   /v1/ingest             - Import an instrument export")
		log.Println("   GET    /v1/experiment         - Replicate trial summary")
		log.Println("   GET    /v1/readings           - Query archived readings")
		log.Println("   DELETE /v1/runs/{run}         - Drop a run and rebuild")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
		log.Println("Shutdown signal received...")
	case runErr = <-serveErr:
	}

	// Cancel before wg.Wait so the hub and broadcaster return
	cancel()
	close(stopGC)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("impact server exited")
	return runErr
}
