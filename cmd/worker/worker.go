package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/damir5/kosarica-sub003/chassis/backoff"
	"github.com/damir5/kosarica-sub003/chassis/config"
	log "github.com/damir5/kosarica-sub003/chassis/logging"
	"github.com/damir5/kosarica-sub003/chassis/storage"
	"github.com/damir5/kosarica-sub003/worker"
)

func main() {
	appCfg, err := config.Read()
	if err != nil {
		log.WithFields(log.Fields{
			"event": "config_read_failed",
		}).Fatal(err)
	}
	log.Init("worker", appCfg.Worker.LogLevel)
	log.WithFields(log.Fields{
		"event": "init_service",
	}).Info("service initialized")

	store, err := storage.InitPGStore(storage.Config{DSN: appCfg.Storage.DSN}, backoff.Default())
	if err != nil {
		log.WithFields(log.Fields{
			"event": "init_storage_failed",
		}).Fatal(err)
	}
	defer store.Close()
	if err := store.EnsureSchema(context.Background()); err != nil {
		log.WithFields(log.Fields{
			"event": "ensure_schema_failed",
		}).Fatal(err)
	}

	wrk := worker.New(worker.Config{
		Store:       store,
		WorkerID:    appCfg.Worker.ID,
		TaskTypes:   appCfg.Worker.TaskTypes,
		MaxTasks:    appCfg.Worker.MaxTasks,
		PollDelay:   time.Duration(appCfg.Worker.PollDelaySec) * time.Second,
		TaskTimeout: time.Duration(appCfg.Worker.TaskTimeoutSec) * time.Second,
	})
	wrk.RegisterHandler("echo", worker.HandleEcho)
	wrk.RegisterHandler("cleanup", worker.NewRetentionHandler(store, appCfg.Janitor.DaysToKeep))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		wrk.Start(ctx)
		close(stopped)
	}()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    appCfg.Metrics.Addr,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("listen: %s\n", err)
		}
	}()
	<-done
	log.WithFields(log.Fields{
		"event": "shutdown",
	}).Info("received syscall, draining")
	wrk.Stop()
	<-stopped
	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Errorf("Server Shutdown Failed:%+v", err)
	}
}
