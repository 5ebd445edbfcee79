package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/damir5/kosarica-sub003/chassis/backoff"
	"github.com/damir5/kosarica-sub003/chassis/config"
	log "github.com/damir5/kosarica-sub003/chassis/logging"
	"github.com/damir5/kosarica-sub003/chassis/storage"
	"github.com/damir5/kosarica-sub003/janitor"
)

func main() {
	appCfg, err := config.Read()
	if err != nil {
		log.WithFields(log.Fields{
			"event": "config_read_failed",
		}).Fatal(err)
	}
	log.Init("janitor", appCfg.Janitor.LogLevel)
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

	cfg := &janitor.Config{
		Store:            store,
		Interval:         time.Duration(appCfg.Janitor.IntervalSec) * time.Second,
		DaysToKeep:       appCfg.Janitor.DaysToKeep,
		StaleTimeout:     time.Duration(appCfg.Janitor.StaleTimeoutSec) * time.Second,
		RecoverBatchSize: appCfg.Janitor.RecoverBatchSize,
	}
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	var group sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	janitor.Run(ctx, cfg, &group)

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
		"event": "ctx_cancel",
	}).Info("received syscall")
	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Errorf("Server Shutdown Failed:%+v", err)
	}
	group.Wait()
}
