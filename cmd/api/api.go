package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/damir5/kosarica-sub003/api"
	"github.com/damir5/kosarica-sub003/chassis/backoff"
	"github.com/damir5/kosarica-sub003/chassis/config"
	log "github.com/damir5/kosarica-sub003/chassis/logging"
	"github.com/damir5/kosarica-sub003/chassis/queue"
	"github.com/damir5/kosarica-sub003/chassis/storage"
)

func main() {
	appCfg, err := config.Read()
	if err != nil {
		log.WithFields(log.Fields{
			"event": "config_read_failed",
		}).Fatal(err)
	}
	log.Init("api", appCfg.API.LogLevel)
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

	svc := api.NewService(queue.NewClient(store))

	srv := &http.Server{
		Addr:    appCfg.API.Addr,
		Handler: svc.Router(),
	}
	go func() {
		log.WithFields(log.Fields{
			"event": "listen",
		}).Info("serving api on ", appCfg.API.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("listen: %s\n", err)
		}
	}()

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    appCfg.Metrics.Addr,
		Handler: metricsRouter,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("listen: %s\n", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.WithFields(log.Fields{
		"event": "shutdown",
	}).Info("received syscall")
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Errorf("Server Shutdown Failed:%+v", err)
	}
	if err := metricsSrv.Shutdown(context.Background()); err != nil {
		log.Errorf("Server Shutdown Failed:%+v", err)
	}
}
