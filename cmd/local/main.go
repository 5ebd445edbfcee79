package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/damir5/kosarica-sub003/api"
	"github.com/damir5/kosarica-sub003/chassis/backoff"
	log "github.com/damir5/kosarica-sub003/chassis/logging"
	"github.com/damir5/kosarica-sub003/chassis/monkey"
	"github.com/damir5/kosarica-sub003/chassis/queue"
	"github.com/damir5/kosarica-sub003/chassis/storage"
	"github.com/damir5/kosarica-sub003/janitor"
	"github.com/damir5/kosarica-sub003/worker"
)

// Local development run: the whole queue on an in-memory store, with a
// seeder producing demo tasks and monkey errors exercising the retry path.
func main() {
	log.Init("local", "debug")

	store := storage.NewMemoryStore(backoff.Linear{Step: 5 * time.Second, Max: time.Minute})
	client := queue.NewClient(store)

	wrk := worker.New(worker.Config{
		Store:       store,
		MaxTasks:    5,
		PollDelay:   time.Second,
		TaskTimeout: time.Minute,
	})
	wrk.RegisterHandler("echo", flakyEcho)
	wrk.RegisterHandler("cleanup", worker.NewRetentionHandler(store, 1))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	var group sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		wrk.Start(ctx)
		close(stopped)
	}()
	janitor.Run(ctx, &janitor.Config{
		Store:            store,
		Interval:         10 * time.Second,
		DaysToKeep:       1,
		StaleTimeout:     time.Minute,
		RecoverBatchSize: 100,
	}, &group)
	group.Add(1)
	go seeder(ctx, client, &group)

	svc := api.NewService(client)
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.PathPrefix("/").Handler(svc.Router())

	srv := &http.Server{
		Addr:    ":8080",
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
	wrk.Stop()
	<-stopped
	cancel()
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Errorf("Server Shutdown Failed:%+v", err)
	}
	group.Wait()
}

func flakyEcho(ctx context.Context, task *storage.ClaimedTask) error {
	if err := monkey.RandomizeError(nil); err != nil {
		return err
	}
	return worker.HandleEcho(ctx, task)
}

func seeder(ctx context.Context, client *queue.Client, group *sync.WaitGroup) {
	defer group.Done()
	for {
		select {
		case <-ctx.Done():
			log.WithFields(log.Fields{
				"event":  "ctx_canceled",
				"worker": "seeder",
			}).Info("exit goroutine")
			return
		case <-time.After(2 * time.Second):
			id, err := client.Schedule(ctx, "echo",
				map[string]string{"demo": "true"},
				queue.WithPriority(rand.Intn(storage.MaxPriority+1)),
			)
			if err != nil {
				log.WithFields(log.Fields{
					"event":  "seed_failed",
					"worker": "seeder",
				}).Error(err)
				continue
			}
			log.WithFields(log.Fields{
				"event":  "seed_task",
				"worker": "seeder",
				"taskID": id,
			}).Debug("scheduled demo task")
		}
	}
}
