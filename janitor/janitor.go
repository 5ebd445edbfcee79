package janitor

import (
	"context"
	"sync"
	"time"

	log "github.com/damir5/kosarica-sub003/chassis/logging"
	"github.com/damir5/kosarica-sub003/chassis/metrics"
	"github.com/damir5/kosarica-sub003/chassis/storage"
)

// Config ...
type Config struct {
	Store            storage.TaskStore
	Interval         time.Duration
	DaysToKeep       int
	StaleTimeout     time.Duration
	RecoverBatchSize int
}

func sweeper(ctx context.Context, cfg *Config, group *sync.WaitGroup) {
	defer group.Done()
	retention := time.Duration(cfg.DaysToKeep) * 24 * time.Hour
	for {
		select {
		case <-ctx.Done():
			log.WithFields(log.Fields{
				"event":  "ctx_canceled",
				"worker": "sweeper",
			}).Info("exit goroutine")
			return
		case <-time.After(cfg.Interval):
			cleaned, err := cfg.Store.Cleanup(ctx, retention)
			if err != nil {
				log.WithFields(log.Fields{
					"event":  "cleanup_failed",
					"worker": "sweeper",
				}).Error(err)
				continue
			}
			metrics.RowsCleaned.Add(float64(cleaned))
			log.WithFields(log.Fields{
				"event":  "cleanup",
				"worker": "sweeper",
			}).Info("cleaned terminal rows: ", cleaned)
		}
	}
}

func recoverer(ctx context.Context, cfg *Config, group *sync.WaitGroup) {
	defer group.Done()
	for {
		select {
		case <-ctx.Done():
			log.WithFields(log.Fields{
				"event":  "ctx_canceled",
				"worker": "recoverer",
			}).Info("exit goroutine")
			return
		case <-time.After(cfg.Interval):
			repaired, err := cfg.Store.RecoverStale(ctx, cfg.StaleTimeout, cfg.RecoverBatchSize)
			if err != nil {
				log.WithFields(log.Fields{
					"event":  "stale_recovery_failed",
					"worker": "recoverer",
				}).Error(err)
				continue
			}
			metrics.TasksRecovered.Add(float64(repaired))
			log.WithFields(log.Fields{
				"event":  "stale_recovery",
				"worker": "recoverer",
			}).Info("repaired stale claims: ", repaired)
		}
	}
}

// Run ...
func Run(ctx context.Context, cfg *Config, group *sync.WaitGroup) {
	log.WithFields(log.Fields{
		"event": "start_service",
	}).Info("starting janitor, keeping ", cfg.DaysToKeep, " days of terminal rows")
	group.Add(2)
	go sweeper(ctx, cfg, group)
	go recoverer(ctx, cfg, group)
}
