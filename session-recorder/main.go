// Command session-recorder drains the session queue into the sessions table.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"study-mate/config"
	"study-mate/storage"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}
	cfg.ApplyLogLevel()
	if err := cfg.Require(cfg.Storage, cfg.Redis); err != nil {
		log.Fatal(err)
	}
	log.Info("session recorder starting")

	store, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	redisOpts, err := config.RedisOptions(cfg.Redis.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	p := &processor{
		store: store,
		cache: storage.NewCache(store, rc, cfg.Redis.CacheTTL),
		pub:   storage.NewPublisher(rc, cfg.Redis.UpdatesChannel),
		log:   log.StandardLogger(),
		now:   time.Now,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	p.run(ctx, store, time.Second)
	log.Info("session recorder stopped")
}
