// Command study-api serves the board, sessions, settings and stats API and
// the live update stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"study-mate/api"
	"study-mate/config"
	"study-mate/storage"
	"study-mate/stream"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}
	cfg.ApplyLogLevel()
	if err := cfg.Require(cfg.Storage, cfg.Redis, cfg.Auth, cfg.Server, cfg.Enqueue); err != nil {
		log.Fatal(err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())))
	otel.SetTracerProvider(tp)

	store, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	redisOpts, err := config.RedisOptions(cfg.Redis.ConnectionString)
	if err != nil {
		log.Fatal(err)
	}
	rc := redis.NewClient(redisOpts)
	cache := storage.NewCache(store, rc, cfg.Redis.CacheTTL)
	publisher := storage.NewPublisher(rc, cfg.Redis.UpdatesChannel)
	deduper := api.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)

	var jwks *keyfunc.JWKS
	if !cfg.Auth.Local() {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth.Domain)
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: cfg.Auth.JWKSCacheTTL})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
	} else {
		log.Warn("local auth mode enabled, tokens are verified with the shared secret")
	}
	auth := api.NewAuth(cfg.Auth, jwks)

	e := echo.New()
	e.HideBanner = true
	e.Use(api.Middleware()...)
	e.Use(echoprometheus.NewMiddleware("study_api"))
	e.GET("/metrics", echoprometheus.NewHandler())

	logger := log.StandardLogger()
	h := api.NewHandler(cache, auth, deduper, publisher, cfg.Enqueue, logger)
	api.Register(e, h)

	broker := stream.NewBroker()
	stream.Register(e, stream.NewHandler(cache, auth, broker, logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go stream.SubscribeUpdates(ctx, logger, rc, cfg.Redis.UpdatesChannel, broker)

	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	h.Close()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("tracer shutdown")
	}
	_ = rc.Close()
}
