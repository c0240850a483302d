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

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/round-cube/parking-dashboard/api"
	"github.com/round-cube/parking-dashboard/clock"
	"github.com/round-cube/parking-dashboard/gateway"
	"github.com/round-cube/parking-dashboard/lot"
	"github.com/round-cube/parking-dashboard/shared"
	"github.com/round-cube/parking-dashboard/store"
)

type Settings struct {
	gatewayURL         string
	gatewayToken       string
	httpRequestTimeout time.Duration
	pollInterval       time.Duration
	tickInterval       time.Duration
	notificationTTL    time.Duration
	releaseGrace       time.Duration
	currency           string
	capacity           int
	listenAddr         string
	promPort           int
	promPath           string
	redisURL           string
	snapshotTTL        time.Duration
	rmqURL             string
	releasesQueueName  string
	logLevel           string
}

func newSettings() (Settings, error) {
	var s Settings
	var err error

	s.gatewayURL, err = shared.GetEnv("GATEWAY_URL")
	if err != nil {
		return s, err
	}

	s.gatewayToken = shared.GetEnvDefault("GATEWAY_TOKEN", "")
	s.httpRequestTimeout = shared.GetEnvDuration("HTTP_REQUEST_TIMEOUT_S", 10, time.Second)
	s.pollInterval = shared.GetEnvDuration("POLL_INTERVAL_S", 10, time.Second)
	s.tickInterval = shared.GetEnvDuration("TICK_INTERVAL_MS", 1000, time.Millisecond)
	s.notificationTTL = shared.GetEnvDuration("NOTIFICATION_TTL_S", 5, time.Second)
	s.releaseGrace = shared.GetEnvDuration("RELEASE_GRACE_S", int(s.pollInterval/time.Second), time.Second)
	s.currency = shared.GetEnvDefault("CURRENCY", "रू")
	s.capacity = shared.GetEnvInt("LOT_CAPACITY", 50)
	s.listenAddr = shared.GetEnvDefault("LISTEN_ADDR", ":8080")
	s.promPath = shared.GetEnvDefault("PROM_PATH", "/metrics")
	s.promPort = shared.GetEnvInt("PROM_PORT", 2112)
	s.redisURL = shared.GetEnvDefault("REDIS_URL", "")
	s.snapshotTTL = shared.GetEnvDuration("SNAPSHOT_TTL_S", 60, time.Second)
	s.rmqURL = shared.GetEnvDefault("RMQ_URL", "")
	s.releasesQueueName = shared.GetEnvDefault("RELEASES_QUEUE_NAME", "releases")
	s.logLevel = shared.GetEnvDefault("LOG_LEVEL", "debug")

	if s.pollInterval <= 0 || s.tickInterval <= 0 {
		return s, errors.New("POLL_INTERVAL_S and TICK_INTERVAL_MS must be positive")
	}
	return s, nil
}

func main() {
	settings, err := newSettings()
	shared.InitLog(settings.logLevel)
	shared.PanicOnError(err, "failed to read settings")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := http.NewServeMux()
	metrics.Handle(settings.promPath, promhttp.Handler())
	go http.ListenAndServe(fmt.Sprintf(":%d", settings.promPort), metrics)
	fmt.Printf("prometheus metrics available at http://localhost:%d%s\n", settings.promPort, settings.promPath)

	var opts []lot.Option
	var cache *store.SnapshotCache

	if settings.redisURL != "" {
		opt, err := redis.ParseURL(settings.redisURL)
		shared.PanicOnError(err, "failed to parse redis URL")
		rds := redis.NewClient(opt)
		defer rds.Close()

		cache = store.NewSnapshotCache(rds, settings.snapshotTTL)
		if prev, found, err := cache.Load(ctx); err != nil {
			log.Warnf("failed to read cached snapshot: %s", err)
		} else if found {
			log.Infof("previous snapshot found: generation %d taken at %s", prev.Generation, prev.TakenAt.UTC().Format(time.RFC3339))
		}
		go cache.Run(ctx)

		opts = append(opts, lot.WithReleaseLocker(store.NewReleaseLocker(rds, settings.httpRequestTimeout)))
	}

	if settings.rmqURL != "" {
		rmq, err := shared.NewRMQueue(settings.rmqURL, settings.releasesQueueName)
		shared.PanicOnError(err, "failed to connect to RMQ")
		defer rmq.Close()
		opts = append(opts, lot.WithReleaseSink(&shared.ReleasePublisher{Queue: rmq}))
	}

	gw := gateway.NewClient(settings.gatewayURL, settings.gatewayToken, settings.httpRequestTimeout)
	d := lot.New(gw, clock.Real{}, lot.Config{
		PollInterval:    settings.pollInterval,
		TickInterval:    settings.tickInterval,
		NotificationTTL: settings.notificationTTL,
		ReleaseGrace:    settings.releaseGrace,
		RequestTimeout:  settings.httpRequestTimeout,
		Currency:        settings.currency,
		Capacity:        settings.capacity,
	}, opts...)
	if cache != nil {
		d.Subscribe(cache.Observe)
	}
	d.Start(ctx)
	defer d.Stop()

	srv := &http.Server{
		Addr:              settings.listenAddr,
		Handler:           api.NewRouter(d),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("failed to shut down server: %s", err)
		}
	}()

	log.Infof("dashboard listening on %s, polling %s every %s", settings.listenAddr, settings.gatewayURL, settings.pollInterval)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		shared.PanicOnError(err, "failed to serve dashboard")
	}
}
