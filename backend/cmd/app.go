package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/adwski/rps-arena/backend/dedup"
	"github.com/adwski/rps-arena/backend/delivery"
	"github.com/adwski/rps-arena/backend/rooms"
	httpServer "github.com/adwski/rps-arena/backend/server/http"
	websocketServer "github.com/adwski/rps-arena/backend/server/websocket"
	"github.com/adwski/rps-arena/backend/service"
	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket match listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		redisAddr     = fs.StringP("redis-addr", "r", os.Getenv("REDIS_ADDR"), "redis address for the dedup store, empty for in-memory")
		bestOf        = fs.IntP("best-of", "b", 5, "rounds bound per match, must be odd")
		roundTimeout  = fs.DurationP("round-timeout", "t", 20*time.Second, "deadline for both moves in a round")
		dedupTTL      = fs.Duration("dedup-ttl", dedup.DefaultTTL, "expiry of idempotency keys")
		sweepInterval = fs.Duration("room-sweep-interval", time.Minute, "how often empty rooms are evicted")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	var guard dedup.Guard
	if *redisAddr != "" {
		redisGuard, errG := dedup.NewRedisGuard(*redisAddr, &logger)
		if errG != nil {
			logger.Fatal().Err(errG).Msg("failed to connect dedup store")
		}
		defer func() {
			_ = redisGuard.Close()
		}()
		guard = redisGuard
	} else {
		logger.Warn().Msg("no redis address configured, using in-memory dedup store")
		guard = dedup.NewMemGuard()
	}

	registry := rooms.NewRegistry(rooms.Config{
		Logger: &logger,
		BestOf: *bestOf,
	})
	svc := service.NewService(service.Config{
		Registry:     registry,
		Delivery:     delivery.New(delivery.Config{Logger: &logger}),
		Guard:        guard,
		Logger:       &logger,
		RoundTimeout: *roundTimeout,
		DedupTTL:     *dedupTTL,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: svc,
		ListenAddr:  *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:       &logger,
		MatchService: svc,
		ListenAddr:   *wsListenAddr,
	})

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create scheduler")
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(*sweepInterval),
		gocron.NewTask(func() {
			if evicted := registry.EvictEmpty(); evicted > 0 {
				logger.Debug().Int("evicted", evicted).Msg("empty rooms swept")
			}
		}),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule room sweep")
	}
	scheduler.Start()
	defer func() {
		_ = scheduler.Shutdown()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
