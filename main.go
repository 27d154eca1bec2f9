package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"staffroom/internal/cache"
	"staffroom/internal/config"
	"staffroom/internal/dispatch"
	"staffroom/internal/httpapi"
	"staffroom/internal/live"
	"staffroom/internal/offline"
	"staffroom/internal/platform"
	"staffroom/internal/presence"
	"staffroom/internal/pubsub"
	"staffroom/internal/push"
	"staffroom/internal/ratelimit"
	"staffroom/internal/store"
	"staffroom/internal/worker"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var backend store.Backend
	if cfg.StoreURL == "" {
		log.Warn().Msg("STORE_URL not set, running in degraded single-instance mode")
		backend = store.NewLocal(ctx)
	} else {
		backend, err = store.NewRemote(ctx, cfg.StoreURL, cfg.StoreTimeout)
		if err != nil {
			return err
		}
	}
	defer func() { _ = backend.Close() }()

	queueStore, err := offline.NewQueueStore(cfg.QueueDB)
	if err != nil {
		return err
	}
	defer func() { _ = queueStore.Close() }()

	registry := live.NewRegistry()
	tracker := presence.NewTracker(backend, cfg.PresenceTTL, cfg.TypingTTL)
	sharedCache := cache.New(ctx, backend, cfg.MemberCacheTTL)
	limiter := ratelimit.New(backend)
	bus := pubsub.New(backend)

	pool := worker.NewPool(cfg.Workers)
	pool.Start(ctx)

	client := platform.NewClient(cfg.PlatformURL)
	directory := platform.NewCachedDirectory(client, sharedCache, cfg.MemberCacheTTL)

	dispatcher := dispatch.New(directory, registry, bus)
	dispatcher.Start()
	defer dispatcher.Stop()

	var sender push.Sender = push.NopSender{}
	if cfg.VAPIDPublicKey != "" {
		sender = push.NewWebPush(cfg.VAPIDSubscriber, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	}

	queue := offline.NewService(queueStore, registry, tracker, client, sender, pool, cfg.OfflineTTL)

	wsServer := live.NewServer(registry, tracker, dispatcher, queue)
	handlers := httpapi.NewHandlers(dispatcher, queue, limiter, tracker, pool)
	apiServer := httpapi.NewServer(handlers, wsServer, backend, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Start()
	})

	g.Go(func() error {
		queue.RunSweeper(gCtx, cfg.CleanupInterval)
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("api server shutdown error")
		}
		pool.Wait()
		return nil
	})

	return g.Wait()
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("LOG_PRETTY") != "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("application error")
	}
}
