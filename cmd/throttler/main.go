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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rate-throttler/internal/broadcast"
	"rate-throttler/internal/bus"
	"rate-throttler/internal/config"
	"rate-throttler/internal/ingest"
	"rate-throttler/internal/logger"
	"rate-throttler/internal/state"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
	log.Info("stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("starting rate throttler", zap.String("source", cfg.Source), zap.String("addr", cfg.HTTPAddr))

	// 1. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := bus.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// 2. Rate bus
	rates := bus.New(
		bus.WithLogger(log.Named("bus")),
		bus.WithMetrics(metrics),
	)

	// 3. History ring buffer, pre-loaded from the journal on restart
	history := state.NewRingBuffer(cfg.HistorySize)
	var journal *logger.Journal
	// The bus drains into the journal, so it closes first.
	defer func() {
		rates.Close()
		if journal != nil {
			if err := journal.Close(); err != nil {
				log.Warn("closing journal", zap.Error(err))
			}
		}
	}()
	if cfg.JournalEnabled() {
		recent, err := state.LoadFromCSV(cfg.JournalDir, cfg.HistorySize)
		if err != nil {
			log.Warn("history preload failed", zap.Error(err))
		}
		for _, u := range recent {
			history.Add(u)
		}
		log.Info("ring buffer pre-loaded", zap.Int("updates", history.Size()))

		// 4. Journal
		journal, err = logger.NewJournal(cfg.JournalDir, logger.WithLogger(log.Named("journal")))
		if err != nil {
			return err
		}
		if err := rates.Subscribe(journal); err != nil {
			return err
		}
	}
	if err := rates.Subscribe(history); err != nil {
		return err
	}

	// 5. Source
	source, closeSource, err := newSource(cfg, rates, log)
	if err != nil {
		return err
	}
	defer closeSource()

	// 6. Websocket broadcaster
	server := broadcast.NewServer(rates, history,
		broadcast.WithLogger(log.Named("broadcast")),
		broadcast.WithGatherer(reg),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return source.Run(ctx)
	})
	if journal != nil {
		g.Go(func() error {
			return journal.Run(ctx)
		})
	}
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// 7. Shutdown
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(sctx)
		server.Close()
		return err
	})

	return g.Wait()
}

// newSource builds the configured producer. The returned close func
// releases clients the source does not own.
func newSource(cfg *config.Config, pub ingest.Publisher, log *zap.Logger) (ingest.Source, func(), error) {
	noop := func() {}
	switch cfg.Source {
	case config.SourceGenerator:
		return ingest.NewGenerator(cfg.Pairs, cfg.GeneratorInterval, pub, uint64(time.Now().UnixNano())), noop, nil
	case config.SourceWebsocket:
		return ingest.NewIngester(cfg.FeedURL, pub, log), noop, nil
	case config.SourcePoll:
		return ingest.NewPoller(cfg.PollURL, cfg.PollInterval, pub, log), noop, nil
	case config.SourceRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return ingest.NewRedisSource(client, cfg.RedisChannel, pub, log), func() { client.Close() }, nil
	case config.SourceKafka:
		reader := ingest.NewKafkaReader(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)
		return ingest.NewKafkaSource(reader, pub, log), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown source %q", cfg.Source)
}
