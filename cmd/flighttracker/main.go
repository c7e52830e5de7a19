package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pranav412-code/Flight-Tracker/internal/archive"
	"github.com/pranav412-code/Flight-Tracker/internal/collector"
	"github.com/pranav412-code/Flight-Tracker/internal/config"
	"github.com/pranav412-code/Flight-Tracker/internal/db"
	"github.com/pranav412-code/Flight-Tracker/internal/db/migrations"
	"github.com/pranav412-code/Flight-Tracker/internal/engine"
	"github.com/pranav412-code/Flight-Tracker/internal/flightapi"
	"github.com/pranav412-code/Flight-Tracker/internal/httpapi"
	"github.com/pranav412-code/Flight-Tracker/internal/nats"
	"github.com/pranav412-code/Flight-Tracker/internal/redis"
	"github.com/pranav412-code/Flight-Tracker/internal/scheduler"
	"github.com/pranav412-code/Flight-Tracker/internal/statistics"
	"github.com/pranav412-code/Flight-Tracker/internal/stats"
	"github.com/pranav412-code/Flight-Tracker/internal/tracking"
)

// clients holds the connections the application owns. Only db is required.
type clients struct {
	db      *db.Client
	nats    *nats.Client
	redis   *redis.Client
	archive *archive.Archive
}

// app is the wired application
type app struct {
	clients    *clients
	stats      *stats.Stats
	scheduler  *scheduler.Scheduler
	tracker    *tracking.Controller
	statistics *statistics.Controller
	server     *httpapi.Server
}

// openStore opens the record store, checks it and applies pending migrations
func openStore(driver, connStr string) (*db.Client, error) {
	store, err := db.New(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		closeStore(store)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(store); err != nil {
		closeStore(store)
		return nil, err
	}
	return store, nil
}

// runMigrations applies every pending migration for the store's dialect
func runMigrations(store *db.Client) error {
	migrator := migrations.New(store.DB(), store.Dialect())
	if err := migrator.Migrate(migrations.All(store.Dialect())); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func closeStore(store *db.Client) {
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing dbClient: %v\n", err)
	}
}

// createClients opens the store and every optional backend the config names
func createClients(cfg *config.Config) (*clients, error) {
	store, err := openStore(cfg.DBDriver, cfg.DBConnStr)
	if err != nil {
		return nil, err
	}
	c := &clients{db: store}

	if cfg.ArchiveDir != "" {
		c.archive = archive.New(cfg.ArchiveDir)
		if err := c.archive.Start(); err != nil {
			c.close()
			return nil, fmt.Errorf("failed to start archive: %w", err)
		}
	}

	if cfg.NATSURL != "" {
		if c.nats, err = nats.New(cfg.NATSURL); err != nil {
			c.close()
			return nil, fmt.Errorf("failed to create NATS client: %w", err)
		}
	}

	if cfg.RedisAddr != "" {
		if c.redis, err = redis.New(cfg.RedisAddr); err != nil {
			c.close()
			return nil, fmt.Errorf("failed to create Redis client: %w", err)
		}
	}

	return c, nil
}

func (c *clients) close() {
	if c.archive != nil {
		if err := c.archive.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "error stopping archive: %v\n", err)
		}
	}
	if c.nats != nil {
		c.nats.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing redisClient: %v\n", err)
		}
	}
	if c.db != nil {
		closeStore(c.db)
	}
}

// stateStore picks where the collection bookkeeping lives: Redis when
// configured, the record store otherwise
func (c *clients) stateStore() collector.StateStore {
	if c.redis != nil {
		return c.redis
	}
	return c.db
}

// collectionSwitch picks where the collection toggle is persisted, next to
// the rest of the collection bookkeeping
func (c *clients) collectionSwitch() statistics.Switch {
	if c.redis != nil {
		return c.redis
	}
	return c.db
}

// buildApp wires the controllers on top of the clients and resumes a
// collection that was left switched on
func buildApp(cfg *config.Config, c *clients) (*app, error) {
	st := stats.New()
	st.SetDB(c.db)

	apiOpts := []flightapi.Option{flightapi.WithTimeout(cfg.HTTPTimeout)}
	if c.archive != nil {
		apiOpts = append(apiOpts, flightapi.WithRecorder(c.archive))
	}
	api := flightapi.New(cfg.APIBaseURL, cfg.APIKey, apiOpts...)

	engineOpts := []engine.Option{engine.WithLocation(cfg.TimeZone), engine.WithStats(st)}
	if c.nats != nil {
		engineOpts = append(engineOpts, engine.WithPublisher(c.nats))
	}
	eng := engine.New(c.db, engineOpts...)

	trackingOpts := []tracking.Option{tracking.WithPollInterval(cfg.PollInterval), tracking.WithStats(st)}
	if c.nats != nil {
		trackingOpts = append(trackingOpts, tracking.WithStatusPublisher(c.nats))
	}
	if c.redis != nil {
		trackingOpts = append(trackingOpts, tracking.WithFlightCache(c.redis))
	}
	tracker := tracking.New(api, eng, trackingOpts...)

	job := collector.New(api, eng, c.db, c.stateStore(), collector.Config{
		MaxCollections: cfg.MaxCollections,
		MinInterval:    cfg.MinCollectionInterval,
		Retention:      cfg.Retention(),
	}, collector.WithStats(st))

	sched := scheduler.New()
	statsCtl := statistics.New(c.db, sched, job, statistics.Config{
		Interval:     cfg.CollectionInterval,
		InitialDelay: cfg.CollectionInitialDelay,
	}, statistics.WithSwitch(c.collectionSwitch()))

	if c.nats != nil {
		if err := c.nats.SubscribeCollect(func() {
			log.Printf("Collection requested over NATS, run %s", statsCtl.CollectNow())
		}); err != nil {
			sched.Stop()
			return nil, fmt.Errorf("failed to subscribe to collection requests: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := statsCtl.Resume(ctx); err != nil {
		log.Printf("Failed to resume collection: %v", err)
	}

	var serverOpts []httpapi.Option
	if c.redis != nil {
		serverOpts = append(serverOpts, httpapi.WithFlightCache(c.redis))
	}
	server := httpapi.New(tracker, statsCtl, c.db, st, httpapi.Config{
		Addr:           cfg.HTTPAddr,
		AllowedOrigins: cfg.CORSOrigins,
	}, serverOpts...)

	return &app{
		clients:    c,
		stats:      st,
		scheduler:  sched,
		tracker:    tracker,
		statistics: statsCtl,
		server:     server,
	}, nil
}

// run serves the API and the background loops until ctx is cancelled
// and the final counter dump has been written
func (a *app) run(ctx context.Context, statsInterval time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go logStats(ctx, a.stats, time.Minute)

	persisted := make(chan struct{})
	go func() {
		defer close(persisted)
		if statsInterval > 0 {
			a.stats.StartPersistence(ctx, statsInterval)
		}
	}()

	err := a.server.Run(ctx)
	cancel()
	<-persisted
	return err
}

// shutdown stops the controllers, then closes the clients
func (a *app) shutdown() {
	a.tracker.Close()
	a.scheduler.Stop()
	a.clients.close()
}

// logStats periodically logs statistics
func logStats(ctx context.Context, s *stats.Stats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("Statistics:\n%s", s)
		}
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	c, err := createClients(cfg)
	if err != nil {
		log.Printf("Failed to create clients: %v", err)
		os.Exit(1)
	}

	a, err := buildApp(cfg, c)
	if err != nil {
		log.Printf("Failed to build application: %v", err)
		c.close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := a.run(ctx, cfg.StatsInterval)
	stop()

	log.Println("Shutting down...")
	a.shutdown()

	if runErr != nil {
		log.Printf("HTTP server failed: %v", runErr)
		os.Exit(1)
	}
}
