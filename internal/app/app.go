package app

import (
	"context"
	"fmt"
	"time"

	"order-reconciler/config"
	"order-reconciler/internal/backendapi"
	"order-reconciler/internal/broker"
	"order-reconciler/internal/clock"
	"order-reconciler/internal/dedup"
	"order-reconciler/internal/localstate"
	"order-reconciler/internal/push"
	"order-reconciler/internal/ratelimit"
	"order-reconciler/internal/redisclient"
	"order-reconciler/internal/retry"
	"order-reconciler/internal/service"
	"order-reconciler/internal/store"
	"order-reconciler/internal/util"
	"order-reconciler/internal/worker"

	"go.uber.org/zap"
)

// App holds the wired reconciliation pipeline and the resources behind it
type App struct {
	Config   *config.Config
	State    *dedup.Tiered
	Pipeline *service.Pipeline
	Backend  *backendapi.Client
	Feed     *backendapi.FeedClient

	// Store is set only for the postgres state backend
	Store *store.Store
	// Redis is set when redis backs dedup state or the price cache
	Redis *redisclient.Client

	closers []func() error
	logger  *zap.Logger
}

// New wires the pipeline from configuration
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, logger: util.GetLogger()}

	backend, err := a.openState(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.State = dedup.NewTiered(cfg.State.Capacity, backend)
	a.State.SetRetention(cfg.State.Retention)

	if a.Redis == nil && cfg.Redis.PriceCache {
		rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.State.Capacity)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("price cache: %w", err)
		}
		a.Redis = rc
		a.closers = append(a.closers, rc.Close)
	}

	a.Backend = backendapi.NewClient(cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.Timeout)
	a.Feed = backendapi.NewFeedClient(backendapi.NewClient(cfg.Feed.URL, cfg.Feed.APIKey, cfg.Backend.Timeout))

	var priceCache service.PriceCache
	if cfg.Redis.PriceCache && a.Redis != nil {
		priceCache = a.Redis
	}
	catalog := service.NewCatalog(a.Backend, priceCache, cfg.Redis.PriceTTL)

	limiter := ratelimit.NewLimiter(clock.Real{})
	limiter.OnWait = func(class string, waited time.Duration) {
		util.RateLimitWait.WithLabelValues(class).Observe(waited.Seconds())
	}

	intervals := ratelimit.Intervals{
		ratelimit.ClassTicket: cfg.Cascade.TicketInterval,
		ratelimit.ClassOrder:  cfg.Cascade.OrderInterval,
		ratelimit.ClassItem:   cfg.Cascade.ItemInterval,
	}
	policy := retry.Policy{
		MaxAttempts: cfg.Cascade.MaxAttempts,
		BaseDelay:   cfg.Cascade.BaseDelay,
		Backoff:     retry.ParseBackoff(cfg.Cascade.Backoff),
	}

	cascade := service.NewCascadeCreator(a.Backend, catalog, limiter, intervals, policy,
		service.NewAggregator(cfg.Cascade.SuccessThreshold))
	resolver := service.NewCustomerResolver(a.Backend, cfg.Cascade.WalkInCustomerID)

	var publisher service.OutcomePublisher = broker.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOutcomes)
		a.closers = append(a.closers, producer.Close)
		publisher = broker.NewEventPublisher(producer)
		a.logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOutcomes))
	}

	a.Pipeline = service.NewPipeline(a.State, resolver, a.Backend, cascade, publisher)
	return a, nil
}

// openState opens the durable dedup backend; memory returns nil
func (a *App) openState(ctx context.Context) (dedup.Backend, error) {
	cfg := a.Config
	switch cfg.State.Backend {
	case "", "memory":
		a.logger.Info("Using in-memory dedup state")
		return nil, nil

	case "redis":
		rc, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.State.Capacity)
		if err != nil {
			return nil, fmt.Errorf("redis state: %w", err)
		}
		a.Redis = rc
		a.closers = append(a.closers, rc.Close)
		a.logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
		return rc, nil

	case "postgres":
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		a.Store = db
		a.logger.Info("Database connected")
		return db, nil

	case "pebble":
		ps, err := localstate.NewPebbleStore(cfg.State.PebbleDir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ps.Close)
		n, err := ps.SeenCount()
		if err != nil {
			a.logger.Warn("Failed to count seen keys", zap.Error(err))
		}
		a.logger.Info("Pebble state opened", zap.String("dir", cfg.State.PebbleDir), zap.Int("seen", n))
		return ps, nil
	}

	return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
}

// Poller returns the feed poller, or nil when polling is disabled
func (a *App) Poller() *worker.FeedPoller {
	if !a.Config.Feed.Enabled {
		return nil
	}
	return worker.NewFeedPoller(a.Feed, a.Pipeline, a.State, a.Config.Feed.Name, a.Config.Feed.PollInterval)
}

// Pruner returns the dedup retention worker, or nil when the state backend keeps everything
func (a *App) Pruner() *worker.StatePruner {
	if _, ok := a.State.Backend().(dedup.Pruner); !ok || a.Config.State.Retention <= 0 {
		return nil
	}
	return worker.NewStatePruner(a.State, a.Config.State.PruneInterval)
}

// PushListener returns the push listener for the configured transport, or nil for none
func (a *App) PushListener() (*worker.PushListener, error) {
	cfg := a.Config.Push

	var dialer push.Dialer
	switch cfg.Transport {
	case "", "none":
		return nil, nil
	case "websocket":
		dialer = &push.WebsocketDialer{
			URL:          cfg.URL,
			Token:        cfg.Token,
			PingInterval: cfg.PingInterval,
			PongWait:     cfg.PongWait,

			ConnectionInfoURL: cfg.ConnectionInfo,
			TokenURL:          cfg.TokenURL,
			PublicHost:        cfg.PublicHost,
		}
	case "kafka":
		if len(a.Config.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka push transport requires KAFKA_BROKERS")
		}
		dialer = &broker.KafkaDialer{
			Brokers: a.Config.Kafka.Brokers,
			Topic:   a.Config.Kafka.TopicPush,
			GroupID: a.Config.Kafka.ConsumerGroup,
		}
	default:
		return nil, fmt.Errorf("unknown push transport %q", cfg.Transport)
	}

	return worker.NewPushListener(dialer, a.Feed, a.Pipeline, cfg.SessionCap, cfg.ReconnectDelay, clock.Real{}), nil
}

// Ready pings the durable state backend
func (a *App) Ready(ctx context.Context) error {
	if a.Redis != nil {
		if err := a.Redis.GetClient().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if a.Store != nil {
		if err := a.Store.GetDB().PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

// Close releases resources in reverse order of acquisition
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error closing resource", zap.Error(err))
		}
	}
	a.closers = nil
}
