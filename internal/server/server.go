package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/zhejian/shorten/internal/api"
	"github.com/zhejian/shorten/internal/audit"
	"github.com/zhejian/shorten/internal/config"
	"github.com/zhejian/shorten/internal/middleware"
	"github.com/zhejian/shorten/internal/observability"
	"github.com/zhejian/shorten/internal/ratelimit"
	"github.com/zhejian/shorten/internal/repository"
	"github.com/zhejian/shorten/internal/security"
	"github.com/zhejian/shorten/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// redisPinger adapts *redis.Client to api.CacheInterface.
type redisPinger struct{ client *redis.Client }

func (r *redisPinger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// NewRouter initializes all dependencies and returns a configured Gin router.
// This is useful for testing where you don't need the full HTTP server.
//
// The queue connection is optional: when nil, audit events go to the log
// only. When a publisher is created, the caller owns its shutdown and must
// call Close after the HTTP server has stopped accepting requests.
func NewRouter(cfg *config.Config, db *pgxpool.Pool, cache *redis.Client, queue *amqp.Connection, obs *observability.Observability) (*gin.Engine, *audit.Publisher, error) {
	validator := security.NewValidator(security.Policy{
		MaxURLLength:   cfg.App.MaxURLLength,
		MinSlugLength:  cfg.App.MinSlugLength,
		MaxSlugLength:  cfg.App.MaxSlugLength,
		BlockedDomains: cfg.App.BlockedDomains,
	})

	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(cache), cfg.RateLimit.Enabled)

	baseRepo := repository.NewLinkRepository(db)
	linkRepo := repository.NewCachedLinkRepository(baseRepo, cache, cfg.Cache.TTL)
	generator := service.NewSlugGenerator(linkRepo)

	// Every event goes to the log; the queue publisher is added when a
	// broker connection is available.
	var recorder audit.Recorder = audit.NewLog(obs.Logger)
	var publisher *audit.Publisher
	if queue != nil {
		var err error
		publisher, err = audit.NewPublisher(queue, cfg.Queue.AuditQueue, obs.Logger)
		if err != nil {
			return nil, nil, err
		}
		recorder = audit.Fanout{recorder, publisher}
	}

	linkService := service.NewLinkService(linkRepo, validator, generator, limiter, recorder, service.Limits{
		ShortenShort: cfg.RateLimit.ShortenShort,
		ShortenLong:  cfg.RateLimit.ShortenLong,
		Redirect:     cfg.RateLimit.Redirect,
	})

	handler := api.NewHandler(linkService, db, &redisPinger{client: cache}, obs.Logger, cfg.App.BaseURL, cfg.App.RecentLimit)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Observability.ServiceName))
	router.Use(middleware.Logging(obs.Logger))
	router.Use(middleware.Metrics(obs.MeterProvider.Meter("shorten/http"), obs.Logger))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(obs.Registry, promhttp.HandlerOpts{})))

	handler.RegisterRoutes(router)

	return router, publisher, nil
}

// NewServer initializes all dependencies and returns a configured HTTP server.
// This includes the router plus HTTP server settings (timeouts, address, etc.).
func NewServer(cfg *config.Config, db *pgxpool.Pool, cache *redis.Client, queue *amqp.Connection, obs *observability.Observability) (*http.Server, *audit.Publisher, error) {
	router, publisher, err := NewRouter(cfg, db, cache, queue, obs)
	if err != nil {
		return nil, nil, err
	}

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, publisher, nil
}
