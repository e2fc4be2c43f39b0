// Package app wires the cart service components from configuration. Both the
// HTTP server and the cartctl tool start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Skotchmaster/cart_recovery/pkg/db"
	"github.com/Skotchmaster/cart_recovery/pkg/mykafka"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/cache"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/config"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/detector"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/models"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/notify"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/recovery"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/repo"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/search"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/service"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/textgen"
)

type App struct {
	Cfg *config.ServiceConfig
	DB  *gorm.DB

	Repo     *repo.GormRepo
	Carts    *service.CartService
	Behavior *service.BehaviorService
	Recovery *recovery.Service
	Detector *detector.Detector
	Searcher search.Searcher
	Popups   *notify.Popup

	// Elastic is nil when ES_URL is unset.
	Elastic *search.Elastic

	redis    *redis.Client
	producer *mykafka.Producer
}

func Build(ctx context.Context, cfg *config.ServiceConfig, log *slog.Logger) (*App, error) {
	policy, err := cfg.OfferPolicy()
	if err != nil {
		return nil, fmt.Errorf("offer policy: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gdb, err := db.Open(initCtx, cfg.DatabaseURL, db.Pool{
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxLifetime: cfg.DBConnMaxLifetime,
		MaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(gdb); err != nil {
		_ = db.Close(gdb)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{Cfg: cfg, DB: gdb, Repo: &repo.GormRepo{DB: gdb}}

	var events mykafka.Publisher = mykafka.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		a.producer = mykafka.NewProducer(cfg.KafkaBrokers)
		events = a.producer
	}

	var carts cache.CartCache = cache.Nop{}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(initCtx).Err(); err != nil {
			log.Warn("redis_unavailable", "addr", cfg.RedisAddr, "error", err)
		}
		carts = cache.NewRedisCache(a.redis, cfg.CartCacheTTL)
		a.Popups = notify.NewPopup(a.redis, cfg.PopupTTL)
	}

	a.Carts = &service.CartService{Repo: a.Repo, Cache: carts, Events: events}
	a.Behavior = &service.BehaviorService{Repo: a.Repo, Carts: a.Carts, Events: events, Policy: policy}

	a.Searcher = &search.Catalog{DB: gdb}
	if cfg.ElasticURL != "" {
		es, err := search.NewClient(search.Config{
			URL:      cfg.ElasticURL,
			Username: cfg.ElasticUser,
			Password: cfg.ElasticPassword,
			Index:    cfg.ElasticIndex,
		})
		if err != nil {
			log.Warn("elastic_unavailable", "url", cfg.ElasticURL, "error", err)
		} else {
			a.Elastic = search.NewElastic(es, cfg.ElasticIndex)
			a.Searcher = a.Elastic
		}
	}

	dispatcher := notify.NewDispatcher(cfg.DispatchMaxAttempts, cfg.DispatchBackoff)
	var channels []models.Channel
	for _, name := range cfg.RecoveryChannels {
		ch := models.Channel(name)
		switch ch {
		case models.ChannelEmail:
			dispatcher.Register(ch, notify.NewEmail(notify.SMTPConfig{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUsername,
				Password: cfg.SMTPPassword,
				From:     cfg.SMTPFrom,
			}))
		case models.ChannelPopup:
			if a.Popups == nil {
				continue
			}
			dispatcher.Register(ch, a.Popups)
		case models.ChannelChat:
			dispatcher.Register(ch, notify.NewChat(events))
		default:
			log.Warn("unknown_recovery_channel", "channel", name)
			continue
		}
		channels = append(channels, ch)
	}

	gen := textgen.WithFallback(textgen.NewOpenRouter(textgen.OpenRouterConfig{
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
		Referer: cfg.AIReferer,
		Title:   cfg.AITitle,
	}), cfg.AITimeout)

	a.Recovery = &recovery.Service{
		Repo:            a.Repo,
		Generator:       gen,
		Notifier:        dispatcher,
		Carts:           a.Carts,
		Events:          events,
		Policy:          policy,
		Channels:        channels,
		DeliveryTimeout: cfg.DeliveryTimeout,
		FollowUpStep:    cfg.FollowUpStep,
		FollowUpCap:     cfg.FollowUpCap,
		FrontendURL:     cfg.FrontendURL,
		PublicBaseURL:   cfg.PublicBaseURL,
		TrackingSecret:  []byte(cfg.TrackingSecret),
		TrackingTTL:     cfg.TrackingTTL,
	}

	a.Detector = &detector.Detector{
		Repo:          a.Repo,
		Emitter:       a.Recovery,
		Carts:         a.Carts,
		Events:        events,
		Threshold:     cfg.AbandonThreshold,
		Interval:      cfg.DetectorInterval,
		ErrorBackoff:  cfg.DetectorErrorBackoff,
		FollowUpAfter: cfg.FollowUpAfter,
		Batch:         cfg.DetectorBatch,
		Concurrency:   cfg.DetectorConcurrency,
		MaxAttempts:   cfg.EmitMaxAttempts,
	}

	log.Info("app_ready",
		"channels", channels,
		"search", fmt.Sprintf("%T", a.Searcher),
		"kafka", a.producer != nil,
		"redis", a.redis != nil,
	)
	return a, nil
}

// Ready backs the readiness probe.
func (a *App) Ready(ctx context.Context) error {
	if err := db.Ping(ctx, a.DB); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, db.Close(a.DB))
	return errors.Join(errs...)
}
