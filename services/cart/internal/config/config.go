package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/cart_recovery/pkg/config"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/offer"
)

type ServiceConfig struct {
	config.Config

	AbandonThreshold     time.Duration `env:"ABANDON_THRESHOLD" envDefault:"30m"`
	DetectorInterval     time.Duration `env:"DETECTOR_INTERVAL" envDefault:"300s"`
	DetectorErrorBackoff time.Duration `env:"DETECTOR_ERROR_BACKOFF" envDefault:"60s"`
	DetectorBatch        int           `env:"DETECTOR_BATCH" envDefault:"200"`
	DetectorConcurrency  int           `env:"DETECTOR_CONCURRENCY" envDefault:"8"`
	EmitMaxAttempts      int           `env:"EMIT_MAX_ATTEMPTS" envDefault:"3"`

	FollowUpAfter time.Duration   `env:"FOLLOW_UP_AFTER" envDefault:"24h"`
	FollowUpStep  decimal.Decimal `env:"FOLLOW_UP_STEP" envDefault:"5"`
	FollowUpCap   decimal.Decimal `env:"FOLLOW_UP_CAP" envDefault:"25"`

	// Client side exit intent timer, independent of AbandonThreshold.
	PopupIdleSeconds int           `env:"POPUP_IDLE_SECONDS" envDefault:"30"`
	PopupTTL         time.Duration `env:"POPUP_TTL" envDefault:"24h"`

	RecoveryChannels    []string      `env:"RECOVERY_CHANNELS" envDefault:"email,popup" envSeparator:","`
	DeliveryTimeout     time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"30s"`
	DispatchMaxAttempts int           `env:"DISPATCH_MAX_ATTEMPTS" envDefault:"3"`
	DispatchBackoff     time.Duration `env:"DISPATCH_BACKOFF" envDefault:"500ms"`

	FrontendURL    string        `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	PublicBaseURL  string        `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	TrackingSecret string        `env:"TRACKING_SECRET"`
	TrackingTTL    time.Duration `env:"TRACKING_TTL" envDefault:"720h"`

	AIAPIKey  string        `env:"AI_API_KEY"`
	AIBaseURL string        `env:"AI_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	AIModel   string        `env:"AI_MODEL" envDefault:"deepseek/deepseek-chat-v3.1:free"`
	AITimeout time.Duration `env:"AI_TIMEOUT" envDefault:"10s"`
	AIReferer string        `env:"AI_REFERER" envDefault:"cart-recovery-ai.com"`
	AITitle   string        `env:"AI_TITLE" envDefault:"Cart Recovery AI"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	ElasticURL      string `env:"ES_URL"`
	ElasticUser     string `env:"ES_USER"`
	ElasticPassword string `env:"ES_PASSWORD"`
	ElasticIndex    string `env:"ES_INDEX" envDefault:"products"`

	CartCacheTTL time.Duration `env:"CART_CACHE_TTL" envDefault:"15m"`

	OfferHighThreshold decimal.Decimal `env:"OFFER_HIGH_THRESHOLD" envDefault:"200"`
	OfferHighPercent   decimal.Decimal `env:"OFFER_HIGH_PERCENT" envDefault:"15"`
	OfferMidThreshold  decimal.Decimal `env:"OFFER_MID_THRESHOLD" envDefault:"100"`
	OfferMidPercent    decimal.Decimal `env:"OFFER_MID_PERCENT" envDefault:"10"`
	OfferPolicyPath    string          `env:"OFFER_POLICY_PATH"`
}

func Load() (*ServiceConfig, error) {
	config.LoadDotenv()
	cfg, err := config.Parse[ServiceConfig]()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every missing credential at once. Errors match
// config.ErrFatalConfiguration.
func (c *ServiceConfig) Validate() error {
	var req config.Required
	req.NonEmpty(c.DatabaseURL, "DATABASE_URL")
	req.NonEmpty(c.JWTAccessSecret, "JWT_SECRET")
	req.NonEmpty(c.TrackingSecret, "TRACKING_SECRET")
	req.NonEmpty(c.AIAPIKey, "AI_API_KEY")
	req.Positive(c.DetectorConcurrency, "DETECTOR_CONCURRENCY")
	req.Positive(c.DetectorBatch, "DETECTOR_BATCH")

	if c.ChannelEnabled("email") {
		req.NonEmpty(c.SMTPHost, "SMTP_HOST")
		req.NonEmpty(c.SMTPUsername, "SMTP_USERNAME")
		req.NonEmpty(c.SMTPPassword, "SMTP_PASSWORD")
		req.NonEmpty(c.SMTPFrom, "SMTP_FROM")
	}
	if c.ChannelEnabled("popup") {
		req.NonEmpty(c.RedisAddr, "REDIS_ADDR")
	}
	if c.ChannelEnabled("chat") && len(c.KafkaBrokers) == 0 {
		req.NonEmpty("", "KAFKA_BROKERS")
	}
	if len(c.RecoveryChannels) == 0 {
		req.NonEmpty("", "RECOVERY_CHANNELS")
	}
	return req.Err()
}

func (c *ServiceConfig) ChannelEnabled(name string) bool {
	return slices.Contains(c.RecoveryChannels, name)
}

// OfferPolicy returns the tier table from OFFER_POLICY_PATH when set,
// otherwise from the OFFER_* thresholds.
func (c *ServiceConfig) OfferPolicy() (offer.Policy, error) {
	if c.OfferPolicyPath != "" {
		return offer.LoadPolicyFile(c.OfferPolicyPath)
	}
	p := offer.NewPolicy(c.OfferHighThreshold, c.OfferHighPercent, c.OfferMidThreshold, c.OfferMidPercent)
	if !c.OfferHighThreshold.GreaterThan(c.OfferMidThreshold) {
		return offer.Policy{}, fmt.Errorf("OFFER_HIGH_THRESHOLD must be above OFFER_MID_THRESHOLD")
	}
	return p, p.Validate()
}
