package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/shopbook/libs/config"
	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/invite"
)

type serviceConfig struct {
	DatabaseURL string
	DBMaxConns  int32
	AutoMigrate bool
	GRPCPort    string

	Location *time.Location
	SlotStep time.Duration
	LeadTime time.Duration
	Buffer   time.Duration

	InviteSecret   string
	InviteTTL      time.Duration
	AutoPublish    bool
	ReviewLinkBase string

	JWTSecret string
	JWKSURL   string
	JWKSTTL   time.Duration

	KafkaBrokers   string
	KafkaGroupID   string
	CompletedTopic string

	SMTPHost string
	SMTPPort string
	SMTPFrom string

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RateLimitPerMinute int
	RateLimitFailOpen  bool

	CORSOrigins    string
	BodyLimit      int64
	RequestTimeout time.Duration
}

func loadConfig() (serviceConfig, error) {
	var c serviceConfig
	var err error

	if c.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return c, err
	}
	if c.InviteSecret, err = config.RequiredString("REVIEW_INVITE_SECRET"); err != nil {
		return c, err
	}
	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return c, err
	}
	c.DBMaxConns = int32(maxConns)
	if c.AutoMigrate, err = config.Bool("DB_AUTO_MIGRATE", false); err != nil {
		return c, err
	}
	if c.GRPCPort, err = config.Port("GRPC_PORT", "9093"); err != nil {
		return c, err
	}

	if c.Location, err = config.Location("SHOP_TIMEZONE", "UTC"); err != nil {
		return c, err
	}
	if c.SlotStep, err = config.Minutes("SLOT_STEP_MINUTES", 15*time.Minute); err != nil {
		return c, err
	}
	if c.SlotStep == 0 {
		return c, fmt.Errorf("SLOT_STEP_MINUTES must be positive")
	}
	if c.LeadTime, err = config.Minutes("BOOKING_LEAD_MINUTES", 0); err != nil {
		return c, err
	}
	if c.Buffer, err = config.Minutes("BOOKING_BUFFER_MINUTES", 0); err != nil {
		return c, err
	}

	ttlHours, err := config.Int("REVIEW_INVITE_TTL_HOURS", int(invite.DefaultTTL/time.Hour))
	if err != nil {
		return c, err
	}
	if ttlHours <= 0 {
		return c, fmt.Errorf("REVIEW_INVITE_TTL_HOURS must be positive")
	}
	c.InviteTTL = time.Duration(ttlHours) * time.Hour
	if c.AutoPublish, err = config.Bool("REVIEW_AUTO_PUBLISH", true); err != nil {
		return c, err
	}
	c.ReviewLinkBase = config.String("REVIEW_LINK_BASE_URL", "http://localhost:8080/review")

	// Without a JWKS endpoint every bearer token is HS256, so the shared secret must be set.
	c.JWKSURL = strings.TrimSpace(config.String("JWKS_URL", ""))
	if c.JWKSURL == "" {
		if c.JWTSecret, err = config.RequiredString("JWT_SECRET"); err != nil {
			return c, err
		}
	} else {
		c.JWTSecret = config.String("JWT_SECRET", "")
	}
	jwksSeconds, err := config.Int("JWKS_CACHE_SECONDS", 300)
	if err != nil || jwksSeconds <= 0 {
		jwksSeconds = 300
	}
	c.JWKSTTL = time.Duration(jwksSeconds) * time.Second

	c.KafkaBrokers = config.String("KAFKA_BROKERS", "")
	c.KafkaGroupID = config.String("KAFKA_GROUP_ID", "booking-service")
	c.CompletedTopic = config.String("KAFKA_COMPLETED_TOPIC", "booking.appointment.completed.v1")

	c.SMTPHost = strings.TrimSpace(config.String("SMTP_HOST", ""))
	c.SMTPPort = config.String("SMTP_PORT", "1025")
	c.SMTPFrom = config.String("SMTP_FROM", "no-reply@shopbook.local")

	c.RedisAddr = strings.TrimSpace(config.String("REDIS_ADDR", ""))
	c.RedisPassword = config.String("REDIS_PASSWORD", "")
	if c.RedisDB, err = config.Int("REDIS_DB", 0); err != nil {
		return c, err
	}
	if c.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return c, err
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 60
	}
	if c.RateLimitFailOpen, err = config.Bool("RATE_LIMIT_FAIL_OPEN", true); err != nil {
		return c, err
	}

	c.CORSOrigins = config.String("CORS_ALLOWED_ORIGINS", "")
	bodyLimit, err := config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20)
	if err != nil {
		return c, err
	}
	c.BodyLimit = int64(bodyLimit)
	timeoutSeconds, err := config.Int("REQUEST_TIMEOUT_SECONDS", 10)
	if err != nil {
		return c, err
	}
	c.RequestTimeout = time.Duration(timeoutSeconds) * time.Second
	return c, nil
}
