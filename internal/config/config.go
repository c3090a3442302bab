package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BookCacheTTL  time.Duration

	KafkaBrokers     []string
	KafkaTopicPrefix string
	KafkaPricesTopic string
	KafkaGroupID     string

	OutboxDir          string
	TradeBatchSize     int
	TradeFlushInterval time.Duration

	RiskRefreshInterval time.Duration
	PriceStaleAfter     time.Duration
	RateLimitPerSecond  int

	LogLevel       string
	LogDevelopment bool

	// SeedSymbols lists symbols tradable without limits in dev mode, when
	// no database supplies symbol configuration.
	SeedSymbols []string
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	var p parser
	cfg := Config{
		HTTPAddr:            p.str("HTTP_ADDR", ":8080"),
		GRPCAddr:            p.str("GRPC_ADDR", ":9090"),
		DatabaseURL:         p.str("DATABASE_URL", ""),
		RedisAddr:           p.str("REDIS_ADDR", ""),
		RedisPassword:       p.str("REDIS_PASSWORD", ""),
		RedisDB:             p.int("REDIS_DB", 0),
		BookCacheTTL:        p.duration("BOOK_CACHE_TTL", 5*time.Minute),
		KafkaBrokers:        p.list("KAFKA_BROKERS"),
		KafkaTopicPrefix:    p.str("KAFKA_TOPIC_PREFIX", "matching"),
		KafkaPricesTopic:    p.str("KAFKA_PRICES_TOPIC", "market.prices"),
		KafkaGroupID:        p.str("KAFKA_GROUP_ID", "matching-core"),
		OutboxDir:           p.str("OUTBOX_DIR", ""),
		TradeBatchSize:      p.int("TRADE_BATCH_SIZE", 100),
		TradeFlushInterval:  p.duration("TRADE_FLUSH_INTERVAL", 500*time.Millisecond),
		RiskRefreshInterval: p.duration("RISK_REFRESH_INTERVAL", 30*time.Second),
		PriceStaleAfter:     p.duration("PRICE_STALE_AFTER", 10*time.Second),
		RateLimitPerSecond:  p.int("RATE_LIMIT_PER_SECOND", 0),
		LogLevel:            p.str("LOG_LEVEL", "info"),
		LogDevelopment:      p.bool("LOG_DEVELOPMENT", false),
		SeedSymbols:         p.list("SEED_SYMBOLS"),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

// parser keeps the first conversion error so Load can report it once.
type parser struct {
	err error
}

func (p *parser) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (p *parser) int(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return d
}

func (p *parser) list(key string) []string {
	var out []string
	for _, s := range strings.Split(p.str(key, ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: %s: %w", key, err)
	}
}
