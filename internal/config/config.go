package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port                  string `envconfig:"PORT" default:"8080"`
	AllowedOrigin         string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL           string `envconfig:"DATABASE_URL"`
	AutoMigrate           bool   `envconfig:"AUTO_MIGRATE" default:"true"`
	RedisAddr             string `envconfig:"REDIS_ADDR"`
	RedisPassword         string `envconfig:"REDIS_PASSWORD"`
	RedisDB               int    `envconfig:"REDIS_DB" default:"0"`
	StatsCacheTTLSeconds  int    `envconfig:"STATS_CACHE_TTL_SECONDS" default:"30"`
	AuthSecret            string `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`
	BootstrapManagerUser  string `envconfig:"BOOTSTRAP_MANAGER_USERNAME"`
	BootstrapManagerPass  string `envconfig:"BOOTSTRAP_MANAGER_PASSWORD"`
	LogLevel              string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat             string `envconfig:"LOG_FORMAT" default:"json"`
	ReceiptStoreName      string `envconfig:"RECEIPT_STORE_NAME" default:"SMART POS"`
	ReceiptStoreAddress   string `envconfig:"RECEIPT_STORE_ADDRESS" default:"123 Coding Lane, Dev City"`
	ReceiptStorePhone     string `envconfig:"RECEIPT_STORE_PHONE" default:"555-1234"`
	StockImageDir         string `envconfig:"STOCK_IMAGE_DIR" default:"static_images"`
}

// Load reads the server configuration from the environment, after loading
// a .env file from the working directory when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	if cfg.StatsCacheTTLSeconds < 1 {
		cfg.StatsCacheTTLSeconds = 30
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) StatsCacheTTL() time.Duration {
	return time.Duration(c.StatsCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// Client configures the posctl operator tool.
type Client struct {
	APIURL         string `envconfig:"POSCTL_API_URL" default:"http://127.0.0.1:8080/api/v1"`
	Token          string `envconfig:"POSCTL_TOKEN"`
	ReceiptDir     string `envconfig:"POSCTL_RECEIPT_DIR" default:"receipts"`
	TimeoutSeconds int    `envconfig:"POSCTL_TIMEOUT_SECONDS" default:"15"`
	LogLevel       string `envconfig:"POSCTL_LOG_LEVEL" default:"warn"`
}

func LoadClient() (Client, error) {
	_ = godotenv.Load()

	var cfg Client
	if err := envconfig.Process("", &cfg); err != nil {
		return Client{}, fmt.Errorf("parsing client config: %w", err)
	}
	if cfg.TimeoutSeconds < 1 {
		cfg.TimeoutSeconds = 15
	}
	return cfg, nil
}

func (c Client) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
