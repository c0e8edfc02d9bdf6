package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"subscription-fulfillment/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Addr          string        `yaml:"addr"`
	PublicBaseURL string        `yaml:"public_base_url"` // used to build the gateway notification url
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	// APIToken guards the customer-facing purchase routes; empty disables the check.
	APIToken string `yaml:"api_token"`
}

type AdminConfig struct {
	Addr      string        `yaml:"addr"`
	JWTSecret string        `yaml:"jwt_secret"`
	APIKey    string        `yaml:"api_key"` // exchanged for a session token at /admin/login
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// ChatIDs receive operational alerts through the notifier.
	ChatIDs []string `yaml:"chat_ids"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // memory | postgres
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"` // empty keeps sweep locking and sales state in-process
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GatewayConfig struct {
	Kind          string        `yaml:"kind"` // mercadopago | sandbox
	BaseURL       string        `yaml:"base_url"`
	AccessToken   string        `yaml:"access_token"`
	Timeout       time.Duration `yaml:"timeout"`
	RetryMax      int           `yaml:"retry_max"`
	Description   string        `yaml:"description"`
	PayerEmail    string        `yaml:"payer_email"`
	WebhookSecret string        `yaml:"webhook_secret"` // empty skips x-signature verification
}

type SecurityConfig struct {
	// EncryptionKey seals credential payloads at rest in postgres (16, 24 or 32 bytes); empty stores them as given.
	EncryptionKey string `yaml:"encryption_key"`
}

type BotConfig struct {
	Token string `yaml:"token"` // empty logs notifications instead of sending them
}

type ExpiryConfig struct {
	Threshold time.Duration `yaml:"threshold"`
}

type SchedConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	NotifyWorkers int           `yaml:"notify_workers"`
}

type ReferralConfig struct {
	ReferredDiscountPercent int `yaml:"referred_discount_percent"`
	RewardEvery             int `yaml:"reward_every"`
}

type TierConfig struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	DurationDays     int    `yaml:"duration_days"`
	FirstBuyPrice    string `yaml:"first_buy_price"`
	RegularPrice     string `yaml:"regular_price"`
	FirstBuyDiscount bool   `yaml:"first_buy_discount"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Security SecurityConfig `yaml:"security"`
	Bot      BotConfig      `yaml:"bot"`
	Expiry   ExpiryConfig   `yaml:"expiry"`
	Sched    SchedConfig    `yaml:"sched"`
	Referral ReferralConfig `yaml:"referral"`
	Tiers    []TierConfig   `yaml:"tiers"`

	Runtime RuntimeConfig `yaml:"-"`
}

// DefaultTiers is the catalog used when the file lists none.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{ID: "30d", Name: "Monthly", DurationDays: 30, FirstBuyPrice: "9.00", RegularPrice: "20.00", FirstBuyDiscount: true},
		{ID: "6m", Name: "Semiannual", DurationDays: 180, FirstBuyPrice: "40.00", RegularPrice: "50.00", FirstBuyDiscount: true},
		{ID: "1y", Name: "Yearly", DurationDays: 365, FirstBuyPrice: "110.00", RegularPrice: "110.00", FirstBuyDiscount: false},
	}
}

// LoadConfig parses -config and -dev and reads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Load reads, defaults and validates one YAML file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	c.HTTP.ReadTimeout = orDuration(c.HTTP.ReadTimeout, 10*time.Second)
	c.HTTP.WriteTimeout = orDuration(c.HTTP.WriteTimeout, 15*time.Second)
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8081"
	}
	c.Admin.TokenTTL = orDuration(c.Admin.TokenTTL, 30*time.Minute)
	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Gateway.Kind == "" {
		c.Gateway.Kind = "sandbox"
	}
	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "https://api.mercadopago.com"
	}
	c.Gateway.Timeout = orDuration(c.Gateway.Timeout, 10*time.Second)
	if c.Gateway.RetryMax <= 0 {
		c.Gateway.RetryMax = 3
	}
	if c.Gateway.Description == "" {
		c.Gateway.Description = "Subscription"
	}
	c.Expiry.Threshold = orDuration(c.Expiry.Threshold, 72*time.Hour)
	c.Sched.TickInterval = orDuration(c.Sched.TickInterval, time.Minute)
	c.Sched.SweepInterval = orDuration(c.Sched.SweepInterval, 5*time.Minute)
	c.Sched.LockTTL = orDuration(c.Sched.LockTTL, 4*time.Minute)
	if c.Sched.NotifyWorkers <= 0 {
		c.Sched.NotifyWorkers = 4
	}
	if c.Referral.ReferredDiscountPercent <= 0 {
		c.Referral.ReferredDiscountPercent = 5
	}
	if c.Referral.RewardEvery <= 0 {
		c.Referral.RewardEvery = 3
	}
	if len(c.Tiers) == 0 {
		c.Tiers = DefaultTiers()
	}
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Minimal validation
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Gateway.Kind {
	case "sandbox":
	case "mercadopago":
		if c.Gateway.AccessToken == "" {
			return errors.New("gateway.access_token is required")
		}
	default:
		return fmt.Errorf("gateway.kind %q is not supported", c.Gateway.Kind)
	}
	if n := len(c.Security.EncryptionKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return fmt.Errorf("security.encryption_key must be 16, 24 or 32 bytes; got %d", n)
	}
	if c.Admin.JWTSecret == "" {
		return errors.New("admin.jwt_secret is required")
	}
	if c.Referral.ReferredDiscountPercent > 100 {
		return errors.New("referral.referred_discount_percent must be at most 100")
	}
	if _, err := c.Catalog(); err != nil {
		return err
	}
	return nil
}

// Catalog builds the tier catalog from Tiers.
func (c *Config) Catalog() (*model.Catalog, error) {
	tiers := make([]model.Tier, 0, len(c.Tiers))
	seen := map[string]bool{}
	for _, tc := range c.Tiers {
		if seen[tc.ID] {
			return nil, fmt.Errorf("tier %q is listed twice", tc.ID)
		}
		seen[tc.ID] = true
		regular, err := decimal.NewFromString(strings.TrimSpace(tc.RegularPrice))
		if err != nil {
			return nil, fmt.Errorf("tier %q regular_price: %w", tc.ID, err)
		}
		firstBuy := regular
		if tc.FirstBuyPrice != "" {
			if firstBuy, err = decimal.NewFromString(strings.TrimSpace(tc.FirstBuyPrice)); err != nil {
				return nil, fmt.Errorf("tier %q first_buy_price: %w", tc.ID, err)
			}
		}
		t, err := model.NewTier(tc.ID, tc.Name, tc.DurationDays, firstBuy.Round(2), regular.Round(2), tc.FirstBuyDiscount)
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", tc.ID, err)
		}
		tiers = append(tiers, t)
	}
	return model.NewCatalog(tiers...), nil
}
