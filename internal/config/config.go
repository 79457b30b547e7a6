package config

import (
	"fmt"
	"log"
	"sync"

	"github.com/biter777/countries"
	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env:"LISTEN_BIND_IP" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env:"LISTEN_PORT" env-default:"8080"`
}

type MySqlConfig struct {
	HostName string `yaml:"host" env:"MYSQL_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"MYSQL_PORT" env-default:"3306"`
	UserName string `yaml:"user" env:"MYSQL_USER" env-default:""`
	Password string `yaml:"password" env:"MYSQL_PASSWORD" env-default:""`
	Database string `yaml:"database" env:"MYSQL_DATABASE" env-default:"clanity"`
}

type MongoConfig struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:"localhost"`
	Port     string `yaml:"port" env-default:"27017"`
	User     string `yaml:"user" env-default:""`
	Password string `yaml:"password" env-default:""`
	Database string `yaml:"database" env-default:"clanity"`
}

type StripeConfig struct {
	APIKey            string `yaml:"api_key" env:"STRIPE_API_KEY" env-default:""`
	WebhookSecret     string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET" env-default:""`
	SuccessURL        string `yaml:"success_url" env-default:""`
	TestMode          bool   `yaml:"test_mode" env-default:"false"`
	TestKey           string `yaml:"test_key" env-default:""`
	TestWebhookSecret string `yaml:"test_webhook_secret" env-default:""`
}

type BotConfig struct {
	Enabled  bool    `yaml:"enabled" env-default:"false"`
	APIKey   string  `yaml:"api_key" env:"BOT_API_KEY" env-default:""`
	AdminIds []int64 `yaml:"admin_ids"`
}

// SubscriptionConfig carries the term lengths and reconciliation windows.
// Country is the merchant country; invoice currency is derived from it.
type SubscriptionConfig struct {
	TrialDays       int     `yaml:"trial_days" env-default:"3"`
	PaidDays        int     `yaml:"paid_days" env-default:"30"`
	PromoDays       int     `yaml:"promo_days" env-default:"14"`
	WindowDays      int     `yaml:"window_days" env-default:"30"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds" env-default:"3600"`
	ExemptUserIds   []int64 `yaml:"exempt_user_ids"`
	Country         string  `yaml:"country" env-default:"US"`
	PriceTierOne    int64   `yaml:"price_tier_1" env-default:"49900"`
	PriceTierTwo    int64   `yaml:"price_tier_2" env-default:"89900"`
	PriceTierThree  int64   `yaml:"price_tier_3" env-default:"149900"`
}

// Prices maps purchasable tier codes to amounts in the smallest currency
// unit.
func (s SubscriptionConfig) Prices() map[string]int64 {
	return map[string]int64{
		"TIER_1": s.PriceTierOne,
		"TIER_2": s.PriceTierTwo,
		"TIER_3": s.PriceTierThree,
	}
}

type ExpiryConfig struct {
	RunAtHour   int `yaml:"run_at_hour" env-default:"23"`
	RunAtMinute int `yaml:"run_at_minute" env-default:"0"`
}

type Config struct {
	Env          string             `yaml:"env" env-default:"local"`
	Listen       Listen             `yaml:"listen"`
	MySql        MySqlConfig        `yaml:"mysql"`
	Mongo        MongoConfig        `yaml:"mongo"`
	Stripe       StripeConfig       `yaml:"stripe"`
	Bot          BotConfig          `yaml:"bot"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Expiry       ExpiryConfig       `yaml:"expiry"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
		if _, err = instance.Currency(); err != nil {
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}

// Currency resolves the merchant country to its ISO 4217 currency code.
func (c *Config) Currency() (string, error) {
	country := countries.ByName(c.Subscription.Country)
	if country == countries.Unknown {
		return "", fmt.Errorf("config: unknown merchant country %q", c.Subscription.Country)
	}
	currency := country.Currency()
	if !currency.IsValid() {
		return "", fmt.Errorf("config: no currency for country %q", c.Subscription.Country)
	}
	return currency.Alpha(), nil
}
