// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	Gateway                 `yaml:"gateway"`
	Subscription            `yaml:"subscription"`
	YooKassa                `yaml:"yookassa"`
	SMTP                    `yaml:"smtp"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// WebhookRPS и WebhookBurst ограничивают частоту запросов к вебхуку провайдера.
	WebhookRPS   float64 `yaml:"webhook_rps" env-default:"20"`
	WebhookBurst int     `yaml:"webhook_burst" env-default:"40"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env-default:"localhost:6379"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
	// LockTTL время жизни блокировки пары (identity, node).
	LockTTL time.Duration `yaml:"lock_ttl" env-default:"2m"`
}

// RabbitMQ структура для настройки подключения к брокеру
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
	Prefetch           int           `yaml:"prefetch" env-default:"10"`
}

// JWTToken структура для работы с jwt-токеном администратора
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"24h"`
}

// Gateway настройки клиентов панелей управления узлами.
type Gateway struct {
	// SecretKey ключ, которым запечатаны пароли администраторов узлов.
	SecretKey       string        `yaml:"secret_key" env:"GATEWAY_SECRET_KEY"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env-default:"10s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env-default:"30s"`
	MaxAttempts     int           `yaml:"max_attempts" env-default:"3"`
	InitialBackoff  time.Duration `yaml:"initial_backoff" env-default:"500ms"`
	MaxBackoff      time.Duration `yaml:"max_backoff" env-default:"5s"`
	VerifyDelay     time.Duration `yaml:"verify_delay" env-default:"500ms"`
	NodeTimeout     time.Duration `yaml:"node_timeout" env-default:"90s"`
	RequestsPerSec  float64       `yaml:"requests_per_sec" env-default:"5"`
	Burst           int           `yaml:"burst" env-default:"5"`
	MaxParallelNode int           `yaml:"max_parallel_nodes" env-default:"8"`
}

// Plan описывает тариф: срок действия и цену.
type Plan struct {
	Months int     `yaml:"months"`
	Price  float64 `yaml:"price"`
}

// Subscription настройки жизненного цикла подписки и напоминаний.
type Subscription struct {
	TrialDuration    time.Duration   `yaml:"trial_duration" env-default:"168h"`
	PlanDays         int             `yaml:"plan_days_per_month" env-default:"30"`
	Plans            map[string]Plan `yaml:"plans"`
	ReminderInterval time.Duration   `yaml:"reminder_interval" env-default:"15m"`
	TimeZone         string          `yaml:"time_zone" env-default:"UTC"`
	RevokeOnExpiry   bool            `yaml:"revoke_on_expiry"`
	ResyncBatch      int             `yaml:"resync_batch" env-default:"50"`
}

// YooKassa настройки платёжного провайдера.
type YooKassa struct {
	ShopID        string `yaml:"shop_id" env:"YOOKASSA_SHOP_ID"`
	SecretKey     string `yaml:"secret_key" env:"YOOKASSA_SECRET"`
	APIURL        string `yaml:"api_url" env-default:"https://api.yookassa.ru/v3"`
	ReturnURL     string `yaml:"return_url"`
	WebhookSecret string `yaml:"webhook_secret" env:"YOOKASSA_WEBHOOK_SECRET"`
	Currency      string `yaml:"currency" env-default:"RUB"`
}

// SMTP настройки отправки писем.
type SMTP struct {
	SMTPHost string `yaml:"host"`
	SMTPPort string `yaml:"port" env-default:"587"`
	SMTPUser string `yaml:"user" env:"SMTP_USER"`
	SMTPPass string `yaml:"password" env:"SMTP_PASSWORD"`
}

// MustLoad функция для загрузки конфига, возвращает конфиг, сгенерированный из config/config.go
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Load читает конфиг по указанному пути и проверяет обязательные поля.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, без которых сервисы не могут работать корректно.
func (c *Config) Validate() error {
	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("gateway.max_attempts must be positive")
	}
	if c.Subscription.ReminderInterval <= 0 {
		return fmt.Errorf("subscription.reminder_interval must be positive")
	}
	if _, err := time.LoadLocation(c.Subscription.TimeZone); err != nil {
		return fmt.Errorf("subscription.time_zone: %w", err)
	}
	for name, p := range c.Subscription.Plans {
		if p.Months <= 0 {
			return fmt.Errorf("subscription.plans.%s: months must be positive", name)
		}
	}
	return nil
}

// PlanDuration возвращает длительность тарифа; false, если тариф неизвестен.
func (s Subscription) PlanDuration(plan string) (time.Duration, bool) {
	p, ok := s.Plans[plan]
	if !ok {
		return 0, false
	}
	days := s.PlanDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(p.Months*days) * 24 * time.Hour, true
}

// Location возвращает часовой пояс для вычисления конца суток.
func (s Subscription) Location() *time.Location {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"RabbitMQ:\n"+
			"  MaxRetries: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"Gateway:\n"+
			"  RequestTimeout: %s\n"+
			"  MaxAttempts: %d\n"+
			"Subscription:\n"+
			"  TrialDuration: %s\n"+
			"  ReminderInterval: %s\n"+
			"  Plans: %d\n",
		c.Env,
		c.AddressRedis,
		c.DB,
		c.RabbitMQMaxRetries,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.Gateway.RequestTimeout,
		c.Gateway.MaxAttempts,
		c.TrialDuration,
		c.ReminderInterval,
		len(c.Plans),
	)
}
