package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Payment  PaymentConfig
	QR       QRConfig
	Orders   OrdersConfig
	AMQP     AMQPConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type PaymentConfig struct {
	ProviderURL   string
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

type QRConfig struct {
	Secret string
	// TokenTTL of zero means issued QR tokens never expire.
	TokenTTL time.Duration
}

type OrdersConfig struct {
	HoldTTL       time.Duration
	OrderTTL      time.Duration
	SweepInterval time.Duration
}

type AMQPConfig struct {
	// URL empty disables the broker; notifications become no-ops.
	URL   string
	Queue string
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	serverCfg := ServerConfig{
		Host: envDefault("SERVER_HOST", "localhost"),
		Port: serverPort,
	}

	postgresPort, err := intEnv("POSTGRES_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     envDefault("POSTGRES_HOST", "localhost"),
		Port:     postgresPort,
		SSLMode:  envDefault("POSTGRES_SSLMODE", "disable"),
	}

	redisCfg := RedisConfig{
		Addr:     envDefault("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	paymentSecret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if paymentSecret == "" {
		return nil, fmt.Errorf("%s: missing PAYMENT_WEBHOOK_SECRET", op)
	}

	paymentCfg := PaymentConfig{
		ProviderURL:   envDefault("PAYMENT_PROVIDER_URL", "http://localhost:9090"),
		APIKey:        os.Getenv("PAYMENT_API_KEY"),
		WebhookSecret: paymentSecret,
		SuccessURL:    os.Getenv("PAYMENT_SUCCESS_URL"),
		CancelURL:     os.Getenv("PAYMENT_CANCEL_URL"),
		Currency:      envDefault("PAYMENT_CURRENCY", "usd"),
	}

	qrSecret := os.Getenv("QR_SECRET")
	if qrSecret == "" {
		return nil, fmt.Errorf("%s: missing QR_SECRET", op)
	}

	qrTTL, err := durationEnv("QR_TOKEN_TTL", 0)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	holdTTL, err := durationEnv("HOLD_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	orderTTL, err := durationEnv("ORDER_TTL", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sweepInterval, err := durationEnv("SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	amqpCfg := AMQPConfig{
		URL:   os.Getenv("AMQP_URL"),
		Queue: envDefault("AMQP_QUEUE", "boxoffice.notifications"),
	}

	return &Config{
		Server:   serverCfg,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Payment:  paymentCfg,
		QR:       QRConfig{Secret: qrSecret, TokenTTL: qrTTL},
		Orders: OrdersConfig{
			HoldTTL:       holdTTL,
			OrderTTL:      orderTTL,
			SweepInterval: sweepInterval,
		},
		AMQP: amqpCfg,
	}, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return d, nil
}
