package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env                string `env:"APP_ENV" envDefault:"development"`
	HTTPPort           int    `env:"HTTP_PORT" envDefault:"3000"`
	FrontendURL        string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	DatabaseURL        string `env:"DATABASE_URL"`
	RabbitMQURL        string `env:"RABBITMQ_URL"`
	OrderExpireMinutes int    `env:"ORDER_EXPIRE_MINUTES" envDefault:"30"`
	SweepIntervalSpec  string `env:"SWEEP_INTERVAL_SPEC" envDefault:"@every 1m"`
	ProviderTimeoutSec int    `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"10"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	_ = godotenv.Load() // 忽略 .env 不存在的错误
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction 是否生产环境（控制模拟支付开关和真实支付渠道）
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
