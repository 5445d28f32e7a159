// Package config loads service configuration from environment variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr        string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr        string `env:"GRPC_ADDR" envDefault:":50051"`
	MySQLDSN        string `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/cardtrade?parseTime=true"`
	RedisAddr       string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPoolSize   int    `env:"REDIS_POOL_SIZE" envDefault:"100"`
	IdentityBaseURL string `env:"IDENTITY_BASE_URL" envDefault:"http://localhost:8081"`
}

func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
