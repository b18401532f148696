package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Env            string        `env:"ENV,default=dev"`
	DataDirectory  string        `env:"DATA_DIR,default=."`
	MediaDirectory string        `env:"MEDIA_DIR,default=./chat_media"`
	BindAddress    string        `env:"BIND_ADDR,default=:8080"`
	MetricsAddress string        `env:"METRICS_ADDR,default=:8081"`
	JWTSecret      string        `env:"JWT_SECRET,default=insecure-dev-secret"`
	TokenTTL       time.Duration `env:"TOKEN_TTL,default=24h"`
}

func Load() (Config, error) {
	config := Config{}
	if err := envconfig.Process(context.Background(), &config); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	return config, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "dev"
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod"
}
