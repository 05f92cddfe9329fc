// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11:
// LoadEnv reads .env files into the environment, and Load parses the
// environment into any struct using `env` and `envDefault` field tags.
// Each struct type is parsed once and cached for the life of the process.
//
//	type AppConfig struct {
//		StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
//		APIKey      string `env:"INTERNAL_API_KEY,required"`
//	}
//
//	var cfg AppConfig
//	config.MustLoad(&cfg)
//
// Tests that change the environment between loads call ResetCache.
package config
