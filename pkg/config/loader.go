package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	cacheMu sync.Mutex
	cache   = make(map[reflect.Type]any)

	envOnce sync.Once
)

// LoadEnv reads the given .env files into the process environment before
// any config is parsed. Variables already set are not overridden. Without
// arguments it reads ./.env if present. Only the first call has an effect.
func LoadEnv(files ...string) error {
	var err error
	envOnce.Do(func() {
		if len(files) == 0 {
			// A missing default .env is fine.
			_ = godotenv.Load()
			return
		}
		if loadErr := godotenv.Load(files...); loadErr != nil {
			err = errors.Join(ErrLoadingEnvFile, loadErr)
		}
	})
	return err
}

// Load parses environment variables into v according to its `env` tags.
// Each config type is parsed once per process; later calls get a copy of
// the cached value.
//
// Example:
//
//	type ServerConfig struct {
//		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg ServerConfig
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	_ = LoadEnv()

	key := reflect.TypeFor[T]()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		return nil
	}

	var parsed T
	if err := env.Parse(&parsed); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	cache[key] = parsed
	*v = parsed
	return nil
}

// MustLoad works like Load but panics on failure.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
}

// ResetCache forgets every parsed config. Intended for tests.
func ResetCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	clear(cache)
}
