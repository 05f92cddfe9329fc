package redis

import "time"

// Config holds the Redis connection settings. Redis backs webhook event
// deduplication and request rate limiting; both are disabled when
// ConnectionURL is empty.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL"`                              // redis://:password@localhost:6379/0
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`    // number of connection attempts
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`   // pause between attempts
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"` // overall deadline for Connect
}

// Enabled reports whether a Redis URL was configured.
func (c Config) Enabled() bool {
	return c.ConnectionURL != ""
}
