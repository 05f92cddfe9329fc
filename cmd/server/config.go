package main

import "time"

// appConfig holds the process-level settings. Component settings live next
// to their packages and are loaded separately.
type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"usagegate"`

	StoreDriver     string `env:"STORE_DRIVER" envDefault:"memory"`   // memory, mongo or postgres
	BillingProvider string `env:"BILLING_PROVIDER" envDefault:"none"` // stripe, paddle or none

	InternalAPIKey    string `env:"INTERNAL_API_KEY"`
	GateFailurePolicy string `env:"GATE_FAILURE_POLICY" envDefault:"open"`
	PlansFile         string `env:"PLANS_FILE"`

	UsageResetSchedule string `env:"USAGE_RESET_SCHEDULE"` // cron expression; empty disables
	UsageResetTimezone string `env:"USAGE_RESET_TIMEZONE" envDefault:"UTC"`

	PriceIDsMonthly []string `env:"PRICE_IDS_MONTHLY" envSeparator:","`
	PriceIDsYearly  []string `env:"PRICE_IDS_YEARLY" envSeparator:","`

	WebhookOrderingGuard bool          `env:"WEBHOOK_ORDERING_GUARD" envDefault:"false"`
	WebhookDedupTTL      time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"72h"`
	WebhookDedupSize     int           `env:"WEBHOOK_DEDUP_CACHE_SIZE" envDefault:"10000"` // in-memory fallback only

	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
}
