package textai

import "time"

// Config holds the OpenAI-compatible backend settings.
type Config struct {
	APIKey        string        `env:"OPENAI_API_KEY"`
	Model         string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	BaseURL       string        `env:"OPENAI_BASE_URL"` // empty uses the OpenAI default
	Timeout       time.Duration `env:"OPENAI_TIMEOUT" envDefault:"30s"`
	MaxTextLength int           `env:"TEXTAI_MAX_TEXT_LENGTH" envDefault:"20000"` // in runes
}

// Enabled reports whether an API key is configured.
func (c Config) Enabled() bool {
	return c.APIKey != ""
}
