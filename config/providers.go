package config

import (
	"strings"
	"time"
)

// OpenAIConfig configures the OpenAI-compatible provider used for embeddings,
// text generation and image analysis. An empty APIKey leaves those capabilities
// unconfigured; jobs needing them stay pending.
type OpenAIConfig struct {
	APIKey         string        `env:"API_KEY"`
	BaseURL        string        `env:"BASE_URL"`
	EmbeddingModel string        `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	ChatModel      string        `env:"CHAT_MODEL"      envDefault:"gpt-4o-mini"`
	VisionModel    string        `env:"VISION_MODEL"    envDefault:"gpt-4o-mini"`
	Timeout        time.Duration `env:"TIMEOUT"         envDefault:"60s"`
}

// Sanitize trims credentials and endpoints.
func (o *OpenAIConfig) Sanitize() {
	o.APIKey = strings.TrimSpace(o.APIKey)
	o.BaseURL = strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
}

// Enabled reports whether the provider has credentials.
func (o *OpenAIConfig) Enabled() bool {
	return o.APIKey != ""
}

// WeaviateConfig configures the vector index.
type WeaviateConfig struct {
	// URL is the Weaviate endpoint, e.g. http://localhost:8080. Empty disables the index.
	URL       string `env:"URL"`
	APIKey    string `env:"API_KEY"`
	ClassName string `env:"CLASS_NAME"    envDefault:"SagaChunk"`
	// EnsureSchema creates the class on startup when missing.
	EnsureSchema bool `env:"ENSURE_SCHEMA" envDefault:"true"`
}

// Sanitize normalises the endpoint.
func (w *WeaviateConfig) Sanitize() {
	w.URL = strings.TrimRight(strings.TrimSpace(w.URL), "/")
	w.APIKey = strings.TrimSpace(w.APIKey)
	if w.ClassName = strings.TrimSpace(w.ClassName); w.ClassName == "" {
		w.ClassName = "SagaChunk"
	}
}

// Enabled reports whether a vector index endpoint is configured.
func (w *WeaviateConfig) Enabled() bool {
	return w.URL != ""
}

// ExecutionConfig drives the task-slug/tier/prompt-length resolver that picks
// a model and token budget for generation calls.
type ExecutionConfig struct {
	// LongContextModel is selected when the prompt exceeds LongPromptChars.
	LongContextModel string `env:"EXEC_LONG_CONTEXT_MODEL" envDefault:"gpt-4o"`
	LongPromptChars  int    `env:"EXEC_LONG_PROMPT_CHARS"  envDefault:"24000"`
	// ProModel replaces the default chat model for pro-tier users.
	ProModel       string `env:"EXEC_PRO_MODEL"        envDefault:"gpt-4o"`
	FreeMaxTokens  int    `env:"EXEC_FREE_MAX_TOKENS"  envDefault:"400"`
	ProMaxTokens   int    `env:"EXEC_PRO_MAX_TOKENS"   envDefault:"900"`
	DigestMaxToken int    `env:"EXEC_DIGEST_MAX_TOKENS" envDefault:"600"`
}

// Sanitize applies floors to token budgets.
func (e *ExecutionConfig) Sanitize() {
	if e.LongPromptChars < 1000 {
		e.LongPromptChars = 1000
	}
	if e.FreeMaxTokens < 64 {
		e.FreeMaxTokens = 64
	}
	if e.ProMaxTokens < e.FreeMaxTokens {
		e.ProMaxTokens = e.FreeMaxTokens
	}
	if e.DigestMaxToken < 64 {
		e.DigestMaxToken = 64
	}
}
