package config

import (
	"testing"
	"time"

	"github.com/aris-project/aris/internal/model"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvFloatValid(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	v, err := envFloat("TEST_FLOAT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 2.5 {
		t.Fatalf("expected 2.5, got %f", v)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "abc")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="abc" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidEmbeddingDimensions(t *testing.T) {
	t.Setenv("ARIS_EMBEDDING_DIMENSIONS", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid ARIS_EMBEDDING_DIMENSIONS")
	}
	if got := err.Error(); !contains(got, "ARIS_EMBEDDING_DIMENSIONS") || !contains(got, "abc") {
		t.Fatalf("error should mention ARIS_EMBEDDING_DIMENSIONS and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("ARIS_EMBEDDING_DIMENSIONS", "xyz")
	t.Setenv("ARIS_DEFAULT_BUDGET", "free")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "ARIS_EMBEDDING_DIMENSIONS") {
		t.Fatalf("error should mention ARIS_EMBEDDING_DIMENSIONS, got: %s", got)
	}
	if !contains(got, "ARIS_DEFAULT_BUDGET") {
		t.Fatalf("error should mention ARIS_DEFAULT_BUDGET, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.DataDir != "./.aris" {
		t.Fatalf("expected default data dir './.aris', got %q", cfg.DataDir)
	}
	if cfg.DefaultDepth != model.DepthStandard {
		t.Fatalf("expected default depth %q, got %q", model.DepthStandard, cfg.DefaultDepth)
	}
	if cfg.EmbeddingProvider != "auto" {
		t.Fatalf("expected default embedding provider 'auto', got %q", cfg.EmbeddingProvider)
	}
	if cfg.EmbeddingDimensions != 1536 {
		t.Fatalf("expected default embedding dimensions 1536, got %d", cfg.EmbeddingDimensions)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func TestLoad_OTELEndpointParsing(t *testing.T) {
	endpoint := "https://otel.example.com:4317"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.OTELEndpoint != endpoint {
		t.Fatalf("expected OTELEndpoint %q, got %q", endpoint, cfg.OTELEndpoint)
	}
}

func TestLoad_EmbeddingProviderSelection(t *testing.T) {
	t.Setenv("ARIS_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("ARIS_OLLAMA_URL", "http://localhost:11434")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.EmbeddingProvider != "ollama" {
		t.Fatalf("expected EmbeddingProvider %q, got %q", "ollama", cfg.EmbeddingProvider)
	}
	if cfg.OllamaURL != "http://localhost:11434" {
		t.Fatalf("expected OllamaURL %q, got %q", "http://localhost:11434", cfg.OllamaURL)
	}
}

func TestLoad_InvalidEmbeddingProviderRejected(t *testing.T) {
	t.Setenv("ARIS_EMBEDDING_PROVIDER", "bogus")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail for an unrecognized embedding provider")
	}
	if !contains(err.Error(), "ARIS_EMBEDDING_PROVIDER") {
		t.Fatalf("error should mention ARIS_EMBEDDING_PROVIDER, got: %s", err.Error())
	}
}

func TestLoad_InvalidDepthRejected(t *testing.T) {
	t.Setenv("ARIS_DEFAULT_DEPTH", "thorough")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail for an unrecognized depth")
	}
	if !contains(err.Error(), "ARIS_DEFAULT_DEPTH") {
		t.Fatalf("error should mention ARIS_DEFAULT_DEPTH, got: %s", err.Error())
	}
}

func TestLoad_QdrantURLValidation(t *testing.T) {
	t.Run("explicit URL", func(t *testing.T) {
		qdrantURL := "https://qdrant.example.com:6334"
		t.Setenv("ARIS_QDRANT_URL", qdrantURL)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != qdrantURL {
			t.Fatalf("expected QdrantURL %q, got %q", qdrantURL, cfg.QdrantURL)
		}
	})

	t.Run("empty default", func(t *testing.T) {
		// ARIS_QDRANT_URL is not set; default should be empty.
		cfg, err := Load()
		if err != nil {
			t.Fatalf("expected Load() to succeed, got: %v", err)
		}
		if cfg.QdrantURL != "" {
			t.Fatalf("expected empty QdrantURL by default, got %q", cfg.QdrantURL)
		}
	})
}

func TestLoad_AllEnvVarsHonored(t *testing.T) {
	t.Setenv("ARIS_DATABASE_URL", "postgres://test:test@db:5432/testdb")
	t.Setenv("ARIS_DATA_DIR", "/tmp/aris-test-data")
	t.Setenv("ARIS_TAVILY_API_KEY", "tvly-test")
	t.Setenv("ARIS_ANTHROPIC_API_KEY", "anthropic-test")
	t.Setenv("ARIS_OPENAI_API_KEY", "openai-test")
	t.Setenv("ARIS_REASONING_MODEL", "claude-test-model")
	t.Setenv("ARIS_EMBEDDING_DIMENSIONS", "768")
	t.Setenv("ARIS_DEFAULT_BUDGET", "2.50")
	t.Setenv("ARIS_DEFAULT_DEPTH", "deep")
	t.Setenv("ARIS_SEARCH_TIMEOUT", "45s")
	t.Setenv("ARIS_RESUME_GRACE_PERIOD", "5m")
	t.Setenv("OTEL_SERVICE_NAME", "aris-test")
	t.Setenv("ARIS_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.DatabaseURL != "postgres://test:test@db:5432/testdb" {
		t.Fatalf("expected DatabaseURL %q, got %q", "postgres://test:test@db:5432/testdb", cfg.DatabaseURL)
	}
	if cfg.DataDir != "/tmp/aris-test-data" {
		t.Fatalf("expected DataDir %q, got %q", "/tmp/aris-test-data", cfg.DataDir)
	}
	if cfg.TavilyAPIKey != "tvly-test" {
		t.Fatalf("expected TavilyAPIKey %q, got %q", "tvly-test", cfg.TavilyAPIKey)
	}
	if cfg.AnthropicAPIKey != "anthropic-test" {
		t.Fatalf("expected AnthropicAPIKey %q, got %q", "anthropic-test", cfg.AnthropicAPIKey)
	}
	if cfg.OpenAIAPIKey != "openai-test" {
		t.Fatalf("expected OpenAIAPIKey %q, got %q", "openai-test", cfg.OpenAIAPIKey)
	}
	if cfg.ReasoningModel != "claude-test-model" {
		t.Fatalf("expected ReasoningModel %q, got %q", "claude-test-model", cfg.ReasoningModel)
	}
	if cfg.EmbeddingDimensions != 768 {
		t.Fatalf("expected EmbeddingDimensions 768, got %d", cfg.EmbeddingDimensions)
	}
	if cfg.DefaultBudget != 2.50 {
		t.Fatalf("expected DefaultBudget 2.50, got %f", cfg.DefaultBudget)
	}
	if cfg.DefaultDepth != model.DepthDeep {
		t.Fatalf("expected DefaultDepth %q, got %q", model.DepthDeep, cfg.DefaultDepth)
	}
	if cfg.SearchTimeout != 45*time.Second {
		t.Fatalf("expected SearchTimeout 45s, got %s", cfg.SearchTimeout)
	}
	if cfg.ResumeGracePeriod != 5*time.Minute {
		t.Fatalf("expected ResumeGracePeriod 5m, got %s", cfg.ResumeGracePeriod)
	}
	if cfg.ServiceName != "aris-test" {
		t.Fatalf("expected ServiceName %q, got %q", "aris-test", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel %q, got %q", "debug", cfg.LogLevel)
	}
}
