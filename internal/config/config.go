package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	StoreBackend        string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	GCPProjectID        string        `mapstructure:"GCP_PROJECT_ID"`
	VertexAIRegion      string        `mapstructure:"VERTEX_AI_REGION"`
	GenAIModel          string        `mapstructure:"GENAI_MODEL"`
	GenAIRPS            float64       `mapstructure:"GENAI_RPS"`
	BlobBackend         string        `mapstructure:"BLOB_BACKEND"`
	UploadBucket        string        `mapstructure:"UPLOAD_BUCKET"`
	AuthIssuer          string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience        string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey      string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	MaxUploadBytes      int64         `mapstructure:"MAX_UPLOAD_BYTES"`
	CollaboratorTimeout time.Duration `mapstructure:"COLLABORATOR_TIMEOUT"`
	SessionTTL          time.Duration `mapstructure:"SESSION_TTL"`
	OCRLanguages        string        `mapstructure:"OCR_LANGUAGES"`
	OCRConcurrency      int           `mapstructure:"OCR_CONCURRENCY"`
	MetaSummaryLimit    int           `mapstructure:"META_SUMMARY_LIMIT"`
}

var envKeys = []string{
	"PORT", "ENV", "STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"GCP_PROJECT_ID", "VERTEX_AI_REGION", "GENAI_MODEL", "GENAI_RPS",
	"BLOB_BACKEND", "UPLOAD_BUCKET",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"MAX_UPLOAD_BYTES", "COLLABORATOR_TIMEOUT", "SESSION_TTL",
	"OCR_LANGUAGES", "OCR_CONCURRENCY", "META_SUMMARY_LIMIT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", "postgres")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("VERTEX_AI_REGION", "us-central1")
	v.SetDefault("GENAI_MODEL", "gemini-1.5-pro")
	v.SetDefault("GENAI_RPS", 2)
	v.SetDefault("BLOB_BACKEND", "memory")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MAX_UPLOAD_BYTES", 20<<20)
	v.SetDefault("COLLABORATOR_TIMEOUT", "60s")
	v.SetDefault("SESSION_TTL", "30m")
	v.SetDefault("OCR_LANGUAGES", "eng")
	v.SetDefault("OCR_CONCURRENCY", 4)
	v.SetDefault("META_SUMMARY_LIMIT", 5)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token are served as a dev patient.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks cross-field rules that Load cannot express with defaults.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "postgres":
	case "firestore":
		if c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required when STORE_BACKEND is \"firestore\"")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be \"postgres\" or \"firestore\", got %q", c.StoreBackend)
	}

	switch c.BlobBackend {
	case "memory":
	case "gcs":
		if c.UploadBucket == "" {
			return fmt.Errorf("UPLOAD_BUCKET is required when BLOB_BACKEND is \"gcs\"")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be \"memory\" or \"gcs\", got %q", c.BlobBackend)
	}

	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthIssuer == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("COLLABORATOR_TIMEOUT must be positive, got %s", c.CollaboratorTimeout)
	}
	if c.OCRConcurrency < 1 {
		return fmt.Errorf("OCR_CONCURRENCY must be at least 1, got %d", c.OCRConcurrency)
	}
	if c.MetaSummaryLimit < 1 {
		return fmt.Errorf("META_SUMMARY_LIMIT must be at least 1, got %d", c.MetaSummaryLimit)
	}
	return nil
}
