package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/quizforge-backend/internal/platform/envutil"
	"github.com/yungbote/quizforge-backend/internal/platform/storage"
)

type Env string

const (
	EnvDevelopment Env = "development"
	EnvProduction  Env = "production"
)

type Config struct {
	Env      Env
	HTTPAddr string
	// PublicBaseURL is this system's externally reachable base URL. Webhook
	// callback URLs and signature verification both derive from it.
	PublicBaseURL string
	CORSOrigins   []string

	JWTSecret string
	TokenTTL  time.Duration

	RedisAddr     string
	RedisPassword string

	StorageMode       storage.Mode
	Bucket            string
	EmulatorHost      string
	BucketPublicBase  string

	ParserURL string

	QStashBaseURL     string
	QStashToken       string
	CurrentSigningKey string
	NextSigningKey    string

	OpenAIAPIKey  string
	ProvidersPath string

	Version string
}

func (c Config) Development() bool { return c.Env == EnvDevelopment }

func LoadConfig() (Config, error) {
	env := Env(strings.ToLower(envutil.String("APP_ENV", string(EnvDevelopment))))
	if env != EnvDevelopment && env != EnvProduction {
		return Config{}, fmt.Errorf("config: unknown APP_ENV %q", env)
	}

	cfg := Config{
		Env:           env,
		HTTPAddr:      envutil.String("HTTP_ADDR", ":8080"),
		PublicBaseURL: envutil.String("PUBLIC_BASE_URL", "http://localhost:8080"),
		CORSOrigins:   splitList(envutil.String("CORS_ORIGINS", "")),

		JWTSecret: envutil.String("JWT_SECRET_KEY", ""),
		TokenTTL:  time.Duration(envutil.Int("ACCESS_TOKEN_TTL", 86400)) * time.Second,

		RedisAddr:     envutil.String("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),

		StorageMode:      storage.Mode(envutil.String("STORAGE_MODE", "emulator")),
		Bucket:           envutil.String("STORAGE_BUCKET", "quizforge-dev"),
		EmulatorHost:     envutil.String("STORAGE_EMULATOR_HOST", "http://localhost:4443"),
		BucketPublicBase: envutil.String("STORAGE_PUBLIC_BASE_URL", ""),

		ParserURL: envutil.String("PARSER_URL", ""),

		QStashBaseURL:     envutil.String("QSTASH_URL", "https://qstash.upstash.io"),
		QStashToken:       envutil.String("QSTASH_TOKEN", ""),
		CurrentSigningKey: envutil.String("QSTASH_CURRENT_SIGNING_KEY", ""),
		NextSigningKey:    envutil.String("QSTASH_NEXT_SIGNING_KEY", ""),

		OpenAIAPIKey:  envutil.String("OPENAI_API_KEY", ""),
		ProvidersPath: envutil.String("PROVIDERS_CONFIG", "configs/providers.yaml"),

		Version: envutil.String("APP_VERSION", "dev"),
	}

	if cfg.ParserURL == "" {
		return Config{}, fmt.Errorf("config: PARSER_URL is required")
	}
	if env == EnvProduction {
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("config: JWT_SECRET_KEY is required in production")
		}
		if cfg.CurrentSigningKey == "" {
			return Config{}, fmt.Errorf("config: QSTASH_CURRENT_SIGNING_KEY is required in production")
		}
		if cfg.StorageMode == storage.ModeEmulator {
			return Config{}, fmt.Errorf("config: emulator storage is not allowed in production")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-only-secret"
	}
	return cfg, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
