package config

import (
	"context"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env string `env:"WORKBENCH_ENV" env-default:"local"`

	RegistryBaseURL string        `env:"REGISTRY_BASE_URL" env-default:"http://localhost:8081"`
	RegistryTimeout time.Duration `env:"REGISTRY_TIMEOUT" env-default:"30s"`

	IdentityLoginURL   string `env:"IDENTITY_LOGIN_URL" env-default:"http://localhost:8081/auth/login"`
	IdentityRefreshURL string `env:"IDENTITY_REFRESH_URL" env-default:"http://localhost:8081/auth/refresh"`

	SessionWarningLead     time.Duration `env:"SESSION_WARNING_LEAD" env-default:"5m"`
	SessionDefaultTokenTTL time.Duration `env:"SESSION_DEFAULT_TOKEN_TTL" env-default:"1h"`
	StatusPollInterval     time.Duration `env:"STATUS_POLL_INTERVAL" env-default:"30s"`

	CredStoreDriver      string `env:"CREDSTORE_DRIVER" env-default:"file"`
	CredStoreFile        string `env:"CREDSTORE_FILE" env-default:".workbench/credentials.enc"`
	CredStorePassphrase  string `env:"CREDSTORE_PASSPHRASE"`
	CredStoreRedisURL    string `env:"CREDSTORE_REDIS_URL"`
	CredStoreRedisPrefix string `env:"CREDSTORE_REDIS_PREFIX" env-default:"workbench:credentials"`

	DraftsDriver string `env:"DRAFTS_DRIVER" env-default:"sqlite"`
	DraftsDSN    string `env:"DRAFTS_DSN" env-default:".workbench/drafts.db"`

	EnableOTelHTTP            bool          `env:"ENABLE_OTEL_HTTP" env-default:"false"`
	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" env-default:"registry-workbench"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT" env-default:"local"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`
	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" env-default:"false"`
	OTELTracesEnabled         bool          `env:"OTEL_TRACES_ENABLED" env-default:"false"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED" env-default:"false"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" env-default:"15s"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	err := cleanenv.ReadEnv(cfg)
	if err == nil {
		err = cfg.Validate()
	}
	recordConfigValidationEvent(context.Background(), cfg.Env, outcomeFor(err), classifyConfigLoadError(err))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	switch c.CredStoreDriver {
	case "file":
		if c.CredStorePassphrase == "" {
			return fmt.Errorf("validate config: CREDSTORE_PASSPHRASE is required for the file driver")
		}
	case "redis":
		if c.CredStoreRedisURL == "" {
			return fmt.Errorf("validate config: CREDSTORE_REDIS_URL is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("validate config: unknown CREDSTORE_DRIVER %q", c.CredStoreDriver)
	}
	switch c.DraftsDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("validate config: unknown DRAFTS_DRIVER %q", c.DraftsDriver)
	}
	if c.SessionWarningLead <= 0 {
		return fmt.Errorf("validate config: SESSION_WARNING_LEAD must be positive")
	}
	if c.SessionDefaultTokenTTL <= 0 {
		return fmt.Errorf("validate config: SESSION_DEFAULT_TOKEN_TTL must be positive")
	}
	return nil
}

func outcomeFor(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
