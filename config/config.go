package config

import (
	"log"
	"time"

	"github.com/bwise1/quickpoll_api/util"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	Dsn    string `env:"DSN"`
	AppEnv string `env:"APP_ENV" envDefault:"production"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns    int32  `env:"DB_MIN_CONNS" envDefault:"5"`

	// NetworkIDSalt keys the HMAC that turns client addresses into network
	// identities. Rotating it resets every rate-limit window.
	NetworkIDSalt string `env:"NETWORK_ID_SALT"`
	// TrustedProxies are CIDRs or addresses whose X-Forwarded-For and
	// X-Real-IP headers are believed. Everyone else is identified by the
	// connection's address.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	VerificationSecret   string        `env:"VERIFICATION_SECRET"`
	VerificationURL      string        `env:"VERIFICATION_URL" envDefault:"https://api.hcaptcha.com/siteverify"`
	VerificationTimeout  time.Duration `env:"VERIFICATION_TIMEOUT" envDefault:"5s"`
	VerificationFailOpen bool          `env:"VERIFICATION_FAIL_OPEN" envDefault:"false"`

	AdmissionMaxAttempts          uint          `env:"ADMISSION_MAX_ATTEMPTS" envDefault:"5"`
	AdmissionRetryInitialInterval time.Duration `env:"ADMISSION_RETRY_INITIAL_INTERVAL" envDefault:"25ms"`
}

func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if loadErr := godotenv.Load(".env"); loadErr != nil {
		log.Printf("[Env]: unable to load .env file %v", loadErr)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.Dsn == "" {
			return errors.New("DSN is required when STORAGE_DRIVER=postgres")
		}
	default:
		return errors.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.NetworkIDSalt == "" {
		return errors.New("NETWORK_ID_SALT is required")
	}
	if _, err := util.ParseTrustedProxies(c.TrustedProxies); err != nil {
		return errors.Wrap(err, "TRUSTED_PROXIES")
	}
	return nil
}

// New is Load for callers that cannot run without configuration.
func New() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("[Env]: %v", err)
	}
	return cfg
}
