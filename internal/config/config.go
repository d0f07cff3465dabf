// Package config содержит логику чтения конфигурации сервиса mobishaala.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Paytm-окружения, определяющие адрес шлюза.
const (
	EnvironmentStaging    = "staging"
	EnvironmentProduction = "production"
)

const (
	stagingHost    = "https://securegw-stage.paytm.in"
	productionHost = "https://securegw.paytm.in"

	stagingWebsite    = "WEBSTAGING"
	productionWebsite = "DEFAULT"
)

// Paytm содержит параметры подключения к платёжному шлюзу.
type Paytm struct {
	MerchantID  string `env:"PAYTM_MID"`
	MerchantKey string `env:"PAYTM_MERCHANT_KEY"`
	Environment string `env:"PAYTM_ENVIRONMENT" envDefault:"staging"`
	Website     string `env:"PAYTM_WEBSITE"`
	CallbackURL string `env:"PAYTM_CALLBACK_URL"`
}

// Host возвращает адрес шлюза для выбранного окружения.
func (p Paytm) Host() string {
	if strings.ToLower(p.Environment) == EnvironmentProduction {
		return productionHost
	}
	return stagingHost
}

// Config содержит параметры конфигурации сервиса mobishaala.
type Config struct {
	RunAddress        string `env:"RUN_ADDRESS"`
	DatabaseURI       string `env:"DATABASE_URI"`
	AppBaseURL        string `env:"APP_BASE_URL"`
	JWTSecret         string `env:"JWT_SECRET"`
	AllowedAdminEmail string `env:"ALLOWED_ADMIN_EMAIL"`
	Paytm             Paytm
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAppBaseURL := cfg.AppBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AppBaseURL, "b", "http://localhost:8080", "public base URL of this service")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAppBaseURL != "" {
		cfg.AppBaseURL = envAppBaseURL
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RunAddress == "" {
		c.RunAddress = "localhost:8080"
	}

	c.Paytm.Environment = strings.ToLower(c.Paytm.Environment)
	if c.Paytm.Environment == "" {
		c.Paytm.Environment = EnvironmentStaging
	}

	if c.Paytm.Website == "" {
		if c.Paytm.Environment == EnvironmentProduction {
			c.Paytm.Website = productionWebsite
		} else {
			c.Paytm.Website = stagingWebsite
		}
	}

	if c.Paytm.CallbackURL == "" {
		base := strings.TrimRight(c.AppBaseURL, "/")
		c.Paytm.CallbackURL = base + "/api/payments/paytm/callback"
	}
}

// ValidatePaytm проверяет наличие обязательных реквизитов шлюза.
func (c *Config) ValidatePaytm() error {
	if c.Paytm.MerchantID == "" || c.Paytm.MerchantKey == "" {
		return fmt.Errorf("paytm merchant credentials are missing")
	}
	return nil
}
