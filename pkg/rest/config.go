package rest

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file or environment leaves a field empty.
const (
	DefaultPaymentDriver  = "erc20"
	DefaultPaymentNetwork = "holesky"
	DefaultSubnet         = "public"

	defaultMarketURL   = "http://127.0.0.1:7465/market-api/v1"
	defaultActivityURL = "http://127.0.0.1:7465/activity-api/v1"
	defaultPaymentURL  = "http://127.0.0.1:7465/payment-api/v1"
)

// Config holds everything needed to reach the remote node and shape demands.
type Config struct {
	// AppKey authenticates every API call.
	AppKey string `yaml:"app_key" validate:"required"`

	// MarketURL is the base URL of the market API.
	MarketURL string `yaml:"market_url" validate:"required,url"`

	// ActivityURL is the base URL of the activity API.
	ActivityURL string `yaml:"activity_url" validate:"required,url"`

	// PaymentURL is the base URL of the payment API.
	PaymentURL string `yaml:"payment_url" validate:"required,url"`

	// PaymentDriver selects the payment driver for allocations.
	PaymentDriver string `yaml:"payment_driver" validate:"required"`

	// PaymentNetwork selects the payment network for allocations.
	PaymentNetwork string `yaml:"payment_network" validate:"required"`

	// Subnet tags published demands so only matching providers answer.
	Subnet string `yaml:"subnet" validate:"required"`
}

// DefaultConfig returns a config populated from environment variables where
// set, falling back to local-node defaults.
func DefaultConfig() Config {
	return Config{
		AppKey:         os.Getenv("GRIDNODE_APP_KEY"),
		MarketURL:      envOr("GRIDNODE_MARKET_URL", defaultMarketURL),
		ActivityURL:    envOr("GRIDNODE_ACTIVITY_URL", defaultActivityURL),
		PaymentURL:     envOr("GRIDNODE_PAYMENT_URL", defaultPaymentURL),
		PaymentDriver:  envOr("GRIDNODE_PAYMENT_DRIVER", DefaultPaymentDriver),
		PaymentNetwork: envOr("GRIDNODE_PAYMENT_NETWORK", DefaultPaymentNetwork),
		Subnet:         envOr("GRIDNODE_SUBNET", DefaultSubnet),
	}
}

// LoadConfig reads a YAML config file over the environment defaults and
// validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config against its struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
