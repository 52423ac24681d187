// Package config loads fbainbound settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
	"github.com/julienbonastre/fba-inbound-helpers/internal/reconcile"
	"github.com/julienbonastre/fba-inbound-helpers/internal/spapi"
	"github.com/julienbonastre/fba-inbound-helpers/internal/workflow"
)

// DefaultPath is the config file looked up when --config is not given
const DefaultPath = "fbainbound.yaml"

// Config holds all fbainbound settings
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LWA      LWAConfig      `yaml:"lwa"`
	SPAPI    SPAPIConfig    `yaml:"spapi"`
	Sheet    SheetConfig    `yaml:"sheet"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the selection UI server
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// SessionKey signs the session cookie; a random key is used when empty.
	SessionKey    string `yaml:"session_key"`
	SessionMaxAge int    `yaml:"session_max_age" validate:"min=0"`
}

// DatabaseConfig configures the local SQLite store
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// LWAConfig holds Login with Amazon credentials
type LWAConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`

	// RefreshTokenEncrypted is base64 AES-256-GCM, decrypted with FBA_ENCRYPTION_KEY
	RefreshTokenEncrypted string `yaml:"refresh_token_encrypted"`
	TokenURL              string `yaml:"token_url" validate:"omitempty,url"`
}

// SPAPIConfig configures the Selling Partner API client
type SPAPIConfig struct {
	Endpoint         string        `yaml:"endpoint" validate:"required,url"`
	MarketplaceID    string        `yaml:"marketplace_id" validate:"required"`
	SellerCentralURL string        `yaml:"seller_central_url" validate:"required,url"`
	TimeZone         string        `yaml:"time_zone" validate:"required"`
	Timeout          string        `yaml:"timeout" validate:"duration"`
	MaxCreateRetries int           `yaml:"max_create_retries" validate:"min=0,max=10"`
	PollInterval     string        `yaml:"poll_interval" validate:"duration"`
	PollTimeout      string        `yaml:"poll_timeout" validate:"duration"`
	SourceAddress    spapi.Address `yaml:"source_address"`
}

// SheetConfig names the purchase and stock sheet files and columns
type SheetConfig struct {
	Path           string `yaml:"path"`
	SKUColumn      string `yaml:"sku_column" validate:"required"`
	ASINColumn     string `yaml:"asin_column" validate:"required"`
	QuantityColumn string `yaml:"quantity_column" validate:"required"`
	LabelOwnerCol  string `yaml:"label_owner_column"`
	PrepOwnerCol   string `yaml:"prep_owner_column"`
	PlanColumn     string `yaml:"plan_column" validate:"required"`
	DefaultLabel   string `yaml:"default_label_owner" validate:"oneof=AMAZON SELLER NONE"`
	DefaultPrep    string `yaml:"default_prep_owner" validate:"oneof=AMAZON SELLER NONE"`
	CartonColumn   string `yaml:"carton_column"`

	Reconcile reconcile.Columns `yaml:"reconcile"`
	Labels    reconcile.Labels  `yaml:"labels"`

	StockPath            string `yaml:"stock_path"`
	StockASINColumn      string `yaml:"stock_asin_column"`
	StockAvailableColumn string `yaml:"stock_available_column"`
}

// WorkflowConfig tunes the placement option workflows
type WorkflowConfig struct {
	OptionCacheTTL    string `yaml:"option_cache_ttl" validate:"duration"`
	RevalidateOptions bool   `yaml:"revalidate_options"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			SessionMaxAge: 86400,
		},
		Database: DatabaseConfig{Path: "./data/fbainbound.db"},
		LWA:      LWAConfig{TokenURL: spapi.DefaultTokenURL},
		SPAPI: SPAPIConfig{
			Endpoint:         spapi.DefaultBaseURL,
			MarketplaceID:    spapi.DefaultMarketplaceID,
			SellerCentralURL: spapi.DefaultSellerCentralURL,
			TimeZone:         "Asia/Tokyo",
			Timeout:          "30s",
			MaxCreateRetries: spapi.DefaultMaxCreateRetries,
			PollInterval:     spapi.DefaultPollInterval.String(),
			PollTimeout:      spapi.DefaultPollTimeout.String(),
			SourceAddress:    spapi.Address{CountryCode: "JP"},
		},
		Sheet: SheetConfig{
			Path:                 "./purchase.csv",
			SKUColumn:            "sku",
			ASINColumn:           "ASIN",
			QuantityColumn:       "数量",
			LabelOwnerCol:        "labelOwner",
			PrepOwnerCol:         "prepOwner",
			PlanColumn:           "納品プラン",
			DefaultLabel:         string(inbound.OwnerSeller),
			DefaultPrep:          string(inbound.OwnerNone),
			CartonColumn:         "外箱情報",
			Reconcile:            reconcile.DefaultColumns(),
			Labels:               reconcile.DefaultLabels(),
			StockPath:            "./stock.csv",
			StockASINColumn:      "ASIN",
			StockAvailableColumn: "販売可能在庫数",
		},
		Workflow: WorkflowConfig{OptionCacheTTL: workflow.DefaultOptionCacheTTL.String()},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults. Environment variables override file values in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FBA_LWA_CLIENT_ID"); v != "" {
		c.LWA.ClientID = v
	}
	if v := os.Getenv("FBA_LWA_CLIENT_SECRET"); v != "" {
		c.LWA.ClientSecret = v
	}
	if v := os.Getenv("FBA_LWA_REFRESH_TOKEN"); v != "" {
		c.LWA.RefreshToken = v
		c.LWA.RefreshTokenEncrypted = ""
	}
	if v := os.Getenv("FBA_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("FBA_SESSION_KEY"); v != "" {
		c.Server.SessionKey = v
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		d, err := time.ParseDuration(s)
		return err == nil && d > 0
	})
	return v
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		if _, lerr := time.LoadLocation(c.SPAPI.TimeZone); lerr != nil {
			return fmt.Errorf("invalid spapi.time_zone %q: %w", c.SPAPI.TimeZone, lerr)
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ClientConfig builds the SP-API client settings
func (c *Config) ClientConfig() (spapi.Config, error) {
	loc, err := time.LoadLocation(c.SPAPI.TimeZone)
	if err != nil {
		return spapi.Config{}, fmt.Errorf("invalid time zone %q: %w", c.SPAPI.TimeZone, err)
	}
	return spapi.Config{
		BaseURL:          c.SPAPI.Endpoint,
		MarketplaceID:    c.SPAPI.MarketplaceID,
		SellerCentralURL: c.SPAPI.SellerCentralURL,
		SourceAddress:    c.SPAPI.SourceAddress,
		Location:         loc,
		Timeout:          duration(c.SPAPI.Timeout, 30*time.Second),
		MaxCreateRetries: c.SPAPI.MaxCreateRetries,
		PollInterval:     duration(c.SPAPI.PollInterval, spapi.DefaultPollInterval),
		PollTimeout:      duration(c.SPAPI.PollTimeout, spapi.DefaultPollTimeout),
	}, nil
}

// Credentials returns the LWA credentials, decrypting the refresh token
// when only the encrypted form is configured.
func (c *Config) Credentials() (spapi.LWAConfig, error) {
	lwa := spapi.LWAConfig{
		ClientID:     c.LWA.ClientID,
		ClientSecret: c.LWA.ClientSecret,
		RefreshToken: c.LWA.RefreshToken,
		TokenURL:     c.LWA.TokenURL,
	}
	if lwa.RefreshToken == "" && c.LWA.RefreshTokenEncrypted != "" {
		key, err := GetEncryptionKey()
		if err != nil {
			return spapi.LWAConfig{}, err
		}
		token, err := DecryptString(c.LWA.RefreshTokenEncrypted, key)
		if err != nil {
			return spapi.LWAConfig{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		lwa.RefreshToken = token
	}

	var missing []string
	if lwa.ClientID == "" {
		missing = append(missing, "lwa.client_id")
	}
	if lwa.ClientSecret == "" {
		missing = append(missing, "lwa.client_secret")
	}
	if lwa.RefreshToken == "" {
		missing = append(missing, "lwa.refresh_token")
	}
	if len(missing) > 0 {
		return spapi.LWAConfig{}, fmt.Errorf("missing LWA credentials: %s", strings.Join(missing, ", "))
	}
	return lwa, nil
}

// AggregatorColumns maps the sheet columns for the item aggregator
func (c *Config) AggregatorColumns() (inbound.Columns, inbound.OwnerDefaults) {
	return inbound.Columns{
			SKU:        c.Sheet.SKUColumn,
			ASIN:       c.Sheet.ASINColumn,
			Quantity:   c.Sheet.QuantityColumn,
			LabelOwner: c.Sheet.LabelOwnerCol,
			PrepOwner:  c.Sheet.PrepOwnerCol,
		}, inbound.OwnerDefaults{
			Label: inbound.Owner(c.Sheet.DefaultLabel),
			Prep:  inbound.Owner(c.Sheet.DefaultPrep),
		}
}

// WorkflowSettings returns the orchestrator settings
func (c *Config) WorkflowSettings() workflow.Config {
	return workflow.Config{
		OptionCacheTTL:    duration(c.Workflow.OptionCacheTTL, workflow.DefaultOptionCacheTTL),
		RevalidateOptions: c.Workflow.RevalidateOptions,
	}
}
