// Package config loads the runtime knob surface: per-stage timeout budgets,
// retry policy, the final-order confirmation gate and service endpoints.
// Defaults are overridden first by an optional YAML file, then by environment
// variables, so deployments can tune a single knob without a config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config carries every tunable the process recognizes.
type Config struct {
	// Timeout budgets: max wait, proceed immediately when the condition is met.
	PageLoadTimeoutMs   int `yaml:"timeout_ms_page_load"`
	ElementVisibleMs    int `yaml:"timeout_ms_element_visible"`
	SelectorCheckMs     int `yaml:"timeout_ms_selector_check"`
	OfferPanelMs        int `yaml:"timeout_ms_aod_panel"`
	CheckoutLoadMs      int `yaml:"timeout_ms_checkout_load"`
	BuyboxReadyMs       int `yaml:"timeout_ms_buybox_ready"`
	CartConfirmMs       int `yaml:"timeout_ms_cart_confirm"`
	CheckoutReadyMs     int `yaml:"timeout_ms_checkout_ready"`
	OrderConfirmSeconds int `yaml:"timeout_seconds_order_confirm"`
	WaitPollMs          int `yaml:"wait_poll_ms"`
	WaitProbeMs         int `yaml:"wait_probe_ms"`
	QueuePollSeconds    int `yaml:"queue_poll_seconds"`
	ChannelPollSeconds  int `yaml:"channel_poll_seconds"`

	// Retry policy for navigation and interaction steps.
	MaxRetries    int     `yaml:"max_retries"`
	RetryDelaySec float64 `yaml:"delay_seconds_retry"`

	// Safety gate: when true the flow never clicks the final submit itself.
	ConfirmFinalOrder bool `yaml:"confirm_final_order"`

	// Browser session.
	Headless bool `yaml:"headless"`

	// Service endpoints and paths.
	NATSURL       string `yaml:"nats_url"`
	RedisURL      string `yaml:"redis_url"`
	HTTPAddr      string `yaml:"http_addr"`
	ArtifactsDir  string `yaml:"artifacts_dir"`
	ProfileDir    string `yaml:"profile_dir"`
	SelectorFile  string `yaml:"selector_file"`
	DealsSubject  string `yaml:"deals_subject"`
	EventsSubject string `yaml:"events_subject"`

	MaxActivityItems int `yaml:"max_activity_items"`
}

// Load builds the config from defaults, then the YAML file at path (if any),
// then environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{
		PageLoadTimeoutMs:   30000,
		ElementVisibleMs:    10000,
		SelectorCheckMs:     150,
		OfferPanelMs:        10000,
		CheckoutLoadMs:      30000,
		BuyboxReadyMs:       10000,
		CartConfirmMs:       10000,
		CheckoutReadyMs:     15000,
		OrderConfirmSeconds: 300,
		WaitPollMs:          300,
		WaitProbeMs:         200,
		QueuePollSeconds:    5,
		ChannelPollSeconds:  5,
		MaxRetries:          3,
		RetryDelaySec:       0.5,
		ConfirmFinalOrder:   true,
		NATSURL:             "nats://localhost:4222",
		RedisURL:            "redis://localhost:6379",
		HTTPAddr:            ":8077",
		ArtifactsDir:        "/data/artifacts",
		ProfileDir:          "/data/profile",
		DealsSubject:        "dealbot.deals.matched",
		EventsSubject:       "dealbot.events",
		MaxActivityItems:    100,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	envInt("TIMEOUT_MS_PAGE_LOAD", &cfg.PageLoadTimeoutMs)
	envInt("TIMEOUT_MS_ELEMENT_VISIBLE", &cfg.ElementVisibleMs)
	envInt("TIMEOUT_MS_SELECTOR_CHECK", &cfg.SelectorCheckMs)
	envInt("TIMEOUT_MS_AOD_PANEL", &cfg.OfferPanelMs)
	envInt("TIMEOUT_MS_CHECKOUT_LOAD", &cfg.CheckoutLoadMs)
	envInt("TIMEOUT_MS_BUYBOX_READY", &cfg.BuyboxReadyMs)
	envInt("TIMEOUT_MS_CART_CONFIRM", &cfg.CartConfirmMs)
	envInt("TIMEOUT_MS_CHECKOUT_READY", &cfg.CheckoutReadyMs)
	envInt("TIMEOUT_SECONDS_ORDER_CONFIRM", &cfg.OrderConfirmSeconds)
	envInt("WAIT_POLL_MS", &cfg.WaitPollMs)
	envInt("WAIT_PROBE_MS", &cfg.WaitProbeMs)
	envInt("QUEUE_POLL_SECONDS", &cfg.QueuePollSeconds)
	envInt("CHANNEL_POLL_SECONDS", &cfg.ChannelPollSeconds)
	envInt("MAX_RETRIES", &cfg.MaxRetries)
	envFloat("DELAY_SECONDS_RETRY", &cfg.RetryDelaySec)
	envBool("CONFIRM_FINAL_ORDER", &cfg.ConfirmFinalOrder)
	envBool("HEADLESS", &cfg.Headless)
	envString("NATS_URL", &cfg.NATSURL)
	envString("REDIS_URL", &cfg.RedisURL)
	envString("HTTP_ADDR", &cfg.HTTPAddr)
	envString("ARTIFACTS_DIR", &cfg.ArtifactsDir)
	envString("PROFILE_DIR", &cfg.ProfileDir)
	envString("SELECTOR_FILE", &cfg.SelectorFile)
	envString("DEALS_SUBJECT", &cfg.DealsSubject)
	envString("EVENTS_SUBJECT", &cfg.EventsSubject)
	envInt("MAX_ACTIVITY_ITEMS", &cfg.MaxActivityItems)

	return cfg, nil
}

// Duration accessors so callers never re-derive units.

func (c *Config) PageLoadTimeout() time.Duration       { return ms(c.PageLoadTimeoutMs) }
func (c *Config) ElementVisibleTimeout() time.Duration { return ms(c.ElementVisibleMs) }
func (c *Config) SelectorCheckTimeout() time.Duration  { return ms(c.SelectorCheckMs) }
func (c *Config) OfferPanelTimeout() time.Duration     { return ms(c.OfferPanelMs) }
func (c *Config) CheckoutLoadTimeout() time.Duration   { return ms(c.CheckoutLoadMs) }
func (c *Config) BuyboxReadyTimeout() time.Duration    { return ms(c.BuyboxReadyMs) }
func (c *Config) CartConfirmTimeout() time.Duration    { return ms(c.CartConfirmMs) }
func (c *Config) CheckoutReadyTimeout() time.Duration  { return ms(c.CheckoutReadyMs) }
func (c *Config) WaitPoll() time.Duration              { return ms(c.WaitPollMs) }
func (c *Config) WaitProbe() time.Duration             { return ms(c.WaitProbeMs) }
func (c *Config) QueuePollTimeout() time.Duration {
	return time.Duration(c.QueuePollSeconds) * time.Second
}
func (c *Config) OrderConfirmTimeout() time.Duration {
	return time.Duration(c.OrderConfirmSeconds) * time.Second
}
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec * float64(time.Second))
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
