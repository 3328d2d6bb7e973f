// Package config loads uiverify settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"dev/bravebird/uiverify/pkg/productui"
	"dev/bravebird/uiverify/pkg/verify"
)

// Config is the top-level configuration.
type Config struct {
	BaseURL        string        `yaml:"base_url"`
	Headless       bool          `yaml:"headless"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	Deadline       time.Duration `yaml:"deadline"` // Whole run; zero means none
	Parallel       int           `yaml:"parallel"`
	CollectAll     bool          `yaml:"collect_all"`
	Artifact       string        `yaml:"artifact"`
	Scenarios      []string      `yaml:"scenarios"`

	Browser  BrowserConfig  `yaml:"browser"`
	Products ProductsConfig `yaml:"products"`

	// History is a SQLite file the CLI records runs in; empty disables it
	History string `yaml:"history"`

	MySQLDSN     string `yaml:"mysql_dsn"`
	TemporalHost string `yaml:"temporal_host"`
	Port         string `yaml:"port"`
	MetricsAddr  string `yaml:"metrics_addr"`
	ArtifactDir  string `yaml:"artifact_dir"` // Worker snapshots, <dir>/<run>/<scenario>.png
}

// BrowserConfig controls Chrome
type BrowserConfig struct {
	ChromeBin  string `yaml:"chrome_bin"`
	ControlURL string `yaml:"control_url"` // Attach to a running browser instead of launching
	Stealth    bool   `yaml:"stealth"`
	NoSandbox  bool   `yaml:"no_sandbox"`
}

// ProductsConfig tunes the product UI scenarios
type ProductsConfig struct {
	SearchTerm    string        `yaml:"search_term"`
	PriceMin      float64       `yaml:"price_min"`
	PriceMax      float64       `yaml:"price_max"`
	QuantityMin   int           `yaml:"quantity_min"`
	QuantityMax   int           `yaml:"quantity_max"`
	PageSize      string        `yaml:"page_size"`
	LoadTimeout   time.Duration `yaml:"load_timeout"`
	FilterTimeout time.Duration `yaml:"filter_timeout"`
	Debounce      time.Duration `yaml:"debounce"`
	Stability     int           `yaml:"stability"`
}

// Default returns the built-in configuration
func Default() Config {
	p := productui.DefaultOptions()
	return Config{
		BaseURL:        p.BaseURL,
		Headless:       true,
		DefaultTimeout: verify.DefaultStepTimeout,
		PollInterval:   verify.DefaultPollInterval,
		Parallel:       1,
		Artifact:       p.Artifact,
		Browser: BrowserConfig{
			NoSandbox: true,
		},
		Products: ProductsConfig{
			SearchTerm:    p.SearchTerm,
			PriceMin:      p.PriceMin,
			PriceMax:      p.PriceMax,
			QuantityMin:   p.QuantityMin,
			QuantityMax:   p.QuantityMax,
			PageSize:      p.PageSize,
			LoadTimeout:   p.LoadTimeout,
			FilterTimeout: p.FilterTimeout,
			Debounce:      p.Debounce,
			Stability:     p.Stability,
		},
		TemporalHost: "localhost:7233",
		Port:         "8080",
		MetricsAddr:  ":9090",
		ArtifactDir:  "/tmp/uiverify-artifacts",
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	c.BaseURL = getEnvOrDefault("UIVERIFY_BASE_URL", c.BaseURL)
	c.Artifact = getEnvOrDefault("UIVERIFY_ARTIFACT", c.Artifact)
	c.Browser.ChromeBin = getEnvOrDefault("CHROME_BIN", c.Browser.ChromeBin)
	c.Browser.ControlURL = getEnvOrDefault("UIVERIFY_CONTROL_URL", c.Browser.ControlURL)
	c.MySQLDSN = getEnvOrDefault("MYSQL_DSN", c.MySQLDSN)
	c.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", c.TemporalHost)
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.MetricsAddr = getEnvOrDefault("METRICS_ADDR", c.MetricsAddr)
	c.ArtifactDir = getEnvOrDefault("ARTIFACT_DIR", c.ArtifactDir)
	c.History = getEnvOrDefault("UIVERIFY_HISTORY", c.History)

	var err error
	if c.Headless, err = envBool("UIVERIFY_HEADLESS", c.Headless); err != nil {
		return err
	}
	if c.DefaultTimeout, err = envDuration("UIVERIFY_TIMEOUT", c.DefaultTimeout); err != nil {
		return err
	}
	if c.PollInterval, err = envDuration("UIVERIFY_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	return nil
}

// Validate reports settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("base_url %q is not an absolute URL", c.BaseURL))
	}
	if c.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("default_timeout must be positive, got %s", c.DefaultTimeout))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.Deadline < 0 {
		errs = append(errs, fmt.Errorf("deadline must not be negative, got %s", c.Deadline))
	}
	if c.Parallel < 1 {
		errs = append(errs, fmt.Errorf("parallel must be at least 1, got %d", c.Parallel))
	}
	if c.Products.PriceMin > c.Products.PriceMax {
		errs = append(errs, fmt.Errorf("price range [%g, %g] is empty", c.Products.PriceMin, c.Products.PriceMax))
	}
	if c.Products.QuantityMin > c.Products.QuantityMax {
		errs = append(errs, fmt.Errorf("quantity range [%d, %d] is empty", c.Products.QuantityMin, c.Products.QuantityMax))
	}
	return errors.Join(errs...)
}

// ScenarioOptions maps the configuration onto the product scenarios
func (c *Config) ScenarioOptions() productui.Options {
	mode := verify.FailFast
	if c.CollectAll {
		mode = verify.CollectAll
	}
	return productui.Options{
		BaseURL:       c.BaseURL,
		SearchTerm:    c.Products.SearchTerm,
		PriceMin:      c.Products.PriceMin,
		PriceMax:      c.Products.PriceMax,
		QuantityMin:   c.Products.QuantityMin,
		QuantityMax:   c.Products.QuantityMax,
		PageSize:      c.Products.PageSize,
		LoadTimeout:   c.Products.LoadTimeout,
		FilterTimeout: c.Products.FilterTimeout,
		Debounce:      c.Products.Debounce,
		Stability:     c.Products.Stability,
		Artifact:      c.Artifact,
		Mode:          mode,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
	return d, nil
}
