// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/tgbench/internal/extract"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Detector() DetectorConfig
	Extractor() ExtractorConfig
	Providers() map[string]ProviderConfig
	Batch() BatchConfig
	Results() ResultsConfig
	Metrics() MetricsConfig

	// Setters used by CLI flag handling.
	SetBrowserHeadless(bool)
	SetDetectorMaxWait(time.Duration)
	SetResultsDir(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig              `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig             `mapstructure:"browser" yaml:"browser"`
	DetectorCfg  DetectorConfig            `mapstructure:"detector" yaml:"detector"`
	ExtractorCfg ExtractorConfig           `mapstructure:"extractor" yaml:"extractor"`
	ProvidersCfg map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	BatchCfg     BatchConfig               `mapstructure:"batch" yaml:"batch"`
	ResultsCfg   ResultsConfig             `mapstructure:"results" yaml:"results"`
	MetricsCfg   MetricsConfig             `mapstructure:"metrics" yaml:"metrics"`
}

var _ Interface = (*Config)(nil)

// -- Interface Method Implementations (Getters) --

func (c *Config) Logger() LoggerConfig                 { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig               { return c.BrowserCfg }
func (c *Config) Detector() DetectorConfig             { return c.DetectorCfg }
func (c *Config) Extractor() ExtractorConfig           { return c.ExtractorCfg }
func (c *Config) Providers() map[string]ProviderConfig { return c.ProvidersCfg }
func (c *Config) Batch() BatchConfig                   { return c.BatchCfg }
func (c *Config) Results() ResultsConfig               { return c.ResultsCfg }
func (c *Config) Metrics() MetricsConfig               { return c.MetricsCfg }

// -- Interface Method Implementations (Setters) --

func (c *Config) SetBrowserHeadless(b bool)          { c.BrowserCfg.Headless = b }
func (c *Config) SetDetectorMaxWait(d time.Duration) { c.DetectorCfg.MaxWait = d }
func (c *Config) SetResultsDir(dir string)           { c.ResultsCfg.Dir = dir }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driven over CDP.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// RemoteURL attaches to an already running Chrome (ws:// or http:// DevTools endpoint)
	// instead of launching one. Logged-in provider sessions usually live there.
	RemoteURL         string        `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
}

// DetectorConfig holds the completion detection tunables shared by every provider.
type DetectorConfig struct {
	MaxWait           time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	AcceptanceDelay   time.Duration `mapstructure:"acceptance_delay" yaml:"acceptance_delay"`
	InputRetryWindow  time.Duration `mapstructure:"input_retry_window" yaml:"input_retry_window"`
	MinResponseLength int           `mapstructure:"min_response_length" yaml:"min_response_length"`
	StableTicksShort  int           `mapstructure:"stable_ticks_short" yaml:"stable_ticks_short"`
	StableTicksLong   int           `mapstructure:"stable_ticks_long" yaml:"stable_ticks_long"`
	SubstantialSize   int           `mapstructure:"substantial_size" yaml:"substantial_size"`
}

// Timing converts the detector section into the provider timing base.
func (d DetectorConfig) Timing() provider.Timing {
	return provider.Timing{
		PollInterval:      d.PollInterval,
		SettleDelay:       d.SettleDelay,
		AcceptanceDelay:   d.AcceptanceDelay,
		InputRetryWindow:  d.InputRetryWindow,
		MaxWait:           d.MaxWait,
		MinResponseLength: d.MinResponseLength,
		StableShort:       d.StableTicksShort,
		StableLong:        d.StableTicksLong,
		SubstantialSize:   d.SubstantialSize,
	}
}

// ExtractorConfig tunes candidate admission and the document-scan scoring.
type ExtractorConfig struct {
	MinLengthFloor  int            `mapstructure:"min_length_floor" yaml:"min_length_floor"`
	MaxNodeLength   int            `mapstructure:"max_node_length" yaml:"max_node_length"`
	StartTokenBonus int            `mapstructure:"start_token_bonus" yaml:"start_token_bonus"`
	Keywords        []KeywordConfig `mapstructure:"keywords" yaml:"keywords"`
	StartTokens     []string        `mapstructure:"start_tokens" yaml:"start_tokens"`
}

// KeywordConfig weights one document-scan marker. Keywords are a list rather than a
// map because viper lowercases map keys and markers like "func Test" are case sensitive.
type KeywordConfig struct {
	Token  string `mapstructure:"token" yaml:"token"`
	Weight int    `mapstructure:"weight" yaml:"weight"`
}

// Options converts the section into extractor options.
func (e ExtractorConfig) Options() extract.Options {
	return extract.Options{
		MinLengthFloor:  e.MinLengthFloor,
		MaxNodeLength:   e.MaxNodeLength,
		StartTokenBonus: e.StartTokenBonus,
		Keywords:        e.keywordTable(),
		StartTokens:     e.StartTokens,
	}
}

// keywordTable merges the configured keywords over the defaults. A weight of zero
// removes a default marker. Nil means the defaults unchanged.
func (e ExtractorConfig) keywordTable() map[string]int {
	if len(e.Keywords) == 0 {
		return nil
	}
	table := make(map[string]int, len(extract.DefaultKeywords)+len(e.Keywords))
	for k, w := range extract.DefaultKeywords {
		table[k] = w
	}
	for _, kw := range e.Keywords {
		if kw.Weight == 0 {
			delete(table, kw.Token)
			continue
		}
		table[kw.Token] = kw.Weight
	}
	return table
}

// ProviderConfig overrides a builtin provider profile. Zero values inherit.
type ProviderConfig struct {
	StartURL          string        `mapstructure:"start_url" yaml:"start_url"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	MaxWait           time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	MinResponseLength int           `mapstructure:"min_response_length" yaml:"min_response_length"`
	StableTicksShort  int           `mapstructure:"stable_ticks_short" yaml:"stable_ticks_short"`
	StableTicksLong   int           `mapstructure:"stable_ticks_long" yaml:"stable_ticks_long"`
	SubstantialSize   int           `mapstructure:"substantial_size" yaml:"substantial_size"`
	InputSelectors    []string      `mapstructure:"input_selectors" yaml:"input_selectors"`
	SendSelectors     []string      `mapstructure:"send_selectors" yaml:"send_selectors"`
	StopSelectors     []string      `mapstructure:"stop_selectors" yaml:"stop_selectors"`
	LoadingSelectors  []string      `mapstructure:"loading_selectors" yaml:"loading_selectors"`
	ResponseSelectors []string      `mapstructure:"response_selectors" yaml:"response_selectors"`
	ChromeText        []string      `mapstructure:"chrome_text" yaml:"chrome_text"`
}

// Override converts the section into a registry override.
func (p ProviderConfig) Override() provider.Override {
	return provider.Override{
		StartURL:          p.StartURL,
		PollInterval:      p.PollInterval,
		SettleDelay:       p.SettleDelay,
		MaxWait:           p.MaxWait,
		MinResponseLength: p.MinResponseLength,
		StableShort:       p.StableTicksShort,
		StableLong:        p.StableTicksLong,
		SubstantialSize:   p.SubstantialSize,
		Selectors: provider.Selectors{
			Input:    p.InputSelectors,
			Send:     p.SendSelectors,
			Stop:     p.StopSelectors,
			Loading:  p.LoadingSelectors,
			Response: p.ResponseSelectors,
			Chrome:   p.ChromeText,
		},
	}
}

// BatchConfig controls sequential batch execution.
type BatchConfig struct {
	// MinInterval is the minimum spacing between two submissions.
	MinInterval time.Duration `mapstructure:"min_interval" yaml:"min_interval"`
	// MaxAttempts bounds retries of driver faults and rejected submissions.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// ResultsConfig controls where run directories are created.
type ResultsConfig struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tgbench")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.window_width", 1440)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.debug", false)

	// -- Detector --
	v.SetDefault("detector.max_wait", "120s")
	v.SetDefault("detector.poll_interval", "3s")
	v.SetDefault("detector.settle_delay", "1s")
	v.SetDefault("detector.acceptance_delay", "2s")
	v.SetDefault("detector.input_retry_window", "10s")
	v.SetDefault("detector.min_response_length", 200)
	v.SetDefault("detector.stable_ticks_short", 5)
	v.SetDefault("detector.stable_ticks_long", 3)
	v.SetDefault("detector.substantial_size", 3000)

	// -- Extractor --
	v.SetDefault("extractor.min_length_floor", 20)
	v.SetDefault("extractor.max_node_length", 50000)
	v.SetDefault("extractor.start_token_bonus", 50)

	// -- Batch --
	v.SetDefault("batch.min_interval", "5s")
	v.SetDefault("batch.max_attempts", 1)

	// -- Results --
	v.SetDefault("results.dir", "results")
	v.SetDefault("results.prefix", "run")

	// -- Metrics --
	v.SetDefault("metrics.listen_addr", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading ~ in filesystem settings.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.BrowserCfg.UserDataDir, &c.BrowserCfg.ExecPath, &c.ResultsCfg.Dir, &c.LoggerCfg.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.DetectorCfg.Timing().Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := c.ExtractorCfg.Validate(); err != nil {
		return fmt.Errorf("extractor: %w", err)
	}
	if _, err := c.ProviderOverrides(); err != nil {
		return fmt.Errorf("providers: %w", err)
	}
	if c.BatchCfg.MaxAttempts <= 0 {
		return fmt.Errorf("batch.max_attempts must be a positive integer")
	}
	if c.BatchCfg.MinInterval < 0 {
		return fmt.Errorf("batch.min_interval must not be negative")
	}
	if c.ResultsCfg.Dir == "" {
		return fmt.Errorf("results.dir is required")
	}
	return nil
}

// Validate checks the extractor settings.
func (e *ExtractorConfig) Validate() error {
	if e.MinLengthFloor < 0 {
		return fmt.Errorf("min_length_floor must not be negative")
	}
	if e.MaxNodeLength <= e.MinLengthFloor {
		return fmt.Errorf("max_node_length must be greater than min_length_floor")
	}
	if e.StartTokenBonus < 0 {
		return fmt.Errorf("start_token_bonus must not be negative")
	}
	for i, kw := range e.Keywords {
		if kw.Token == "" {
			return fmt.Errorf("keywords[%d]: token must not be empty", i)
		}
		if kw.Weight < 0 {
			return fmt.Errorf("keywords[%d] (%q): weight must not be negative", i, kw.Token)
		}
	}
	return nil
}

// ProviderOverrides resolves the providers section keys into registry overrides.
func (c *Config) ProviderOverrides() (map[provider.Variant]provider.Override, error) {
	out := make(map[provider.Variant]provider.Override, len(c.ProvidersCfg))
	for name, pc := range c.ProvidersCfg {
		v, err := provider.ParseVariant(name)
		if err != nil {
			return nil, err
		}
		out[v] = pc.Override()
	}
	return out, nil
}

// NewRegistry builds the provider registry described by this configuration.
func (c *Config) NewRegistry() (*provider.Registry, error) {
	overrides, err := c.ProviderOverrides()
	if err != nil {
		return nil, err
	}
	return provider.NewRegistry(c.DetectorCfg.Timing(), overrides)
}
