package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/hcgsync/internal/collector"
	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/gateway"
	"codeberg.org/mutker/hcgsync/internal/state"
	"codeberg.org/mutker/hcgsync/internal/store"
	"codeberg.org/mutker/hcgsync/internal/telemetry"
)

const (
	EnvPrefix  = "HCG"
	configName = "hcgsync"
	configType = "toml"

	DefaultLogLevel       = string(LogLevelInfo)
	DefaultTickSeconds    = 180
	DefaultMethods        = gateway.ModeCore
	DefaultDataDir        = "data"
	DefaultStateDir       = "state"
	DefaultAPITimeout     = 30 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 30 * time.Second
	DefaultWorkers        = 1
)

type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TickSeconds    int           `mapstructure:"tick_seconds"`
	Methods        string        `mapstructure:"methods"`
	DataDir        string        `mapstructure:"data_dir"`
	StateDir       string        `mapstructure:"state_dir"`
	StoreBackend   string        `mapstructure:"store"`
	APITimeout     time.Duration `mapstructure:"api_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Workers        int           `mapstructure:"workers"`
	LogLevel       string        `mapstructure:"log_level"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	Once           bool          `mapstructure:"once"`
	Status         bool          `mapstructure:"status"`
	Start          string        `mapstructure:"start"`
	End            string        `mapstructure:"end"`
}

// flagSpec ties a config key to its command line flag.
type flagSpec struct {
	key   string
	flag  string
	usage string
	def   any
}

var flagSpecs = []flagSpec{
	{"base_url", "base-url", "Health Connect Gateway base URL", gateway.DefaultBaseURL},
	{"username", "username", "Gateway username", ""},
	{"password", "password", "Gateway password", ""},
	{"tick_seconds", "tick-seconds", "Seconds between collection cycles", DefaultTickSeconds},
	{"methods", "methods", `Metrics to collect: "core", "all" or a comma separated list`, DefaultMethods},
	{"data_dir", "data-dir", "Directory of the record stores", DefaultDataDir},
	{"state_dir", "state-dir", "Directory of the per-metric cursors", DefaultStateDir},
	{"store", "store", `Record store backend: "csv" or "sqlite"`, store.BackendCSV},
	{"api_timeout", "api-timeout", "Timeout of auth calls; fetch calls get twice as long", DefaultAPITimeout},
	{"retry_attempts", "retry-attempts", "Fetch attempts before giving up", DefaultRetryAttempts},
	{"retry_base_delay", "retry-base-delay", "Delay before the first fetch retry", DefaultRetryBaseDelay},
	{"retry_max_delay", "retry-max-delay", "Upper bound of the fetch retry delay", DefaultRetryMaxDelay},
	{"rate_limit", "rate-limit", "Maximum gateway requests per second, 0 for unlimited", 0.0},
	{"workers", "workers", "Metrics collected concurrently", DefaultWorkers},
	{"log_level", "log-level", "Log level (debug, info, warning, error)", DefaultLogLevel},
	{"metrics_addr", "metrics-addr", "Listen address of the Prometheus endpoint, empty to disable", ""},
	{"once", "once", "Run a single collection cycle and exit", false},
	{"status", "status", "Print what is stored per metric and exit", false},
	{"start", "start", "Explicit range start (YYYY-MM-DD or RFC3339); implies --once", ""},
	{"end", "end", "Explicit range end (YYYY-MM-DD or RFC3339)", ""},
}

// Load builds the configuration from defaults, an optional TOML file, the
// environment and args, each overriding the previous.
func Load(args []string, opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: EnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(ErrBindFlags, err)
	}

	for _, spec := range flagSpecs {
		v.SetDefault(spec.key, spec.def)
		if err := v.BindPFlag(spec.key, fs.Lookup(spec.flag)); err != nil {
			return nil, errFactory.Wrap(ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// Unprefixed names used by earlier deployments.
	for _, key := range []string{"tick_seconds", "methods"} {
		if err := v.BindEnv(key, o.envPrefix+"_"+strings.ToUpper(key), strings.ToUpper(key)); err != nil {
			return nil, errFactory.Wrap(ErrBindFlags, err)
		}
	}

	if err := readConfigFile(v, fs, o); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.String("config", "", "Path to a TOML config file")

	for _, spec := range flagSpecs {
		switch def := spec.def.(type) {
		case string:
			fs.String(spec.flag, def, spec.usage)
		case int:
			fs.Int(spec.flag, def, spec.usage)
		case float64:
			fs.Float64(spec.flag, def, spec.usage)
		case bool:
			fs.Bool(spec.flag, def, spec.usage)
		case time.Duration:
			fs.Duration(spec.flag, def, spec.usage)
		}
	}

	return fs
}

func readConfigFile(v *viper.Viper, fs *pflag.FlagSet, o options) error {
	errFactory := errors.New()

	path := o.configPath
	if path == "" {
		path, _ = fs.GetString("config")
	}
	if path == "" {
		path = os.Getenv(o.envPrefix + "_CONFIG")
	}

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errFactory.Wrap(ErrReadConfig, err)
	}

	return nil
}

// Validate checks every setting. Credentials are not needed in status mode.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(ErrInvalidLogLevel, c.LogLevel)
	}
	if !c.Status && (c.Username == "" || c.Password == "") {
		return errFactory.WithData(ErrMissingConfig, "username and password are required")
	}
	if c.TickSeconds <= 0 {
		return errFactory.WithData(ErrInvalidInterval, c.TickSeconds)
	}
	if _, err := c.Metrics(); err != nil {
		return err
	}
	if _, err := c.Window(); err != nil {
		return err
	}

	validators := []interface{ Validate() error }{
		c.GatewayConfig(),
		c.StoreConfig(),
		c.StateConfig(),
		c.CollectorConfig(),
		c.TelemetryConfig(),
	}
	for _, sub := range validators {
		if err := sub.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Interval is the time between collection cycles.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// Metrics resolves the methods setting.
func (c *Config) Metrics() ([]gateway.Metric, error) {
	return gateway.ResolveMethods(c.Methods)
}

// Window returns the explicit range from start and end, or the zero Window.
func (c *Config) Window() (collector.Window, error) {
	return collector.NewWindow(c.Start, c.End)
}

// SingleRun reports whether the process should exit after one cycle.
func (c *Config) SingleRun() bool {
	return c.Once || c.Start != ""
}

func (c *Config) Credentials() gateway.Credentials {
	return gateway.Credentials{Username: c.Username, Password: c.Password}
}

func (c *Config) GatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	cfg.BaseURL = c.BaseURL
	cfg.AuthTimeout = c.APITimeout
	cfg.FetchTimeout = 2 * c.APITimeout
	cfg.Retry.MaxAttempts = c.RetryAttempts
	cfg.Retry.BaseDelay = c.RetryBaseDelay
	cfg.Retry.MaxDelay = c.RetryMaxDelay
	cfg.RateLimit = c.RateLimit
	return cfg
}

func (c *Config) StoreConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.Backend = c.StoreBackend
	cfg.Dir = c.DataDir
	return cfg
}

func (c *Config) StateConfig() state.Config {
	cfg := state.DefaultConfig()
	cfg.Dir = c.StateDir
	return cfg
}

func (c *Config) CollectorConfig() collector.Config {
	return collector.Config{Workers: c.Workers}
}

func (c *Config) TelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Addr = c.MetricsAddr
	return cfg
}

// String renders the effective configuration without the password.
func (c *Config) String() string {
	return fmt.Sprintf("base_url=%s username=%s methods=%s store=%s data_dir=%s state_dir=%s tick=%ds workers=%d",
		c.BaseURL, c.Username, c.Methods, c.StoreBackend, c.DataDir, c.StateDir, c.TickSeconds, c.Workers)
}
