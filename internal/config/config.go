package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. LTE_LEDGER_KIND or
// LTE_LICENSE_RESET_TIMEZONE.
const EnvPrefix = "LTE"

// Ledger backends.
const (
	LedgerSheets = "sheets"
	LedgerHTTP   = "http"
	LedgerMemory = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" split_words:"true"`
	License   LicenseConfig   `yaml:"license" split_words:"true"`
	Ledger    LedgerConfig    `yaml:"ledger" split_words:"true"`
	Server    ServerConfig    `yaml:"server" split_words:"true"`
	Paths     PathsConfig     `yaml:"paths" split_words:"true"`
	Telemetry TelemetryConfig `yaml:"telemetry" split_words:"true"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" split_words:"true"`
	// Output is stdout, file or both.
	Output   string `yaml:"output" split_words:"true"`
	FilePath string `yaml:"file_path" split_words:"true"`
	// Development adds stack traces to 5xx problem responses.
	Development bool `yaml:"development" split_words:"true"`
}

// LicenseConfig carries the trust policy.
type LicenseConfig struct {
	GracePeriod        time.Duration `yaml:"grace_period" split_words:"true"`
	TamperTolerance    time.Duration `yaml:"tamper_tolerance" split_words:"true"`
	ManualDailyLimit   int           `yaml:"manual_daily_limit" split_words:"true"`
	ResetTimezone      string        `yaml:"reset_timezone" split_words:"true"`
	MatchThreshold     float64       `yaml:"match_threshold" split_words:"true"`
	BackgroundSchedule string        `yaml:"background_schedule" split_words:"true"`
	// PublicKeysFile is a JWK set used to verify ledger-issued tokens.
	// Empty disables token verification.
	PublicKeysFile string `yaml:"public_keys_file" split_words:"true"`
}

// LedgerConfig selects and configures the remote ledger.
type LedgerConfig struct {
	Kind string `yaml:"kind" split_words:"true"`

	SpreadsheetID   string `yaml:"spreadsheet_id" split_words:"true"`
	SheetName       string `yaml:"sheet_name" split_words:"true"`
	CredentialsFile string `yaml:"credentials_file" split_words:"true"`
	// CredentialsPassphrase decrypts CredentialsFile when it was written by
	// `licensetool encrypt-credentials`.
	CredentialsPassphrase string `yaml:"-" split_words:"true"`

	URL           string `yaml:"url" split_words:"true"`
	APIKey        string `yaml:"-" split_words:"true"`
	Retries       int    `yaml:"retries" split_words:"true"`
	AllowInsecure bool   `yaml:"allow_insecure" split_words:"true"`

	Timeout            time.Duration `yaml:"timeout" split_words:"true"`
	BreakerFailures    uint32        `yaml:"breaker_failures" split_words:"true"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" split_words:"true"`
}

// ServerConfig contains the loopback HTTP server configuration
type ServerConfig struct {
	Host            string          `yaml:"host" split_words:"true"`
	Port            int             `yaml:"port" split_words:"true"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" split_words:"true"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" split_words:"true"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" split_words:"true"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" split_words:"true"`
	AllowedOrigins  []string        `yaml:"allowed_origins" split_words:"true"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" split_words:"true"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" split_words:"true"`
	RPS     float64 `yaml:"rps" split_words:"true"`
	Burst   int     `yaml:"burst" split_words:"true"`
}

// PathsConfig contains file system paths. Relative entries resolve against
// DataDir, and a relative DataDir resolves against the executable directory.
type PathsConfig struct {
	DataDir      string `yaml:"data_dir" split_words:"true"`
	DatabaseFile string `yaml:"database_file" split_words:"true"`
	SecretFile   string `yaml:"secret_file" split_words:"true"`
	AuditFile    string `yaml:"audit_file" split_words:"true"`
	LogsDir      string `yaml:"logs_dir" split_words:"true"`
}

// TelemetryConfig controls metrics and tracing.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" split_words:"true"`
	MetricsEnabled bool   `yaml:"metrics_enabled" split_words:"true"`
	TraceStdout    bool   `yaml:"trace_stdout" split_words:"true"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "both",
			FilePath: "licensed.log",
		},
		License: LicenseConfig{
			GracePeriod:        7 * 24 * time.Hour,
			TamperTolerance:    5 * time.Minute,
			ManualDailyLimit:   3,
			ResetTimezone:      "UTC",
			MatchThreshold:     0.60,
			BackgroundSchedule: "@every 6h",
		},
		Ledger: LedgerConfig{
			Kind:               LedgerSheets,
			SheetName:          "Licenses",
			CredentialsFile:    "credentials.json",
			Retries:            2,
			Timeout:            10 * time.Second,
			BreakerFailures:    3,
			BreakerOpenTimeout: 60 * time.Second,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8765,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://127.0.0.1:8765", "http://localhost:8765"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
		Paths: PathsConfig{
			DataDir:      "data",
			DatabaseFile: "license.db",
			SecretFile:   "install.secret",
			AuditFile:    "audit.jsonl",
			LogsDir:      "logs",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "licensetrust",
			MetricsEnabled: true,
		},
	}
}

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// File is a YAML config file; empty searches the usual locations.
	File string
	// DotEnv is loaded into the environment first; missing files are ignored.
	DotEnv string
}

// Load builds the configuration from defaults, then the YAML file, then
// LTE_* environment variables, each overriding the previous.
func Load(opts LoadOptions) (*Config, error) {
	dotenv := opts.DotEnv
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", dotenv, err)
	}

	cfg := Default()

	configFile := opts.File
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// No default tags: envconfig leaves a field alone when its variable is unset.
	// split_words keys avoid the unprefixed fallback lookup of explicit tags.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// findConfigFile returns the first config file found in the usual locations.
func findConfigFile() string {
	locations := []string{
		"licensed.yaml",
		"configs/licensed.yaml",
	}
	if paths, err := GetPaths(""); err == nil {
		locations = append(locations, paths.GetRelativePath("licensed.yaml"))
	}
	for _, location := range locations {
		if FileExists(location) {
			return location
		}
	}
	return ""
}

// Validate checks the configuration and normalizes enumerations.
func (c *Config) Validate() error {
	var errs []error

	c.Logging.Output = strings.ToLower(c.Logging.Output)
	switch c.Logging.Output {
	case "stdout", "file", "both":
	default:
		errs = append(errs, fmt.Errorf("logging output must be stdout, file or both, got %q", c.Logging.Output))
	}

	if err := c.License.validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Ledger.validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server read and write timeouts must be positive"))
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RPS <= 0 || c.Server.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate limit rps and burst must be positive"))
	}

	if c.Paths.DatabaseFile == "" || c.Paths.SecretFile == "" {
		errs = append(errs, errors.New("database and secret file paths are required"))
	}
	return errors.Join(errs...)
}

func (l LicenseConfig) validate() error {
	var errs []error
	if l.GracePeriod <= 0 {
		errs = append(errs, errors.New("license grace period must be positive"))
	}
	if l.TamperTolerance < 0 {
		errs = append(errs, errors.New("license tamper tolerance cannot be negative"))
	}
	if l.ManualDailyLimit <= 0 {
		errs = append(errs, errors.New("license manual daily limit must be positive"))
	}
	if l.MatchThreshold <= 0 || l.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("license match threshold must be in (0, 1], got %v", l.MatchThreshold))
	}
	if _, err := time.LoadLocation(l.ResetTimezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid license reset timezone %q: %w", l.ResetTimezone, err))
	}
	return errors.Join(errs...)
}

func (l *LedgerConfig) validate() error {
	l.Kind = strings.ToLower(l.Kind)
	var errs []error
	switch l.Kind {
	case LedgerSheets:
		if l.SpreadsheetID == "" {
			errs = append(errs, errors.New("ledger spreadsheet id is required for the sheets ledger"))
		}
		if l.CredentialsFile == "" {
			errs = append(errs, errors.New("ledger credentials file is required for the sheets ledger"))
		}
	case LedgerHTTP:
		u, err := url.Parse(l.URL)
		if err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("ledger url %q is not an absolute url", l.URL))
		}
	case LedgerMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown ledger kind %q", l.Kind))
	}
	if l.Timeout <= 0 {
		errs = append(errs, errors.New("ledger timeout must be positive"))
	}
	if l.BreakerFailures == 0 {
		errs = append(errs, errors.New("ledger breaker failures must be positive"))
	}
	return errors.Join(errs...)
}

// ResetLocation returns the zone whose midnight resets manual checks.
func (l LicenseConfig) ResetLocation() *time.Location {
	loc, err := time.LoadLocation(l.ResetTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
