package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
)

var (
	ErrMissingOption = errors.New("missing required option")
	ErrInvalidOption = errors.New("invalid option")
)

// Config holds the request taken from the command line and the ambient
// settings taken from the environment.
type Config struct {
	URL             string `ignored:"true"`
	DestinationFile string `ignored:"true"`
	Attempts        int    `ignored:"true"`

	// HistoryRunID switches the command to listing the recorded attempts of
	// a previous run instead of fetching.
	HistoryRunID string `ignored:"true"`

	Timeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"0s"`
	RetryDelay  time.Duration `envconfig:"FETCH_RETRY_DELAY" default:"0s"`
	UserAgent   string        `envconfig:"FETCH_USER_AGENT" default:"fetch/1.0"`
	BearerToken string        `envconfig:"FETCH_BEARER_TOKEN"`
	HistoryDB   string        `envconfig:"FETCH_HISTORY_DB"`

	NotifyWebhookURL string `envconfig:"NOTIFY_WEBHOOK_URL"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	Telemetry struct {
		Enabled      bool   `envconfig:"ENABLED" default:"false"`
		ServiceName  string `envconfig:"SERVICE_NAME" default:"fetch"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
		MetricsAddr  string `envconfig:"METRICS_ADDR"`
	}
}

// Load reads the environment, then parses args on top of it. Flags win over
// environment values. Usage and parse errors are written to output.
func Load(args []string, output io.Writer) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	fs := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.SortFlags = false

	fs.StringVar(&cfg.URL, "url", "", "source URL (required)")
	fs.StringVar(&cfg.DestinationFile, "destination_file", "", "output file path (required)")
	fs.IntVar(&cfg.Attempts, "attempts", 1, "maximum number of attempts")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-attempt timeout, 0 disables it")
	fs.DurationVar(&cfg.RetryDelay, "retry_delay", cfg.RetryDelay, "pause between attempts")
	fs.StringVar(&cfg.HistoryRunID, "history", "", "list the recorded attempts of a run id and exit")

	fs.Usage = func() {
		fmt.Fprintln(output, "Usage: fetch --url <URL> --destination_file <path> [--attempts <N>]")
		fmt.Fprintln(output, "       fetch --history <run_id>")
		fmt.Fprintln(output)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}

	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected argument %q", ErrInvalidOption, fs.Arg(0))
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HistoryRunID != "" {
		if c.HistoryDB == "" {
			return fmt.Errorf("%w: --history requires FETCH_HISTORY_DB", ErrInvalidOption)
		}

		return nil
	}

	if c.URL == "" {
		return fmt.Errorf("%w: --url", ErrMissingOption)
	}

	if c.DestinationFile == "" {
		return fmt.Errorf("%w: --destination_file", ErrMissingOption)
	}

	if c.Timeout < 0 || c.RetryDelay < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidOption)
	}

	return nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// JSONLogs reports whether logs should be written as JSON instead of text.
func (c *Config) JSONLogs() bool {
	return strings.EqualFold(c.LogFormat, "json")
}
