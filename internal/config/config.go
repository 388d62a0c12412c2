// Package config provides functionality for managing configuration options
// for the relay using command-line flags, a JSON file, a .env file and
// environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"
)

// Relay modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// Options holds the configuration values for the relay.
type Options struct {
	// BotToken is the Bot API credential.
	BotToken string `json:"bot_token"`
	// AdminID is the user id of the single administrator.
	AdminID int64 `json:"admin_id"`
	// GroupID is the initial backup channel. A channel configured at runtime
	// with /setupgroup takes precedence.
	GroupID int64 `json:"group_id"`

	// Mode selects how updates arrive: "polling" or "webhook".
	Mode string `json:"mode"`
	// Port defines the webhook listening address (ip:port).
	Port string `json:"address"`
	// WebhookURL is the public URL Telegram posts updates to.
	WebhookURL string `json:"webhook_url"`
	// WebhookSecret is checked against the secret token header when set.
	WebhookSecret string `json:"webhook_secret"`
	// TLSCert and TLSKey are served by the webhook listener. The certificate
	// is also uploaded to Telegram so that self-signed pairs work.
	TLSCert string `json:"tls_cert"`
	TLSKey  string `json:"tls_key"`

	// DatabaseDSN selects Postgres storage. Empty means the JSON file store.
	DatabaseDSN string `json:"database_dsn"`
	// StorePath is the JSON file store used without a DSN.
	StorePath string `json:"store_path"`

	SendTimeout       time.Duration `json:"send_timeout"`
	PollTimeout       time.Duration `json:"poll_timeout"`
	CorrelationTTL    time.Duration `json:"correlation_ttl"`
	CorrelationMax    int           `json:"correlation_max"`
	BroadcastWorkers  int           `json:"broadcast_workers"`
	BroadcastRate     float64       `json:"broadcast_rate"`
	MaxAnswerAttempts int           `json:"max_answer_attempts"`
	Shards            int           `json:"shards"`

	// SecurityQuestion and SecurityAnswer seed the challenge until one is
	// stored.
	SecurityQuestion string `json:"security_question"`
	SecurityAnswer   string `json:"security_answer"`

	LogLevel string `json:"log_level"`

	// Config is the path to the JSON config file.
	Config string `json:"-"`
	// EnvFile is the path to the .env file.
	EnvFile string `json:"-"`
}

// Defaults returns the built-in configuration.
func Defaults() *Options {
	return &Options{
		Mode:             ModePolling,
		Port:             ":8443",
		TLSCert:          "certs/webhook.crt",
		TLSKey:           "certs/webhook.key",
		StorePath:        "relay_state.json",
		SendTimeout:      10 * time.Second,
		PollTimeout:      30 * time.Second,
		CorrelationTTL:   7 * 24 * time.Hour,
		CorrelationMax:   50000,
		BroadcastWorkers: 4,
		BroadcastRate:    25,
		Shards:           8,
		SecurityQuestion: "What's your secret phrase?",
		SecurityAnswer:   "your_secret_answer_here",
		LogLevel:         "info",
		Config:           "config.json",
		EnvFile:          ".env",
	}
}

// Parse reads os.Args and the process environment. It exits on invalid
// input, like flag.Parse does.
func Parse() *Options {
	opts, err := Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return opts
}

// Load builds the options from defaults, then the JSON file, then
// command-line flags, then the environment. Variables in the .env file apply
// only where the real environment leaves them unset.
func Load(args []string, getenv func(string) string) (*Options, error) {
	// First pass only locates the config and .env files.
	pre := Defaults()
	if err := newFlagSet(pre).Parse(args); err != nil {
		return nil, err
	}
	if v := getenv("CONFIG"); v != "" {
		pre.Config = v
	}
	if v := getenv("ENV_FILE"); v != "" {
		pre.EnvFile = v
	}

	opts := Defaults()
	if err := loadFile(opts, pre.Config); err != nil {
		return nil, err
	}
	if err := newFlagSet(opts).Parse(args); err != nil {
		return nil, err
	}
	opts.Config, opts.EnvFile = pre.Config, pre.EnvFile

	dotenv, err := readDotenv(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := applyEnv(opts, lookup); err != nil {
		return nil, err
	}
	return opts, nil
}

func newFlagSet(o *Options) *flag.FlagSet {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&o.BotToken, "token", o.BotToken, "bot API token")
	fs.Int64Var(&o.AdminID, "admin", o.AdminID, "administrator user id")
	fs.Int64Var(&o.GroupID, "group", o.GroupID, "backup channel id")
	fs.StringVar(&o.Mode, "mode", o.Mode, "update source: polling or webhook")
	fs.StringVar(&o.Port, "a", o.Port, "run webhook server on ip:port")
	fs.StringVar(&o.WebhookURL, "webhook-url", o.WebhookURL, "public webhook URL")
	fs.StringVar(&o.WebhookSecret, "webhook-secret", o.WebhookSecret, "webhook secret token")
	fs.StringVar(&o.TLSCert, "tls-cert", o.TLSCert, "webhook TLS certificate")
	fs.StringVar(&o.TLSKey, "tls-key", o.TLSKey, "webhook TLS key")
	fs.StringVar(&o.DatabaseDSN, "d", o.DatabaseDSN, "db address")
	fs.StringVar(&o.StorePath, "store", o.StorePath, "JSON store path used without a db")
	fs.DurationVar(&o.SendTimeout, "send-timeout", o.SendTimeout, "timeout of one outbound send")
	fs.DurationVar(&o.PollTimeout, "poll-timeout", o.PollTimeout, "long polling timeout")
	fs.DurationVar(&o.CorrelationTTL, "correlation-ttl", o.CorrelationTTL, "reply correlation retention")
	fs.IntVar(&o.CorrelationMax, "correlation-max", o.CorrelationMax, "max reply correlations kept in memory")
	fs.IntVar(&o.BroadcastWorkers, "broadcast-workers", o.BroadcastWorkers, "concurrent broadcast deliveries")
	fs.Float64Var(&o.BroadcastRate, "broadcast-rate", o.BroadcastRate, "broadcast messages per second, 0 disables pacing")
	fs.IntVar(&o.MaxAnswerAttempts, "max-attempts", o.MaxAnswerAttempts, "wrong answers before blocking, 0 is unlimited")
	fs.IntVar(&o.Shards, "shards", o.Shards, "dispatcher shards")
	fs.StringVar(&o.SecurityQuestion, "question", o.SecurityQuestion, "default security question")
	fs.StringVar(&o.SecurityAnswer, "answer", o.SecurityAnswer, "default security answer")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "log level")
	fs.StringVar(&o.Config, "config", o.Config, "path to config file")
	fs.StringVar(&o.Config, "c", o.Config, "path to config file (shorthand)")
	fs.StringVar(&o.EnvFile, "env", o.EnvFile, "path to .env file")
	return fs
}

// Validate reports options the relay cannot start with.
func (o *Options) Validate() error {
	var errs []error
	if o.BotToken == "" {
		errs = append(errs, errors.New("bot token is required"))
	}
	if o.AdminID == 0 {
		errs = append(errs, errors.New("admin id is required"))
	}
	switch o.Mode {
	case ModePolling:
	case ModeWebhook:
		if o.WebhookURL == "" {
			errs = append(errs, errors.New("webhook mode requires a webhook URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", o.Mode))
	}
	if o.BroadcastWorkers < 1 {
		errs = append(errs, errors.New("broadcast workers must be positive"))
	}
	if o.BroadcastRate < 0 {
		errs = append(errs, errors.New("broadcast rate must not be negative"))
	}
	if o.SecurityQuestion == "" || o.SecurityAnswer == "" {
		errs = append(errs, errors.New("security question and answer are required"))
	}
	return errors.Join(errs...)
}
