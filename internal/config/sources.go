package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// duration accepts "10s"-style strings and integer nanoseconds.
type duration time.Duration

func (d *duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = duration(time.Duration(v))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// UnmarshalJSON overlays the keys present in data onto o.
func (o *Options) UnmarshalJSON(data []byte) error {
	type plain Options
	aux := struct {
		*plain
		SendTimeout    duration `json:"send_timeout"`
		PollTimeout    duration `json:"poll_timeout"`
		CorrelationTTL duration `json:"correlation_ttl"`
	}{
		plain:          (*plain)(o),
		SendTimeout:    duration(o.SendTimeout),
		PollTimeout:    duration(o.PollTimeout),
		CorrelationTTL: duration(o.CorrelationTTL),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	o.SendTimeout = time.Duration(aux.SendTimeout)
	o.PollTimeout = time.Duration(aux.PollTimeout)
	o.CorrelationTTL = time.Duration(aux.CorrelationTTL)
	return nil
}

// loadFile overlays the JSON config file at path. A missing file is skipped.
func loadFile(o *Options, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error while reading config file: %w", err)
	}
	if err := json.Unmarshal(data, o); err != nil {
		return fmt.Errorf("error while parsing config file: %w", err)
	}
	return nil
}

// readDotenv returns the variables of the .env file at path. A missing file
// yields none.
func readDotenv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	vars, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return vars, nil
}

// applyEnv overrides o with every variable lookup returns non-empty.
func applyEnv(o *Options, lookup func(string) string) error {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	i64 := func(dst *int64) func(string) error {
		return func(v string) error {
			n, err := strconv.ParseInt(v, 10, 64)
			*dst = n
			return err
		}
	}
	num := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			*dst = n
			return err
		}
	}
	dur := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			*dst = d
			return err
		}
	}

	vars := []struct {
		key string
		set func(string) error
	}{
		{"BOT_TOKEN", str(&o.BotToken)},
		{"ADMIN_ID", i64(&o.AdminID)},
		{"GROUP_ID", i64(&o.GroupID)},
		{"MODE", str(&o.Mode)},
		{"SERVER_ADDRESS", str(&o.Port)},
		{"WEBHOOK_URL", str(&o.WebhookURL)},
		{"WEBHOOK_SECRET", str(&o.WebhookSecret)},
		{"TLS_CERT", str(&o.TLSCert)},
		{"TLS_KEY", str(&o.TLSKey)},
		{"DATABASE_DSN", str(&o.DatabaseDSN)},
		{"STORE_PATH", str(&o.StorePath)},
		{"SEND_TIMEOUT", dur(&o.SendTimeout)},
		{"POLL_TIMEOUT", dur(&o.PollTimeout)},
		{"CORRELATION_TTL", dur(&o.CorrelationTTL)},
		{"CORRELATION_MAX", num(&o.CorrelationMax)},
		{"BROADCAST_WORKERS", num(&o.BroadcastWorkers)},
		{"BROADCAST_RATE", func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			o.BroadcastRate = f
			return err
		}},
		{"MAX_ANSWER_ATTEMPTS", num(&o.MaxAnswerAttempts)},
		{"SHARDS", num(&o.Shards)},
		{"SECURITY_QUESTION", str(&o.SecurityQuestion)},
		{"SECURITY_ANSWER", str(&o.SecurityAnswer)},
		{"LOG_LEVEL", str(&o.LogLevel)},
	}
	for _, v := range vars {
		raw := lookup(v.key)
		if raw == "" {
			continue
		}
		if err := v.set(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", v.key, err)
		}
	}
	return nil
}
