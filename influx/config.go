package influx

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/karpov-sv/etp/errors"
	"github.com/karpov-sv/etp/lineproto"
	"github.com/karpov-sv/etp/pkg/tlsutil"
)

// Batching and retry defaults
const (
	DefaultBatchMaxPoints = 10000
	DefaultFlushInterval  = time.Second
	DefaultQueueSize      = 200000
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxRetries     = 8
	DefaultInitialBackoff = 250 * time.Millisecond
	DefaultMaxBackoff     = 8 * time.Second
)

// TargetV2 is an InfluxDB v2 bucket written through /api/v2/write.
type TargetV2 struct {
	BaseURL   string              `json:"base_url"  yaml:"base_url"`
	Org       string              `json:"org"       yaml:"org"`
	Bucket    string              `json:"bucket"    yaml:"bucket"`
	Token     string              `json:"token"     yaml:"token"`
	Precision lineproto.Precision `json:"precision" yaml:"precision"`
}

// TargetV3 is an InfluxDB v3 database written through /api/v3/write_lp.
type TargetV3 struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	DB      string `json:"db"       yaml:"db"`
	Token   string `json:"token"    yaml:"token"`
}

// Config configures a Writer. Exactly one of V2 and V3 must be set. Zero
// fields take the defaults above, except MaxRetries where zero means a
// single attempt; start from DefaultConfig to get retries.
type Config struct {
	V2 *TargetV2
	V3 *TargetV3

	BatchMaxPoints int
	FlushInterval  time.Duration
	QueueSize      int
	RequestTimeout time.Duration

	// MaxRetries counts retries after the first attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxJitter adds a uniform [0, MaxJitter) delay to every backoff. Zero
	// adds up to 25% of the current delay instead, so the delays keep
	// growing until MaxBackoff.
	MaxJitter time.Duration

	// TLS configures HTTPS targets. Ignored when WithHTTPClient is used.
	TLS tlsutil.ClientConfig
}

// DefaultConfig returns the batching and retry defaults with no target.
func DefaultConfig() Config {
	return Config{
		BatchMaxPoints: DefaultBatchMaxPoints,
		FlushInterval:  DefaultFlushInterval,
		QueueSize:      DefaultQueueSize,
		RequestTimeout: DefaultRequestTimeout,
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchMaxPoints == 0 {
		c.BatchMaxPoints = d.BatchMaxPoints
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.QueueSize == 0 {
		c.QueueSize = d.QueueSize
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
		if c.MaxBackoff > 0 {
			c.InitialBackoff = min(c.InitialBackoff, c.MaxBackoff)
		}
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = max(d.MaxBackoff, c.InitialBackoff)
	}
	if c.V2 != nil && c.V2.Precision == "" {
		v2 := *c.V2
		v2.Precision = lineproto.Nanosecond
		c.V2 = &v2
	}
	return c
}

// Validate checks the target and the batching parameters.
func (c Config) Validate() error {
	if (c.V2 == nil) == (c.V3 == nil) {
		return invalidConfig("exactly one of the v2 and v3 targets is required")
	}

	if c.V2 != nil {
		if err := validateBaseURL(c.V2.BaseURL); err != nil {
			return err
		}
		if c.V2.Org == "" {
			return invalidConfig("v2 org is required")
		}
		if c.V2.Bucket == "" {
			return invalidConfig("v2 bucket is required")
		}
		if c.V2.Precision != "" && !c.V2.Precision.Valid() {
			return invalidConfig(fmt.Sprintf("v2 precision %q is not one of ns, us, ms, s", c.V2.Precision))
		}
	}
	if c.V3 != nil {
		if err := validateBaseURL(c.V3.BaseURL); err != nil {
			return err
		}
		if c.V3.DB == "" {
			return invalidConfig("v3 db is required")
		}
	}

	switch {
	case c.BatchMaxPoints < 0:
		return invalidConfig("batch_max_points must not be negative")
	case c.QueueSize < 0:
		return invalidConfig("queue_size must not be negative")
	case c.FlushInterval < 0:
		return invalidConfig("flush_interval must not be negative")
	case c.RequestTimeout < 0:
		return invalidConfig("request_timeout must not be negative")
	case c.MaxRetries < 0:
		return invalidConfig("max_retries must not be negative")
	case c.InitialBackoff < 0, c.MaxBackoff < 0, c.MaxJitter < 0:
		return invalidConfig("backoff durations must not be negative")
	case c.MaxBackoff > 0 && c.InitialBackoff > c.MaxBackoff:
		return invalidConfig("max_backoff must not be below initial_backoff")
	}
	return c.TLS.Validate()
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return invalidConfig("base_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse base_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalidConfig(fmt.Sprintf("base_url %q must be http or https", raw))
	}
	if u.Host == "" {
		return invalidConfig(fmt.Sprintf("base_url %q has no host", raw))
	}
	return nil
}

func invalidConfig(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "validate writer config")
}

// endpoint returns the write URL and the Authorization header value.
func (c Config) endpoint() (string, string) {
	if c.V2 != nil {
		query := url.Values{}
		query.Set("org", c.V2.Org)
		query.Set("bucket", c.V2.Bucket)
		query.Set("precision", string(c.V2.Precision))
		return strings.TrimRight(c.V2.BaseURL, "/") + "/api/v2/write?" + query.Encode(),
			"Token " + c.V2.Token
	}

	query := url.Values{}
	query.Set("db", c.V3.DB)
	return strings.TrimRight(c.V3.BaseURL, "/") + "/api/v3/write_lp?" + query.Encode(),
		"Bearer " + c.V3.Token
}

// target names the configured API version in logs and metrics.
func (c Config) target() string {
	if c.V2 != nil {
		return "v2"
	}
	return "v3"
}
