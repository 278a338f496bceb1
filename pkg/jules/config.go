package jules

import "time"

// Logger is the structured logging interface every layer of this SDK
// accepts (HTTP client, storage, fleet handlers). It is shaped exactly
// like capi.Logger so the same adapters work unchanged: wrap any
// zap/zerolog/logrus logger in one of these and hand it to Config.Logger.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// NoopLogger discards everything. It is the default when Config.Logger is
// nil, so call sites never need a nil check.
type NoopLogger struct{}

func (NoopLogger) Debug(string, map[string]interface{}) {}
func (NoopLogger) Info(string, map[string]interface{})  {}
func (NoopLogger) Warn(string, map[string]interface{})  {}
func (NoopLogger) Error(string, map[string]interface{}) {}

// RateLimitRetryConfig configures the HTTP client's capped-exponential,
// full-jitter retry policy (spec.md section 4.1).
type RateLimitRetryConfig struct {
	// MaxRetryTimeMs bounds total wall-clock retry time; default 300_000.
	MaxRetryTimeMs int
	// BaseDelayMs is the base of the exponential backoff; default 1_000.
	BaseDelayMs int
	// MaxDelayMs caps the pre-jitter backoff delay; default 30_000.
	MaxDelayMs int
}

// StorageBackend selects the activity/session storage implementation.
type StorageBackend string

const (
	// StorageFile is the default: newline-delimited JSON under CacheRoot
	// (spec.md section 4.3/4.4/6).
	StorageFile StorageBackend = "file"
	// StorageMemory keeps everything in-process; selected automatically
	// when JULES_FORCE_MEMORY_STORAGE is set, and useful in tests.
	StorageMemory StorageBackend = "memory"
	// StorageNATS persists to a NATS JetStream key-value bucket, the way
	// pkg/capi's CacheConfig offers CacheTypeNATS as an alternate backend
	// behind the same Cache interface.
	StorageNATS StorageBackend = "nats"
)

// Config is client configuration for building a top-level Client.
//
// # Authentication
//
// APIKey is sent on every Agent API request as the X-Goog-Api-Key header
// (spec.md section 4.1, section 6). There is no discovery or grant flow: unlike
// the CF/UAA world this SDK's teacher came from, the Agent API takes a
// single static key, so Config has no ClientID/Username/Password fields.
//
// # Timeouts and retries
//
// HTTPTimeout bounds each individual HTTP attempt. RateLimitRetry governs
// the retry loop wrapped around those attempts. MaxConcurrentRequests
// bounds how many requests may be in flight at once, independent of
// retries (spec.md section 5).
type Config struct {
	// APIKey authenticates against the Agent API. Required: a Config can
	// be built without it, but julesclient.New returns
	// ErrMissingCredentials when it is empty, so no Client (and no
	// request) exists without a key.
	APIKey string

	// BaseURL is the Agent API base path, e.g. "https://api.example.com/v1alpha".
	BaseURL string

	// HTTPTimeout is the per-attempt request timeout. Zero uses
	// constants.DefaultHTTPTimeout.
	HTTPTimeout time.Duration

	// RateLimitRetry tunes the backoff policy. Zero-value fields fall
	// back to constants defaults.
	RateLimitRetry RateLimitRetryConfig

	// MaxConcurrentRequests bounds in-flight HTTP requests. Zero uses
	// constants.DefaultMaxConcurrentRequests.
	MaxConcurrentRequests int

	// CacheRoot is the on-disk cache root (spec.md section 6); defaults to
	// "<workdir>/.jules/cache". Ignored when Storage is StorageMemory or
	// StorageNATS.
	CacheRoot string

	// Storage selects the storage backend. Empty defaults to StorageFile,
	// unless the JULES_FORCE_MEMORY_STORAGE environment variable is set.
	Storage StorageBackend

	// NATSURL configures the NATS JetStream connection when Storage ==
	// StorageNATS.
	NATSURL string

	// Logger receives structured log events from every layer. Defaults to
	// NoopLogger.
	Logger Logger

	// Debug enables verbose request/response logging when Logger is set.
	Debug bool

	// UserAgent overrides the default User-Agent header.
	UserAgent string
}

// withDefaults returns a copy of cfg with zero-value fields replaced by
// package defaults. Mirrors the defaulting createHTTPClientOptions does
// for capi.Config, but centralised here instead of scattered across call
// sites.
func (cfg Config) withDefaults() Config {
	if cfg.RateLimitRetry.MaxRetryTimeMs == 0 {
		cfg.RateLimitRetry.MaxRetryTimeMs = 300_000
	}
	if cfg.RateLimitRetry.BaseDelayMs == 0 {
		cfg.RateLimitRetry.BaseDelayMs = 1_000
	}
	if cfg.RateLimitRetry.MaxDelayMs == 0 {
		cfg.RateLimitRetry.MaxDelayMs = 30_000
	}
	if cfg.MaxConcurrentRequests == 0 {
		cfg.MaxConcurrentRequests = 50
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Storage == "" {
		cfg.Storage = StorageFile
	}
	if cfg.CacheRoot == "" {
		cfg.CacheRoot = ".jules/cache"
	}
	if cfg.Logger == nil {
		cfg.Logger = NoopLogger{}
	}
	return cfg
}

// WithDefaults exposes withDefaults to internal/julesclient without
// widening the exported API surface beyond what callers need (they build
// a Config, pass it to julesclient.New, and don't need to pre-default it
// themselves).
func (cfg Config) WithDefaults() Config { return cfg.withDefaults() }
