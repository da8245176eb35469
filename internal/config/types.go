package config

type Config struct {
	WeApp         WeAppConfig         `json:"weapp"`
	Publisher     PublisherConfig     `json:"publisher"`
	Sender        SenderConfig        `json:"sender"`
	Subscriptions SubscriptionsConfig `json:"subscriptions"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	HTTP          HTTPConfig          `json:"http"`
	Logging       LoggingConfig       `json:"logging"`
}

// WeAppConfig holds the provider defaults used when notification data does not
// carry the corresponding key. Hot-reloadable.
type WeAppConfig struct {
	DefaultTemplateID string `json:"default_template_id"`
	DefaultMsgPrefix  string `json:"default_msg_prefix"`
	// DefaultState is one of "developer", "trial", "formal" or empty.
	DefaultState    string `json:"default_state,omitempty"`
	DefaultLanguage string `json:"default_language,omitempty"`
}

// PublisherConfig controls dispatch concurrency and retries.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - rate_per_sec: 0 (unlimited)
//   - retry_max: 0
//   - retry_base: "500ms"
//   - retry_max_delay: "10s"
//   - send_timeout: "10s"
type PublisherConfig struct {
	Workers       int    `json:"workers"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// SenderConfig selects the channel transport.
//
// Example:
//
//	"sender": { "driver": "relay", "relay_url": "http://127.0.0.1:9000/send" }
type SenderConfig struct {
	// Driver is "dryrun" (default) or "relay".
	Driver   string `json:"driver"`
	RelayURL string `json:"relay_url,omitempty"`
	// RelayToken is sent as a bearer token (do not log). Env: WEAPPNOTIFY_RELAY_TOKEN.
	RelayToken string `json:"relay_token,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// SubscriptionsConfig selects where subscriptions are read from.
type SubscriptionsConfig struct {
	// Driver is "memory" (default), "sqlite" or "redis".
	Driver string `json:"driver"`
	// Path is the sqlite database path.
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// EnsureSchema creates the subscriptions table when missing (sqlite only).
	EnsureSchema bool `json:"ensure_schema,omitempty"`

	// RedisURL is a redis:// URL. Env: WEAPPNOTIFY_REDIS_URL.
	RedisURL    string `json:"redis_url,omitempty"`
	RedisPrefix string `json:"redis_prefix,omitempty"`

	// Seed populates the memory driver.
	Seed []SubscriptionSeed `json:"seed,omitempty"`
}

type SubscriptionSeed struct {
	TenantID     string `json:"tenant_id,omitempty"`
	Notification string `json:"notification"`
	UserID       string `json:"user_id"`
	UserName     string `json:"user_name"`
}

// StorageConfig controls delivery report persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./weappnotify.db", "retention": "168h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Retention drops reports older than this. "0s" or empty keeps everything.
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron spec; default "@hourly".
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// HTTPConfig controls the ingress API.
//
// Security note:
//   - Prefer binding to localhost unless jwt_secret is set.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	// JWTSecret enables HS256 bearer auth on /api routes (do not log). Env: WEAPPNOTIFY_JWT_SECRET.
	JWTSecret string `json:"jwt_secret,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// PublishTimeout bounds a single publish request; default "30s".
	PublishTimeout string `json:"publish_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
