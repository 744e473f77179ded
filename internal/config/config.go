// Package config defines the dispatch core's boot-time configuration,
// parsed from flags and environment variables with
// github.com/jessevdk/go-flags in a grouped-namespace style.
package config

import (
	"fmt"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// Config is the full set of options the process requires before boot.
type Config struct {
	Store struct {
		RedisURL string `long:"redis-url" env:"REDIS_URL" required:"true" description:"KV/coordination store endpoint (etcd client URL despite the legacy name)"`
	} `group:"store" namespace:"store"`

	Database struct {
		URL string `long:"database-url" env:"DATABASE_URL" required:"true" description:"Driver/route relational store DSN"`
	} `group:"database" namespace:"database"`

	Session struct {
		StateTTLSeconds int `long:"state-ttl-seconds" env:"STATE_TTL" default:"10800" description:"Session idle expiry"`
	} `group:"session" namespace:"session"`

	Queue struct {
		ActiveTTLSeconds    int `long:"queue-ttl-seconds" env:"QUEUE_TTL" default:"30" description:"Active-slot window (parsed but not applied; the slot controller uses its fixed 30s window)"`
		BlocklistWaitSeconds int `long:"blocklist-wait-seconds" env:"BLOCKLIST_WAIT_SECONDS" default:"120" description:"Deferral before a blocklisted-only queue is served"`
	} `group:"queue" namespace:"queue"`

	Admin struct {
		SyncPassword string `long:"sync-password" env:"SYNC_PASSWORD" required:"true" description:"Shared secret for the admin handshake"`
		JWTTTLSeconds int   `long:"sync-jwt-ttl-seconds" env:"SYNC_JWT_TTL" default:"600" description:"Admin handshake token lifetime"`
	} `group:"admin" namespace:"admin"`

	Export struct {
		Bucket string `long:"export-bucket" env:"EXPORT_BUCKET" description:"GCS bucket for best-effort claim export writeback; export disabled if empty"`
	} `group:"export" namespace:"export"`

	Metrics struct {
		Addr string `long:"metrics-addr" env:"METRICS_ADDR" default:":9090" description:"Bind address for the Prometheus /metrics endpoint"`
	} `group:"metrics" namespace:"metrics"`

	Timer struct {
		HighwayHashKeyHex string `long:"highway-hash-key" env:"HIGHWAY_HASH_KEY" description:"Hex-encoded 32-byte key for timer-token fingerprinting; generated at boot if unset"`
	} `group:"timer" namespace:"timer"`

	HTTP struct {
		WebhookAddr string `long:"webhook-addr" env:"WEBHOOK_ADDR" default:":8080" description:"Bind address for the inbound chat webhook"`
	} `group:"http" namespace:"http"`

	Chat struct {
		SendEndpoint string `long:"chat-send-endpoint" env:"CHAT_SEND_ENDPOINT" required:"true" description:"Outbound chat transport endpoint"`
	} `group:"chat" namespace:"chat"`

	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Logging verbosity"`
}

// StateTTL is Session.StateTTLSeconds as a time.Duration.
func (c *Config) StateTTL() time.Duration {
	return time.Duration(c.Session.StateTTLSeconds) * time.Second
}

// ActiveTTL is Queue.ActiveTTLSeconds as a time.Duration.
func (c *Config) ActiveTTL() time.Duration {
	return time.Duration(c.Queue.ActiveTTLSeconds) * time.Second
}

// BlocklistWait is Queue.BlocklistWaitSeconds as a time.Duration.
func (c *Config) BlocklistWait() time.Duration {
	return time.Duration(c.Queue.BlocklistWaitSeconds) * time.Second
}

// SyncJWTTTL is Admin.JWTTTLSeconds as a time.Duration.
func (c *Config) SyncJWTTTL() time.Duration {
	return time.Duration(c.Admin.JWTTTLSeconds) * time.Second
}

// Parse parses args (os.Args[1:] in production) into a Config, applying
// environment variable and default-tag resolution. A parse or missing
// required-field error means the process must refuse to start.
func Parse(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
