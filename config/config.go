// Package config loads the server configuration from the environment.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the environment configuration for the notification backend.
//
// The OneSignal credentials are optional: without them mobile delivery is
// reported as a configuration failure at send time while web push keeps
// working. The VAPID key material, by contrast, is load-bearing for every
// registered browser and its absence is fatal at startup.
type Config struct {
	// Port is the HTTP listen port.
	Port string `env:"PORT, default=4000"`

	// DBPath is the SQLite database path.
	DBPath string `env:"DB_PATH, default=lira.db"`

	// VAPIDKeysPath is where the VAPID key pair JSON lives (created on
	// first run).
	VAPIDKeysPath string `env:"VAPID_KEYS_PATH, default=vapid-keys.json"`

	// VAPIDSubject is the contact identifier sent with signed pushes.
	VAPIDSubject string `env:"VAPID_SUBJECT, default=mailto:admin@lira.com"`

	// VAPIDKMSKey, when set, holds a Cloud KMS key version name and the
	// signer uses KMS instead of the on-disk pair.
	VAPIDKMSKey string `env:"VAPID_KMS_KEY"`

	// JWTSecret signs and verifies auth tokens.
	JWTSecret string `env:"JWT_SECRET, required"`

	// OneSignalAppID and OneSignalAPIKey are the mobile push provider
	// credentials.
	OneSignalAppID  string `env:"ONESIGNAL_APP_ID"`
	OneSignalAPIKey string `env:"ONESIGNAL_API_KEY"`

	// RedisAddr, when set, backs pairing codes with Redis instead of the
	// in-process store.
	RedisAddr string `env:"REDIS_ADDR"`

	// PairingTTL is how long a pairing code stays claimable.
	PairingTTL time.Duration `env:"PAIRING_TTL, default=5m"`

	// SendTimeout bounds each outbound delivery attempt.
	SendTimeout time.Duration `env:"SEND_TIMEOUT, default=30s"`
}

// Load reads the configuration from the environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return &cfg, nil
}
