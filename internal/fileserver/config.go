package fileserver

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
)

// Backend names accepted by New.
const (
	BackendLocal       = "local"
	BackendObjectStore = "s3"
)

// Defaults mirroring the service's historical behavior. The fixed listen
// port keeps tunnel management predictable across restarts.
const (
	DefaultPort           = 9171
	DefaultDownloadTTL    = time.Hour
	DefaultUploadTTL      = 5 * time.Minute
	DefaultMaxUploadBytes = 50 * 1024 * 1024
	DefaultSweepInterval  = 10 * time.Minute
	defaultUploadSlotName = "file"
	uploadTokenHeader     = "X-Upload-Token"
)

// Config is the full environment surface for both backends.
type Config struct {
	Backend string `env:"FILEBROKER_BACKEND,default=local"`

	// Local backend. Port 0 asks the OS for an ephemeral port.
	Port                 int   `env:"FILEBROKER_PORT,default=9171"`
	DownloadTTLSeconds   int   `env:"FILEBROKER_DOWNLOAD_TTL,default=3600"`
	UploadTTLSeconds     int   `env:"FILEBROKER_UPLOAD_TTL,default=300"`
	MaxUploadBytes       int64 `env:"FILEBROKER_MAX_UPLOAD_BYTES,default=52428800"`
	SweepIntervalSeconds int   `env:"FILEBROKER_SWEEP_INTERVAL,default=600"`

	// Public tunnel. The credential is consumed by the tunnel agent, not
	// by this process; it is surfaced here so startup can fail fast.
	TunnelEnabled   bool   `env:"FILEBROKER_TUNNEL,default=false"`
	TunnelAuthToken string `env:"FILEBROKER_TUNNEL_AUTHTOKEN"`

	// Object-store backend.
	S3Endpoint  string `env:"FILEBROKER_S3_ENDPOINT"`
	S3AccessKey string `env:"FILEBROKER_S3_ACCESS_KEY"`
	S3SecretKey string `env:"FILEBROKER_S3_SECRET_KEY"`
	S3Bucket    string `env:"FILEBROKER_S3_BUCKET"`
	S3Region    string `env:"FILEBROKER_S3_REGION,default=us-east-1"`

	Extras env.EnvSet
}

// LoadConfig reads configuration from the process environment.
func LoadConfig() (Config, error) {
	var cfg Config
	es, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.Extras = es
	return cfg, nil
}

func (c Config) downloadTTL() time.Duration {
	if c.DownloadTTLSeconds <= 0 {
		return DefaultDownloadTTL
	}
	return time.Duration(c.DownloadTTLSeconds) * time.Second
}

func (c Config) uploadTTL() time.Duration {
	if c.UploadTTLSeconds <= 0 {
		return DefaultUploadTTL
	}
	return time.Duration(c.UploadTTLSeconds) * time.Second
}

func (c Config) sweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return DefaultSweepInterval
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c Config) maxUploadBytes() int64 {
	if c.MaxUploadBytes <= 0 {
		return DefaultMaxUploadBytes
	}
	return c.MaxUploadBytes
}
