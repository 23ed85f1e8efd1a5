package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type ServerConfig struct {
	// "pg" needs DB_DSN; "mem" runs everything in process for local dev.
	StoreMode string `envconfig:"STORE_MODE" default:"pg"`

	DBDSN       string `envconfig:"DB_DSN"`
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	// Uploads for media jobs live here until the dispatch worker releases them.
	UploadDir string `envconfig:"UPLOAD_DIR" default:"./uploads"`

	// Anti-abuse pacing between recipient sends: base + [0, jitter).
	SendDelayBase   time.Duration `envconfig:"SEND_DELAY_BASE" default:"1s"`
	SendDelayJitter time.Duration `envconfig:"SEND_DELAY_JITTER" default:"1s"`

	// Per-tenant ceiling on outbound sends, enforced before each send.
	SendRatePerTenant float64 `envconfig:"SEND_RATE_PER_TENANT" default:"1"`
	SendBurst         int     `envconfig:"SEND_BURST" default:"1"`

	// Websocket event stream.
	WSAllowedOrigin string `envconfig:"WS_ALLOWED_ORIGIN"`

	// "sim" wires the simulated transport; anything else must be provided by
	// the embedding deployment.
	TransportMode string `envconfig:"TRANSPORT_MODE" default:"sim"`
}

func LoadServer() ServerConfig {
	var cfg ServerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		panic(err)
	}
	return cfg
}
