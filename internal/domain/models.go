package domain

// =============================================================================
// Core Configuration
// =============================================================================

// Config is the on-disk configuration (invoicely.json or invoicely.yaml).
// Environment variables prefixed with INVOICELY_ override file values.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway" envPrefix:"GATEWAY_"`
	WhatsApp WhatsAppConfig `json:"whatsapp" yaml:"whatsapp" envPrefix:"WHATSAPP_"`
	Mirror   MirrorConfig   `json:"mirror" yaml:"mirror" envPrefix:"MIRROR_"`
	Infra    InfraConfig    `json:"infra" yaml:"infra" envPrefix:"INFRA_"`
}

type GatewayConfig struct {
	Port           int        `json:"port" yaml:"port" env:"PORT"`
	Auth           AuthConfig `json:"auth" yaml:"auth" envPrefix:"AUTH_"`
	AllowedOrigins []string   `json:"allowedOrigins" yaml:"allowedOrigins" env:"ALLOWED_ORIGINS"` // websocket origins; empty allows all
}

type AuthConfig struct {
	AuthToken string `json:"authToken,omitempty" yaml:"authToken,omitempty" env:"TOKEN"` // When set, requires Authorization: Bearer <authToken>
}

// WhatsAppConfig controls the delivery gateway.
type WhatsAppConfig struct {
	SessionDB        string `json:"sessionDb" yaml:"sessionDb" env:"SESSION_DB"`                      // whatsmeow device store (SQLite file path)
	ConnectOnStart   bool   `json:"connectOnStart" yaml:"connectOnStart" env:"CONNECT_ON_START"`       // connect at boot when a paired device exists
	PrintQR          bool   `json:"printQr" yaml:"printQr" env:"PRINT_QR"`                             // render pairing codes in the terminal
	PairingTimeout   int    `json:"pairingTimeout" yaml:"pairingTimeout" env:"PAIRING_TIMEOUT"`       // seconds in qr before the watchdog disconnects (0 = never)
	WatchdogInterval int    `json:"watchdogInterval" yaml:"watchdogInterval" env:"WATCHDOG_INTERVAL"` // seconds between watchdog checks
}

// MirrorConfig selects where the bound number is mirrored for display.
type MirrorConfig struct {
	Driver         string `json:"driver" yaml:"driver" env:"DRIVER"` // "sql" | "supabase"
	URL            string `json:"url" yaml:"url" env:"URL"`          // libSQL URL for the sql driver
	SupabaseURL    string `json:"supabaseUrl,omitempty" yaml:"supabaseUrl,omitempty" env:"SUPABASE_URL"`
	SupabaseKey    string `json:"supabaseKey,omitempty" yaml:"supabaseKey,omitempty" env:"SUPABASE_KEY"`
	Table          string `json:"table" yaml:"table" env:"TABLE"`
	Timeout        int    `json:"timeout" yaml:"timeout" env:"TIMEOUT"`                         // milliseconds per mirror operation
	FallbackOnBoot bool   `json:"fallbackOnBoot" yaml:"fallbackOnBoot" env:"FALLBACK_ON_BOOT"` // report the mirrored number before any live event
}

type InfraConfig struct {
	LogFormat string `json:"logFormat" yaml:"logFormat" env:"LOG_FORMAT"` // "json" | "text"
	LogLevel  string `json:"logLevel" yaml:"logLevel" env:"LOG_LEVEL"`
}

const (
	MirrorDriverSQL      = "sql"
	MirrorDriverSupabase = "supabase"
)
