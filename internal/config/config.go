// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"vietqr_bot/internal/secret"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken   = "TELEGRAM_TOKEN"
	KeyBotOwner        = "BOT_OWNER"
	KeyMongoURI        = "MONGO_URI"
	KeyMongoDB         = "MONGO_DB"
	KeyAppEnv          = "APP_ENV"
	KeyLogLevel        = "LOG_LEVEL"
	KeyHTTPPort        = "HTTP_PORT"
	KeyEncryptionKey   = "ENCRYPTION_KEY"
	KeyQRBackground    = "QR_BG_IMAGE_PATH"
	KeyQRPanelX        = "QR_PANEL_X"
	KeyQRPanelY        = "QR_PANEL_Y"
	KeyQRSize          = "QR_SIZE"
	KeyFlowIdleTimeout = "FLOW_IDLE_TIMEOUT"
	KeyDebugPayload    = "DEBUG_PAYLOAD"

	// KeyOldEncryptionKey is read by cmd/rekey only.
	KeyOldEncryptionKey = "OLD_ENCRYPTION_KEY"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv          = EnvProduction
	DefaultLogLevel        = "info"
	DefaultHTTPPort        = 8080
	DefaultQRBackground    = "bg.png"
	DefaultFlowIdleTimeout = 10 * time.Minute

	// Recommended database names by environment.
	DefaultMongoDBProd = "vietqr_bot"
	DefaultMongoDBDev  = "vietqr_bot_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyBotOwner,
		Example:     "123456789",
		Required:    true,
		Description: "Super admin Telegram user_id with owner privileges.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyEncryptionKey,
		Example:     "base64 of 32 random bytes",
		Required:    true,
		Description: "Symmetric key for account numbers and other sensitive fields at rest.",
		Notes:       "Changing it makes stored values undecryptable; run cmd/rekey to migrate.",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyQRBackground,
		Example:     DefaultQRBackground,
		Default:     DefaultQRBackground,
		Description: "Background PNG the QR panel is pasted onto.",
	},
	{
		Key:         KeyQRPanelX,
		Example:     "24",
		Description: "Horizontal offset of the QR panel; bottom-left placement when unset.",
	},
	{
		Key:         KeyQRPanelY,
		Example:     "400",
		Description: "Vertical offset of the QR panel; bottom-left placement when unset.",
	},
	{
		Key:         KeyQRSize,
		Example:     "320",
		Description: "QR bitmap edge in pixels; derived from the background when unset.",
	},
	{
		Key:         KeyFlowIdleTimeout,
		Example:     "10m",
		Default:     DefaultFlowIdleTimeout.String(),
		Description: "Inactivity window after which an unfinished conversation is discarded.",
	},
	{
		Key:         KeyDebugPayload,
		Example:     "false",
		Default:     "false",
		Description: "Echo the raw VietQR payload to owner/admin users after dispatch.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken   string
	BotOwnerID      int64
	MongoURI        string
	MongoDB         string
	AppEnv          string
	LogLevel        string
	HTTPPort        int
	EncryptionKey   string
	QRBackground    string
	QRPanelX        *int
	QRPanelY        *int
	QRSize          int
	FlowIdleTimeout time.Duration
	DebugPayload    bool
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:          firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:   strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		MongoURI:        strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:         strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:        firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:        DefaultHTTPPort,
		EncryptionKey:   strings.TrimSpace(os.Getenv(KeyEncryptionKey)),
		QRBackground:    firstNonEmpty(os.Getenv(KeyQRBackground), DefaultQRBackground),
		FlowIdleTimeout: DefaultFlowIdleTimeout,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	ownerRaw := strings.TrimSpace(os.Getenv(KeyBotOwner))
	if ownerRaw == "" {
		missing = append(missing, KeyBotOwner)
	} else {
		ownerID, parseErr := strconv.ParseInt(ownerRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyBotOwner, parseErr)
		}
		cfg.BotOwnerID = ownerID
	}

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if cfg.EncryptionKey == "" {
		missing = append(missing, KeyEncryptionKey)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if err := validateMongoURI(cfg.MongoURI); err != nil {
		return Config{}, err
	}

	if _, err := secret.DecodeKey(cfg.EncryptionKey); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyEncryptionKey, err)
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	if cfg.QRPanelX, err = optionalInt(KeyQRPanelX); err != nil {
		return Config{}, err
	}
	if cfg.QRPanelY, err = optionalInt(KeyQRPanelY); err != nil {
		return Config{}, err
	}

	size, err := optionalInt(KeyQRSize)
	if err != nil {
		return Config{}, err
	}
	if size != nil {
		if *size <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyQRSize)
		}
		cfg.QRSize = *size
	}

	if raw := strings.TrimSpace(os.Getenv(KeyFlowIdleTimeout)); raw != "" {
		timeout, parseErr := time.ParseDuration(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyFlowIdleTimeout, parseErr)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyFlowIdleTimeout)
		}
		cfg.FlowIdleTimeout = timeout
	}

	if raw := strings.TrimSpace(os.Getenv(KeyDebugPayload)); raw != "" {
		debug, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyDebugPayload, parseErr)
		}
		cfg.DebugPayload = debug
	}

	return cfg, nil
}

// LoadOldEncryptionKey returns the key stored data is currently encrypted
// with, for migrating to ENCRYPTION_KEY. Call it after Load so dotenv values
// are visible.
func LoadOldEncryptionKey() (string, error) {
	key := strings.TrimSpace(os.Getenv(KeyOldEncryptionKey))
	if key == "" {
		return "", fmt.Errorf("missing required environment variable(s): %s", KeyOldEncryptionKey)
	}
	if _, err := secret.DecodeKey(key); err != nil {
		return "", fmt.Errorf("invalid %s: %w", KeyOldEncryptionKey, err)
	}
	return key, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the configuration with secrets masked, suitable for
// printing at startup.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"telegram_token: " + maskSecret(cfg.TelegramToken),
		"bot_owner: " + strconv.FormatInt(cfg.BotOwnerID, 10),
		"mongo_uri: " + redactURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"encryption_key: " + maskAll(cfg.EncryptionKey),
		"qr_background: " + cfg.QRBackground,
		"qr_panel_x: " + formatOptionalInt(cfg.QRPanelX),
		"qr_panel_y: " + formatOptionalInt(cfg.QRPanelY),
		"qr_size: " + formatOptionalInt(positiveOrNil(cfg.QRSize)),
		"flow_idle_timeout: " + cfg.FlowIdleTimeout.String(),
		"debug_payload: " + strconv.FormatBool(cfg.DebugPayload),
	}

	return strings.Join(lines, "\n")
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func validateMongoURI(raw string) error {
	if !strings.HasPrefix(raw, "mongodb://") && !strings.HasPrefix(raw, "mongodb+srv://") {
		return fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}
	if _, err := url.Parse(raw); err != nil {
		return fmt.Errorf("invalid %s: %w", KeyMongoURI, err)
	}
	return nil
}

func optionalInt(key string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &value, nil
}

func positiveOrNil(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

func formatOptionalInt(v *int) string {
	if v == nil {
		return "auto"
	}
	return strconv.Itoa(*v)
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "...redacted"
	}
	return value[:4] + "...redacted"
}

func maskAll(value string) string {
	if value == "" {
		return ""
	}
	return "redacted"
}

func redactURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
