// Package config loads application configuration from the
// environment, including the broker credential material.
package config

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinRSABits is the smallest accepted broker signing key. Shorter
// keys are rejected at startup rather than by the broker at runtime.
const MinRSABits = 2048

// SSIConfig holds broker connection settings and credentials.
type SSIConfig struct {
	BaseURL        string
	AuthURL        string
	WSURL          string
	AccountID      string
	ConsumerID     string
	ConsumerSecret string
	PrivateKey     *rsa.PrivateKey
}

// RateTier is one HTTP rate-limit tier.
type RateTier struct {
	PerSecond float64
	Burst     int
}

// BackupConfig holds object-storage backup settings.
type BackupConfig struct {
	Enabled         bool
	EndpointURL     string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	RetentionDays   int
}

// RiskConfig holds the initial account guardrails. Fractions of NAV.
type RiskConfig struct {
	MaxPositionPct      float64
	MaxConcentrationPct float64
	DailyLossLimitPct   float64
	KillSwitch          bool
}

// CronConfig holds the cron expression for each scheduled job. An
// empty expression disables the job.
type CronConfig struct {
	Pipeline string
	Prune    string
	Export   string
	Backup   string
}

// Config is the application configuration.
type Config struct {
	DataDir  string
	LogLevel string
	Port     int
	DryRun   bool

	TradingDBPath string
	MarketDBPath  string
	ParquetDir    string

	Symbols       []string
	FlushInterval time.Duration
	SyncInterval  time.Duration

	CORSOrigins []string
	GeneralTier RateTier
	TriggerTier RateTier

	SSI    SSIConfig
	Risk   RiskConfig
	Backup BackupConfig
	Cron   CronConfig
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("VNQUANT_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config: create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("PORT", 8080),
		DryRun:   getEnvAsBool("DRY_RUN", false),

		TradingDBPath: filepath.Join(absDataDir, "trading.db"),
		MarketDBPath:  filepath.Join(absDataDir, "market.db"),
		ParquetDir:    getEnv("PARQUET_DIR", filepath.Join(absDataDir, "parquet")),

		Symbols:       splitList(getEnv("WATCH_SYMBOLS", "")),
		FlushInterval: getEnvAsDuration("FLUSH_INTERVAL", time.Second),
		SyncInterval:  getEnvAsDuration("ORDER_SYNC_INTERVAL", 2*time.Second),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "")),
		GeneralTier: RateTier{
			PerSecond: getEnvAsFloat("RATE_GENERAL_PER_SEC", 20),
			Burst:     getEnvAsInt("RATE_GENERAL_BURST", 40),
		},
		TriggerTier: RateTier{
			PerSecond: getEnvAsFloat("RATE_TRIGGER_PER_SEC", 0.2),
			Burst:     getEnvAsInt("RATE_TRIGGER_BURST", 2),
		},

		SSI: SSIConfig{
			BaseURL:        getEnv("SSI_BASE_URL", "https://fc-tradeapi.ssi.com.vn"),
			AuthURL:        getEnv("SSI_AUTH_URL", "https://fc-tradeapi.ssi.com.vn/api/v2/Trading/AccessToken"),
			WSURL:          getEnv("SSI_WS_URL", "wss://fc-datahub.ssi.com.vn/market"),
			AccountID:      getEnv("SSI_ACCOUNT_ID", ""),
			ConsumerID:     getEnv("SSI_CONSUMER_ID", ""),
			ConsumerSecret: getEnv("SSI_CONSUMER_SECRET", ""),
		},
		Risk: RiskConfig{
			MaxPositionPct:      getEnvAsFloat("MAX_POSITION_PCT", 0.10),
			MaxConcentrationPct: getEnvAsFloat("MAX_CONCENTRATION_PCT", 0.30),
			DailyLossLimitPct:   getEnvAsFloat("DAILY_LOSS_LIMIT_PCT", 0.03),
			KillSwitch:          getEnvAsBool("KILL_SWITCH", false),
		},
		Backup: BackupConfig{
			Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
			EndpointURL:     getEnv("R2_ENDPOINT_URL", ""),
			Region:          getEnv("R2_REGION", "auto"),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("R2_BUCKET", ""),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
		Cron: CronConfig{
			Pipeline: getEnv("CRON_PIPELINE", "*/15 9-14 * * MON-FRI"),
			Prune:    getEnv("CRON_PRUNE", "0 */6 * * *"),
			Export:   getEnv("CRON_EXPORT", "30 15 * * MON-FRI"),
			Backup:   getEnv("CRON_BACKUP", "0 1 * * *"),
		},
	}

	key, err := loadPrivateKey()
	if err != nil {
		return nil, err
	}
	cfg.SSI.PrivateKey = key

	return cfg, nil
}

// Validate checks that live trading has the credentials it needs.
// Dry-run mode tolerates missing broker credentials.
func (c *Config) Validate() error {
	if c.DryRun {
		return nil
	}
	if c.SSI.ConsumerID == "" || c.SSI.ConsumerSecret == "" {
		return fmt.Errorf("config: SSI_CONSUMER_ID and SSI_CONSUMER_SECRET are required outside dry-run")
	}
	if c.SSI.PrivateKey == nil {
		return fmt.Errorf("config: SSI private key is required outside dry-run (SSI_PRIVATE_KEY_BASE64 or SSI_PRIVATE_KEY_PATH)")
	}
	if c.SSI.AccountID == "" {
		return fmt.Errorf("config: SSI_ACCOUNT_ID is required outside dry-run")
	}
	return nil
}

// loadPrivateKey reads the broker signing key from
// SSI_PRIVATE_KEY_BASE64 (base64-encoded PEM) or SSI_PRIVATE_KEY_PATH
// (PEM file, 0600 permissions enforced on POSIX). Neither being set
// yields a nil key.
func loadPrivateKey() (*rsa.PrivateKey, error) {
	if b64 := os.Getenv("SSI_PRIVATE_KEY_BASE64"); b64 != "" {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("config: decode SSI_PRIVATE_KEY_BASE64: %w", err)
		}
		return ParsePrivateKeyPEM(raw)
	}

	path := os.Getenv("SSI_PRIVATE_KEY_PATH")
	if path == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat private key file: %w", err)
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return nil, fmt.Errorf("config: private key file %s has permissions %04o, want 0600", path, perm)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read private key file: %w", err)
	}
	return ParsePrivateKeyPEM(raw)
}

// ParsePrivateKeyPEM parses a PKCS#1 or PKCS#8 RSA private key and
// enforces the minimum key size.
func ParsePrivateKeyPEM(raw []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("config: private key is not PEM encoded")
	}

	key, err := parseRSAKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	if bits := key.N.BitLen(); bits < MinRSABits {
		return nil, fmt.Errorf("config: private key is %d bits, minimum is %d", bits, MinRSABits)
	}
	return key, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("config: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("config: private key is %T, want RSA", parsed)
	}
	return key, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
