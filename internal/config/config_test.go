package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pemEncodeKey(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VNQUANT_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, time.Second, cfg.FlushInterval)
	assert.Equal(t, 2*time.Second, cfg.SyncInterval)
	assert.Equal(t, filepath.Join(cfg.DataDir, "trading.db"), cfg.TradingDBPath)
	assert.Equal(t, filepath.Join(cfg.DataDir, "market.db"), cfg.MarketDBPath)
	assert.Equal(t, 20.0, cfg.GeneralTier.PerSecond)
	assert.Equal(t, "*/15 9-14 * * MON-FRI", cfg.Cron.Pipeline)
	assert.Nil(t, cfg.SSI.PrivateKey)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("VNQUANT_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("WATCH_SYMBOLS", "FPT, HPG,VNM")
	t.Setenv("CORS_ORIGINS", "https://ops.example.com")
	t.Setenv("FLUSH_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, []string{"FPT", "HPG", "VNM"}, cfg.Symbols)
	assert.Equal(t, []string{"https://ops.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
}

func TestLoadPrivateKeyFromBase64(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	t.Setenv("VNQUANT_DATA_DIR", t.TempDir())
	t.Setenv("SSI_PRIVATE_KEY_BASE64", base64.StdEncoding.EncodeToString(pemEncodeKey(t, key)))

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.SSI.PrivateKey)
	assert.Equal(t, key.N, cfg.SSI.PrivateKey.N)
}

func TestLoadPrivateKeyFromFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ssi.pem")
	require.NoError(t, os.WriteFile(path, pemEncodeKey(t, key), 0o600))

	t.Setenv("VNQUANT_DATA_DIR", t.TempDir())
	t.Setenv("SSI_PRIVATE_KEY_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.SSI.PrivateKey)
}

func TestLoadRejectsWorldReadableKeyFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ssi.pem")
	require.NoError(t, os.WriteFile(path, pemEncodeKey(t, key), 0o644))

	t.Setenv("VNQUANT_DATA_DIR", t.TempDir())
	t.Setenv("SSI_PRIVATE_KEY_PATH", path)

	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestParsePrivateKeyRejectsShortKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	_, err = ParsePrivateKeyPEM(pemEncodeKey(t, key))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum")
}

func TestParsePrivateKeyRejectsGarbage(t *testing.T) {
	_, err := ParsePrivateKeyPEM([]byte("not a pem block"))
	assert.Error(t, err)
}

func TestParsePrivateKeyPKCS8(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	raw := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := ParsePrivateKeyPEM(raw)
	require.NoError(t, err)
	assert.Equal(t, key.N, parsed.N)
}

func TestValidateDryRunSkipsCredentialChecks(t *testing.T) {
	cfg := &Config{DryRun: true}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresCredentialsForLiveTrading(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg.SSI.ConsumerID = "cid"
	cfg.SSI.ConsumerSecret = "secret"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")

	key, genErr := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, genErr)
	cfg.SSI.PrivateKey = key
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSI_ACCOUNT_ID")

	cfg.SSI.AccountID = "0001234567"
	assert.NoError(t, cfg.Validate())
}
