package config

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
	"github.com/julienbonastre/fba-inbound-helpers/internal/spapi"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "A1VC38T7YXB528", cfg.SPAPI.MarketplaceID)
	assert.Equal(t, 3, cfg.SPAPI.MaxCreateRetries)
	assert.Equal(t, "納品中", cfg.Sheet.Labels.InTransit)
	require.NoError(t, cfg.Validate())

	cc, err := cfg.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cc.PollInterval)
	assert.Equal(t, 5*time.Minute, cc.PollTimeout)
	assert.Equal(t, "Asia/Tokyo", cc.Location.String())
	assert.Equal(t, time.Hour, cfg.WorkflowSettings().OptionCacheTTL)
}

func TestLoadFileAndSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fbainbound.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
spapi:
  max_create_retries: 5
  poll_interval: 2s
  source_address:
    name: Warehouse
    postal_code: "3460031"
sheet:
  default_prep_owner: SELLER
workflow:
  revalidate_options: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.SPAPI.MaxCreateRetries)
	assert.Equal(t, "Warehouse", cfg.SPAPI.SourceAddress.Name)
	assert.Equal(t, "sku", cfg.Sheet.SKUColumn, "unset keys keep defaults")
	assert.True(t, cfg.WorkflowSettings().RevalidateOptions)

	_, defaults := cfg.AggregatorColumns()
	assert.Equal(t, inbound.OwnerSeller, defaults.Prep)

	out := filepath.Join(t.TempDir(), "nested", "saved.yaml")
	require.NoError(t, cfg.Save(out))
	again, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, cfg.SPAPI, again.SPAPI)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("spapi: [unclosed"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SPAPI.PollInterval = "soon"
	cfg.Sheet.DefaultLabel = "ROBOT"
	cfg.SPAPI.MaxCreateRetries = 99
	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"PollInterval", "DefaultLabel", "MaxCreateRetries"} {
		assert.True(t, strings.Contains(err.Error(), field), field)
	}

	cfg = DefaultConfig()
	cfg.SPAPI.TimeZone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FBA_LWA_CLIENT_ID", "env-client")
	t.Setenv("FBA_LWA_CLIENT_SECRET", "env-secret")
	t.Setenv("FBA_LWA_REFRESH_TOKEN", "env-refresh")
	t.Setenv("FBA_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("FBA_SESSION_KEY", "session-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Database.Path)
	assert.Equal(t, "session-key", cfg.Server.SessionKey)

	creds, err := cfg.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "env-client", creds.ClientID)
	assert.Equal(t, "env-refresh", creds.RefreshToken)
}

func TestCredentialsMissing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LWA.ClientID = "client"
	_, err := cfg.Credentials()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lwa.client_secret")
	assert.Contains(t, err.Error(), "lwa.refresh_token")
}

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv(EncryptionKeyEnv, base64.StdEncoding.EncodeToString(key))
	return key
}

func TestEncryptedRefreshToken(t *testing.T) {
	key := testKey(t)
	sealed, err := EncryptString("Atzr|refresh", key)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "Atzr")

	cfg := DefaultConfig()
	cfg.LWA.ClientID = "client"
	cfg.LWA.ClientSecret = "secret"
	cfg.LWA.RefreshTokenEncrypted = sealed
	creds, err := cfg.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "Atzr|refresh", creds.RefreshToken)
}

func TestDecryptRejectsTampering(t *testing.T) {
	key := testKey(t)
	sealed, err := EncryptString("secret", key)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	_, err = DecryptString(base64.StdEncoding.EncodeToString(raw), key)
	assert.Error(t, err)

	_, err = DecryptString("AAAA", key)
	assert.Error(t, err)
	_, err = DecryptString(sealed, key[:16])
	assert.Error(t, err)
}

func TestGetEncryptionKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnv, "")
	_, err := GetEncryptionKey()
	assert.Error(t, err)

	t.Setenv(EncryptionKeyEnv, base64.StdEncoding.EncodeToString([]byte("short")))
	_, err = GetEncryptionKey()
	assert.Error(t, err)

	want := testKey(t)
	key, err := GetEncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, want, key)
}

func TestZeroCreateRetriesReachesClient(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"code":"InvalidInput","message":"ERROR: X requires prepOwner but NONE was assigned."}]}`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.SPAPI.Endpoint = server.URL
	cfg.SPAPI.MaxCreateRetries = 0
	require.NoError(t, cfg.Validate())

	clientCfg, err := cfg.ClientConfig()
	require.NoError(t, err)
	assert.Equal(t, 0, clientCfg.MaxCreateRetries)
	clientCfg.HTTPClient = server.Client()

	client := spapi.NewClient(clientCfg, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}), nil, nil)
	_, err = client.CreatePlanWithRetry(context.Background(), []inbound.LineItem{
		{SKU: "X", Quantity: 1, LabelOwner: inbound.OwnerSeller},
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
