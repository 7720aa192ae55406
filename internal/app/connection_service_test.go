package app

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-relay/wallet-relay/internal/auth"
	"github.com/wallet-relay/wallet-relay/internal/storage"
	apperrors "github.com/wallet-relay/wallet-relay/pkg/errors"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

func newTestConnectionService(t *testing.T) (*ConnectionService, *CustodyService, *storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	custody := NewCustodyService(store, NewHMACSecretProvider("test-master-secret"))
	conns := NewConnectionService(store, auth.NewTokenIssuer("test-auth-secret"))
	return conns, custody, store
}

func testDApp() types.DAppInfo {
	return types.DAppInfo{Name: "Uniswap", Domain: "app.uniswap.org"}
}

func testPermissions() types.Permissions {
	return types.Permissions{
		ReadAddress:      true,
		RequestSignature: true,
	}
}

func connectTestWallet(t *testing.T, conns *ConnectionService, custody *CustodyService, userID string) *ConnectResult {
	t.Helper()
	ctx := context.Background()

	wallet, err := custody.CreateWalletForUser(ctx, userID)
	require.NoError(t, err)

	result, err := conns.Connect(ctx, &ConnectRequest{
		UserID:      userID,
		WalletID:    wallet.ID,
		DApp:        testDApp(),
		Permissions: testPermissions(),
	})
	require.NoError(t, err)
	return result
}

func TestConnectCreatesConnection(t *testing.T) {
	conns, custody, _ := newTestConnectionService(t)

	result := connectTestWallet(t, conns, custody, "user-1")

	assert.True(t, result.IsNew)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.Connection.ConnectionKey)
	assert.Equal(t, types.ConnectionStatusActive, result.Connection.Status)
	assert.Equal(t, "app.uniswap.org", result.Connection.DApp.Domain)
}

func TestConnectUpsertsByDomain(t *testing.T) {
	conns, custody, _ := newTestConnectionService(t)
	ctx := context.Background()

	first := connectTestWallet(t, conns, custody, "user-1")

	// Reconnecting to the same domain updates the grant in place.
	perms := testPermissions()
	perms.AutoSign = true
	perms.AutoSignMaxAmount = 1.0

	second, err := conns.Connect(ctx, &ConnectRequest{
		UserID:      "user-1",
		WalletID:    first.Connection.WalletID,
		DApp:        testDApp(),
		Permissions: perms,
	})
	require.NoError(t, err)

	assert.False(t, second.IsNew)
	assert.Equal(t, first.Connection.ID, second.Connection.ID)
	assert.Equal(t, first.Connection.ConnectionKey, second.Connection.ConnectionKey)
	assert.True(t, second.Connection.Permissions.AutoSign)
}

func TestConnectWalletOwnership(t *testing.T) {
	conns, custody, _ := newTestConnectionService(t)
	ctx := context.Background()

	wallet, err := custody.CreateWalletForUser(ctx, "user-1")
	require.NoError(t, err)

	_, err = conns.Connect(ctx, &ConnectRequest{
		UserID:      "intruder",
		WalletID:    wallet.ID,
		DApp:        testDApp(),
		Permissions: testPermissions(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeOwnership))
}

func TestConnectUnknownWallet(t *testing.T) {
	conns, _, _ := newTestConnectionService(t)

	_, err := conns.Connect(context.Background(), &ConnectRequest{
		UserID:      "user-1",
		WalletID:    uuid.New(),
		DApp:        testDApp(),
		Permissions: testPermissions(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
}

func TestResolve(t *testing.T) {
	conns, custody, _ := newTestConnectionService(t)
	ctx := context.Background()
	result := connectTestWallet(t, conns, custody, "user-1")
	key := result.Connection.ConnectionKey

	tests := []struct {
		name     string
		key      string
		origin   string
		wantCode string
	}{
		{"origin with scheme", key, "https://app.uniswap.org", ""},
		{"origin with port", key, "https://app.uniswap.org:443", ""},
		{"referer style with path", key, "https://app.uniswap.org/swap", ""},
		{"case insensitive host", key, "https://APP.UNISWAP.ORG", ""},
		{"bare host", key, "app.uniswap.org", ""},
		{"wrong domain", key, "https://evil.example.com", apperrors.ErrCodeDomainMismatch},
		{"subdomain is not the domain", key, "https://app.uniswap.org.evil.com", apperrors.ErrCodeDomainMismatch},
		{"empty origin", key, "", apperrors.ErrCodeDomainMismatch},
		{"unknown key", "deadbeef", "https://app.uniswap.org", apperrors.ErrCodeNotFound},
		{"empty key", "", "https://app.uniswap.org", apperrors.ErrCodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := conns.Resolve(ctx, tt.key, tt.origin)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Equal(t, result.Connection.ID, conn.ID)
			} else {
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, tt.wantCode), "want %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestRevokeBlocksResolve(t *testing.T) {
	conns, custody, _ := newTestConnectionService(t)
	ctx := context.Background()
	result := connectTestWallet(t, conns, custody, "user-1")

	require.NoError(t, conns.Revoke(ctx, result.Connection.ID, "user-1"))

	_, err := conns.Resolve(ctx, result.Connection.ConnectionKey, "https://app.uniswap.org")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeRevoked))

	// Revoking again is a no-op.
	require.NoError(t, conns.Revoke(ctx, result.Connection.ID, "user-1"))
}

func TestRevokeOwnership(t *testing.T) {
	conns, custody, _ := newTestConnectionService(t)
	result := connectTestWallet(t, conns, custody, "user-1")

	err := conns.Revoke(context.Background(), result.Connection.ID, "intruder")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeOwnership))
}

func TestRevokeCascadesToPending(t *testing.T) {
	conns, custody, store := newTestConnectionService(t)
	ctx := context.Background()
	result := connectTestWallet(t, conns, custody, "user-1")

	pending := &types.RelayTransaction{
		ID:           uuid.New(),
		ConnectionID: result.Connection.ID,
		UserID:       "user-1",
		WalletID:     result.Connection.WalletID,
		RequestType:  types.RequestTypeSignMessage,
		Status:       types.StatusPending,
	}
	require.NoError(t, store.Relay.Create(ctx, pending))

	approved := &types.RelayTransaction{
		ID:           uuid.New(),
		ConnectionID: result.Connection.ID,
		UserID:       "user-1",
		WalletID:     result.Connection.WalletID,
		RequestType:  types.RequestTypeSignMessage,
		Status:       types.StatusApproved,
	}
	require.NoError(t, store.Relay.Create(ctx, approved))

	require.NoError(t, conns.Revoke(ctx, result.Connection.ID, "user-1"))

	swept, err := store.Relay.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, swept.Status)
	assert.Equal(t, "connection revoked", swept.Error)

	untouched, err := store.Relay.GetByID(ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusApproved, untouched.Status)
}

func TestListConnections(t *testing.T) {
	conns, custody, _ := newTestConnectionService(t)
	ctx := context.Background()
	connectTestWallet(t, conns, custody, "user-1")

	list, err := conns.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	empty, err := conns.List(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
