package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-relay/wallet-relay/internal/app"
	"github.com/wallet-relay/wallet-relay/internal/auth"
	"github.com/wallet-relay/wallet-relay/internal/config"
	"github.com/wallet-relay/wallet-relay/internal/middleware"
	"github.com/wallet-relay/wallet-relay/internal/risk"
	"github.com/wallet-relay/wallet-relay/internal/storage"
	"github.com/wallet-relay/wallet-relay/pkg/types"
)

const testDAppOrigin = "https://app.uniswap.org"

type apiFixture struct {
	handler http.Handler
	tokens  *auth.TokenIssuer
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := &config.Config{
		Port:                   0,
		StorageBackend:         config.BackendMemory,
		AuthSecret:             "test-auth-secret",
		CustodyMasterSecret:    "test-master-secret",
		RequestTTL:             10 * time.Minute,
		AutoApproveRiskCeiling: 40,
	}

	store := storage.NewMemory()
	tokens := auth.NewTokenIssuer(cfg.AuthSecret)
	custody := app.NewCustodyService(store, app.NewHMACSecretProvider(cfg.CustodyMasterSecret))
	conns := app.NewConnectionService(store, tokens)
	relay := app.NewRelayService(store, conns, custody, risk.NewAssessor(store.Relay), cfg.RequestTTL, cfg.AutoApproveRiskCeiling)

	server := NewServer(cfg, custody, conns, relay,
		middleware.NewAuthMiddleware(tokens),
		middleware.NewRateLimiter(0, 0, false))

	return &apiFixture{handler: server.Handler(), tokens: tokens}
}

func (f *apiFixture) ownerToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := f.tokens.Issue(userID, "", time.Hour)
	require.NoError(t, err)
	return token
}

// do executes one request against the in-process handler and decodes the
// JSON response into out when it is non-nil.
func (f *apiFixture) do(t *testing.T, method, path, token string, body, out interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 400 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func (f *apiFixture) createWallet(t *testing.T, userID string) *WalletResponse {
	t.Helper()
	var wallet WalletResponse
	rec := f.do(t, http.MethodPost, "/wallets", f.ownerToken(t, userID), nil, &wallet, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return &wallet
}

func (f *apiFixture) connect(t *testing.T, userID string, wallet *WalletResponse, perms types.Permissions) *app.ConnectResult {
	t.Helper()

	body := ConnectRequestBody{}
	body.ConnectionData.WalletID = wallet.ID
	body.ConnectionData.DApp = types.DAppInfo{Name: "Uniswap", Domain: "app.uniswap.org"}
	body.ConnectionData.Permissions = perms

	var result app.ConnectResult
	rec := f.do(t, http.MethodPost, "/relay/connections", f.ownerToken(t, userID), body, &result, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return &result
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWalletEndpointsRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/wallets", "", nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/wallets", "forged.token", nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWalletCreateAndFetch(t *testing.T) {
	f := newAPIFixture(t)

	wallet := f.createWallet(t, "user-1")
	assert.NotEmpty(t, wallet.Address)
	assert.Equal(t, types.WalletStatusActive, wallet.Status)

	// Idempotent: the second create returns the same wallet.
	var second WalletResponse
	rec := f.do(t, http.MethodPost, "/wallets", f.ownerToken(t, "user-1"), nil, &second, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, wallet.ID, second.ID)

	var fetched WalletResponse
	rec = f.do(t, http.MethodGet, "/wallets", f.ownerToken(t, "user-1"), nil, &fetched, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, wallet.ID, fetched.ID)

	// The raw response never leaks encrypted key material.
	assert.NotContains(t, rec.Body.String(), "encryptedPrivateKey")
	assert.NotContains(t, rec.Body.String(), "encryptedMnemonic")
}

func TestGetWalletBeforeCreateIs404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/wallets", f.ownerToken(t, "no-wallet-yet"), nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestConnectEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	wallet := f.createWallet(t, "user-1")

	result := f.connect(t, "user-1", wallet, types.Permissions{RequestSignature: true})
	assert.True(t, result.IsNew)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.Connection.ConnectionKey)

	// Reconnect to the same domain: 200, same connection.
	body := ConnectRequestBody{}
	body.ConnectionData.WalletID = wallet.ID
	body.ConnectionData.DApp = types.DAppInfo{Name: "Uniswap", Domain: "app.uniswap.org"}
	body.ConnectionData.Permissions = types.Permissions{RequestSignature: true}

	var again app.ConnectResult
	rec := f.do(t, http.MethodPost, "/relay/connections", f.ownerToken(t, "user-1"), body, &again, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, again.IsNew)
	assert.Equal(t, result.Connection.ID, again.Connection.ID)
}

func TestRelayEndToEnd(t *testing.T) {
	f := newAPIFixture(t)
	wallet := f.createWallet(t, "user-1")
	conn := f.connect(t, "user-1", wallet, types.Permissions{RequestSignature: true})

	dappHeaders := map[string]string{"Origin": testDAppOrigin}

	// DApp submits a signing request.
	var created CreateTransactionResponse
	rec := f.do(t, http.MethodPost, "/relay/dapp/transactions", "", CreateTransactionBody{
		ConnectionKey: conn.Connection.ConnectionKey,
		RequestType:   types.RequestTypeSignMessage,
		RequestData:   types.RequestData{Message: "hello"},
	}, &created, dappHeaders)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, types.StatusPending, created.Status)
	assert.False(t, created.AutoApproved)
	assert.False(t, created.ExpiresAt.IsZero())

	txPath := fmt.Sprintf("/relay/transactions/%s", created.TransactionID)
	dappPath := fmt.Sprintf("/relay/dapp/transactions/%s", created.TransactionID)

	// Owner inspects the full transaction.
	var full types.RelayTransaction
	rec = f.do(t, http.MethodGet, txPath, f.ownerToken(t, "user-1"), nil, &full, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.TransactionID, full.ID)

	// A stranger cannot.
	rec = f.do(t, http.MethodGet, txPath, f.ownerToken(t, "intruder"), nil, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Owner approves.
	var approved RespondResponse
	rec = f.do(t, http.MethodPost, txPath+"/approve", f.ownerToken(t, "user-1"), nil, &approved, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.StatusApproved, approved.Status)
	assert.NotEmpty(t, approved.Signature)

	// DApp polls and sees the signature.
	var polled StatusResponse
	rec = f.do(t, http.MethodGet, dappPath+"/status?connectionKey="+conn.Connection.ConnectionKey, "", nil, &polled, dappHeaders)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.StatusApproved, polled.Status)
	assert.Equal(t, approved.Signature, polled.Signature)

	// DApp reports completion.
	var completed StatusResponse
	rec = f.do(t, http.MethodPost, dappPath+"/complete", "", CompleteBody{
		ConnectionKey: conn.Connection.ConnectionKey,
		TxHash:        "0xdeadbeef",
		BlockNumber:   19000000,
	}, &completed, dappHeaders)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.StatusCompleted, completed.Status)
}

func TestRejectEndpointReportsReason(t *testing.T) {
	f := newAPIFixture(t)
	wallet := f.createWallet(t, "user-1")
	conn := f.connect(t, "user-1", wallet, types.Permissions{RequestSignature: true})
	dappHeaders := map[string]string{"Origin": testDAppOrigin}

	var created CreateTransactionResponse
	rec := f.do(t, http.MethodPost, "/relay/dapp/transactions", "", CreateTransactionBody{
		ConnectionKey: conn.Connection.ConnectionKey,
		RequestType:   types.RequestTypeSignMessage,
		RequestData:   types.RequestData{Message: "hello"},
	}, &created, dappHeaders)
	require.Equal(t, http.StatusCreated, rec.Code)

	txPath := fmt.Sprintf("/relay/transactions/%s", created.TransactionID)

	var rejected RespondResponse
	rec = f.do(t, http.MethodPost, txPath+"/reject", f.ownerToken(t, "user-1"),
		RejectRequestBody{Reason: "untrusted dapp"}, &rejected, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.StatusRejected, rejected.Status)
	assert.Equal(t, "untrusted dapp", rejected.Error)

	// The DApp poll reports the rejection as data with a 200, never a 5xx.
	var polled StatusResponse
	rec = f.do(t, http.MethodGet,
		fmt.Sprintf("/relay/dapp/transactions/%s/status?connectionKey=%s", created.TransactionID, conn.Connection.ConnectionKey),
		"", nil, &polled, dappHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.StatusRejected, polled.Status)
	assert.Equal(t, "untrusted dapp", polled.Error)
}

func TestDAppOriginEnforced(t *testing.T) {
	f := newAPIFixture(t)
	wallet := f.createWallet(t, "user-1")
	conn := f.connect(t, "user-1", wallet, types.Permissions{RequestSignature: true})

	rec := f.do(t, http.MethodPost, "/relay/dapp/transactions", "", CreateTransactionBody{
		ConnectionKey: conn.Connection.ConnectionKey,
		RequestType:   types.RequestTypeSignMessage,
		RequestData:   types.RequestData{Message: "hello"},
	}, nil, map[string]string{"Origin": "https://phisher.example.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "domain_mismatch")
}

func TestRevokeConnectionEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	wallet := f.createWallet(t, "user-1")
	conn := f.connect(t, "user-1", wallet, types.Permissions{RequestSignature: true})
	dappHeaders := map[string]string{"Origin": testDAppOrigin}

	rec := f.do(t, http.MethodPost,
		fmt.Sprintf("/relay/connections/%s/revoke", conn.Connection.ID),
		f.ownerToken(t, "user-1"), nil, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The key no longer works.
	rec = f.do(t, http.MethodPost, "/relay/dapp/transactions", "", CreateTransactionBody{
		ConnectionKey: conn.Connection.ConnectionKey,
		RequestType:   types.RequestTypeSignMessage,
		RequestData:   types.RequestData{Message: "hello"},
	}, nil, dappHeaders)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "revoked")
}

func TestUnknownTransactionIs404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet,
		"/relay/transactions/00000000-0000-0000-0000-000000000001",
		f.ownerToken(t, "user-1"), nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/relay/transactions/not-a-uuid", f.ownerToken(t, "user-1"), nil, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
