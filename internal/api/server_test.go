package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/orderless/internal/account"
	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/node"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/config"
	"github.com/cmatc13/orderless/pkg/errors"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorBody      `json:"error"`
}

type testServer struct {
	*httptest.Server
	node *node.Embedded
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Node.PollInterval = 5 * time.Millisecond
	cfg.Node.BlockInterval = 10 * time.Millisecond
	cfg.Node.WaitTimeout = 5 * time.Second
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	n, err := node.StartEmbedded(context.Background(), cfg, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(cfg, n.Node, nil, nil, nil).Handler())
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, n.Close())
	})
	return &testServer{Server: srv, node: n}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body []byte, header ...string) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func (s *testServer) get(t *testing.T, path string) (int, envelope) {
	return s.do(t, http.MethodGet, path, "", nil)
}

func (s *testServer) fund(t *testing.T, addr types.AccountAddress, amount uint64) {
	t.Helper()
	body, err := json.Marshal(FundRequest{Address: addr, Amount: amount})
	require.NoError(t, err)
	status, env := s.do(t, http.MethodPost, "/fund", ContentTypeJSON, body)
	require.Equal(t, http.StatusOK, status, env.Error)
}

func signed(t *testing.T, sender *account.Account, payload types.Payload, nonce uint64) *transaction.SignedTransaction {
	t.Helper()
	raw, err := transaction.NewRawTransaction(sender.Address(), payload, nonce,
		transaction.WithExpiresAt(time.Now().Add(30*time.Second)))
	require.NoError(t, err)
	tx, err := transaction.Sign(raw, sender)
	require.NoError(t, err)
	return tx
}

func asJSON(t *testing.T, tx *transaction.SignedTransaction) []byte {
	t.Helper()
	body, err := tx.ToJSON()
	require.NoError(t, err)
	return body
}

func newAccount(t *testing.T) *account.Account {
	t.Helper()
	acct, err := account.New()
	require.NoError(t, err)
	return acct
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func TestSubmitTransferAndReplay(t *testing.T) {
	srv := startServer(t, testConfig())
	sender := newAccount(t)
	recipient := newAccount(t).Address()
	srv.fund(t, sender.Address(), 100_000_000)

	body := asJSON(t, signed(t, sender, ledger.TransferPayload(recipient, 1_000_000), 12345))
	status, env := srv.do(t, http.MethodPost, "/v1/transactions?wait=true", ContentTypeJSON, body)
	require.Equal(t, http.StatusOK, status, env.Error)
	var res node.SubmitResult
	decode(t, env, &res)
	assert.Equal(t, types.OutcomeExecuted, res.Outcome)
	assert.NotZero(t, res.BlockHeight)

	status, env = srv.do(t, http.MethodPost, "/v1/transactions?wait=true", ContentTypeJSON, body)
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.TransactionDomain, env.Error.Domain)
	assert.Equal(t, errors.TransactionErrDuplicateNonce, env.Error.Code)

	status, env = srv.get(t, "/v1/accounts/"+recipient.String()+"/balance")
	require.Equal(t, http.StatusOK, status)
	var bal BalanceResponse
	decode(t, env, &bal)
	assert.Equal(t, uint64(1_000_000), bal.Balance)
	assert.Equal(t, string(ledger.NativeCoin), bal.Coin)

	status, env = srv.get(t, "/v1/transactions/by_hash/"+res.Hash.String())
	require.Equal(t, http.StatusOK, status)
	var rec transaction.Record
	decode(t, env, &rec)
	assert.Equal(t, res.Hash, rec.Hash)
	assert.Equal(t, uint64(12345), rec.Transaction.Raw.Nonce)

	status, env = srv.get(t, "/v1/accounts/"+sender.Address().String()+"/transactions?limit=10")
	require.Equal(t, http.StatusOK, status)
	var records []*transaction.Record
	decode(t, env, &records)
	require.Len(t, records, 1)
	assert.Equal(t, res.Hash, records[0].Hash)
}

func TestSubmitWithoutWaitThenWait(t *testing.T) {
	srv := startServer(t, testConfig())
	sender := newAccount(t)

	script := &types.Script{Code: types.ScriptHeader(6)}
	status, env := srv.do(t, http.MethodPost, "/v1/transactions", ContentTypeJSON, asJSON(t, signed(t, sender, script, 999999)))
	require.Equal(t, http.StatusAccepted, status, env.Error)
	var res node.SubmitResult
	decode(t, env, &res)
	assert.Equal(t, types.OutcomePending, res.Outcome)

	status, env = srv.get(t, "/v1/transactions/wait_by_hash/"+res.Hash.String())
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	var rec transaction.Record
	decode(t, env, &rec)
	assert.Equal(t, types.OutcomeExecuted, rec.Outcome)
	assert.NotZero(t, rec.BlockHeight)
}

func TestWaitTimeoutCarriesNoHash(t *testing.T) {
	cfg := testConfig()
	cfg.Node.BlockInterval = time.Hour
	cfg.Node.WaitTimeout = 50 * time.Millisecond
	srv := startServer(t, cfg)
	sender := newAccount(t)

	body := asJSON(t, signed(t, sender, &types.Script{Code: types.ScriptHeader(6)}, 3))
	status, env := srv.do(t, http.MethodPost, "/v1/transactions?wait=true", ContentTypeJSON, body)
	assert.Equal(t, http.StatusGatewayTimeout, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.TransactionErrWaitTimeout, env.Error.Code)
	assert.Empty(t, env.Data)

	// Accepted, but no block holds it yet.
	records, err := srv.node.AccountTransactions(context.Background(), sender.Address(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	status, env = srv.get(t, "/v1/transactions/wait_by_hash/"+records[0].Hash.String())
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Empty(t, env.Data)
}

func TestSubmitCBOR(t *testing.T) {
	srv := startServer(t, testConfig())
	sender := newAccount(t)
	srv.fund(t, sender.Address(), 500)

	tx := signed(t, sender, ledger.TransferPayload(newAccount(t).Address(), 10), 42)
	body, err := tx.Encode()
	require.NoError(t, err)

	status, env := srv.do(t, http.MethodPost, "/v1/transactions?wait=1", ContentTypeCBOR, body)
	require.Equal(t, http.StatusOK, status, env.Error)
}

func TestCommittedFailureCarriesResult(t *testing.T) {
	srv := startServer(t, testConfig())
	sender := newAccount(t)
	srv.fund(t, sender.Address(), 10)

	body := asJSON(t, signed(t, sender, ledger.TransferPayload(newAccount(t).Address(), 1_000), 1))
	status, env := srv.do(t, http.MethodPost, "/v1/transactions?wait=true", ContentTypeJSON, body)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.TransactionErrInsufficientBalance, env.Error.Code)

	var res node.SubmitResult
	decode(t, env, &res)
	assert.Equal(t, types.OutcomeInsufficientBalance, res.Outcome)
	assert.False(t, res.Hash.IsZero())
}

func TestRejectsBadRequests(t *testing.T) {
	srv := startServer(t, testConfig())
	sender := newAccount(t)
	body := asJSON(t, signed(t, sender, &types.Script{Code: types.ScriptHeader(6)}, 7))

	cases := map[string]struct {
		method, path, contentType string
		body                      []byte
		status                    int
		code                      string
	}{
		"wrong content type": {http.MethodPost, "/v1/transactions", "text/plain", body, http.StatusBadRequest, errors.APIErrBadRequest},
		"empty body":         {http.MethodPost, "/v1/transactions", ContentTypeJSON, nil, http.StatusBadRequest, errors.APIErrBadRequest},
		"garbage body":       {http.MethodPost, "/v1/transactions", ContentTypeJSON, []byte("{"), http.StatusBadRequest, errors.TransactionErrSerialization},
		"bad wait flag":      {http.MethodPost, "/v1/transactions?wait=maybe", ContentTypeJSON, body, http.StatusBadRequest, errors.APIErrBadRequest},
		"bad hash":           {http.MethodGet, "/v1/transactions/by_hash/0xzz", "", nil, http.StatusBadRequest, errors.APIErrBadRequest},
		"unknown hash":       {http.MethodGet, "/v1/transactions/by_hash/" + types.HashOf("t", []byte("x")).String(), "", nil, http.StatusNotFound, errors.TransactionErrNotFound},
		"bad address":        {http.MethodGet, "/v1/accounts/nope/balance", "", nil, http.StatusBadRequest, errors.APIErrBadRequest},
		"bad limit":          {http.MethodGet, "/v1/accounts/0x1/transactions?limit=-3", "", nil, http.StatusBadRequest, errors.APIErrBadRequest},
		"bad height":         {http.MethodGet, "/v1/blocks/by_height/x", "", nil, http.StatusBadRequest, errors.APIErrBadRequest},
		"no route":           {http.MethodGet, "/v2/anything", "", nil, http.StatusNotFound, errors.APIErrNotFound},
		"fund zero":          {http.MethodPost, "/fund?address=" + sender.Address().String() + "&amount=0", "", nil, http.StatusBadRequest, errors.TransactionErrInvalidAmount},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			status, env := srv.do(t, tc.method, tc.path, tc.contentType, tc.body)
			assert.Equal(t, tc.status, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
			assert.False(t, env.Success)
		})
	}

	// None of the rejected submissions reserved nonce 7.
	status, env := srv.do(t, http.MethodPost, "/v1/transactions?wait=true", ContentTypeJSON, body)
	assert.Equal(t, http.StatusOK, status, env.Error)
}

func TestFundByQuery(t *testing.T) {
	srv := startServer(t, testConfig())
	addr := newAccount(t).Address()

	status, env := srv.do(t, http.MethodPost, "/fund?address="+addr.String()+"&amount=250", "", nil)
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = srv.get(t, "/v1/accounts/"+addr.String()+"/balance")
	require.Equal(t, http.StatusOK, status)
	var bal BalanceResponse
	decode(t, env, &bal)
	assert.Equal(t, uint64(250), bal.Balance)
}

func TestFaucetDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Faucet.Enabled = false
	srv := startServer(t, cfg)

	status, env := srv.do(t, http.MethodPost, "/fund?address=0xabc&amount=1", "", nil)
	assert.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.APIErrFaucetDisabled, env.Error.Code)
}

func TestSubmitRequiresTokenWhenAuthEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "test-secret"
	srv := startServer(t, cfg)
	body := asJSON(t, signed(t, newAccount(t), &types.Script{Code: types.ScriptHeader(6)}, 1))

	status, env := srv.do(t, http.MethodPost, "/v1/transactions", ContentTypeJSON, body)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, errors.APIErrUnauthorized, env.Error.Code)

	expired := mintToken(t, cfg.Auth.JWTSecret, -time.Minute)
	status, _ = srv.do(t, http.MethodPost, "/v1/transactions", ContentTypeJSON, body, "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, status)

	token := mintToken(t, cfg.Auth.JWTSecret, time.Minute)
	status, env = srv.do(t, http.MethodPost, "/v1/transactions", ContentTypeJSON, body, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusAccepted, status, env.Error)

	status, _ = srv.get(t, "/v1/")
	assert.Equal(t, http.StatusOK, status)
}

func mintToken(t *testing.T, secret string, ttl time.Duration) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Subject("tester").
		IssuedAt(time.Now().Add(-2 * time.Minute)).
		Expiration(time.Now().Add(ttl)).
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	require.NoError(t, err)
	return string(signed)
}

func TestInfoHealthAndMetrics(t *testing.T) {
	srv := startServer(t, testConfig())

	status, env := srv.get(t, "/v1/")
	require.Equal(t, http.StatusOK, status)
	var info node.Info
	decode(t, env, &info)
	assert.Equal(t, transaction.DefaultChainID, info.ChainID)
	assert.Equal(t, "full_node", info.NodeRole)

	status, env = srv.get(t, "/v1/-/healthy")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "orderless-node:ok", env.Message)

	status, env = srv.get(t, "/health")
	require.Equal(t, http.StatusOK, status)
	var health struct {
		Checks map[string]json.RawMessage `json:"checks"`
	}
	decode(t, env, &health)
	assert.Contains(t, health.Checks, "store")
	assert.Contains(t, health.Checks, "queue")

	status, env = srv.get(t, "/v1/blocks/by_height/999")
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotNil(t, env.Error)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "orderless_")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}
