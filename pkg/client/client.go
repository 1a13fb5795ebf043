// Package client talks to an orderless node over HTTP. It builds and signs
// orderless transactions locally and submits them to the node's REST API.
//
//	c := client.New("http://localhost:8080", client.WithAPIKey(key))
//	defer c.Close()
//	res, err := c.SubmitOrderlessTransaction(ctx, sender, payload, nonce, client.WithWait(true))
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cmatc13/orderless/internal/account"
	"github.com/cmatc13/orderless/internal/api"
	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/node"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
)

// SubmitResult identifies a submitted transaction and, once committed, how it ended.
type SubmitResult = node.SubmitResult

// NodeInfo describes the node's chain state.
type NodeInfo = node.Info

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithChainID sets the chain id transactions are signed for.
func WithChainID(id uint8) Option {
	return func(c *Client) { c.chainID = id }
}

// Client is a REST client for one node.
type Client struct {
	baseURL string
	http    *http.Client
	apiKey  string
	chainID uint8
}

// New creates a client for the node at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
		chainID: transaction.DefaultChainID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases idle connections. The client must not be used afterwards.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type submitOptions struct {
	multisig   *types.AccountAddress
	wait       bool
	expiration time.Duration
}

// SubmitOption configures SubmitOrderlessTransaction.
type SubmitOption func(*submitOptions)

// WithMultisig submits the transaction as a vote on behalf of the multisig
// account at addr.
func WithMultisig(addr types.AccountAddress) SubmitOption {
	return func(o *submitOptions) { o.multisig = &addr }
}

// WithWait makes the call return only once the transaction committed.
func WithWait(wait bool) SubmitOption {
	return func(o *submitOptions) { o.wait = wait }
}

// WithExpiration sets how long from now the transaction stays valid.
func WithExpiration(d time.Duration) SubmitOption {
	return func(o *submitOptions) { o.expiration = d }
}

// SubmitOrderlessTransaction builds a transaction replay-protected by nonce,
// signs it with sender and submits it. Any nonce the sender has not used is
// valid, in any order. With WithWait(true), a transaction that committed but
// failed returns both the result and the error describing the failure.
func (c *Client) SubmitOrderlessTransaction(ctx context.Context, sender *account.Account, payload types.Payload, nonce uint64, opts ...SubmitOption) (*SubmitResult, error) {
	o := submitOptions{expiration: transaction.DefaultExpiration}
	for _, opt := range opts {
		opt(&o)
	}

	txOpts := []transaction.Option{
		transaction.WithChainID(c.chainID),
		transaction.WithExpiresAt(time.Now().Add(o.expiration)),
	}
	if o.multisig != nil {
		txOpts = append(txOpts, transaction.WithMultisig(*o.multisig))
	}
	raw, err := transaction.NewRawTransaction(sender.Address(), payload, nonce, txOpts...)
	if err != nil {
		return nil, err
	}
	signed, err := transaction.Sign(raw, sender)
	if err != nil {
		return nil, err
	}
	return c.SubmitTransaction(ctx, signed, o.wait)
}

// SubmitTransaction submits an already signed transaction. With wait set, a
// result is returned only for a transaction that reached a block.
func (c *Client) SubmitTransaction(ctx context.Context, tx *transaction.SignedTransaction, wait bool) (*SubmitResult, error) {
	body, err := tx.ToJSON()
	if err != nil {
		return nil, err
	}
	path := "/v1/transactions"
	if wait {
		path += "?wait=true"
	}

	var res SubmitResult
	found, err := c.do(ctx, http.MethodPost, path, body, &res)
	if !found || (wait && err != nil && !res.Outcome.Committed()) {
		return nil, err
	}
	return &res, err
}

// Transaction returns the node's record of hash.
func (c *Client) Transaction(ctx context.Context, hash types.HashValue) (*transaction.Record, error) {
	var rec transaction.Record
	if _, err := c.do(ctx, http.MethodGet, "/v1/transactions/by_hash/"+hash.String(), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// WaitForTransaction blocks until hash commits. A transaction that committed
// but failed returns its record and the error describing the failure.
func (c *Client) WaitForTransaction(ctx context.Context, hash types.HashValue) (*transaction.Record, error) {
	var rec transaction.Record
	if _, err := c.do(ctx, http.MethodGet, "/v1/transactions/wait_by_hash/"+hash.String(), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, rec.Err()
}

// AccountBalance returns the native coin balance of addr in octas. Unseen
// accounts hold zero.
func (c *Client) AccountBalance(ctx context.Context, addr types.AccountAddress) (uint64, error) {
	var res api.BalanceResponse
	if _, err := c.do(ctx, http.MethodGet, "/v1/accounts/"+addr.String()+"/balance", nil, &res); err != nil {
		return 0, err
	}
	return res.Balance, nil
}

// AccountTransactions returns up to limit transactions touching addr, newest first.
func (c *Client) AccountTransactions(ctx context.Context, addr types.AccountAddress, limit int) ([]*transaction.Record, error) {
	path := "/v1/accounts/" + addr.String() + "/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var records []*transaction.Record
	if _, err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Multisig returns the multisig account at addr.
func (c *Client) Multisig(ctx context.Context, addr types.AccountAddress) (*ledger.MultisigAccount, error) {
	var m ledger.MultisigAccount
	if _, err := c.do(ctx, http.MethodGet, "/v1/accounts/"+addr.String()+"/multisig", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Info returns the node's chain id, ledger version and block height.
func (c *Client) Info(ctx context.Context) (*NodeInfo, error) {
	var info NodeInfo
	if _, err := c.do(ctx, http.MethodGet, "/v1/", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Healthy reports whether the node can reach its store and queue.
func (c *Client) Healthy(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/v1/-/healthy", nil, nil)
	return err
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *api.ErrorBody  `json:"error"`
}

// do sends a request and decodes the response envelope's data into out. It
// reports whether data was present, which lets callers return partial results
// alongside an error.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) (bool, error) {
	return roundTrip(ctx, c.http, method, c.baseURL+path, c.apiKey, body, out)
}

func roundTrip(ctx context.Context, h *http.Client, method, url, apiKey string, body []byte, out interface{}) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return false, errors.APIWrapWithCode(err, errors.OpHandleRequest, errors.APIErrBadRequest, "failed to build request")
	}
	req.Header.Set("Accept", api.ContentTypeJSON)
	if body != nil {
		req.Header.Set("Content-Type", api.ContentTypeJSON)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := h.Do(req)
	if err != nil {
		return false, errors.APIWrapWithCode(err, errors.OpHandleRequest, errors.APIErrServiceUnavailable,
			method+" "+url+" failed")
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return false, errors.APIWrapWithCode(err, errors.OpDecodeResponse, errors.APIErrInternalServer,
			"unreadable response from "+url+" ("+resp.Status+")")
	}

	found := false
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return false, errors.APIWrapWithCode(err, errors.OpDecodeResponse, errors.APIErrInternalServer,
				"unexpected response data from "+url)
		}
		found = true
	}

	if env.Error != nil || resp.StatusCode >= http.StatusBadRequest {
		return found, remoteError(resp.StatusCode, env.Error)
	}
	return found, nil
}

// remoteError rebuilds the domain error the node reported, so callers can
// match it with the errors package predicates.
func remoteError(status int, body *api.ErrorBody) error {
	if body == nil {
		return errors.APIErrorf(errors.APIErrInternalServer, "node answered %d without an error body", status)
	}
	e := &errors.Error{
		Domain:    body.Domain,
		Code:      body.Code,
		Operation: body.Operation,
		Message:   body.Message,
		Fields:    map[string]interface{}{"status": status},
	}
	if body.Detail != "" {
		e.Fields["detail"] = body.Detail
	}
	return e
}
