package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cmatc13/orderless/internal/api"
	"github.com/cmatc13/orderless/internal/faucet"
	"github.com/cmatc13/orderless/internal/types"
)

// FundResult describes a completed faucet request.
type FundResult = faucet.FundResult

// FaucetClient asks a node's faucet to mint test coins.
type FaucetClient struct {
	baseURL string
	http    *http.Client
}

// NewFaucetClient creates a faucet client for the node at baseURL. The node
// client, when given, lends its HTTP client.
func NewFaucetClient(baseURL string, node *Client) *FaucetClient {
	h := &http.Client{Timeout: 30 * time.Second}
	if node != nil {
		h = node.http
	}
	return &FaucetClient{baseURL: strings.TrimSuffix(baseURL, "/"), http: h}
}

// FundAccount mints amount octas into addr, creating the account if unseen.
func (f *FaucetClient) FundAccount(ctx context.Context, addr types.AccountAddress, amount uint64) (*FundResult, error) {
	body, err := json.Marshal(api.FundRequest{Address: addr, Amount: amount})
	if err != nil {
		return nil, err
	}
	var res FundResult
	if _, err := roundTrip(ctx, f.http, http.MethodPost, f.baseURL+"/fund", "", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Close releases idle connections.
func (f *FaucetClient) Close() error {
	f.http.CloseIdleConnections()
	return nil
}
