package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/transaction"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
)

const (
	maxBodyBytes        = 1 << 20
	defaultAccountLimit = 25
	maxAccountLimit     = 100
)

// FundRequest asks the faucet to mint Amount octas into Address
type FundRequest struct {
	Address types.AccountAddress `json:"address"`
	Amount  uint64               `json:"amount,string"`
}

// BalanceResponse reports the native coin balance of an account
type BalanceResponse struct {
	Address types.AccountAddress `json:"address"`
	Coin    string               `json:"coin"`
	Balance uint64               `json:"balance,string"`
}

func badRequest(err error, message string) error {
	return errors.APIWrapWithCode(err, errors.OpParseRequestBody, errors.APIErrBadRequest, message)
}

func addressParam(r *http.Request) (types.AccountAddress, error) {
	addr, err := types.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		return types.AccountAddress{}, badRequest(err, "invalid account address")
	}
	return addr, nil
}

func hashParam(r *http.Request) (types.HashValue, error) {
	hash, err := types.ParseHash(chi.URLParam(r, "hash"))
	if err != nil {
		return types.HashValue{}, badRequest(err, "invalid transaction hash")
	}
	return hash, nil
}

// decodeTransaction reads a signed transaction in JSON or in its canonical
// CBOR encoding, chosen by the Content-Type header.
func decodeTransaction(r *http.Request) (*transaction.SignedTransaction, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, badRequest(err, "failed to read request body")
	}
	if len(body) > maxBodyBytes {
		return nil, errors.APIErrorf(errors.APIErrBadRequest, "request body exceeds %d bytes", maxBodyBytes)
	}
	if len(body) == 0 {
		return nil, errors.APIErrorf(errors.APIErrBadRequest, "request body is empty")
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == ContentTypeCBOR {
		return transaction.Decode(body)
	}
	return transaction.FromJSON(body)
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := decodeTransaction(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	wait := false
	if v := r.URL.Query().Get("wait"); v != "" {
		if wait, err = strconv.ParseBool(v); err != nil {
			s.renderError(w, r, badRequest(err, "invalid wait flag"))
			return
		}
	}

	res, err := s.node.Submit(r.Context(), tx, wait)
	switch {
	case err != nil && res != nil && (!wait || res.Outcome.Committed()):
		s.renderFailure(w, r, err, res)
	case err != nil:
		s.renderError(w, r, err)
	case wait:
		s.renderJSON(w, Response{Success: true, Message: "Transaction committed", Data: res}, http.StatusOK)
	default:
		s.renderJSON(w, Response{Success: true, Message: "Transaction accepted", Data: res}, http.StatusAccepted)
	}
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	rec, err := s.node.Transaction(r.Context(), hash)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderJSON(w, Response{Success: true, Data: rec}, http.StatusOK)
}

// handleWaitForTransaction holds the request until the transaction is in a
// block, or expired unexecuted. A final transaction is returned with 200
// whatever its outcome.
func (s *Server) handleWaitForTransaction(w http.ResponseWriter, r *http.Request) {
	hash, err := hashParam(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	rec, err := s.node.WaitForTransaction(r.Context(), hash)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderJSON(w, Response{Success: rec.Outcome.Success(), Data: rec}, http.StatusOK)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	balance, err := s.node.Balance(r.Context(), addr)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderJSON(w, Response{Success: true, Data: BalanceResponse{
		Address: addr,
		Coin:    string(ledger.NativeCoin),
		Balance: balance,
	}}, http.StatusOK)
}

func (s *Server) handleGetAccountTransactions(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	limit := defaultAccountLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			s.renderError(w, r, errors.APIErrorf(errors.APIErrBadRequest, "limit must be a positive integer, got %q", v))
			return
		}
	}
	if limit > maxAccountLimit {
		limit = maxAccountLimit
	}

	records, err := s.node.AccountTransactions(r.Context(), addr, limit)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if records == nil {
		records = []*transaction.Record{}
	}
	s.renderJSON(w, Response{Success: true, Data: records}, http.StatusOK)
}

func (s *Server) handleGetMultisig(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	account, err := s.node.Multisig(r.Context(), addr)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderJSON(w, Response{Success: true, Data: account}, http.StatusOK)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(chi.URLParam(r, "height"), 10, 64)
	if err != nil {
		s.renderError(w, r, badRequest(err, "invalid block height"))
		return
	}
	block, err := s.node.Block(r.Context(), height)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderJSON(w, Response{Success: true, Data: block}, http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.node.Info(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderJSON(w, Response{Success: true, Data: info}, http.StatusOK)
}

func (s *Server) handleHealthy(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Ping(r.Context()); err != nil {
		s.renderError(w, r, errors.NewAPIError(errors.APIErrServiceUnavailable, "node is unhealthy", err))
		return
	}
	s.renderJSON(w, Response{Success: true, Message: "orderless-node:ok"}, http.StatusOK)
}

// handleFund mints coins into an account. The request comes either as a JSON
// body or as address and amount query parameters.
func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	query := r.URL.Query()
	if query.Has("address") {
		addr, err := types.ParseAddress(query.Get("address"))
		if err != nil {
			s.renderError(w, r, badRequest(err, "invalid account address"))
			return
		}
		amount, err := strconv.ParseUint(query.Get("amount"), 10, 64)
		if err != nil {
			s.renderError(w, r, badRequest(err, "invalid amount"))
			return
		}
		req = FundRequest{Address: addr, Amount: amount}
	} else if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.renderError(w, r, badRequest(err, "invalid fund request"))
		return
	}

	res, err := s.node.Fund(r.Context(), req.Address, req.Amount)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	s.renderJSON(w, Response{Success: true, Message: "Account funded", Data: res}, http.StatusOK)
}
