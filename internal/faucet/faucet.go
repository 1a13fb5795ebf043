// Package faucet mints test-network coins into accounts.
package faucet

import (
	"context"

	"github.com/google/uuid"

	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/logging"
	"github.com/cmatc13/orderless/pkg/metrics"
)

// Config limits what the faucet hands out
type Config struct {
	Enabled bool
	// MaxAmount caps a single request; zero means no cap.
	MaxAmount uint64
}

// FundResult describes a completed funding request
type FundResult struct {
	RequestID uuid.UUID            `json:"request_id"`
	Address   types.AccountAddress `json:"address"`
	Amount    uint64               `json:"amount,string"`
	Balance   uint64               `json:"balance,string"`
}

// Faucet credits freshly minted coins to accounts, creating them when unseen
type Faucet struct {
	ledger  *ledger.Ledger
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// New creates a faucet. m may be nil.
func New(l *ledger.Ledger, cfg Config, logger *logging.Logger, m *metrics.Metrics) *Faucet {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Faucet{ledger: l, cfg: cfg, logger: logger.Named("faucet"), metrics: m}
}

// Enabled reports whether Fund accepts requests.
func (f *Faucet) Enabled() bool { return f.cfg.Enabled }

// Fund mints amount into addr.
func (f *Faucet) Fund(ctx context.Context, addr types.AccountAddress, amount uint64) (*FundResult, error) {
	if err := f.check(addr, amount); err != nil {
		f.record("rejected", 0)
		return nil, err
	}

	balance, err := f.ledger.Mint(ctx, addr, amount)
	if err != nil {
		f.record("error", 0)
		return nil, errors.TransactionWrap(err, errors.OpFundAccount, "failed to fund "+addr.String())
	}

	res := &FundResult{
		RequestID: uuid.New(),
		Address:   addr,
		Amount:    amount,
		Balance:   balance,
	}
	f.record("funded", amount)
	f.logger.Info("Funded account",
		"request_id", res.RequestID.String(),
		"address", addr.String(),
		"amount", amount,
		"balance", balance,
	)
	return res, nil
}

func (f *Faucet) check(addr types.AccountAddress, amount uint64) error {
	if !f.cfg.Enabled {
		return errors.NewAPIError(errors.APIErrFaucetDisabled, "faucet is disabled", nil)
	}
	if addr.IsReserved() {
		return errors.TransactionOpError(errors.OpFundAccount, errors.TransactionErrInvalidAmount,
			"cannot fund reserved address "+addr.StringShort())
	}
	if amount == 0 {
		return errors.TransactionOpError(errors.OpFundAccount, errors.TransactionErrInvalidAmount,
			"amount must be positive")
	}
	if f.cfg.MaxAmount > 0 && amount > f.cfg.MaxAmount {
		return errors.TransactionOpError(errors.OpFundAccount, errors.TransactionErrInvalidAmount,
			errors.Sprintf("amount %d exceeds the faucet limit of %d", amount, f.cfg.MaxAmount))
	}
	return nil
}

func (f *Faucet) record(status string, amount uint64) {
	if f.metrics != nil {
		f.metrics.RecordFaucet(status, amount)
	}
}
