// orderless-examples walks through orderless transactions: a transfer, a
// script, multisig execution and voting, and replay protection. Each example
// reports its failure and the runner moves on to the next.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"

	"github.com/cmatc13/orderless/internal/account"
	"github.com/cmatc13/orderless/internal/api"
	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/internal/node"
	"github.com/cmatc13/orderless/internal/types"
	"github.com/cmatc13/orderless/pkg/client"
	"github.com/cmatc13/orderless/pkg/config"
	pkgerrors "github.com/cmatc13/orderless/pkg/errors"
	"github.com/cmatc13/orderless/pkg/logging"
)

const (
	fundAmount     = 100_000_000
	transferAmount = 1_000_000
	multisigAmount = 500_000
	replayNonce    = 999999
)

// placeholderMultisig is an address no multisig account lives at.
var placeholderMultisig = types.MustParseAddress("0x1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef")

type runner struct {
	client *client.Client
	faucet *client.FaucetClient
}

func main() {
	fs := pflag.NewFlagSet("orderless-examples", pflag.ExitOnError)
	nodeURL := fs.String("node-url", "http://localhost:8080", "Node REST endpoint")
	faucetURL := fs.String("faucet-url", "", "Faucet endpoint (defaults to the node URL)")
	apiKey := fs.String("api-key", "", "Bearer API key for nodes with authentication enabled")
	embedded := fs.Bool("embedded", false, "Run the examples against an in-process node")
	_ = fs.Parse(os.Args[1:])

	ctx := context.Background()

	if *embedded {
		url, shutdown, err := startEmbedded(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start embedded node: %v\n", err)
			os.Exit(1)
		}
		defer shutdown()
		*nodeURL = url
	}
	if *faucetURL == "" {
		*faucetURL = *nodeURL
	}

	c := client.New(*nodeURL, client.WithAPIKey(*apiKey))
	defer c.Close()
	f := client.NewFaucetClient(*faucetURL, c)
	defer f.Close()

	fmt.Println("ORDERLESS TRANSACTIONS - COMPLETE EXAMPLES")
	r := &runner{client: c, faucet: f}
	examples := []struct {
		name string
		run  func(context.Context) error
	}{
		{"Example 1: Regular Orderless Transaction (EntryFunction)", r.regularOrderless},
		{"Example 2: Orderless Transaction with Script", r.scriptOrderless},
		{"Example 3: Multisig Orderless Transaction with Execution", r.multisigWithExecution},
		{"Example 4: Multisig Voting-Only Transaction", r.multisigVoteOnly},
		{"Example 5: Replay Protection (Same Nonce)", r.replayProtection},
	}
	for _, ex := range examples {
		fmt.Printf("\n================ %s ================\n", ex.name)
		if err := ex.run(ctx); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
	fmt.Println("\nALL EXAMPLES COMPLETED")
}

// startEmbedded serves an in-process node on a loopback port.
func startEmbedded(ctx context.Context) (string, func(), error) {
	cfg := config.Default()
	cfg.API.RateLimit = 0
	cfg.Faucet.RateLimit = 0
	n, err := node.StartEmbedded(ctx, cfg, logging.Nop())
	if err != nil {
		return "", nil, err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = n.Close()
		return "", nil, err
	}
	srv := &http.Server{Handler: api.NewServer(cfg, n.Node, nil, nil, nil).Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = srv.Serve(ln) }()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = n.Close()
	}
	return "http://" + ln.Addr().String(), shutdown, nil
}

var lastNonce atomic.Uint64

// timeNonce derives a nonce from the wall clock in milliseconds, bumped past
// the previous one so two calls never collide.
func timeNonce() uint64 {
	for {
		prev := lastNonce.Load()
		n := uint64(time.Now().UnixMilli())
		if n <= prev {
			n = prev + 1
		}
		if lastNonce.CompareAndSwap(prev, n) {
			return n
		}
	}
}

func (r *runner) fundedAccount(ctx context.Context, label string) (*account.Account, error) {
	acct, err := account.New()
	if err != nil {
		return nil, err
	}
	fmt.Printf("%s: %s\n", label, acct.Address())
	if _, err := r.faucet.FundAccount(ctx, acct.Address(), fundAmount); err != nil {
		return nil, fmt.Errorf("failed to fund %s: %w", label, err)
	}
	return acct, nil
}

func newAddress() (types.AccountAddress, error) {
	acct, err := account.New()
	if err != nil {
		return types.AccountAddress{}, err
	}
	return acct.Address(), nil
}

func (r *runner) regularOrderless(ctx context.Context) error {
	sender, err := r.fundedAccount(ctx, "Sender")
	if err != nil {
		return err
	}
	recipient, err := newAddress()
	if err != nil {
		return err
	}
	fmt.Printf("Recipient: %s\n", recipient)

	nonce := timeNonce()
	fmt.Printf("Submitting orderless transaction with nonce: %d...\n", nonce)
	res, err := r.client.SubmitOrderlessTransaction(ctx, sender, ledger.TransferPayload(recipient, transferAmount), nonce,
		client.WithWait(true))
	if err != nil {
		return err
	}
	fmt.Printf("Transaction completed: %s (version %d)\n", res.Hash, res.Version)

	balance, err := r.client.AccountBalance(ctx, recipient)
	if err != nil {
		return err
	}
	fmt.Printf("Recipient balance: %d octas\n", balance)
	return nil
}

func (r *runner) scriptOrderless(ctx context.Context) error {
	sender, err := r.fundedAccount(ctx, "Sender")
	if err != nil {
		return err
	}

	// Empty bytecode is rejected before the nonce is reserved.
	nonce := timeNonce()
	fmt.Printf("Submitting orderless script transaction with nonce: %d...\n", nonce)
	if _, err := r.client.SubmitOrderlessTransaction(ctx, sender, &types.Script{}, nonce, client.WithWait(true)); err != nil {
		fmt.Printf("Script without bytecode rejected: %v\n", err)
	}

	res, err := r.client.SubmitOrderlessTransaction(ctx, sender, &types.Script{Code: types.ScriptHeader(6)}, nonce,
		client.WithWait(true))
	if err != nil {
		return err
	}
	fmt.Printf("Script transaction completed: %s\n", res.Hash)
	return nil
}

func (r *runner) multisigWithExecution(ctx context.Context) error {
	owner1, err := r.fundedAccount(ctx, "Owner 1")
	if err != nil {
		return err
	}
	owner2, err := account.New()
	if err != nil {
		return err
	}
	recipient, err := newAddress()
	if err != nil {
		return err
	}
	fmt.Printf("Owner 2: %s\nRecipient: %s\n", owner2.Address(), recipient)

	payload := ledger.TransferPayload(recipient, multisigAmount)

	fmt.Printf("\nMultisig Address (placeholder): %s\n", placeholderMultisig)
	if _, err := r.client.SubmitOrderlessTransaction(ctx, owner1, payload, timeNonce(),
		client.WithMultisig(placeholderMultisig), client.WithWait(true)); err != nil {
		fmt.Printf("Placeholder multisig rejected: %v\n", err)
	}

	multisig, err := r.createMultisig(ctx, owner1, 1, owner2.Address())
	if err != nil {
		return err
	}

	nonce := timeNonce()
	fmt.Printf("Submitting multisig orderless transaction with nonce: %d...\n", nonce)
	res, err := r.client.SubmitOrderlessTransaction(ctx, owner1, payload, nonce,
		client.WithMultisig(multisig), client.WithWait(true))
	if err != nil {
		return err
	}
	fmt.Printf("Transaction completed: %s (%s)\n", res.Hash, res.Outcome)

	balance, err := r.client.AccountBalance(ctx, recipient)
	if err != nil {
		return err
	}
	fmt.Printf("Recipient balance: %d octas\n", balance)
	return nil
}

func (r *runner) multisigVoteOnly(ctx context.Context) error {
	owner1, err := r.fundedAccount(ctx, "Owner 1")
	if err != nil {
		return err
	}
	owner2, err := account.New()
	if err != nil {
		return err
	}
	recipient, err := newAddress()
	if err != nil {
		return err
	}

	multisig, err := r.createMultisig(ctx, owner1, 2, owner2.Address())
	if err != nil {
		return err
	}

	res, err := r.client.SubmitOrderlessTransaction(ctx, owner1, ledger.TransferPayload(recipient, multisigAmount), timeNonce(),
		client.WithMultisig(multisig), client.WithWait(true))
	if err != nil {
		return err
	}
	fmt.Printf("Vote recorded: %s (%s)\n", res.Hash, res.Outcome)

	m, err := r.client.Multisig(ctx, multisig)
	if err != nil {
		return err
	}
	for _, p := range m.Proposals {
		fmt.Printf("Proposal %s: %d of %d votes\n", p.ID, len(p.Votes), m.NumSignaturesRequired)
	}
	return nil
}

// createMultisig creates a multisig account owned by creator and additional,
// and funds it from the faucet.
func (r *runner) createMultisig(ctx context.Context, creator *account.Account, threshold uint64, additional ...types.AccountAddress) (types.AccountAddress, error) {
	nonce := timeNonce()
	if _, err := r.client.SubmitOrderlessTransaction(ctx, creator, ledger.CreateMultisigPayload(threshold, additional...), nonce,
		client.WithWait(true)); err != nil {
		return types.AccountAddress{}, fmt.Errorf("failed to create multisig account: %w", err)
	}
	multisig := ledger.MultisigAddress(creator.Address(), nonce)
	fmt.Printf("Multisig Address: %s (%d of %d)\n", multisig, threshold, len(additional)+1)
	if _, err := r.faucet.FundAccount(ctx, multisig, fundAmount); err != nil {
		return types.AccountAddress{}, err
	}
	return multisig, nil
}

func (r *runner) replayProtection(ctx context.Context) error {
	sender, err := r.fundedAccount(ctx, "Sender")
	if err != nil {
		return err
	}
	recipient, err := newAddress()
	if err != nil {
		return err
	}
	payload := ledger.TransferPayload(recipient, transferAmount)

	fmt.Printf("Submitting first transaction with nonce: %d...\n", replayNonce)
	res, err := r.client.SubmitOrderlessTransaction(ctx, sender, payload, replayNonce, client.WithWait(true))
	if err != nil {
		return err
	}
	fmt.Printf("First transaction completed: %s\n", res.Hash)

	fmt.Printf("Attempting second transaction with SAME nonce: %d...\n", replayNonce)
	res, err = r.client.SubmitOrderlessTransaction(ctx, sender, payload, replayNonce, client.WithWait(true))
	switch {
	case err == nil:
		return errors.New("second transaction with the same nonce succeeded: " + res.Hash.String())
	case pkgerrors.IsDuplicateNonce(err):
		fmt.Printf("Replay protection worked! Transaction rejected: %v\n", err)
		return nil
	default:
		return err
	}
}
