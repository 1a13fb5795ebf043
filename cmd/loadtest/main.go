// cmd/loadtest/main.go
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/cmatc13/orderless/internal/account"
	"github.com/cmatc13/orderless/internal/ledger"
	"github.com/cmatc13/orderless/pkg/client"
	"github.com/cmatc13/orderless/pkg/errors"
)

// Command line flags
var (
	nodeURL         = pflag.String("node-url", "http://localhost:8080", "Node REST endpoint")
	apiKey          = pflag.String("api-key", "", "Bearer API key")
	duration        = pflag.Duration("duration", 1*time.Minute, "Test duration")
	numAccounts     = pflag.Int("accounts", 100, "Number of funded sender accounts")
	concurrency     = pflag.Int("concurrency", 50, "Number of concurrent clients")
	transactionRate = pflag.Float64("rate", 500, "Target transactions per second")
	initialBalance  = pflag.Uint64("balance", 1_000_000_000, "Faucet funding per account, in octas")
	sameNonce       = pflag.Bool("same-nonce", false, "Submit one (sender, nonce) from every client at once and check exactly one is accepted")
)

// Stats counts submission outcomes
type Stats struct {
	accepted     atomic.Uint64
	duplicates   atomic.Uint64
	failures     atomic.Uint64
	latencySum   atomic.Uint64
	latencyCount atomic.Uint64
}

func (s *Stats) record(err error, elapsed time.Duration) {
	switch {
	case err == nil:
		s.accepted.Add(1)
		s.latencySum.Add(uint64(elapsed.Microseconds()))
		s.latencyCount.Add(1)
	case errors.IsDuplicateNonce(err):
		s.duplicates.Add(1)
	default:
		s.failures.Add(1)
	}
}

func (s *Stats) avgLatency() uint64 {
	if n := s.latencyCount.Load(); n > 0 {
		return s.latencySum.Load() / n
	}
	return 0
}

func main() {
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(*nodeURL, client.WithAPIKey(*apiKey))
	defer c.Close()
	f := client.NewFaucetClient(*nodeURL, c)
	defer f.Close()

	var err error
	if *sameNonce {
		err = runSameNonce(ctx, c, f)
	} else {
		err = runLoad(ctx, c, f)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load test failed: %v\n", err)
		os.Exit(1)
	}
}

// runSameNonce races every client on one (sender, nonce) pair.
func runSameNonce(ctx context.Context, c *client.Client, f *client.FaucetClient) error {
	sender, err := account.New()
	if err != nil {
		return err
	}
	recipient, err := account.New()
	if err != nil {
		return err
	}
	if _, err := f.FundAccount(ctx, sender.Address(), *initialBalance); err != nil {
		return err
	}

	nonce := rand.Uint64()
	fmt.Printf("Racing %d submissions of nonce %d from %s\n", *concurrency, nonce, sender.Address())

	stats := &Stats{}
	start := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *concurrency; i++ {
		g.Go(func() error {
			<-start
			began := time.Now()
			_, err := c.SubmitOrderlessTransaction(gctx, sender, ledger.TransferPayload(recipient.Address(), 1), nonce)
			stats.record(err, time.Since(began))
			return nil
		})
	}
	close(start)
	_ = g.Wait()

	fmt.Printf("Accepted: %d, Duplicates: %d, Failures: %d\n",
		stats.accepted.Load(), stats.duplicates.Load(), stats.failures.Load())
	if stats.accepted.Load() != 1 {
		return fmt.Errorf("expected exactly one accepted submission, got %d", stats.accepted.Load())
	}
	return nil
}

// runLoad submits random-nonce transfers between funded accounts at the
// target rate until the duration passes.
func runLoad(ctx context.Context, c *client.Client, f *client.FaucetClient) error {
	fmt.Printf("Load Test Configuration:\n")
	fmt.Printf("  Node: %s\n", *nodeURL)
	fmt.Printf("  Duration: %s\n", *duration)
	fmt.Printf("  Accounts: %d\n", *numAccounts)
	fmt.Printf("  Concurrency: %d\n", *concurrency)
	fmt.Printf("  Target TPS: %.0f\n", *transactionRate)

	fmt.Printf("Funding %d test accounts...\n", *numAccounts)
	accounts := make([]*account.Account, *numAccounts)
	for i := range accounts {
		acct, err := account.New()
		if err != nil {
			return err
		}
		if _, err := f.FundAccount(ctx, acct.Address(), *initialBalance); err != nil {
			return fmt.Errorf("failed to fund account %d: %w", i, err)
		}
		accounts[i] = acct
	}

	testCtx, testCancel := context.WithTimeout(ctx, *duration)
	defer testCancel()

	stats := &Stats{}
	tokens := make(chan struct{}, *concurrency*2)
	g, gctx := errgroup.WithContext(testCtx)

	g.Go(func() error {
		interval := time.Duration(float64(time.Second) / *transactionRate)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				select {
				case tokens <- struct{}{}:
				default:
				}
			}
		}
	})

	for i := 0; i < *concurrency; i++ {
		id := i
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-tokens:
				}
				sender := accounts[r.Intn(len(accounts))]
				receiver := accounts[r.Intn(len(accounts))]
				began := time.Now()
				_, err := c.SubmitOrderlessTransaction(gctx, sender,
					ledger.TransferPayload(receiver.Address(), uint64(1+r.Intn(10))), r.Uint64())
				if gctx.Err() != nil {
					return nil
				}
				stats.record(err, time.Since(began))
			}
		})
	}

	startTime := time.Now()
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				elapsed := time.Since(startTime).Seconds()
				fmt.Printf("\rTPS: %.2f, Accepted: %d, Duplicates: %d, Failures: %d, Avg Latency: %d µs",
					float64(stats.accepted.Load())/elapsed, stats.accepted.Load(),
					stats.duplicates.Load(), stats.failures.Load(), stats.avgLatency())
			}
		}
	})

	_ = g.Wait()

	elapsed := time.Since(startTime).Seconds()
	total := stats.accepted.Load() + stats.duplicates.Load() + stats.failures.Load()
	fmt.Printf("\n\nLoad Test Results:\n")
	fmt.Printf("  Test Duration: %.2f seconds\n", elapsed)
	fmt.Printf("  Total Submissions: %d\n", total)
	fmt.Printf("  Accepted: %d\n", stats.accepted.Load())
	fmt.Printf("  Duplicate Nonces: %d\n", stats.duplicates.Load())
	fmt.Printf("  Failures: %d\n", stats.failures.Load())
	fmt.Printf("  Average TPS: %.2f\n", float64(stats.accepted.Load())/elapsed)
	fmt.Printf("  Average Latency: %d µs\n", stats.avgLatency())
	return nil
}
