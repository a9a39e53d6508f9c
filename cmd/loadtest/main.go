// Command loadtest hammers a single wallet with concurrent deposits and
// withdrawals, retrying contention with backoff, and then checks that the
// final balance equals the opening balance plus every accepted change.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"github.com/wallet-service/wallet_service/internal/logging"
)

// Options holds the load test configuration.
type Options struct {
	BaseURL    string
	Workers    int
	Operations int
	Initial    decimal.Decimal
	Amount     decimal.Decimal
	MaxRetries int
	Timeout    time.Duration
}

// Results tracks the outcomes of all operations.
type Results struct {
	Succeeded    atomic.Int64
	Insufficient atomic.Int64
	Retries      atomic.Int64
	Failed       atomic.Int64

	mu       sync.Mutex
	expected decimal.Decimal
}

type operationBody struct {
	WalletID      string          `json:"walletId"`
	OperationType string          `json:"operationType"`
	Amount        decimal.Decimal `json:"amount"`
}

type balanceBody struct {
	Amount decimal.Decimal `json:"amount"`
}

type createBody struct {
	WalletID string          `json:"walletId"`
	Balance  decimal.Decimal `json:"balance"`
}

var errContention = errors.New("wallet contention")

func main() {
	var (
		opts    Options
		initial string
		amount  string
		level   string
	)
	flag.StringVar(&opts.BaseURL, "url", "http://localhost:8080", "Wallet service base URL")
	flag.IntVar(&opts.Workers, "workers", 50, "Number of concurrent workers")
	flag.IntVar(&opts.Operations, "ops", 20, "Operations per worker")
	flag.StringVar(&initial, "initial", "1000.00", "Opening balance of the test wallet")
	flag.StringVar(&amount, "amount", "10.00", "Amount of every deposit and withdrawal")
	flag.IntVar(&opts.MaxRetries, "retries", 10, "Retries per operation on contention")
	flag.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "Per request timeout")
	flag.StringVar(&level, "log-level", "info", "Log level")
	flag.Parse()

	logger := logging.New(level, "text")

	var err error
	if opts.Initial, err = decimal.NewFromString(initial); err != nil {
		logger.Error("invalid -initial", "error", err)
		os.Exit(2)
	}
	if opts.Amount, err = decimal.NewFromString(amount); err != nil || !opts.Amount.IsPositive() {
		logger.Error("invalid -amount, must be a positive number", "value", amount)
		os.Exit(2)
	}

	walletID, err := createWallet(opts)
	if err != nil {
		logger.Error("create wallet", "error", err)
		os.Exit(1)
	}
	logger.Info("wallet created", "wallet_id", walletID, "balance", opts.Initial.String())

	start := time.Now()
	results := run(opts, walletID, logger)
	elapsed := time.Since(start)

	final, err := fetchBalance(opts, walletID)
	if err != nil {
		logger.Error("fetch final balance", "error", err)
		os.Exit(1)
	}

	logger.Info("load test finished",
		"duration", elapsed.String(),
		"succeeded", results.Succeeded.Load(),
		"insufficient_funds", results.Insufficient.Load(),
		"contention_retries", results.Retries.Load(),
		"failed", results.Failed.Load(),
		"expected_balance", results.expected.String(),
		"final_balance", final.String())

	if !final.Equal(results.expected) {
		logger.Error("balance conservation violated", "expected", results.expected.String(), "actual", final.String())
		os.Exit(1)
	}
	if results.Failed.Load() > 0 {
		os.Exit(1)
	}
}

func run(opts Options, walletID string, logger *slog.Logger) *Results {
	results := &Results{expected: opts.Initial}

	var wg sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < opts.Operations; i++ {
				op := "DEPOSIT"
				if (worker+i)%2 == 1 {
					op = "WITHDRAW"
				}
				status, err := operateWithRetry(opts, walletID, op, results)
				switch {
				case err != nil:
					results.Failed.Add(1)
					logger.Warn("operation failed", "worker", worker, "operation", op, "error", err)
				case status == http.StatusOK:
					results.Succeeded.Add(1)
					results.record(op, opts.Amount)
				case status == http.StatusBadRequest && op == "WITHDRAW":
					results.Insufficient.Add(1)
				default:
					results.Failed.Add(1)
					logger.Warn("unexpected status", "worker", worker, "operation", op, "status", status)
				}
			}
		}(w)
	}
	wg.Wait()
	return results
}

func (r *Results) record(op string, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op == "DEPOSIT" {
		r.expected = r.expected.Add(amount)
	} else {
		r.expected = r.expected.Sub(amount)
	}
}

// operateWithRetry resubmits the whole operation while the service reports
// contention, waiting an exponentially growing, jittered delay in between.
func operateWithRetry(opts Options, walletID, op string, results *Results) (int, error) {
	b := &backoff.Backoff{Min: 5 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 2, Jitter: true}
	for {
		status, err := operate(opts, walletID, op)
		if !errors.Is(err, errContention) {
			return status, err
		}
		if int(b.Attempt()) >= opts.MaxRetries {
			return status, fmt.Errorf("gave up after %d retries: %w", opts.MaxRetries, err)
		}
		results.Retries.Add(1)
		time.Sleep(b.Duration())
	}
}

func operate(opts Options, walletID, op string) (int, error) {
	agent := fiber.Post(opts.BaseURL + "/api/v1/wallets").
		Timeout(opts.Timeout).
		JSON(operationBody{WalletID: walletID, OperationType: op, Amount: opts.Amount})
	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	if status == http.StatusConflict {
		return status, fmt.Errorf("%w: %s", errContention, body)
	}
	return status, nil
}

func createWallet(opts Options) (string, error) {
	var created createBody
	status, body, errs := fiber.Post(opts.BaseURL + "/api/v1/admin/wallets").
		Timeout(opts.Timeout).
		JSON(createBody{Balance: opts.Initial}).
		Struct(&created)
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d: %s", status, body)
	}
	return created.WalletID, nil
}

func fetchBalance(opts Options, walletID string) (decimal.Decimal, error) {
	var balance balanceBody
	status, body, errs := fiber.Get(opts.BaseURL + "/api/v1/wallets/" + walletID).
		Timeout(opts.Timeout).
		Struct(&balance)
	if len(errs) > 0 {
		return decimal.Decimal{}, errors.Join(errs...)
	}
	if status != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("unexpected status %d: %s", status, body)
	}
	return balance.Amount, nil
}
