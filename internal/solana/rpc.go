package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the interface for Solana RPC interactions.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetBalance returns the SOL balance of a wallet, in SOL.
	GetBalance(ctx context.Context, wallet Pubkey) (decimal.Decimal, error)

	// GetTokenBalance returns the aggregate SPL balance of a mint across all
	// of the wallet's token accounts.
	GetTokenBalance(ctx context.Context, owner, mint Pubkey) (TokenBalance, error)

	// FindTokenAccount returns the wallet's token account for a mint, or ""
	// when none exists yet.
	FindTokenAccount(ctx context.Context, owner, mint Pubkey) (Pubkey, error)

	// LatestBlockhash returns a recent blockhash for transaction assembly.
	LatestBlockhash(ctx context.Context) (string, error)

	// SendTransaction submits a signed, base64-encoded transaction.
	SendTransaction(ctx context.Context, txBase64 string) (Signature, error)

	// ConfirmTransaction blocks until the signature reaches confirmed
	// commitment, the transaction fails, or the timeout elapses.
	ConfirmTransaction(ctx context.Context, sig Signature, timeout time.Duration) error

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`       // e.g. https://api.mainnet-beta.solana.com
	WSEndpoint   string        `yaml:"ws_endpoint"`    // e.g. wss://api.mainnet-beta.solana.com
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"` // requests per second limit
}

// DefaultRPCConfig returns mainnet defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is a mock RPC client for testing.
type StubRPCClient struct {
	mu            sync.Mutex
	solBalance    decimal.Decimal
	tokenBalances map[Pubkey]TokenBalance // mint -> balance
	tokenAccounts map[Pubkey]Pubkey       // mint -> token account
	sentTxs       []string
	confirmErr    error
	failNext      bool
}

// NewStubRPCClient creates a stub RPC client for testing.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		solBalance:    decimal.NewFromFloat(10.0),
		tokenBalances: make(map[Pubkey]TokenBalance),
		tokenAccounts: make(map[Pubkey]Pubkey),
	}
}

// SetSOLBalance sets the stub wallet SOL balance.
func (s *StubRPCClient) SetSOLBalance(sol decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.solBalance = sol
}

// SetTokenBalance registers an SPL balance for a mint.
func (s *StubRPCClient) SetTokenBalance(bal TokenBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenBalances[bal.Mint] = bal
}

// SetTokenAccount registers a token account address for a mint.
func (s *StubRPCClient) SetTokenAccount(mint, account Pubkey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenAccounts[mint] = account
}

// SetConfirmError makes ConfirmTransaction return the given error.
func (s *StubRPCClient) SetConfirmError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmErr = err
}

// SetFailNext makes the next call fail.
func (s *StubRPCClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// SentTransactions returns the transactions submitted so far.
func (s *StubRPCClient) SentTransactions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sentTxs...)
}

func (s *StubRPCClient) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Interface implementation ---

func (s *StubRPCClient) GetBalance(_ context.Context, _ Pubkey) (decimal.Decimal, error) {
	if s.shouldFail() {
		return decimal.Zero, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.solBalance, nil
}

func (s *StubRPCClient) GetTokenBalance(_ context.Context, _, mint Pubkey) (TokenBalance, error) {
	if s.shouldFail() {
		return TokenBalance{}, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.tokenBalances[mint]; ok {
		return bal, nil
	}
	return TokenBalance{Mint: mint, UI: decimal.Zero}, nil
}

func (s *StubRPCClient) FindTokenAccount(_ context.Context, _, mint Pubkey) (Pubkey, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenAccounts[mint], nil
}

func (s *StubRPCClient) LatestBlockhash(_ context.Context) (string, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	return "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N", nil
}

func (s *StubRPCClient) SendTransaction(_ context.Context, txBase64 string) (Signature, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	s.sentTxs = append(s.sentTxs, txBase64)
	n := len(s.sentTxs)
	s.mu.Unlock()
	return Signature(fmt.Sprintf("stub-sig-%d", n)), nil
}

func (s *StubRPCClient) ConfirmTransaction(_ context.Context, _ Signature, _ time.Duration) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmErr
}

func (s *StubRPCClient) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}
