package solana

import (
	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Well-known addresses.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	TokenProgramID           Pubkey = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	AssociatedTokenProgramID Pubkey = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	SystemProgramID          Pubkey = "11111111111111111111111111111111"
)

// ---------------------------------------------------------------------------
// Balance types
// ---------------------------------------------------------------------------

// TokenBalance is the aggregate SPL balance of one mint across all of a
// wallet's token accounts.
type TokenBalance struct {
	Mint     Pubkey          `json:"mint"`
	Raw      uint64          `json:"raw"` // smallest units
	Decimals uint8           `json:"decimals"`
	UI       decimal.Decimal `json:"ui"` // human units
}

// IsZero reports whether no tokens are held.
func (b TokenBalance) IsZero() bool {
	return b.Raw == 0
}

// RawForPercent returns the smallest-unit amount corresponding to pct percent
// of the balance, with pct clamped to [0, 100].
func (b TokenBalance) RawForPercent(pct float64) uint64 {
	if pct <= 0 {
		return 0
	}
	if pct >= 100 {
		return b.Raw
	}
	amount := decimal.NewFromUint64(b.Raw).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100))
	return uint64(amount.IntPart())
}
