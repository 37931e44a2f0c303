package solana

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ---------------------------------------------------------------------------
// Associated Token Accounts — PDA derivation & creation
// ---------------------------------------------------------------------------

// DeriveTokenAccount derives the associated token account address for an
// owner/mint pair (PDA under the associated token program).
func DeriveTokenAccount(owner, mint Pubkey) (Pubkey, error) {
	ownerBytes, err := base58.Decode(string(owner))
	if err != nil {
		return "", fmt.Errorf("ata: decode owner: %w", err)
	}
	mintBytes, err := base58.Decode(string(mint))
	if err != nil {
		return "", fmt.Errorf("ata: decode mint: %w", err)
	}
	tokenProg, err := base58.Decode(string(TokenProgramID))
	if err != nil {
		return "", fmt.Errorf("ata: decode token program: %w", err)
	}
	ataProg, err := base58.Decode(string(AssociatedTokenProgramID))
	if err != nil {
		return "", fmt.Errorf("ata: decode ata program: %w", err)
	}

	addr := derivePDA([][]byte{ownerBytes, tokenProg, mintBytes}, ataProg)
	if addr == "" {
		return "", fmt.Errorf("ata: no off-curve bump found for %s/%s", owner, mint)
	}
	return Pubkey(addr), nil
}

// derivePDA derives a Program Derived Address using the Solana algorithm:
// sha256(seeds || bump || programID || "ProgramDerivedAddress"), taking the
// first bump seed that yields an off-curve point.
func derivePDA(seeds [][]byte, programID []byte) string {
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:])
		}
	}
	return ""
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// BuildCreateTokenAccountTx assembles an unsigned legacy transaction that
// creates the associated token account for owner/mint, paid by payer. The
// instruction is the idempotent variant, so racing a concurrent creation is
// harmless. Returns the base64 transaction with an empty signature slot.
func BuildCreateTokenAccountTx(payer, owner, mint Pubkey, blockhash string) (string, error) {
	ata, err := DeriveTokenAccount(owner, mint)
	if err != nil {
		return "", err
	}

	// Account table order fixes the instruction indexes below.
	keys := []Pubkey{payer, ata, owner, mint, SystemProgramID, TokenProgramID, AssociatedTokenProgramID}

	msg := make([]byte, 0, 256)

	// Header: 1 required signature (payer), 0 readonly signed,
	// 5 readonly unsigned (owner, mint and the three programs).
	msg = append(msg, 1, 0, 5)

	msg = append(msg, encodeCompactU16(len(keys))...)
	for _, key := range keys {
		raw, err := base58.Decode(string(key))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return "", fmt.Errorf("ata: invalid account key %s", key)
		}
		msg = append(msg, raw...)
	}

	hashBytes, err := base58.Decode(blockhash)
	if err != nil || len(hashBytes) != 32 {
		return "", fmt.Errorf("ata: invalid blockhash %q", blockhash)
	}
	msg = append(msg, hashBytes...)

	// Single instruction: CreateIdempotent on the associated token program.
	msg = append(msg, encodeCompactU16(1)...)
	msg = append(msg, 6) // program index: AssociatedTokenProgramID
	msg = append(msg, encodeCompactU16(6)...)
	msg = append(msg, 0, 1, 2, 3, 4, 5) // payer, ata, owner, mint, system, token
	msg = append(msg, encodeCompactU16(1)...)
	msg = append(msg, 1) // discriminator: CreateIdempotent

	tx := make([]byte, 0, len(msg)+ed25519.SignatureSize+1)
	tx = append(tx, encodeCompactU16(1)...)
	tx = append(tx, make([]byte, ed25519.SignatureSize)...) // filled by the signer
	tx = append(tx, msg...)

	return base64.StdEncoding.EncodeToString(tx), nil
}
