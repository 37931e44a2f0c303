package solana

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Balance math
// ---------------------------------------------------------------------------

func TestRawForPercent(t *testing.T) {
	bal := TokenBalance{Mint: USDCMint, Raw: 1_000_000, Decimals: 6}

	tests := []struct {
		name string
		pct  float64
		want uint64
	}{
		{"zero", 0, 0},
		{"negative clamps to zero", -5, 0},
		{"half", 50, 500_000},
		{"full", 100, 1_000_000},
		{"over clamps to full", 250, 1_000_000},
		{"fractional", 33.3, 333_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bal.RawForPercent(tt.pct))
		})
	}
}

func TestTokenBalanceIsZero(t *testing.T) {
	assert.True(t, TokenBalance{Mint: USDCMint}.IsZero())
	assert.False(t, TokenBalance{Mint: USDCMint, Raw: 1}.IsZero())
}

// ---------------------------------------------------------------------------
// Compact-u16 (short-vec) encoding
// ---------------------------------------------------------------------------

func TestCompactU16RoundTrip(t *testing.T) {
	for _, value := range []int{0, 1, 127, 128, 255, 16383, 16384, 65535} {
		encoded := encodeCompactU16(value)
		decoded, n, err := decodeCompactU16(encoded)
		require.NoError(t, err)
		assert.Equal(t, value, decoded)
		assert.Equal(t, len(encoded), n)
	}
}

func TestCompactU16EncodedWidth(t *testing.T) {
	assert.Len(t, encodeCompactU16(127), 1)
	assert.Len(t, encodeCompactU16(128), 2)
	assert.Len(t, encodeCompactU16(16384), 3)
}

func TestCompactU16DecodeErrors(t *testing.T) {
	_, _, err := decodeCompactU16(nil)
	assert.Error(t, err)

	// Continuation bit set but no following byte.
	_, _, err = decodeCompactU16([]byte{0x80})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Signer
// ---------------------------------------------------------------------------

func testKeypair(t *testing.T) (ed25519.PrivateKey, Pubkey) {
	t.Helper()
	seed := bytes.Repeat([]byte{7}, ed25519.SeedSize)
	key := ed25519.NewKeyFromSeed(seed)
	pub := key.Public().(ed25519.PublicKey)
	return key, Pubkey(base58.Encode(pub))
}

func TestNewLocalSignerFormats(t *testing.T) {
	key, wantPub := testKeypair(t)

	t.Run("base58 seed", func(t *testing.T) {
		signer, err := NewLocalSigner(base58.Encode(key.Seed()))
		require.NoError(t, err)
		assert.Equal(t, wantPub, signer.Pubkey())
	})

	t.Run("base58 keypair", func(t *testing.T) {
		signer, err := NewLocalSigner(base58.Encode(key))
		require.NoError(t, err)
		assert.Equal(t, wantPub, signer.Pubkey())
	})

	t.Run("JSON byte array", func(t *testing.T) {
		data, err := json.Marshal([]byte(key))
		require.NoError(t, err)
		signer, err := NewLocalSigner(string(data))
		require.NoError(t, err)
		assert.Equal(t, wantPub, signer.Pubkey())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewLocalSigner("  ")
		assert.Error(t, err)
	})

	t.Run("bad length", func(t *testing.T) {
		_, err := NewLocalSigner(base58.Encode([]byte{1, 2, 3}))
		assert.ErrorContains(t, err, "bytes")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := NewLocalSigner("not!base58!!")
		assert.Error(t, err)
	})
}

func TestSignTransaction(t *testing.T) {
	key, pub := testKeypair(t)
	signer, err := NewLocalSigner(base58.Encode(key.Seed()))
	require.NoError(t, err)

	blockhash, err := NewStubRPCClient().LatestBlockhash(context.Background())
	require.NoError(t, err)

	unsigned, err := BuildCreateTokenAccountTx(pub, pub, USDCMint, blockhash)
	require.NoError(t, err)

	signed, err := signer.SignTransaction(unsigned)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(signed)
	require.NoError(t, err)

	sigCount, sigOffset, err := decodeCompactU16(raw)
	require.NoError(t, err)
	require.Equal(t, 1, sigCount)

	sig := raw[sigOffset : sigOffset+ed25519.SignatureSize]
	message := raw[sigOffset+ed25519.SignatureSize:]
	assert.True(t, ed25519.Verify(key.Public().(ed25519.PublicKey), message, sig))
}

func TestSignTransactionRejectsForeignPayer(t *testing.T) {
	key, _ := testKeypair(t)
	signer, err := NewLocalSigner(base58.Encode(key.Seed()))
	require.NoError(t, err)

	blockhash, err := NewStubRPCClient().LatestBlockhash(context.Background())
	require.NoError(t, err)

	// Payer is someone else, so the wallet has no signature slot.
	unsigned, err := BuildCreateTokenAccountTx(USDCMint, USDCMint, SOLMint, blockhash)
	require.NoError(t, err)

	_, err = signer.SignTransaction(unsigned)
	assert.ErrorContains(t, err, "not a required signer")
}

func TestSignTransactionBadInput(t *testing.T) {
	key, _ := testKeypair(t)
	signer, err := NewLocalSigner(base58.Encode(key.Seed()))
	require.NoError(t, err)

	_, err = signer.SignTransaction("%%not-base64%%")
	assert.Error(t, err)

	_, err = signer.SignTransaction(base64.StdEncoding.EncodeToString([]byte{5}))
	assert.ErrorContains(t, err, "truncated")
}

func TestWatchOnlySignerRefuses(t *testing.T) {
	signer := NewWatchOnlySigner(USDCMint)
	assert.Equal(t, USDCMint, signer.Pubkey())

	_, err := signer.SignTransaction("AAAA")
	assert.ErrorContains(t, err, "cannot sign")
}

// ---------------------------------------------------------------------------
// Associated token accounts
// ---------------------------------------------------------------------------

func TestDeriveTokenAccount(t *testing.T) {
	_, owner := testKeypair(t)

	ata1, err := DeriveTokenAccount(owner, USDCMint)
	require.NoError(t, err)
	ata2, err := DeriveTokenAccount(owner, USDCMint)
	require.NoError(t, err)
	assert.Equal(t, ata1, ata2, "derivation must be deterministic")
	assert.NotEqual(t, owner, ata1)

	other, err := DeriveTokenAccount(owner, SOLMint)
	require.NoError(t, err)
	assert.NotEqual(t, ata1, other, "different mints derive different accounts")

	// PDAs must be off-curve.
	raw, err := base58.Decode(string(ata1))
	require.NoError(t, err)
	assert.False(t, isOnCurve(raw))
}

func TestDeriveTokenAccountBadKey(t *testing.T) {
	_, err := DeriveTokenAccount("not-a-key!", USDCMint)
	assert.Error(t, err)
}

func TestBuildCreateTokenAccountTx(t *testing.T) {
	_, owner := testKeypair(t)
	blockhash, err := NewStubRPCClient().LatestBlockhash(context.Background())
	require.NoError(t, err)

	encoded, err := BuildCreateTokenAccountTx(owner, owner, USDCMint, blockhash)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	sigCount, sigOffset, err := decodeCompactU16(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, sigCount)

	// Signature slot starts empty.
	sig := raw[sigOffset : sigOffset+ed25519.SignatureSize]
	assert.Equal(t, make([]byte, ed25519.SignatureSize), sig)

	// Message header and payer key.
	message := raw[sigOffset+ed25519.SignatureSize:]
	require.Equal(t, []byte{1, 0, 5}, message[:3])

	keyCount, n, err := decodeCompactU16(message[3:])
	require.NoError(t, err)
	assert.Equal(t, 7, keyCount)

	payerBytes, err := base58.Decode(string(owner))
	require.NoError(t, err)
	assert.Equal(t, payerBytes, message[3+n:3+n+32])
}

func TestBuildCreateTokenAccountTxBadBlockhash(t *testing.T) {
	_, owner := testKeypair(t)
	_, err := BuildCreateTokenAccountTx(owner, owner, USDCMint, "nope")
	assert.ErrorContains(t, err, "blockhash")
}
