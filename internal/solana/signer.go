package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// ---------------------------------------------------------------------------
// Signer — opaque "sign and submit" capability for prebuilt transactions
// ---------------------------------------------------------------------------

// Signer signs serialized transactions on behalf of one wallet.
type Signer interface {
	// Pubkey returns the signing wallet's public key.
	Pubkey() Pubkey

	// SignTransaction fills in the wallet's signature slot of a base64-encoded
	// transaction and returns the signed transaction, base64-encoded.
	SignTransaction(txBase64 string) (string, error)
}

// LocalSigner signs with an in-process ed25519 keypair.
type LocalSigner struct {
	key    ed25519.PrivateKey
	pubkey Pubkey
}

// NewLocalSigner parses a wallet secret. Accepted formats: base58-encoded
// 64-byte keypair (or 32-byte seed), or a JSON byte array as exported by
// common Solana wallets.
func NewLocalSigner(secret string) (*LocalSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("signer: empty wallet secret")
	}

	var raw []byte
	if strings.HasPrefix(secret, "[") {
		var arr []byte
		if err := json.Unmarshal([]byte(secret), &arr); err != nil {
			return nil, fmt.Errorf("signer: parse JSON secret: %w", err)
		}
		raw = arr
	} else {
		decoded, err := base58.Decode(secret)
		if err != nil {
			return nil, fmt.Errorf("signer: decode base58 secret: %w", err)
		}
		raw = decoded
	}

	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("signer: secret must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}

	pub := key.Public().(ed25519.PublicKey)
	return &LocalSigner{
		key:    key,
		pubkey: Pubkey(base58.Encode(pub)),
	}, nil
}

// Pubkey returns the wallet public key.
func (s *LocalSigner) Pubkey() Pubkey { return s.pubkey }

// SignTransaction signs the message portion of a serialized transaction and
// writes the signature into the wallet's slot. Handles both legacy and
// versioned message formats.
func (s *LocalSigner) SignTransaction(txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("signer: decode transaction: %w", err)
	}

	sigCount, sigOffset, err := decodeCompactU16(raw)
	if err != nil {
		return "", fmt.Errorf("signer: parse signature count: %w", err)
	}
	msgOffset := sigOffset + sigCount*ed25519.SignatureSize
	if msgOffset > len(raw) {
		return "", fmt.Errorf("signer: truncated transaction")
	}
	message := raw[msgOffset:]

	slot, err := s.signerSlot(message, sigCount)
	if err != nil {
		return "", err
	}

	sig := ed25519.Sign(s.key, message)
	copy(raw[sigOffset+slot*ed25519.SignatureSize:], sig)

	return base64.StdEncoding.EncodeToString(raw), nil
}

// signerSlot locates the wallet among the message's required signers.
func (s *LocalSigner) signerSlot(message []byte, sigCount int) (int, error) {
	offset := 0

	// Versioned messages carry a version prefix byte with the high bit set.
	if len(message) > 0 && message[0]&0x80 != 0 {
		offset = 1
	}

	// Message header: 3 bytes, then compact array of account keys.
	offset += 3
	if offset > len(message) {
		return 0, fmt.Errorf("signer: truncated message header")
	}
	keyCount, n, err := decodeCompactU16(message[offset:])
	if err != nil {
		return 0, fmt.Errorf("signer: parse account keys: %w", err)
	}
	offset += n

	want, err := base58.Decode(string(s.pubkey))
	if err != nil {
		return 0, fmt.Errorf("signer: decode own pubkey: %w", err)
	}

	// Required signers occupy the first sigCount key slots.
	for i := 0; i < keyCount && i < sigCount; i++ {
		start := offset + i*32
		if start+32 > len(message) {
			return 0, fmt.Errorf("signer: truncated account keys")
		}
		if string(message[start:start+32]) == string(want) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("signer: wallet %s is not a required signer", s.pubkey)
}

// WatchOnlySigner carries a public key but cannot sign. Used in dry-run
// mode where no transaction is ever built.
type WatchOnlySigner struct {
	pubkey Pubkey
}

// NewWatchOnlySigner creates a signer that refuses to sign.
func NewWatchOnlySigner(pubkey Pubkey) *WatchOnlySigner {
	return &WatchOnlySigner{pubkey: pubkey}
}

func (s *WatchOnlySigner) Pubkey() Pubkey { return s.pubkey }

func (s *WatchOnlySigner) SignTransaction(string) (string, error) {
	return "", fmt.Errorf("signer: watch-only wallet %s cannot sign", s.pubkey)
}

// ---------------------------------------------------------------------------
// Compact-u16 (Solana short-vec) encoding
// ---------------------------------------------------------------------------

func decodeCompactU16(data []byte) (value, bytesRead int, err error) {
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("short buffer")
		}
		b := int(data[i])
		value |= (b & 0x7f) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("compact-u16 too long")
}

func encodeCompactU16(value int) []byte {
	var out []byte
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value == 0 {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}
