// Package wallet recovers and compares Ethereum-style wallet addresses from
// personal_sign signatures.
package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

const (
	addressHexLen  = 40
	signatureLen   = 65
	personalPrefix = "\x19Ethereum Signed Message:\n"
)

var (
	ErrInvalidAddress     = errors.New("wallet: invalid address")
	ErrMalformedSignature = errors.New("wallet: malformed signature")
	ErrSignatureMismatch  = errors.New("wallet: signature does not match address")
)

// NormalizeAddress validates a 0x-prefixed 20 byte hex address and lower-cases it.
func NormalizeAddress(raw string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(addr, "0x") || len(addr) != 2+addressHexLen {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	if _, err := hex.DecodeString(addr[2:]); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	return addr, nil
}

// HashMessage returns keccak256 of the EIP-191 personal message envelope.
func HashMessage(message string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(personalPrefix + strconv.Itoa(len(message)) + message))
	return h.Sum(nil)
}

// DecodeSignature parses a 0x-prefixed r||s||v signature. v may be 0/1 or 27/28.
func DecodeSignature(raw string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	sig, err := hex.DecodeString(s)
	if err != nil || len(sig) != signatureLen {
		return nil, ErrMalformedSignature
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, ErrMalformedSignature
	}
	sig[64] = v
	return sig, nil
}

// RecoverAddress returns the normalized address that produced sig over message.
func RecoverAddress(message string, sig []byte) (string, error) {
	if len(sig) != signatureLen || sig[64] > 1 {
		return "", ErrMalformedSignature
	}
	// decred expects [27+recid] || r || s for uncompressed keys.
	compact := make([]byte, signatureLen)
	compact[0] = 27 + sig[64]
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, HashMessage(message))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	return AddressOf(pub), nil
}

// Verify checks that signature (hex) over message was produced by address.
func Verify(address, message, signature string) error {
	want, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	sig, err := DecodeSignature(signature)
	if err != nil {
		return err
	}
	got, err := RecoverAddress(message, sig)
	if err != nil {
		return err
	}
	if got != want {
		return ErrSignatureMismatch
	}
	return nil
}

// AddressOf derives the lower-case address of a public key.
func AddressOf(pub *secp256k1.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	return "0x" + hex.EncodeToString(h.Sum(nil)[12:])
}

// Sign produces a personal_sign style signature (v = 27/28) for message.
// Used by dev tooling and tests; the service never holds private keys.
func Sign(key *secp256k1.PrivateKey, message string) string {
	compact := ecdsa.SignCompact(key, HashMessage(message), false)
	sig := make([]byte, signatureLen)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig)
}
