package wallet

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func newKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("  0xAbCdEf0123456789abcdef0123456789ABCDEF01 ")
	if err != nil {
		t.Fatalf("NormalizeAddress: %v", err)
	}
	if got != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("unexpected address %s", got)
	}
	for _, bad := range []string{"", "abcdef0123456789abcdef0123456789abcdef01", "0x1234", "0xzzcdef0123456789abcdef0123456789abcdef01"} {
		if _, err := NormalizeAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected ErrInvalidAddress for %q, got %v", bad, err)
		}
	}
}

func TestHashMessageKnownVector(t *testing.T) {
	// keccak256("\x19Ethereum Signed Message:\n5hello")
	const want = "50b2c43fd39106bafbba0da34fc430e1f91e3c96ea2acee2bc34119f92b37750"
	if got := hex.EncodeToString(HashMessage("hello")); got != want {
		t.Fatalf("HashMessage(hello)=%s, want %s", got, want)
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	key := newKey(t)
	addr := AddressOf(key.PubKey())
	msg := "sign in\nNonce: abc"

	sig := Sign(key, msg)
	if err := Verify(strings.ToUpper(addr[:2])+strings.ToUpper(addr[2:]), msg, sig); err != nil {
		t.Fatalf("Verify with upper-cased address: %v", err)
	}

	raw, err := DecodeSignature(sig)
	if err != nil {
		t.Fatalf("DecodeSignature: %v", err)
	}
	if raw[64] > 1 {
		t.Fatalf("expected normalized recovery id, got %d", raw[64])
	}
	got, err := RecoverAddress(msg, raw)
	if err != nil || got != addr {
		t.Fatalf("RecoverAddress=%s,%v want %s", got, err, addr)
	}
}

func TestVerifyRejectsOtherSignerAndMessage(t *testing.T) {
	signer, other := newKey(t), newKey(t)
	msg := "challenge"
	sig := Sign(signer, msg)

	if err := Verify(AddressOf(other.PubKey()), msg, sig); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch for other address, got %v", err)
	}
	if err := Verify(AddressOf(signer.PubKey()), msg+"!", sig); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected mismatch for altered message, got %v", err)
	}
}

func TestDecodeSignatureRejectsMalformed(t *testing.T) {
	cases := []string{"", "0x00", "0x" + strings.Repeat("zz", 65), "0x" + strings.Repeat("11", 64) + "05"}
	for _, c := range cases {
		if _, err := DecodeSignature(c); !errors.Is(err, ErrMalformedSignature) {
			t.Fatalf("expected malformed for %q, got %v", c, err)
		}
	}
}
