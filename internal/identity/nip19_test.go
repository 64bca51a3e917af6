package identity_test

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/fitbounty/fitbounty/internal/identity"
)

const (
	vectorNpub = "npub10elfcs4fr0l0r8af98jlmgdh9c8tcxjvz9qkw038js35mp4dma8qzvjptg"
	vectorHex  = "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e"
)

func TestDecodeProfileKey_npub(t *testing.T) {
	for _, in := range []string{vectorNpub, "nostr:" + vectorNpub, "@" + vectorNpub} {
		got, err := identity.DecodeProfileKey(in)
		if err != nil {
			t.Fatalf("DecodeProfileKey(%q) error: %v", in, err)
		}
		if got != vectorHex {
			t.Errorf("DecodeProfileKey(%q) = %q, want %q", in, got, vectorHex)
		}
	}
}

func TestEncodePublicKey_roundTrip(t *testing.T) {
	npub, err := identity.EncodePublicKey(vectorHex)
	if err != nil {
		t.Fatalf("EncodePublicKey() error: %v", err)
	}
	if npub != vectorNpub {
		t.Errorf("EncodePublicKey() = %q, want %q", npub, vectorNpub)
	}
}

func TestDecodeProfileKey_nprofile(t *testing.T) {
	key, _ := hex.DecodeString(vectorHex)
	relay := []byte("wss://relay.example.com")

	// TLV: relay entry first, then the public key.
	payload := append([]byte{1, byte(len(relay))}, relay...)
	payload = append(payload, 0, 32)
	payload = append(payload, key...)

	conv, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		t.Fatal(err)
	}
	token, err := bech32.Encode("nprofile", conv)
	if err != nil {
		t.Fatal(err)
	}

	got, err := identity.DecodeProfileKey("nostr:" + token)
	if err != nil {
		t.Fatalf("DecodeProfileKey() error: %v", err)
	}
	if got != vectorHex {
		t.Errorf("got %q, want %q", got, vectorHex)
	}
}

func TestDecodeProfileKey_invalid(t *testing.T) {
	cases := []string{"", "alice", "npub1qqqq", vectorNpub[:len(vectorNpub)-1] + "x"}
	for _, in := range cases {
		if _, err := identity.DecodeProfileKey(in); !errors.Is(err, identity.ErrInvalidProfile) {
			t.Errorf("DecodeProfileKey(%q): expected ErrInvalidProfile, got %v", in, err)
		}
	}
}

func TestIsProfileToken(t *testing.T) {
	cases := map[string]bool{
		vectorNpub:            true,
		"nostr:nprofile1abc":  true,
		"@" + vectorNpub:      true,
		"alice":               false,
		"npubby":              false,
	}
	for in, want := range cases {
		if got := identity.IsProfileToken(in); got != want {
			t.Errorf("IsProfileToken(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsHexKey(t *testing.T) {
	if !identity.IsHexKey(vectorHex) {
		t.Error("expected vector to be a hex key")
	}
	if identity.IsHexKey(vectorHex[:63]) {
		t.Error("63 chars must not be a hex key")
	}
	if identity.IsHexKey("zz" + vectorHex[2:]) {
		t.Error("non-hex chars must not be a hex key")
	}
}
