package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// ErrInvalidProfile is returned when a token cannot be decoded into a public key.
var ErrInvalidProfile = errors.New("invalid network profile token")

const (
	hrpPublicKey = "npub"
	hrpProfile   = "nprofile"

	// tlvSpecial carries the 32-byte public key inside an nprofile payload.
	tlvSpecial = 0
)

// IsProfileToken reports whether s looks like a self-describing network
// identity (npub or nprofile), with or without the "nostr:" URI prefix.
func IsProfileToken(s string) bool {
	s = trimProfile(s)
	return strings.HasPrefix(s, hrpPublicKey+"1") || strings.HasPrefix(s, hrpProfile+"1")
}

// DecodeProfileKey returns the hex-encoded public key carried by an npub or
// nprofile token.
func DecodeProfileKey(token string) (string, error) {
	hrp, data, err := bech32.DecodeNoLimit(trimProfile(token))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	switch hrp {
	case hrpPublicKey:
		if len(raw) != 32 {
			return "", fmt.Errorf("%w: npub payload is %d bytes", ErrInvalidProfile, len(raw))
		}
		return hex.EncodeToString(raw), nil
	case hrpProfile:
		for len(raw) >= 2 {
			typ, size := raw[0], int(raw[1])
			if len(raw) < 2+size {
				return "", fmt.Errorf("%w: truncated nprofile entry", ErrInvalidProfile)
			}
			if typ == tlvSpecial && size == 32 {
				return hex.EncodeToString(raw[2 : 2+size]), nil
			}
			raw = raw[2+size:]
		}
		return "", fmt.Errorf("%w: nprofile has no public key", ErrInvalidProfile)
	default:
		return "", fmt.Errorf("%w: unexpected prefix %q", ErrInvalidProfile, hrp)
	}
}

// EncodePublicKey converts a hex public key into its npub form.
func EncodePublicKey(hexKey string) (string, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: public key must be 32 hex-encoded bytes", ErrInvalidProfile)
	}
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	return bech32.Encode(hrpPublicKey, conv)
}

// IsHexKey reports whether s is a 64-character hex public key.
func IsHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func trimProfile(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "@")
	return strings.TrimPrefix(s, "nostr:")
}
