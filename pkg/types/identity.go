package types

import (
	"encoding/hex"
	"fmt"
)

const IdentityLength = 32

// Identity is a fixed-width account identity on the ledger. It is used for
// validator identities, vote accounts, stake accounts and program addresses
// alike. Identities are compared as values, never as strings.
type Identity [IdentityLength]byte

var ZeroIdentity = Identity{}

func ParseIdentity(s string) (Identity, error) {
	var id Identity
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("failed to parse identity %q: %w", s, err)
	}
	if len(b) != IdentityLength {
		return id, fmt.Errorf("failed to parse identity %q: expected %d bytes, got %d", s, IdentityLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// MustParseIdentity panics on malformed input. Intended for tests and
// hard-coded program addresses.
func MustParseIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

func IdentityFromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentityLength {
		return id, fmt.Errorf("failed to parse identity: expected %d bytes, got %d", IdentityLength, len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (i Identity) String() string {
	return hex.EncodeToString(i[:])
}

// Short returns a truncated identity for log lines.
func (i Identity) Short() string {
	s := i.String()
	return s[:8]
}

func (i Identity) Bytes() []byte {
	out := make([]byte, IdentityLength)
	copy(out, i[:])
	return out
}

func (i Identity) IsZero() bool {
	return i == ZeroIdentity
}

func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Identity) UnmarshalText(text []byte) error {
	id, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = id
	return nil
}
