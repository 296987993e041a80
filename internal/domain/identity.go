package domain

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyLen es el largo de una clave pública ed25519 de Solana.
const PublicKeyLen = 32

// ParseIdentity valida que s sea una clave pública base58 de 32 bytes y la
// devuelve en su forma canónica.
func ParseIdentity(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidIdentity, s, err)
	}
	if len(raw) != PublicKeyLen {
		return "", fmt.Errorf("%w: %q decodes to %d bytes, want %d", ErrInvalidIdentity, s, len(raw), PublicKeyLen)
	}
	return base58.Encode(raw), nil
}

// IdentityFromBytes codifica una clave de 32 bytes en base58.
func IdentityFromBytes(b [PublicKeyLen]byte) string {
	return base58.Encode(b[:])
}
