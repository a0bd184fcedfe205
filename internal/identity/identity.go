// Package identity generates the short random identifiers a new
// ComposeStack needs: its hash_prefix (used for service-name prefixing, spec.md
// §4.3) and its deploy_token, grounded on internal/resolver's CSPRNG-backed
// random-string helpers.
package identity

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const hashPrefixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const hashPrefixLength = 8

// NewHashPrefix returns a fresh 8-character lowercase-alnum hash prefix.
func NewHashPrefix() string {
	out := make([]byte, hashPrefixLength)
	for i := range out {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(hashPrefixAlphabet))))
		out[i] = hashPrefixAlphabet[idx.Int64()]
	}
	return string(out)
}

// NewDeployToken returns a fresh opaque deploy token.
func NewDeployToken() string {
	return uuid.NewString()
}

// NewNetworkAliasPrefix returns a fresh env-network alias prefix for a new
// stack. Unlike hash_prefix, this value is stable across the Environment
// Cloner's clones of a stack (spec.md §4.7 point 3: "same slug and
// network_alias_prefix").
func NewNetworkAliasPrefix() string {
	return NewHashPrefix()
}
