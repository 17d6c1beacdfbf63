package orderdigest

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cowprotocol/auctioncore/pkg/domain"
)

// ErrNotECDSARecoverable is returned for signing schemes that carry no
// signature an address can be recovered from: Eip1271 (a smart-contract
// signature, checked on-chain via isValidSignature) and PreSign (the
// owner authorizes the order with a separate on-chain call, not a
// signature at all).
var ErrNotECDSARecoverable = errors.New("orderdigest: signing scheme has no recoverable signature")

// RecoverAddressForScheme recovers the signer's address from digest and
// signature under the order's declared signing scheme. EthSign orders are
// signed over the eth_sign-prefixed digest rather than the raw EIP-712
// digest; Eip1271 and PreSign orders fail with ErrNotECDSARecoverable.
func RecoverAddressForScheme(digest []byte, signature []byte, scheme domain.SigningScheme) (common.Address, error) {
	switch scheme {
	case domain.SigningSchemeEip712:
		return RecoverAddress(digest, signature)
	case domain.SigningSchemeEthSign:
		return RecoverAddress(ethSignDigest(digest), signature)
	case domain.SigningSchemeEip1271, domain.SigningSchemePreSign:
		return common.Address{}, fmt.Errorf("orderdigest: %s order: %w", scheme, ErrNotECDSARecoverable)
	default:
		return common.Address{}, fmt.Errorf("orderdigest: unknown signing scheme %d", scheme)
	}
}

// ethSignDigest re-wraps an EIP-712 digest the way eth_sign/personal_sign
// wraps a message before a wallet signs it, so an EthSign-scheme
// signature recovers against the hash that was actually signed.
func ethSignDigest(digest []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(digest))
	return crypto.Keccak256(append([]byte(prefix), digest...))
}

// RecoverAddress recovers the signer's address from a 32-byte digest and a
// 65-byte [R || S || V] ECDSA signature.
func RecoverAddress(digest []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("orderdigest: invalid signature length: %d", len(signature))
	}
	if len(digest) != 32 {
		return common.Address{}, fmt.Errorf("orderdigest: invalid digest length: %d", len(digest))
	}

	publicKeyBytes, err := crypto.Ecrecover(digest, normalizeRecoveryID(signature))
	if err != nil {
		return common.Address{}, fmt.Errorf("orderdigest: recover public key: %w", err)
	}
	publicKey, err := crypto.UnmarshalPubkey(publicKeyBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("orderdigest: unmarshal public key: %w", err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}

// normalizeRecoveryID rewrites a trailing recovery id of 27/28 (the
// Ethereum JSON-RPC convention) down to the 0/1 crypto.Ecrecover expects,
// leaving an already-normalized signature untouched.
func normalizeRecoveryID(signature []byte) []byte {
	if signature[64] < 27 {
		return signature
	}
	out := append([]byte(nil), signature...)
	out[64] -= 27
	return out
}
