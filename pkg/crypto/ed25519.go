package crypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/AlysCarillo/solana-polling-station/pkg/types"
)

// VerifySignature verifies a single Ed25519 signature.
// Returns false if the public key or signature have invalid lengths.
func VerifySignature(pubkey, message, signature []byte) bool {
	if len(pubkey) != PublicKeySize {
		return false
	}
	if len(signature) != SignatureSize {
		return false
	}
	return ed25519.Verify(pubkey, message, signature)
}

// VerifySignatureStrict is like VerifySignature but returns an error
// with details about why verification failed.
func VerifySignatureStrict(pubkey, message, signature []byte) error {
	if len(pubkey) != PublicKeySize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(pubkey))
	}
	if len(signature) != SignatureSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureSize, len(signature))
	}
	if !ed25519.Verify(pubkey, message, signature) {
		return ErrVerificationFailed
	}
	return nil
}

// VerifyTransaction verifies all signatures in a transaction.
// It serializes the message and verifies each signature against the
// corresponding signer's public key.
func VerifyTransaction(tx *types.Transaction) error {
	if tx == nil {
		return ErrMissingMessage
	}

	numSignatures := len(tx.Signatures)
	if numSignatures == 0 {
		return ErrNoSignatures
	}

	numRequired := int(tx.Message.Header.NumRequiredSignatures)
	if numSignatures != numRequired {
		return fmt.Errorf("%w: expected %d signatures, got %d",
			ErrSignatureCountMismatch, numRequired, numSignatures)
	}

	messageBytes, err := tx.Message.Serialize()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMessageSerializationFailed, err)
	}

	accountKeys := tx.Message.AccountKeys
	if len(accountKeys) < numSignatures {
		return fmt.Errorf("%w: not enough account keys for signatures",
			ErrInvalidSignerIndex)
	}

	for i := 0; i < numSignatures; i++ {
		pubkey := accountKeys[i]
		signature := tx.Signatures[i]

		if !ed25519.Verify(pubkey[:], messageBytes, signature[:]) {
			return &TransactionVerificationError{
				SignatureIndex: i,
				SignerPubkey:   pubkey.String(),
				Err:            ErrVerificationFailed,
			}
		}
	}

	return nil
}

// MessageSigner produces a signature over serialized message bytes.
type MessageSigner interface {
	PublicKey() types.Pubkey
	Sign(message []byte) (types.Signature, error)
}

// SignTransaction builds a signed transaction from msg. Every required signer
// of the message must be present in signers.
func SignTransaction(msg *types.Message, signers ...MessageSigner) (*types.Transaction, error) {
	if msg == nil {
		return nil, ErrMissingMessage
	}

	messageBytes, err := msg.Serialize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageSerializationFailed, err)
	}

	byKey := make(map[types.Pubkey]MessageSigner, len(signers))
	for _, s := range signers {
		byKey[s.PublicKey()] = s
	}

	required := msg.Signers()
	tx := &types.Transaction{
		Signatures: make([]types.Signature, len(required)),
		Message:    *msg,
	}
	for i, pk := range required {
		s, ok := byKey[pk]
		if !ok {
			return nil, fmt.Errorf("%w: missing signer %s", ErrSignerMismatch, pk)
		}
		sig, err := s.Sign(messageBytes)
		if err != nil {
			return nil, fmt.Errorf("sign for %s: %w", pk, err)
		}
		tx.Signatures[i] = sig
	}

	return tx, nil
}
