// Package envelope implements SecureEnvelope: encrypt-then-sign framing
// for request/response bodies exchanged between nodes (spec.md §4.C).
package envelope

import (
	"crypto"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mishajw/kipa/wire"
)

// Sentinel errors for envelope failures, mirroring the teacher's practice of
// naming every reply-validation failure its own wrapped sentinel
// (p2p/discover/v4_udp.go's errExpired/errUnsolicitedReply/...). Open
// returns ErrBadSignature and ErrDecryptFail; it does not deserialize the
// body, so it never returns ErrMalformedBody.
var (
	ErrBadSignature  = errors.New("envelope: signature verification failed")
	ErrDecryptFail   = errors.New("envelope: decryption failed")
	ErrMalformedBody = errors.New("envelope: malformed body")
)

// KeyStore resolves a node's own signing/decryption material and verifies
// incoming signatures against a claimed sender's public key. A real
// deployment backs this with OpenPGP key material; Seal/Open only need
// these four operations.
type KeyStore interface {
	// WrapKey encrypts a fresh symmetric key to recipientPK.
	WrapKey(recipientPK wire.PublicKey, symmetricKey []byte) ([]byte, error)
	// UnwrapKey decrypts a symmetric key using the local secret key.
	UnwrapKey(wrappedKey []byte) ([]byte, error)
	// Sign signs data with the local secret key.
	Sign(data []byte) ([]byte, error)
	// Verify checks sig over data against signerPK.
	Verify(signerPK wire.PublicKey, data []byte, sig []byte) error
}

// Seal implements SecureEnvelope.Seal (spec.md §4.C): generate a fresh
// AEAD key, encrypt the body under it, wrap the key to the recipient,
// and sign ciphertext‖wrappedKey with the sender's key.
func Seal(ks KeyStore, plaintext []byte, recipientPK wire.PublicKey) (wire.SealedBlob, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return wire.SealedBlob{}, fmt.Errorf("envelope: generate key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return wire.SealedBlob{}, fmt.Errorf("envelope: init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return wire.SealedBlob{}, fmt.Errorf("envelope: generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)

	wrappedKey, err := ks.WrapKey(recipientPK, key)
	if err != nil {
		return wire.SealedBlob{}, fmt.Errorf("envelope: wrap key: %w", err)
	}

	sig, err := ks.Sign(signedBytes(ciphertext, wrappedKey))
	if err != nil {
		return wire.SealedBlob{}, fmt.Errorf("envelope: sign: %w", err)
	}

	return wire.SealedBlob{
		WrappedKey: wrappedKey,
		Ciphertext: ciphertext,
		Signature:  sig,
	}, nil
}

// Open implements SecureEnvelope.Open (spec.md §4.C): verify the
// signature, unwrap the symmetric key, and decrypt the body, in that
// order, each with its own sentinel failure.
func Open(ks KeyStore, blob wire.SealedBlob, claimedSenderPK wire.PublicKey) ([]byte, error) {
	if err := ks.Verify(claimedSenderPK, signedBytes(blob.Ciphertext, blob.WrappedKey), blob.Signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	key, err := ks.UnwrapKey(blob.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: unwrap: %v", ErrDecryptFail, err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: init aead: %v", ErrDecryptFail, err)
	}
	if len(blob.Ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptFail)
	}
	nonce, sealed := blob.Ciphertext[:aead.NonceSize()], blob.Ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFail, err)
	}
	return plaintext, nil
}

// signedBytes is the exact byte sequence the signature covers:
// ciphertext‖wrappedKey, per spec.md §4.C step 5.
func signedBytes(ciphertext, wrappedKey []byte) []byte {
	out := make([]byte, 0, len(ciphertext)+len(wrappedKey))
	out = append(out, ciphertext...)
	out = append(out, wrappedKey...)
	return out
}

// packetConfig is shared by OpenPGP-backed KeyStore implementations so
// every node in a deployment negotiates the same cipher preferences.
var packetConfig = &packet.Config{
	DefaultCipher: packet.CipherAES256,
	DefaultHash:   crypto.SHA256,
}
