package envelope

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/mishajw/kipa/wire"
)

// PGPKeyStore backs KeyStore with OpenPGP packet primitives from
// ProtonMail/go-crypto: the session key is wrapped as an
// encrypted-key packet addressed to the recipient's public key, and
// signatures are standard OpenPGP signature packets over SHA-256.
type PGPKeyStore struct {
	private *packet.PrivateKey
	resolve func(wire.PublicKey) (*packet.PublicKey, error)
}

// NewPGPKeyStore builds a KeyStore around the local node's private key
// material. resolve maps a peer's canonical PublicKey (as carried on
// the wire) to the OpenPGP public key used to wrap session keys and
// verify that peer's signatures; callers typically back it with a
// directory of already-verified neighbour keys.
func NewPGPKeyStore(private *packet.PrivateKey, resolve func(wire.PublicKey) (*packet.PublicKey, error)) *PGPKeyStore {
	return &PGPKeyStore{private: private, resolve: resolve}
}

func (s *PGPKeyStore) WrapKey(recipientPK wire.PublicKey, symmetricKey []byte) ([]byte, error) {
	pub, err := s.resolve(recipientPK)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient key: %w", err)
	}
	var buf bytes.Buffer
	if err := packet.SerializeEncryptedKey(&buf, pub, packet.CipherAES256, symmetricKey, packetConfig); err != nil {
		return nil, fmt.Errorf("serialize encrypted key: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *PGPKeyStore) UnwrapKey(wrappedKey []byte) ([]byte, error) {
	p, err := packet.Read(bytes.NewReader(wrappedKey))
	if err != nil {
		return nil, fmt.Errorf("read encrypted key packet: %w", err)
	}
	ek, ok := p.(*packet.EncryptedKey)
	if !ok {
		return nil, fmt.Errorf("expected encrypted key packet, got %T", p)
	}
	if err := ek.Decrypt(s.private, packetConfig); err != nil {
		return nil, fmt.Errorf("decrypt session key: %w", err)
	}
	return ek.Key, nil
}

func (s *PGPKeyStore) Sign(data []byte) ([]byte, error) {
	sig := &packet.Signature{
		PubKeyAlgo:   s.private.PubKeyAlgo,
		Hash:         packetConfig.Hash(),
		CreationTime: time.Now(),
	}
	h := sha256.New()
	h.Write(data)
	if err := sig.Sign(h, s.private, packetConfig); err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	var buf bytes.Buffer
	if err := sig.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize signature: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *PGPKeyStore) Verify(signerPK wire.PublicKey, data []byte, sigBytes []byte) error {
	pub, err := s.resolve(signerPK)
	if err != nil {
		return fmt.Errorf("resolve signer key: %w", err)
	}
	p, err := packet.Read(bytes.NewReader(sigBytes))
	if err != nil {
		return fmt.Errorf("read signature packet: %w", err)
	}
	sig, ok := p.(*packet.Signature)
	if !ok {
		return fmt.Errorf("expected signature packet, got %T", p)
	}
	h := sha256.New()
	h.Write(data)
	if err := pub.VerifySignature(h, sig); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}
