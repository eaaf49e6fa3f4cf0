// Package wire defines the data model exchanged between KIPA nodes:
// keys, addresses, messages and their payloads (spec.md §3).
package wire

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"

	"github.com/mishajw/kipa/keyspace"
)

// PublicKey is an opaque byte sequence with a stable canonical encoding.
// Two keys are equal iff their canonical encodings are equal. The
// canonical encoding is a serialized OpenPGP public-key packet, so any
// node holding a PublicKey can resolve it to cryptographic material
// without a separate lookup (see envelope.ResolvePublicKeyPacket).
type PublicKey struct {
	canonical []byte
}

// NewPublicKey wraps an already-canonical encoding.
func NewPublicKey(canonical []byte) PublicKey {
	cp := make([]byte, len(canonical))
	copy(cp, canonical)
	return PublicKey{canonical: cp}
}

// Canonical returns the key's canonical byte encoding.
func (k PublicKey) Canonical() []byte {
	cp := make([]byte, len(k.canonical))
	copy(cp, k.canonical)
	return cp
}

// Equal reports whether two keys have equal canonical encodings.
func (k PublicKey) Equal(other PublicKey) bool {
	if len(k.canonical) != len(other.canonical) {
		return false
	}
	for i := range k.canonical {
		if k.canonical[i] != other.canonical[i] {
			return false
		}
	}
	return true
}

// Hash returns H(k), used as both NodeID and key-space seed.
func (k PublicKey) Hash() keyspace.Hash {
	return keyspace.HashKey(k.canonical)
}

// Coord returns coord(k), the key's key-space embedding.
func (k PublicKey) Coord() keyspace.Coord {
	return keyspace.FromHash(k.Hash())
}

// String renders a short hex preview, never the full key material.
func (k PublicKey) String() string {
	h := k.Hash()
	return hex.EncodeToString(h[:4])
}

// NodeID identifies a node: H(its public key).
type NodeID = keyspace.Hash

// Address is a node's reachable endpoint. It is never trusted until the
// owning key has been verified at that address (spec.md §3).
type Address struct {
	Host net.IP
	Port uint16
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host.String(), strconv.Itoa(int(a.Port)))
}

// Node is the tuple (PublicKey, Address). Equality is by PublicKey only.
type Node struct {
	Key     PublicKey
	Address Address
}

// ID returns the node's NodeID, H(Key).
func (n Node) ID() NodeID {
	return n.Key.Hash()
}

// Equal compares nodes by PublicKey only, per spec.md §3.
func (n Node) Equal(other Node) bool {
	return n.Key.Equal(other.Key)
}

// MessageID is 128 random bits, generated fresh per outbound request and
// echoed verbatim in the matching response; treated as a one-shot nonce.
type MessageID [16]byte

// NewMessageID generates a fresh random MessageID.
func NewMessageID() MessageID {
	var m MessageID
	if _, err := rand.Read(m[:]); err != nil {
		panic(fmt.Sprintf("wire: generate message id: %v", err))
	}
	return m
}

func (m MessageID) String() string {
	return uuid.UUID(m).String()
}

// PayloadKind discriminates RequestPayload/ResponsePayload variants.
type PayloadKind uint8

const (
	KindQueryNeighbours PayloadKind = iota + 1
	KindSearch
	KindConnect
	KindVerify
	KindListNeighbours

	KindNeighbours
	KindSearchResult
	KindConnected
	KindVerified
	KindError
)

// RequestPayload is a tagged union over the five request variants defined
// in spec.md §3.
type RequestPayload struct {
	Kind PayloadKind

	// QueryNeighbours
	Target keyspace.Coord

	// Search
	TargetKey PublicKey

	// Connect
	Initial Node
}

// ResponsePayload is a tagged union over the five response variants.
type ResponsePayload struct {
	Kind PayloadKind

	// Neighbours (QueryNeighbours / ListNeighbours)
	Nodes []Node

	// SearchResult
	Found *Node

	// Error carries a message-level error signal when Kind == KindError.
	ErrorText string
}

// RequestBody is the plaintext sealed inside a RequestMessage.
type RequestBody struct {
	ID      MessageID
	Payload RequestPayload
}

// ResponseBody is the plaintext sealed inside a ResponseMessage.
type ResponseBody struct {
	ID      MessageID
	Payload ResponsePayload
}

// SealedBlob is the output of SecureEnvelope.Seal: a wrapped symmetric
// key, an AEAD ciphertext, and a signature over both (spec.md §4.C).
type SealedBlob struct {
	WrappedKey []byte
	Ciphertext []byte
	Signature  []byte
}

// RequestMessage is the over-the-wire request envelope.
type RequestMessage struct {
	Sender Node
	Body   SealedBlob
}

// ResponseMessage is the over-the-wire response envelope.
type ResponseMessage struct {
	Body SealedBlob
}
