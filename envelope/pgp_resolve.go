package envelope

import (
	"bytes"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp/packet"

	"github.com/mishajw/kipa/wire"
)

// ResolvePublicKeyPacket parses a wire.PublicKey's canonical encoding as
// a serialized OpenPGP public-key packet. This is the canonical
// encoding every node uses (see wire.PublicKey's doc comment), so it
// requires no lookup directory: any peer's self-reported key carries
// its own OpenPGP material inline.
func ResolvePublicKeyPacket(pk wire.PublicKey) (*packet.PublicKey, error) {
	p, err := packet.Read(bytes.NewReader(pk.Canonical()))
	if err != nil {
		return nil, fmt.Errorf("envelope: parse public key packet: %w", err)
	}
	pub, ok := p.(*packet.PublicKey)
	if !ok {
		return nil, fmt.Errorf("envelope: expected public key packet, got %T", p)
	}
	return pub, nil
}
