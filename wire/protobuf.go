package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mishajw/kipa/keyspace"
)

// ProtobufCodec implements Codec directly on top of the protobuf wire
// format primitives (google.golang.org/protobuf/encoding/protowire):
// varint tags, length-delimited submessages, no .proto compilation step.
// The field layout mirrors the schema in spec.md §6.
type ProtobufCodec struct{}

// NewProtobufCodec returns the reference Codec implementation.
func NewProtobufCodec() ProtobufCodec { return ProtobufCodec{} }

const (
	fieldMessageRequest  protowire.Number = 1
	fieldMessageResponse protowire.Number = 2

	fieldRequestSender     protowire.Number = 1
	fieldRequestSealedBody protowire.Number = 2

	fieldResponseSealedBody protowire.Number = 1

	fieldNodeKey     protowire.Number = 1
	fieldNodeAddress protowire.Number = 2

	fieldAddressHost protowire.Number = 1
	fieldAddressPort protowire.Number = 2

	fieldSealedWrappedKey protowire.Number = 1
	fieldSealedCiphertext protowire.Number = 2
	fieldSealedSignature  protowire.Number = 3

	fieldBodyID      protowire.Number = 1
	fieldBodyPayload protowire.Number = 2

	fieldReqPayloadKind      protowire.Number = 1
	fieldReqPayloadTarget    protowire.Number = 2
	fieldReqPayloadTargetKey protowire.Number = 3
	fieldReqPayloadInitial   protowire.Number = 4

	fieldRespPayloadKind  protowire.Number = 1
	fieldRespPayloadNodes protowire.Number = 2
	fieldRespPayloadFound protowire.Number = 3
	fieldRespPayloadError protowire.Number = 4
)

func (ProtobufCodec) EncodeRequest(m RequestMessage) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldMessageRequest, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeRequestMessage(m))
	return b, nil
}

func (ProtobufCodec) DecodeRequest(data []byte) (RequestMessage, error) {
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return RequestMessage{}, fmt.Errorf("wire: bad message tag: %w", protowire.ParseError(n))
	}
	if num != fieldMessageRequest || typ != protowire.BytesType {
		return RequestMessage{}, fmt.Errorf("wire: expected Request field, got field %d", num)
	}
	inner, m := protowire.ConsumeBytes(data[n:])
	if m < 0 {
		return RequestMessage{}, fmt.Errorf("wire: bad Request bytes: %w", protowire.ParseError(m))
	}
	return decodeRequestMessage(inner)
}

func (ProtobufCodec) EncodeResponse(m ResponseMessage) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldMessageResponse, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeResponseMessage(m))
	return b, nil
}

func (ProtobufCodec) DecodeResponse(data []byte) (ResponseMessage, error) {
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return ResponseMessage{}, fmt.Errorf("wire: bad message tag: %w", protowire.ParseError(n))
	}
	if num != fieldMessageResponse || typ != protowire.BytesType {
		return ResponseMessage{}, fmt.Errorf("wire: expected Response field, got field %d", num)
	}
	inner, m := protowire.ConsumeBytes(data[n:])
	if m < 0 {
		return ResponseMessage{}, fmt.Errorf("wire: bad Response bytes: %w", protowire.ParseError(m))
	}
	return decodeResponseMessage(inner)
}

func encodeRequestMessage(m RequestMessage) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRequestSender, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeNode(m.Sender))
	b = protowire.AppendTag(b, fieldRequestSealedBody, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeSealed(m.Body))
	return b
}

func decodeRequestMessage(data []byte) (RequestMessage, error) {
	var m RequestMessage
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, fmt.Errorf("wire: bad RequestMessage tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldRequestSender && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, fmt.Errorf("wire: bad sender: %w", protowire.ParseError(n))
			}
			node, err := decodeNode(v)
			if err != nil {
				return m, err
			}
			m.Sender = node
			data = data[n:]
		case num == fieldRequestSealedBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, fmt.Errorf("wire: bad sealed body: %w", protowire.ParseError(n))
			}
			sealed, err := decodeSealed(v)
			if err != nil {
				return m, err
			}
			m.Body = sealed
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return m, fmt.Errorf("wire: bad unknown field: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return m, nil
}

func encodeResponseMessage(m ResponseMessage) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldResponseSealedBody, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeSealed(m.Body))
	return b
}

func decodeResponseMessage(data []byte) (ResponseMessage, error) {
	var m ResponseMessage
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return m, fmt.Errorf("wire: bad ResponseMessage tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldResponseSealedBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return m, fmt.Errorf("wire: bad sealed body: %w", protowire.ParseError(n))
			}
			sealed, err := decodeSealed(v)
			if err != nil {
				return m, err
			}
			m.Body = sealed
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return m, fmt.Errorf("wire: bad unknown field: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return m, nil
}

func encodeNode(n Node) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldNodeKey, protowire.BytesType)
	b = protowire.AppendBytes(b, n.Key.Canonical())
	b = protowire.AppendTag(b, fieldNodeAddress, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeAddress(n.Address))
	return b
}

func decodeNode(data []byte) (Node, error) {
	var n Node
	for len(data) > 0 {
		num, typ, tn := protowire.ConsumeTag(data)
		if tn < 0 {
			return n, fmt.Errorf("wire: bad Node tag: %w", protowire.ParseError(tn))
		}
		data = data[tn:]
		switch {
		case num == fieldNodeKey && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return n, fmt.Errorf("wire: bad Node key: %w", protowire.ParseError(m))
			}
			n.Key = NewPublicKey(v)
			data = data[m:]
		case num == fieldNodeAddress && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return n, fmt.Errorf("wire: bad Node address: %w", protowire.ParseError(m))
			}
			addr, err := decodeAddress(v)
			if err != nil {
				return n, err
			}
			n.Address = addr
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return n, fmt.Errorf("wire: bad unknown Node field: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return n, nil
}

func encodeAddress(a Address) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldAddressHost, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(a.Host))
	b = protowire.AppendTag(b, fieldAddressPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Port))
	return b
}

func decodeAddress(data []byte) (Address, error) {
	var a Address
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return a, fmt.Errorf("wire: bad Address tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldAddressHost && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return a, fmt.Errorf("wire: bad Address host: %w", protowire.ParseError(m))
			}
			a.Host = net.IP(append([]byte(nil), v...))
			data = data[m:]
		case num == fieldAddressPort && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return a, fmt.Errorf("wire: bad Address port: %w", protowire.ParseError(m))
			}
			a.Port = uint16(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return a, fmt.Errorf("wire: bad unknown Address field: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return a, nil
}

func encodeSealed(s SealedBlob) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSealedWrappedKey, protowire.BytesType)
	b = protowire.AppendBytes(b, s.WrappedKey)
	b = protowire.AppendTag(b, fieldSealedCiphertext, protowire.BytesType)
	b = protowire.AppendBytes(b, s.Ciphertext)
	b = protowire.AppendTag(b, fieldSealedSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, s.Signature)
	return b
}

func decodeSealed(data []byte) (SealedBlob, error) {
	var s SealedBlob
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, fmt.Errorf("wire: bad SealedBlob tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		var v []byte
		var m int
		switch num {
		case fieldSealedWrappedKey:
			v, m = protowire.ConsumeBytes(data)
			s.WrappedKey = append([]byte(nil), v...)
		case fieldSealedCiphertext:
			v, m = protowire.ConsumeBytes(data)
			s.Ciphertext = append([]byte(nil), v...)
		case fieldSealedSignature:
			v, m = protowire.ConsumeBytes(data)
			s.Signature = append([]byte(nil), v...)
		default:
			m = protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return s, fmt.Errorf("wire: bad unknown SealedBlob field: %w", protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}
		if m < 0 {
			return s, fmt.Errorf("wire: bad SealedBlob field %d: %w", num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return s, nil
}

// EncodeRequestBody and EncodeResponseBody are exported because
// SecureEnvelope seals/opens the plaintext body independently of the
// outer Request/Response envelope (spec.md §4.C, §4.D).

func EncodeRequestBody(b RequestBody) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldBodyID, protowire.BytesType)
	out = protowire.AppendBytes(out, b.ID[:])
	out = protowire.AppendTag(out, fieldBodyPayload, protowire.BytesType)
	out = protowire.AppendBytes(out, encodeRequestPayload(b.Payload))
	return out
}

func DecodeRequestBody(data []byte) (RequestBody, error) {
	var b RequestBody
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return b, fmt.Errorf("wire: bad RequestBody tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldBodyID && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 || len(v) != len(b.ID) {
				return b, fmt.Errorf("wire: bad RequestBody id")
			}
			copy(b.ID[:], v)
			data = data[m:]
		case num == fieldBodyPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return b, fmt.Errorf("wire: bad RequestBody payload: %w", protowire.ParseError(m))
			}
			p, err := decodeRequestPayload(v)
			if err != nil {
				return b, err
			}
			b.Payload = p
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return b, fmt.Errorf("wire: bad unknown RequestBody field: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return b, nil
}

func EncodeResponseBody(b ResponseBody) []byte {
	var out []byte
	out = protowire.AppendTag(out, fieldBodyID, protowire.BytesType)
	out = protowire.AppendBytes(out, b.ID[:])
	out = protowire.AppendTag(out, fieldBodyPayload, protowire.BytesType)
	out = protowire.AppendBytes(out, encodeResponsePayload(b.Payload))
	return out
}

func DecodeResponseBody(data []byte) (ResponseBody, error) {
	var b ResponseBody
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return b, fmt.Errorf("wire: bad ResponseBody tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldBodyID && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 || len(v) != len(b.ID) {
				return b, fmt.Errorf("wire: bad ResponseBody id")
			}
			copy(b.ID[:], v)
			data = data[m:]
		case num == fieldBodyPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return b, fmt.Errorf("wire: bad ResponseBody payload: %w", protowire.ParseError(m))
			}
			p, err := decodeResponsePayload(v)
			if err != nil {
				return b, err
			}
			b.Payload = p
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return b, fmt.Errorf("wire: bad unknown ResponseBody field: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return b, nil
}

func encodeRequestPayload(p RequestPayload) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldReqPayloadKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Kind))
	switch p.Kind {
	case KindQueryNeighbours:
		b = protowire.AppendTag(b, fieldReqPayloadTarget, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeCoord(p.Target))
	case KindSearch:
		b = protowire.AppendTag(b, fieldReqPayloadTargetKey, protowire.BytesType)
		b = protowire.AppendBytes(b, p.TargetKey.Canonical())
	case KindConnect:
		b = protowire.AppendTag(b, fieldReqPayloadInitial, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeNode(p.Initial))
	}
	return b
}

func decodeRequestPayload(data []byte) (RequestPayload, error) {
	var p RequestPayload
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, fmt.Errorf("wire: bad RequestPayload tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldReqPayloadKind && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return p, fmt.Errorf("wire: bad RequestPayload kind: %w", protowire.ParseError(m))
			}
			p.Kind = PayloadKind(v)
			data = data[m:]
		case num == fieldReqPayloadTarget && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return p, fmt.Errorf("wire: bad RequestPayload target: %w", protowire.ParseError(m))
			}
			c, err := decodeCoord(v)
			if err != nil {
				return p, err
			}
			p.Target = c
			data = data[m:]
		case num == fieldReqPayloadTargetKey && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return p, fmt.Errorf("wire: bad RequestPayload target_key: %w", protowire.ParseError(m))
			}
			p.TargetKey = NewPublicKey(v)
			data = data[m:]
		case num == fieldReqPayloadInitial && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return p, fmt.Errorf("wire: bad RequestPayload initial: %w", protowire.ParseError(m))
			}
			node, err := decodeNode(v)
			if err != nil {
				return p, err
			}
			p.Initial = node
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return p, fmt.Errorf("wire: bad unknown RequestPayload field: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return p, nil
}

func encodeResponsePayload(p ResponsePayload) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRespPayloadKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Kind))
	switch p.Kind {
	case KindNeighbours:
		for _, node := range p.Nodes {
			b = protowire.AppendTag(b, fieldRespPayloadNodes, protowire.BytesType)
			b = protowire.AppendBytes(b, encodeNode(node))
		}
	case KindSearchResult:
		if p.Found != nil {
			b = protowire.AppendTag(b, fieldRespPayloadFound, protowire.BytesType)
			b = protowire.AppendBytes(b, encodeNode(*p.Found))
		}
	case KindError:
		b = protowire.AppendTag(b, fieldRespPayloadError, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(p.ErrorText))
	}
	return b
}

func decodeResponsePayload(data []byte) (ResponsePayload, error) {
	var p ResponsePayload
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return p, fmt.Errorf("wire: bad ResponsePayload tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldRespPayloadKind && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return p, fmt.Errorf("wire: bad ResponsePayload kind: %w", protowire.ParseError(m))
			}
			p.Kind = PayloadKind(v)
			data = data[m:]
		case num == fieldRespPayloadNodes && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return p, fmt.Errorf("wire: bad ResponsePayload node: %w", protowire.ParseError(m))
			}
			node, err := decodeNode(v)
			if err != nil {
				return p, err
			}
			p.Nodes = append(p.Nodes, node)
			data = data[m:]
		case num == fieldRespPayloadFound && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return p, fmt.Errorf("wire: bad ResponsePayload found: %w", protowire.ParseError(m))
			}
			node, err := decodeNode(v)
			if err != nil {
				return p, err
			}
			p.Found = &node
			data = data[m:]
		case num == fieldRespPayloadError && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return p, fmt.Errorf("wire: bad ResponsePayload error: %w", protowire.ParseError(m))
			}
			p.ErrorText = string(v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return p, fmt.Errorf("wire: bad unknown ResponsePayload field: %w", protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return p, nil
}

// encodeCoord packs a KeySpaceCoord as Dimensions consecutive big-endian
// float64 values, which protowire treats as an opaque length-delimited
// field.
func encodeCoord(c keyspace.Coord) []byte {
	out := make([]byte, 0, keyspace.Dimensions*8)
	for _, v := range c {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
		out = append(out, buf[:]...)
	}
	return out
}

func decodeCoord(data []byte) (keyspace.Coord, error) {
	var c keyspace.Coord
	if len(data) != keyspace.Dimensions*8 {
		return c, fmt.Errorf("wire: bad coord length %d", len(data))
	}
	for i := range c {
		bits := binary.BigEndian.Uint64(data[i*8 : i*8+8])
		c[i] = math.Float64frombits(bits)
	}
	return c, nil
}
