// Package router implements MessageRouter: issuing a request to a peer
// and correlating it with the matching response (spec.md §4.D).
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/mishajw/kipa/envelope"
	"github.com/mishajw/kipa/transport"
	"github.com/mishajw/kipa/wire"
)

// Sentinel errors returned by Call, named the way the teacher names
// every distinct reply-validation failure (p2p/discover/v4_udp.go's
// errTimeout/errUnsolicitedReply/errClosed).
var (
	ErrTimeout           = errors.New("router: timed out waiting for reply")
	ErrIDMismatch        = errors.New("router: response id does not match request id")
	ErrUnexpectedPayload = errors.New("router: response payload kind does not match request")
	ErrRemote            = errors.New("router: peer returned an error response")
)

// pendingIDCapacity bounds Router.pending, the LRU of outstanding outbound MessageIds the
// replay-protection rule in spec.md §4.C refers to: any response id not
// found here is dropped with ErrIDMismatch.
const pendingIDCapacity = 4096

// Router implements MessageRouter. It is safe for concurrent use.
type Router struct {
	self      wire.Node
	codec     wire.Codec
	keyStore  envelope.KeyStore
	transport transport.Transport
	logger    *zap.Logger

	mu      sync.Mutex
	pending *lru.Cache[wire.MessageID, struct{}]
	errors  map[string]uint
}

// New constructs a Router for the local node, using codec for wire
// (de)serialization, keyStore for sealing/opening envelopes, and t to
// move bytes.
func New(self wire.Node, codec wire.Codec, keyStore envelope.KeyStore, t transport.Transport, logger *zap.Logger) *Router {
	pending, err := lru.New[wire.MessageID, struct{}](pendingIDCapacity)
	if err != nil {
		// Only fails for non-positive capacity, a programmer error.
		panic(fmt.Sprintf("router: %v", err))
	}
	return &Router{
		self:      self,
		codec:     codec,
		keyStore:  keyStore,
		transport: t,
		logger:    logger,
		pending:   pending,
		errors:    map[string]uint{},
	}
}

// Call implements MessageRouter's outbound call: seal a fresh request
// to peer, submit it over the transport, and open+validate the single
// reply frame (spec.md §4.D).
func (r *Router) Call(ctx context.Context, peer wire.Node, payload wire.RequestPayload, timeout time.Duration) (wire.ResponsePayload, error) {
	id := wire.NewMessageID()
	body := wire.RequestBody{ID: id, Payload: payload}
	plaintext := wire.EncodeRequestBody(body)

	sealed, err := envelope.Seal(r.keyStore, plaintext, peer.Key)
	if err != nil {
		return wire.ResponsePayload{}, r.countErr("seal", err)
	}
	msg := wire.RequestMessage{Sender: r.self, Body: sealed}

	frame, err := r.codec.EncodeRequest(msg)
	if err != nil {
		return wire.ResponsePayload{}, r.countErr("encode", err)
	}

	r.markPending(id)
	defer r.clearPending(id)

	replyFrame, err := r.transport.SendRequest(ctx, peer.Address.String(), frame, timeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return wire.ResponsePayload{}, r.countErr("timeout", ErrTimeout)
		}
		return wire.ResponsePayload{}, r.countErr("transport", err)
	}

	respMsg, err := r.codec.DecodeResponse(replyFrame)
	if err != nil {
		return wire.ResponsePayload{}, r.countErr("decode", err)
	}

	respPlaintext, err := envelope.Open(r.keyStore, respMsg.Body, peer.Key)
	if err != nil {
		return wire.ResponsePayload{}, r.countErr(envelopeErrKind(err), err)
	}

	respBody, err := wire.DecodeResponseBody(respPlaintext)
	if err != nil {
		return wire.ResponsePayload{}, r.countErr("malformed-body", err)
	}

	if respBody.ID != id || !r.isPending(respBody.ID) {
		return wire.ResponsePayload{}, r.countErr("id-mismatch", ErrIDMismatch)
	}
	if !payloadKindsMatch(payload.Kind, respBody.Payload.Kind) {
		return wire.ResponsePayload{}, r.countErr("unexpected-payload", ErrUnexpectedPayload)
	}
	if respBody.Payload.Kind == wire.KindError {
		return wire.ResponsePayload{}, r.countErr("remote-error", fmt.Errorf("%w: %s", ErrRemote, respBody.Payload.ErrorText))
	}

	return respBody.Payload, nil
}

// Dispatch implements the inbound side of spec.md §4.D: open a request
// frame, hand (sender, payload) to process, and seal its answer back
// to the sender.
func (r *Router) Dispatch(ctx context.Context, frame []byte, process func(ctx context.Context, sender wire.Node, payload wire.RequestPayload) wire.ResponsePayload) ([]byte, error) {
	reqMsg, err := r.codec.DecodeRequest(frame)
	if err != nil {
		return nil, r.countErr("decode", err)
	}

	plaintext, err := envelope.Open(r.keyStore, reqMsg.Body, reqMsg.Sender.Key)
	if err != nil {
		return nil, r.countErr(envelopeErrKind(err), err)
	}
	reqBody, err := wire.DecodeRequestBody(plaintext)
	if err != nil {
		return nil, r.countErr("malformed-body", err)
	}

	respPayload := process(ctx, reqMsg.Sender, reqBody.Payload)
	respBody := wire.ResponseBody{ID: reqBody.ID, Payload: respPayload}

	sealed, err := envelope.Seal(r.keyStore, wire.EncodeResponseBody(respBody), reqMsg.Sender.Key)
	if err != nil {
		return nil, r.countErr("seal", err)
	}
	respFrame, err := r.codec.EncodeResponse(wire.ResponseMessage{Body: sealed})
	if err != nil {
		return nil, r.countErr("encode", err)
	}
	return respFrame, nil
}

// Errors returns a snapshot of per-category error counts observed
// since startup, mirroring UDPv4.Errors() in the teacher.
func (r *Router) Errors() map[string]uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint, len(r.errors))
	for k, v := range r.errors {
		out[k] = v
	}
	return out
}

func (r *Router) countErr(kind string, err error) error {
	r.mu.Lock()
	r.errors[kind]++
	r.mu.Unlock()
	r.logger.Debug("router error", zap.String("kind", kind), zap.Error(err))
	return err
}

func (r *Router) markPending(id wire.MessageID) {
	r.pending.Add(id, struct{}{})
}

func (r *Router) clearPending(id wire.MessageID) {
	r.pending.Remove(id)
}

func (r *Router) isPending(id wire.MessageID) bool {
	return r.pending.Contains(id)
}

func envelopeErrKind(err error) string {
	switch {
	case errors.Is(err, envelope.ErrBadSignature):
		return "bad-signature"
	case errors.Is(err, envelope.ErrDecryptFail):
		return "decrypt-fail"
	case errors.Is(err, envelope.ErrMalformedBody):
		return "malformed-body"
	default:
		return "envelope"
	}
}

// payloadKindsMatch reports whether a response kind is the expected
// answer to a given request kind (spec.md §3's RequestPayload /
// ResponsePayload pairing).
func payloadKindsMatch(req, resp wire.PayloadKind) bool {
	switch req {
	case wire.KindQueryNeighbours, wire.KindListNeighbours:
		return resp == wire.KindNeighbours || resp == wire.KindError
	case wire.KindSearch:
		return resp == wire.KindSearchResult || resp == wire.KindError
	case wire.KindConnect:
		return resp == wire.KindConnected || resp == wire.KindError
	case wire.KindVerify:
		return resp == wire.KindVerified || resp == wire.KindError
	default:
		return false
	}
}
