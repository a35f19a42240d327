// Package node defines the contract a hosted-channels plugin needs from
// its host Lightning node: peer messaging, chain-tip access, and onion
// handling. The actual node implementation (the RPC client talking to
// lnd, c-lightning, eclair, etc.) lives outside this module — this
// package only describes the boundary and ships a reference in-memory
// Interface for tests.
package node

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// Block is the minimal chain-tip information the plugin needs: its
// height (folded into blockDay) and the raw transactions to scan for
// HTLC preimages.
type Block struct {
	Height uint32
	Hash   [32]byte
	// WitnessData is every byte string found in this block's transaction
	// witnesses/scriptSigs, a flattened view good enough for preimage
	// recovery without pulling in a full chain-parsing stack.
	WitnessData [][]byte
}

// Interface is everything ChannelMaster and BlockchainPreimageCatcher
// need from the host Lightning node.
type Interface interface {
	// NodePrivateKey returns this node's identity key, used to sign
	// LastCrossSignedState and ResizeChannel digests.
	NodePrivateKey() *btcec.PrivateKey

	// SendMessage delivers a hosted-channel wire message to peerPubKey.
	SendMessage(ctx context.Context, peerPubKey []byte, msg wire.Message) error

	// CurrentBlock returns the chain tip as last observed by the host
	// node.
	CurrentBlock(ctx context.Context) (*Block, error)

	// ChainHash identifies the chain this node is operating on.
	ChainHash(ctx context.Context) (wire.ChainHash, error)

	// InterceptHtlc registers a callback invoked whenever the host node's
	// switch wants to hand a forwarded payment to this plugin (the HTLC's
	// outgoing channel is a hosted channel).
	InterceptHtlc(cb func(ctx context.Context, h *InterceptedHtlc))

	// ResolveIntercepted tells the host node's switch how to finish
	// handling a previously intercepted HTLC.
	ResolveIntercepted(ctx context.Context, id [32]byte, res InterceptResolution) error

	// OnPeerMessage registers the callback invoked for every decoded
	// hosted-channel wire message received from a connected peer. A real
	// adapter wires this to whatever transport delivers raw peer traffic
	// from the host node.
	OnPeerMessage(handler OnPeerMessage)

	// DecryptOnion peels one layer off an HTLC's onion blob using this
	// node's onion key. A zero NextScid in the returned OnionHop means
	// this node is the payment's final recipient and there is no further
	// hop to forward to. ok is false if the onion is malformed or doesn't
	// match paymentHash.
	DecryptOnion(ctx context.Context, onion [wire.OnionPacketSize]byte, paymentHash [32]byte) (hop OnionHop, ok bool, err error)
}

// OnionHop is the result of successfully decrypting one layer of an
// UpdateAddHtlc's onion blob.
type OnionHop struct {
	NextScid   wire.ShortChannelID
	AmountMsat wire.MilliSatoshi
	CltvExpiry uint32
	NextOnion  [wire.OnionPacketSize]byte
}

// InterceptedHtlc is a payment the host node's switch is asking the
// plugin to forward across a hosted channel.
type InterceptedHtlc struct {
	ID             [32]byte
	PaymentHash    [32]byte
	AmountMsat     wire.MilliSatoshi
	CltvExpiry     uint32
	OutgoingPeer   []byte
	OnionBlob      [wire.OnionPacketSize]byte
}

// InterceptResolution tells the switch what to do with an intercepted
// HTLC once the hosted-channel side has settled it one way or another.
type InterceptResolution struct {
	Settle   bool
	Preimage [32]byte
	FailCode uint16
}

// OnPeerMessage is implemented by the plugin and registered with the host
// node so incoming hosted-channel wire traffic reaches it, via
// Interface.OnPeerMessage.
type OnPeerMessage func(ctx context.Context, peerPubKey []byte, msg wire.Message)
