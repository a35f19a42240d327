package node

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// Mock is an in-memory Interface used by tests, and as a reference for
// how a real adapter wires into a host Lightning node.
type Mock struct {
	priv      *btcec.PrivateKey
	chainHash wire.ChainHash

	mx    sync.Mutex
	block *Block
	sent  []SentMessage
	peers map[string]*Mock
	recv  OnPeerMessage

	onIntercept func(ctx context.Context, h *InterceptedHtlc)

	onionRoutes map[[32]byte]OnionHop
	onionFail   map[[32]byte]struct{}
}

// SentMessage records one call to SendMessage, for test assertions.
type SentMessage struct {
	Peer []byte
	Msg  wire.Message
}

func NewMock(priv *btcec.PrivateKey, chainHash wire.ChainHash) *Mock {
	return &Mock{
		priv:      priv,
		chainHash: chainHash,
		block:     &Block{Height: 800_000},
		peers:     map[string]*Mock{},
	}
}

// Connect wires two mocks together so SendMessage actually delivers to
// the handler registered via OnPeerMessage.
func (m *Mock) Connect(peerPubKey []byte, other *Mock) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.peers[string(peerPubKey)] = other
}

// OnPeerMessage registers the callback invoked for every message this
// mock receives from a connected peer.
func (m *Mock) OnPeerMessage(handler OnPeerMessage) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.recv = handler
}

func (m *Mock) NodePrivateKey() *btcec.PrivateKey { return m.priv }

func (m *Mock) SendMessage(ctx context.Context, peerPubKey []byte, msg wire.Message) error {
	m.mx.Lock()
	m.sent = append(m.sent, SentMessage{Peer: peerPubKey, Msg: msg})
	peer := m.peers[string(peerPubKey)]
	from := m.priv.PubKey().SerializeCompressed()
	m.mx.Unlock()

	if peer != nil {
		peer.mx.Lock()
		recv := peer.recv
		peer.mx.Unlock()
		if recv != nil {
			recv(ctx, from, msg)
		}
	}
	return nil
}

func (m *Mock) SentMessages() []SentMessage {
	m.mx.Lock()
	defer m.mx.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

func (m *Mock) SetBlock(b *Block) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.block = b
}

func (m *Mock) CurrentBlock(ctx context.Context) (*Block, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.block, nil
}

func (m *Mock) ChainHash(ctx context.Context) (wire.ChainHash, error) {
	return m.chainHash, nil
}

func (m *Mock) InterceptHtlc(cb func(ctx context.Context, h *InterceptedHtlc)) {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.onIntercept = cb
}

func (m *Mock) ResolveIntercepted(ctx context.Context, id [32]byte, res InterceptResolution) error {
	return nil
}

// SetOnionRoute configures DecryptOnion to report hop as the next hop
// for paymentHash, standing in for a host node's onion-peeling logic in
// tests that exercise autonomous forwarding.
func (m *Mock) SetOnionRoute(paymentHash [32]byte, hop OnionHop) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.onionRoutes == nil {
		m.onionRoutes = map[[32]byte]OnionHop{}
	}
	m.onionRoutes[paymentHash] = hop
}

// SetOnionFailure makes DecryptOnion report paymentHash's onion as
// unreadable, standing in for a corrupted or mis-keyed onion layer.
func (m *Mock) SetOnionFailure(paymentHash [32]byte) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.onionFail == nil {
		m.onionFail = map[[32]byte]struct{}{}
	}
	m.onionFail[paymentHash] = struct{}{}
}

// DecryptOnion defaults to reporting every payment as addressed to this
// node (NextScid zero, nothing further to forward), matching a leaf node
// with no onion-routing stack of its own; tests that exercise forwarding
// call SetOnionRoute first.
func (m *Mock) DecryptOnion(ctx context.Context, onion [wire.OnionPacketSize]byte, paymentHash [32]byte) (OnionHop, bool, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if _, fail := m.onionFail[paymentHash]; fail {
		return OnionHop{}, false, nil
	}
	if hop, ok := m.onionRoutes[paymentHash]; ok {
		return hop, true, nil
	}
	return OnionHop{}, true, nil
}
