package hc

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/rs/zerolog"

	"github.com/wlns-network/hosted-channels/pkg/hc/config"
	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/hc/db/leveldb"
	"github.com/wlns-network/hosted-channels/pkg/hc/metrics"
	"github.com/wlns-network/hosted-channels/pkg/hc/node"
	"github.com/wlns-network/hosted-channels/pkg/hcrypto"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

func init() {
	metrics.Register("hostedchannels_test")
}

// testPeer bundles one side of a two-party hosted-channel test: its own
// ChannelMaster backed by a temp-dir leveldb store, riding on a node.Mock
// registered with HandlePeerMessage the way a real node adapter would
// register it via Interface.OnPeerMessage.
type testPeer struct {
	t      *testing.T
	master *ChannelMaster
	mock   *node.Mock
	priv   *btcec.PrivateKey
}

func (p *testPeer) pubKey() []byte {
	return p.priv.PubKey().SerializeCompressed()
}

func newTestPeer(t *testing.T, cfg *config.Config) *testPeer {
	t.Helper()

	backend, _, err := leveldb.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("new private key: %v", err)
	}

	mock := node.NewMock(priv, wire.ChainHash{})
	master := NewChannelMaster(db.NewDB(backend), mock, cfg, zerolog.Nop())
	mock.OnPeerMessage(master.HandlePeerMessage)

	return &testPeer{t: t, master: master, mock: mock, priv: priv}
}

func connect(a, b *testPeer) {
	a.mock.Connect(b.pubKey(), b.mock)
	b.mock.Connect(a.pubKey(), a.mock)
}

func testConfig() *config.Config {
	return &config.Config{
		CLTVSafetyDeltaBlocks:    72,
		ReconciliationRetryBound: 3,
		ChainTipPollIntervalSec:  60,
		PreimageCatcherWorkers:   2,
		ChannelDefaults: config.ChannelDefaults{
			CapacityMsat:             1_000_000_000,
			HtlcMinimumMsat:          1_000,
			MaxAcceptedHtlcs:         30,
			MaxHtlcValueInFlightMsat: 500_000_000,
		},
	}
}

// openChannel drives a full opening handshake between host and client and
// returns the resulting ChannelID. Because node.Mock's SendMessage
// dispatches synchronously, the whole handshake (invoke, init, both
// StateUpdate halves) completes before this call returns.
func openChannel(t *testing.T, ctx context.Context, host, client *testPeer) wire.ChannelID {
	t.Helper()

	hostPub, err := hcrypto.ParsePubKey(host.pubKey())
	if err != nil {
		t.Fatalf("parse host pubkey: %v", err)
	}
	chanID := hcrypto.DeriveChannelID(hostPub, client.priv.PubKey())

	invoke := &wire.InvokeHostedChannel{ChainHash: wire.ChainHash{}}
	if err := client.mock.SendMessage(ctx, host.pubKey(), invoke); err != nil {
		t.Fatalf("send invoke: %v", err)
	}

	idHex := hex.EncodeToString(chanID[:])

	hostCh, err := host.master.GetChannelByHex(ctx, idHex)
	if err != nil {
		t.Fatalf("host channel not created: %v", err)
	}
	if hostCh.Status != db.StatusActive {
		t.Fatalf("host channel status = %v, want Active", hostCh.Status)
	}

	clientCh, err := client.master.GetChannelByHex(ctx, idHex)
	if err != nil {
		t.Fatalf("client channel not created: %v", err)
	}
	if clientCh.Status != db.StatusActive {
		t.Fatalf("client channel status = %v, want Active", clientCh.Status)
	}

	return chanID
}

// newTestAddHtlc builds a valid UpdateAddHtlc with a CltvExpiry safely
// past testConfig's CLTVSafetyDeltaBlocks.
func newTestAddHtlc(chanID wire.ChannelID, id uint64, amountMsat uint64) *wire.UpdateAddHtlc {
	return &wire.UpdateAddHtlc{
		ChanID:      chanID,
		ID:          id,
		Amount:      wire.MilliSatoshi(amountMsat),
		PaymentHash: [32]byte{byte(id), 1, 2, 3},
		CltvExpiry:  1_000,
	}
}
