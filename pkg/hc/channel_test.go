package hc

import (
	"context"
	"testing"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
)

func TestOpenChannelBothSidesActiveAndCrossSigned(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	hostCh, err := host.master.db.GetChannel(ctx, chanID)
	if err != nil {
		t.Fatalf("get host channel: %v", err)
	}
	clientCh, err := client.master.db.GetChannel(ctx, chanID)
	if err != nil {
		t.Fatalf("get client channel: %v", err)
	}

	if !hostCh.IsHost || clientCh.IsHost {
		t.Fatalf("IsHost flags wrong: host=%v client=%v", hostCh.IsHost, clientCh.IsHost)
	}
	wantCapacity := cfg.ChannelDefaults.CapacityMsat
	if uint64(hostCh.LCSS.LocalBalanceMsat) != 0 {
		t.Fatalf("host should start with zero local balance, got %d", hostCh.LCSS.LocalBalanceMsat)
	}
	if uint64(clientCh.LCSS.LocalBalanceMsat) != wantCapacity {
		t.Fatalf("client should start with the full capacity, got %d", clientCh.LCSS.LocalBalanceMsat)
	}
	if hostCh.LCSS.RemoteSigOfLocal == hostCh.LCSS.LocalSigOfRemote {
		t.Fatalf("host's two signature slots should not be equal")
	}
	if hostCh.LCSS.Reverse().HostedSigHash() != clientCh.LCSS.HostedSigHash() {
		t.Fatalf("host's and client's cross-signed states do not mirror each other")
	}
}

func TestStaleBlockDaySuspendsChannel(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	clientChannel := client.master.channel(chanID)
	if err := clientChannel.advanceBlockDay(ctx, 1_440, 10); err != nil {
		t.Fatalf("advance client blockday: %v", err)
	}

	htlc := newTestAddHtlc(chanID, 1, 50_000_000)
	if err := client.master.AddHtlc(ctx, chanID, host.pubKey(), htlc); err != nil {
		t.Fatalf("AddHtlc: %v", err)
	}

	hostCh, err := host.master.db.GetChannel(ctx, chanID)
	if err != nil {
		t.Fatalf("get host channel: %v", err)
	}
	if hostCh.Status != db.StatusSuspended {
		t.Fatalf("host channel status = %v, want Suspended after a stale blockday", hostCh.Status)
	}
}
