package hc

import (
	"context"
	"testing"
)

func TestResizeChannelGrowsCapacityOnBothSides(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	const newCapacitySat = 2_000_000
	if err := client.master.ResizeChannel(ctx, chanID, host.pubKey(), newCapacitySat); err != nil {
		t.Fatalf("ResizeChannel: %v", err)
	}

	hostCh, err := host.master.db.GetChannel(ctx, chanID)
	if err != nil {
		t.Fatalf("get host channel: %v", err)
	}
	clientCh, err := client.master.db.GetChannel(ctx, chanID)
	if err != nil {
		t.Fatalf("get client channel: %v", err)
	}

	wantCapacityMsat := uint64(newCapacitySat * 1000)
	if uint64(hostCh.LCSS.InitHostedChannel.CapacityMsat) != wantCapacityMsat {
		t.Fatalf("host capacity = %d, want %d", hostCh.LCSS.InitHostedChannel.CapacityMsat, wantCapacityMsat)
	}
	if uint64(clientCh.LCSS.InitHostedChannel.CapacityMsat) != wantCapacityMsat {
		t.Fatalf("client capacity = %d, want %d", clientCh.LCSS.InitHostedChannel.CapacityMsat, wantCapacityMsat)
	}

	added := wantCapacityMsat - cfg.ChannelDefaults.CapacityMsat
	if uint64(hostCh.LCSS.LocalBalanceMsat) != added {
		t.Fatalf("host local balance = %d, want %d (the added liquidity)", hostCh.LCSS.LocalBalanceMsat, added)
	}
	if uint64(clientCh.LCSS.LocalBalanceMsat) != cfg.ChannelDefaults.CapacityMsat {
		t.Fatalf("client local balance should be untouched by growing the host's side, got %d", clientCh.LCSS.LocalBalanceMsat)
	}
	if clientCh.PendingResizeNewCapacitySat != 0 {
		t.Fatalf("client should clear its pending resize marker once settled, got %d", clientCh.PendingResizeNewCapacitySat)
	}
	if hostCh.LCSS.Reverse().HostedSigHash() != clientCh.LCSS.HostedSigHash() {
		t.Fatalf("host and client states diverge after resize")
	}
}

func TestResizeChannelRejectsShrink(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	smallerSat := (cfg.ChannelDefaults.CapacityMsat / 1000) - 1
	if err := client.master.ResizeChannel(ctx, chanID, host.pubKey(), smallerSat); err == nil {
		t.Fatalf("expected ResizeChannel to reject a smaller capacity")
	}
}

func TestResizeChannelRejectsHostInitiated(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	if err := host.master.ResizeChannel(ctx, chanID, client.pubKey(), 2_000_000); err == nil {
		t.Fatalf("expected ResizeChannel to reject a host-initiated resize")
	}
}
