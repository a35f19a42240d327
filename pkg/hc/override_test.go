package hc

import (
	"context"
	"testing"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

// suspendBothSides drives a stale-blockday StateUpdate to suspend both
// sides of an open channel, the same path TestStaleBlockDaySuspendsChannel
// exercises, so override has a Suspended channel to recover.
func suspendBothSides(t *testing.T, ctx context.Context, host, client *testPeer, chanID wire.ChannelID) {
	t.Helper()

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
		t.Fatalf("host channel status = %v, want Suspended", hostCh.Status)
	}
	clientCh, err := client.master.db.GetChannel(ctx, chanID)
	if err != nil {
		t.Fatalf("get client channel: %v", err)
	}
	if clientCh.Status != db.StatusSuspended {
		t.Fatalf("client channel status = %v, want Suspended", clientCh.Status)
	}
}

func TestInitiateOverrideRecoversSuspendedChannel(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)
	suspendBothSides(t, ctx, host, client, chanID)

	// A real operator resyncs both sides' chain-tip view before forcing a
	// recovery; mirror that by bringing the host's blockDay back in line
	// with the client's before overriding.
	hostChannel := host.master.channel(chanID)
	if err := hostChannel.advanceBlockDay(ctx, 1_440, 10); err != nil {
		t.Fatalf("advance host blockday: %v", err)
	}

	const hostNewBalance = 300_000_000
	if err := host.master.InitiateOverride(ctx, chanID, client.pubKey(), hostNewBalance); err != nil {
		t.Fatalf("InitiateOverride: %v", err)
	}

	hostCh, err := host.master.db.GetChannel(ctx, chanID)
	if err != nil {
		t.Fatalf("get host channel: %v", err)
	}
	clientCh, err := client.master.db.GetChannel(ctx, chanID)
	if err != nil {
		t.Fatalf("get client channel: %v", err)
	}

	if hostCh.Status != db.StatusActive {
		t.Fatalf("host channel status = %v, want Active after override settles", hostCh.Status)
	}
	if clientCh.Status != db.StatusActive {
		t.Fatalf("client channel status = %v, want Active after override settles", clientCh.Status)
	}
	if uint64(hostCh.LCSS.LocalBalanceMsat) != hostNewBalance {
		t.Fatalf("host local balance = %d, want %d", hostCh.LCSS.LocalBalanceMsat, hostNewBalance)
	}
	wantClientBalance := cfg.ChannelDefaults.CapacityMsat - hostNewBalance
	if uint64(clientCh.LCSS.LocalBalanceMsat) != wantClientBalance {
		t.Fatalf("client local balance = %d, want %d", clientCh.LCSS.LocalBalanceMsat, wantClientBalance)
	}
	if len(hostCh.LCSS.IncomingHtlcs) != 0 || len(hostCh.LCSS.OutgoingHtlcs) != 0 {
		t.Fatalf("host should have no in-flight htlcs left after override")
	}
	if len(clientCh.LCSS.IncomingHtlcs) != 0 || len(clientCh.LCSS.OutgoingHtlcs) != 0 {
		t.Fatalf("client should have no in-flight htlcs left after override")
	}
	if hostCh.LCSS.Reverse().HostedSigHash() != clientCh.LCSS.HostedSigHash() {
		t.Fatalf("host and client states diverge after override")
	}
}

func TestInitiateOverrideRejectsNonSuspendedChannel(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	if err := host.master.InitiateOverride(ctx, chanID, client.pubKey(), 100_000_000); err == nil {
		t.Fatalf("expected InitiateOverride to reject an Active channel")
	}
}

func TestInitiateOverrideRejectsClientInitiated(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)
	suspendBothSides(t, ctx, host, client, chanID)

	if err := client.master.InitiateOverride(ctx, chanID, host.pubKey(), 100_000_000); err == nil {
		t.Fatalf("expected InitiateOverride to reject a client-initiated override")
	}
}
