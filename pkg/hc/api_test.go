package hc

import (
	"context"
	"testing"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

func TestCloseChannelRemovesRecord(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	if err := host.master.CloseChannel(ctx, chanID); err != nil {
		t.Fatalf("close channel: %v", err)
	}

	if _, err := host.master.db.GetChannel(ctx, chanID); err != db.ErrNotFound {
		t.Fatalf("expected not-found after close, got %v", err)
	}

	if err := host.master.CloseChannel(ctx, chanID); err == nil {
		t.Fatalf("closing an already-closed channel should fail")
	}
}

func TestCloseChannelUnknownChanIDFails(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)

	if err := host.master.CloseChannel(ctx, wire.ChannelID{0xff}); err == nil {
		t.Fatalf("closing an unknown channel should fail")
	}
}
