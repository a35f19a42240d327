package hc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/hc/node"
)

func TestPreimageCatcherFindsMatchingWitnessData(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	const amount = 10_000_000
	preimage := [32]byte{9, 9, 9}
	paymentHash := sha256.Sum256(preimage[:])

	add := newTestAddHtlc(chanID, 1, amount)
	add.PaymentHash = paymentHash
	if err := client.master.AddHtlc(ctx, chanID, host.pubKey(), add); err != nil {
		t.Fatalf("AddHtlc: %v", err)
	}

	catcher := NewPreimageCatcher(host.master, host.master.db, host.mock, cfg.PreimageCatcherWorkers, zerolog.Nop())

	wanted, err := catcher.pendingPaymentHashes(ctx)
	if err != nil {
		t.Fatalf("pendingPaymentHashes: %v", err)
	}
	if _, ok := wanted[paymentHash]; !ok {
		t.Fatalf("expected the host's open incoming htlc's payment hash to be wanted")
	}

	catcher.check(ctx, scanTask{candidate: preimage, wanted: wanted})

	got, err := host.master.db.GetPreimage(ctx, paymentHash)
	if err != nil {
		t.Fatalf("get preimage: %v", err)
	}
	if got.Preimage != preimage {
		t.Fatalf("preimage mismatch")
	}
	if got.DiscoveredVia != "chain" {
		t.Fatalf("DiscoveredVia = %q, want %q", got.DiscoveredVia, "chain")
	}
}

func TestPreimageCatcherIgnoresUnrelatedWitnessData(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	preimage := [32]byte{9, 9, 9}
	paymentHash := sha256.Sum256(preimage[:])
	add := newTestAddHtlc(chanID, 1, 10_000_000)
	add.PaymentHash = paymentHash
	if err := client.master.AddHtlc(ctx, chanID, host.pubKey(), add); err != nil {
		t.Fatalf("AddHtlc: %v", err)
	}

	catcher := NewPreimageCatcher(host.master, host.master.db, host.mock, cfg.PreimageCatcherWorkers, zerolog.Nop())
	wanted, err := catcher.pendingPaymentHashes(ctx)
	if err != nil {
		t.Fatalf("pendingPaymentHashes: %v", err)
	}

	unrelated := [32]byte{1, 2, 3}
	catcher.check(ctx, scanTask{candidate: unrelated, wanted: wanted})

	if _, err := host.master.db.GetPreimage(ctx, sha256.Sum256(unrelated[:])); err != db.ErrNotFound {
		t.Fatalf("expected no preimage cached for unrelated witness data, got err=%v", err)
	}
}

// TestPreimageCatcherSettlesStuckOutgoingHtlc covers the case where a
// caught preimage belongs to one of this node's own outgoing HTLCs: the
// catcher dispatches a synthetic UpdateFulfillHtlc through that HTLC's
// channel instead of only caching the preimage.
func TestPreimageCatcherSettlesStuckOutgoingHtlc(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	preimage := [32]byte{7, 7, 7}
	paymentHash := sha256.Sum256(preimage[:])
	add := newTestAddHtlc(chanID, 1, 10_000_000)
	add.PaymentHash = paymentHash
	// Host proposes the HTLC, so it sits in the host's own OutgoingHtlcs.
	if err := host.master.AddHtlc(ctx, chanID, client.pubKey(), add); err != nil {
		t.Fatalf("AddHtlc: %v", err)
	}

	catcher := NewPreimageCatcher(host.master, host.master.db, host.mock, cfg.PreimageCatcherWorkers, zerolog.Nop())
	wanted, err := catcher.pendingPaymentHashes(ctx)
	if err != nil {
		t.Fatalf("pendingPaymentHashes: %v", err)
	}
	loc, ok := wanted[paymentHash]
	if !ok || loc == nil {
		t.Fatalf("expected the host's own outgoing htlc to map to a settle location")
	}

	catcher.check(ctx, scanTask{candidate: preimage, wanted: wanted})

	hostCh, err := host.master.GetChannelByHex(ctx, hex.EncodeToString(chanID[:]))
	if err != nil {
		t.Fatalf("get host channel: %v", err)
	}
	for _, h := range hostCh.LCSS.OutgoingHtlcs {
		if h.ID == 1 {
			t.Fatalf("expected the caught preimage to settle htlc 1, but it's still outstanding")
		}
	}

	clientCh, err := client.master.GetChannelByHex(ctx, hex.EncodeToString(chanID[:]))
	if err != nil {
		t.Fatalf("get client channel: %v", err)
	}
	for _, h := range clientCh.LCSS.IncomingHtlcs {
		if h.ID == 1 {
			t.Fatalf("expected the client's mirrored incoming htlc to settle too")
		}
	}
}

func TestPreimageCatcherScanTipViaMockBlock(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	host := newTestPeer(t, cfg)
	client := newTestPeer(t, cfg)
	connect(host, client)

	chanID := openChannel(t, ctx, host, client)

	preimage := [32]byte{4, 5, 6}
	paymentHash := sha256.Sum256(preimage[:])
	add := newTestAddHtlc(chanID, 1, 10_000_000)
	add.PaymentHash = paymentHash
	if err := client.master.AddHtlc(ctx, chanID, host.pubKey(), add); err != nil {
		t.Fatalf("AddHtlc: %v", err)
	}

	host.mock.SetBlock(&node.Block{
		Height:      800_123,
		WitnessData: [][]byte{preimage[:], {1, 2, 3}},
	})

	catcher := NewPreimageCatcher(host.master, host.master.db, host.mock, cfg.PreimageCatcherWorkers, zerolog.Nop())
	catcher.scanTip(ctx)

	// scanTip hands work off to the worker pool asynchronously; drain the
	// one task it queued directly rather than racing a background worker.
	select {
	case task := <-catcher.tasks:
		catcher.check(ctx, task)
	default:
		t.Fatalf("expected scanTip to queue a scan task for the block's witness data")
	}

	got, err := host.master.db.GetPreimage(ctx, paymentHash)
	if err != nil {
		t.Fatalf("get preimage: %v", err)
	}
	if got.Preimage != preimage {
		t.Fatalf("preimage mismatch")
	}
}
