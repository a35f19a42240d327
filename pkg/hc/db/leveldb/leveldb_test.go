package leveldb

import (
	"context"
	"os"
	"testing"

	hcdb "github.com/wlns-network/hosted-channels/pkg/hc/db"
	"github.com/wlns-network/hosted-channels/pkg/wire"
)

func openTestDB(t *testing.T) *hcdb.DB {
	t.Helper()
	dir, err := os.MkdirTemp("", "hc-leveldb-test-*")
	if err != nil {
		t.Fatalf("mkdir temp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	backend, isNew, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !isNew {
		t.Fatalf("expected fresh db")
	}
	t.Cleanup(backend.Close)

	return hcdb.NewDB(backend)
}

func TestCreateAndGetChannel(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	ch := &hcdb.Channel{
		ChanID:     wire.ChannelID{1, 2, 3},
		PeerPubKey: []byte("peer"),
		IsHost:     true,
		Status:     hcdb.StatusOpening,
	}
	if err := store.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetChannel(ctx, ch.ChanID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != hcdb.StatusOpening || got.DBVersion == 0 {
		t.Fatalf("unexpected channel: %+v", got)
	}

	if err := store.CreateChannel(ctx, ch); err != hcdb.ErrAlreadyExists {
		t.Fatalf("expected already-exists, got %v", err)
	}
}

func TestUpdateChannelOptimisticConcurrency(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	ch := &hcdb.Channel{ChanID: wire.ChannelID{4}, Status: hcdb.StatusOpening}
	if err := store.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("create: %v", err)
	}

	stale := *ch
	stale.DBVersion = 1

	ch.Status = hcdb.StatusActive
	if err := store.UpdateChannel(ctx, ch); err != nil {
		t.Fatalf("update: %v", err)
	}

	stale.Status = hcdb.StatusSuspended
	if err := store.UpdateChannel(ctx, &stale); err == nil {
		t.Fatalf("expected version-mismatch error on stale update")
	}
}

func TestDeleteChannel(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	ch := &hcdb.Channel{ChanID: wire.ChannelID{5}, Status: hcdb.StatusActive}
	if err := store.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.DeleteChannel(ctx, ch.ChanID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetChannel(ctx, ch.ChanID); err != hcdb.ErrNotFound {
		t.Fatalf("expected not-found after delete, got %v", err)
	}

	if err := store.DeleteChannel(ctx, ch.ChanID); err != hcdb.ErrNotFound {
		t.Fatalf("expected not-found deleting an already-deleted channel, got %v", err)
	}
}

func TestDeletePreimage(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	var hash, preimage [32]byte
	hash[0] = 3

	if err := store.PutPreimage(ctx, &hcdb.Preimage{PaymentHash: hash, Preimage: preimage, DiscoveredVia: "peer"}); err != nil {
		t.Fatalf("put preimage: %v", err)
	}
	if err := store.DeletePreimage(ctx, hash); err != nil {
		t.Fatalf("delete preimage: %v", err)
	}
	if _, err := store.GetPreimage(ctx, hash); err != hcdb.ErrNotFound {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestPreimageAndForwardRoundTrip(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	var hash, preimage [32]byte
	hash[0] = 1
	preimage[0] = 2

	if err := store.PutPreimage(ctx, &hcdb.Preimage{PaymentHash: hash, Preimage: preimage, DiscoveredVia: "peer"}); err != nil {
		t.Fatalf("put preimage: %v", err)
	}
	got, err := store.GetPreimage(ctx, hash)
	if err != nil {
		t.Fatalf("get preimage: %v", err)
	}
	if got.Preimage != preimage {
		t.Fatalf("preimage mismatch")
	}

	in := hcdb.HtlcIdentifier{ChanID: wire.ChannelID{1}, HtlcID: 5}
	out := hcdb.HtlcIdentifier{ChanID: wire.ChannelID{2}, HtlcID: 9}
	if err := store.PutHtlcForward(ctx, &hcdb.HtlcForward{Incoming: in, Outgoing: out}); err != nil {
		t.Fatalf("put forward: %v", err)
	}
	fw, err := store.GetHtlcForward(ctx, out)
	if err != nil {
		t.Fatalf("get forward: %v", err)
	}
	if fw.Incoming != in {
		t.Fatalf("forward mismatch")
	}

	all, err := store.ListHtlcForwards(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("list forwards: %v, %d results", err, len(all))
	}

	if err := store.DeleteHtlcForward(ctx, out); err != nil {
		t.Fatalf("delete forward: %v", err)
	}
	if _, err := store.GetHtlcForward(ctx, out); err != hcdb.ErrNotFound {
		t.Fatalf("expected not-found after delete, got %v", err)
	}
}

func TestMigrationVersion(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	v, err := store.GetMigrationVersion(ctx)
	if err != nil || v != 0 {
		t.Fatalf("expected version 0, got %d, %v", v, err)
	}
	if err := store.SetMigrationVersion(ctx, 3); err != nil {
		t.Fatalf("set version: %v", err)
	}
	v, err = store.GetMigrationVersion(ctx)
	if err != nil || v != 3 {
		t.Fatalf("expected version 3, got %d, %v", v, err)
	}
}
